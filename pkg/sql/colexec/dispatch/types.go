// Copyright 2024 Matrix Origin
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dispatch

import (
	"context"

	"github.com/matrixorigin/aggmerge/pkg/sql/colexec/aggexec"
)

// Block carries partial states of some groups between nodes. Envelopes[i]
// is the state of group Keys[i].
type Block struct {
	Keys      [][]byte
	Envelopes []*aggexec.StateEnvelope
}

func (b *Block) Length() int {
	return len(b.Keys)
}

// Register is the receiving end of one partition. A nil message marks
// the end of the stream.
type Register struct {
	Ctx context.Context
	Ch  chan []byte
}

// Dispatcher partitions blocks by group key and sends every partition,
// encoded, to its register.
type Dispatcher struct {
	codec Codec
	regs  []*Register
}
