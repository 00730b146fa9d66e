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

package mergegroup

import (
	"bytes"

	"github.com/google/btree"

	"github.com/matrixorigin/aggmerge/pkg/sql/colexec/aggexec"
	"github.com/matrixorigin/aggmerge/pkg/vm/process"
)

const btreeDegree = 32

// group is one entry of the group table.
type group struct {
	key   []byte
	place aggexec.Place
}

func (g *group) Less(than btree.Item) bool {
	return bytes.Compare(g.key, than.(*group).key) < 0
}

// Operator folds the partial states of each group into one state. Its
// groups are kept ordered by key, so results come out in key order.
type Operator struct {
	proc *process.Process
	// fn folds one row of the input state column into a group, usually
	// the Merge combinator of the function that produced the states.
	fn     aggexec.AggFunc
	groups *btree.BTree

	// lookups counts group table probes, one per run of equal keys when
	// fn allows it.
	lookups int
}
