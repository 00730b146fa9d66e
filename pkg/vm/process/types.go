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

package process

import (
	"context"
	"sync/atomic"

	"github.com/matrixorigin/aggmerge/pkg/common/arena"
	"github.com/matrixorigin/aggmerge/pkg/common/concurrent"
)

// Limitation of the resources a query may use.
type Limitation struct {
	// ParallelThreshold is the fewest partial states of one group merged on the pool.
	ParallelThreshold int
	// ArenaLimit is the bytes the query arena may hand out, 0 for no limit.
	ArenaLimit int64
}

// Process holds everything one query shares between its operators: the
// arena every aggregate state lives in, the pool parallel merges run on
// and the flag that cancels them.
type Process struct {
	Id    string // query id
	Ctx   context.Context
	Lim   Limitation
	Arena *arena.Arena
	Pool  concurrent.ThreadPool

	cancelled atomic.Bool
	cancel    context.CancelFunc
}
