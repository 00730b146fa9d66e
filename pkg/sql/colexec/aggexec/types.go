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

package aggexec

import (
	"bytes"
	"io"
	"sync/atomic"

	"github.com/matrixorigin/aggmerge/pkg/common/arena"
	"github.com/matrixorigin/aggmerge/pkg/common/concurrent"
	"github.com/matrixorigin/aggmerge/pkg/container/types"
	"github.com/matrixorigin/aggmerge/pkg/container/vector"
)

// Place is the memory of one aggregate state. It holds SizeOfData bytes
// aligned to AlignOfData and is interpreted only by the function that
// created it, or by a function with the same state representation.
// Larger or variable sized data lives in the arena and is referenced from
// the place by handle.
type Place []byte

// ReadBuffer is the source Deserialize reads a state from.
type ReadBuffer interface {
	io.Reader
	io.ByteReader
}

// StateVersion is the optional serialization version of a state.
type StateVersion struct {
	Value uint64
	Valid bool
}

// NoVersion is the version of states of unversioned functions.
var NoVersion = StateVersion{}

func Version(v uint64) StateVersion {
	return StateVersion{Value: v, Valid: true}
}

// AggFunc is the capability contract every aggregate function, and every
// combinator wrapping one, provides.
//
// A state goes through Create, any number of Add / Merge / Deserialize,
// then InsertResultInto and finally Destroy (or DestroyUpToState when
// only the state part of a combined state is to be released). Destroy is
// required unless HasTrivialDestructor.
type AggFunc interface {
	// Name is the function name, parameters excluded.
	Name() string
	ArgumentTypes() []types.DataType
	Parameters() []float64
	ResultType() types.DataType
	// StateType is the type of a column holding this function's states.
	StateType() *StateType

	// IsVersioned is true if serialized states carry a version. Then
	// DefaultVersion is the version new states are written with.
	IsVersioned() bool
	DefaultVersion() uint64

	SizeOfData() int
	AlignOfData() int
	// HasTrivialDestructor is true if Destroy has nothing to release.
	HasTrivialDestructor() bool
	// AllocatesMemoryInArena is true if states reference arena memory.
	AllocatesMemoryInArena() bool
	// IsState is true for functions whose result is a state.
	IsState() bool

	Create(place Place)
	Destroy(place Place, a *arena.Arena)
	DestroyUpToState(place Place, a *arena.Arena)

	// Add folds row of the argument columns into place.
	Add(place Place, cols []*vector.Vector, row int, a *arena.Arena) error
	// Merge folds rhs into place. rhs is only read.
	Merge(place, rhs Place, a *arena.Arena) error

	// IsAbleToParallelizeMerge is true if MergeParallel may use the pool.
	IsAbleToParallelizeMerge() bool
	// CanOptimizeEqualKeysRanges is true if a run of rows of one group may
	// be folded by repeated Add without re-resolving the group.
	CanOptimizeEqualKeysRanges() bool
	// ParallelizeMergePrepare is called once over all states of a parallel
	// merge before any of them is merged.
	ParallelizeMergePrepare(places []Place, pool concurrent.ThreadPool, cancel *atomic.Bool, a *arena.Arena) error
	// MergeParallel is Merge, split across the pool. When cancel is set it
	// returns early and leaves place valid but partially merged.
	MergeParallel(place, rhs Place, pool concurrent.ThreadPool, cancel *atomic.Bool, a *arena.Arena) error

	Serialize(place Place, w *bytes.Buffer, version StateVersion, a *arena.Arena) error
	Deserialize(place Place, r ReadBuffer, version StateVersion, a *arena.Arena) error

	// InsertResultInto appends the final value of place to the result column.
	InsertResultInto(place Place, to *vector.Vector, a *arena.Arena) error

	// HaveSameStateRepresentationImpl compares two base functions.
	HaveSameStateRepresentationImpl(rhs AggFunc) bool
	// BaseWithSameStateRepresentation unwraps combinators that keep the
	// state of their nested function.
	BaseWithSameStateRepresentation() AggFunc
	// NestedFunction is the wrapped function of a combinator, nil otherwise.
	NestedFunction() AggFunc
}

// HaveSameStateRepresentation reports whether states of lhs can be read
// by rhs and the other way round.
func HaveSameStateRepresentation(lhs, rhs AggFunc) bool {
	return lhs.BaseWithSameStateRepresentation().
		HaveSameStateRepresentationImpl(rhs.BaseWithSameStateRepresentation())
}
