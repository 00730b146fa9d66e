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
	"sync/atomic"
	"unsafe"

	"go.uber.org/zap"

	"github.com/matrixorigin/aggmerge/pkg/common/arena"
	"github.com/matrixorigin/aggmerge/pkg/common/concurrent"
	"github.com/matrixorigin/aggmerge/pkg/common/moerr"
	"github.com/matrixorigin/aggmerge/pkg/container/types"
	"github.com/matrixorigin/aggmerge/pkg/container/vector"
	"github.com/matrixorigin/aggmerge/pkg/logutil"
)

// MergeSuffix turns a function into one that aggregates its partial states.
const MergeSuffix = "Merge"

const (
	versionUnseen int32 = iota
	versionPresent
	versionAbsent
)

// aggMerge takes states of nested, produced earlier by nested's State
// combinator, as its only argument and folds them with the nested Merge.
// Everything but Add is forwarded to nested unchanged.
type aggMerge struct {
	nested   AggFunc
	argument *StateType
	params   []float64

	// whether the serialized states added so far declared a version
	versions atomic.Int32
}

var _ AggFunc = new(aggMerge)

// NewAggMerge wraps nested. argument must be the state type of a function
// with the same state representation as nested.
func NewAggMerge(nested AggFunc, argument types.DataType, params []float64) (AggFunc, error) {
	name := nested.Name() + MergeSuffix
	st, ok := argument.(*StateType)
	if !ok || !HaveSameStateRepresentation(nested, st.Function) {
		return nil, moerr.NewIllegalTypeOfArgumentNoCtx(argument.String(), name, nested.StateType().String())
	}
	m := &aggMerge{
		nested:   nested,
		argument: st,
		params:   params,
	}
	logutil.Debug("aggregate function created",
		zap.String("name", name),
		zap.String("argument", argument.String()))
	return m, nil
}

func (m *aggMerge) Name() string                    { return m.nested.Name() + MergeSuffix }
func (m *aggMerge) ArgumentTypes() []types.DataType { return []types.DataType{m.argument} }
func (m *aggMerge) Parameters() []float64           { return m.params }
func (m *aggMerge) ResultType() types.DataType      { return m.nested.ResultType() }
func (m *aggMerge) StateType() *StateType           { return m.nested.StateType() }
func (m *aggMerge) IsVersioned() bool               { return m.nested.IsVersioned() }
func (m *aggMerge) DefaultVersion() uint64          { return m.nested.DefaultVersion() }
func (m *aggMerge) SizeOfData() int                 { return m.nested.SizeOfData() }
func (m *aggMerge) AlignOfData() int                { return m.nested.AlignOfData() }
func (m *aggMerge) HasTrivialDestructor() bool      { return m.nested.HasTrivialDestructor() }
func (m *aggMerge) AllocatesMemoryInArena() bool    { return m.nested.AllocatesMemoryInArena() }
func (m *aggMerge) IsState() bool                   { return m.nested.IsState() }
func (m *aggMerge) NestedFunction() AggFunc         { return m.nested }

func (m *aggMerge) BaseWithSameStateRepresentation() AggFunc {
	return m.nested.BaseWithSameStateRepresentation()
}

func (m *aggMerge) HaveSameStateRepresentationImpl(rhs AggFunc) bool {
	return m.BaseWithSameStateRepresentation().HaveSameStateRepresentationImpl(rhs)
}

func (m *aggMerge) Create(place Place) {
	m.nested.Create(place)
}

func (m *aggMerge) Destroy(place Place, a *arena.Arena) {
	m.nested.Destroy(place, a)
}

func (m *aggMerge) DestroyUpToState(place Place, a *arena.Arena) {
	m.nested.DestroyUpToState(place, a)
}

// Add merges the state at row of the state column into place. A column of
// in-memory states is merged directly, a serialized state is read into a
// scratch state first. NULL rows carry no state.
func (m *aggMerge) Add(place Place, cols []*vector.Vector, row int, a *arena.Arena) error {
	col := cols[0]
	if col.IsNull(row) {
		return nil
	}
	if col.IsInMemoryStates() {
		return m.nested.Merge(place, Place(col.GetBytesAt(row)), a)
	}

	version := NoVersion
	if st, ok := col.GetType().(*StateType); ok {
		version = st.Version
	}
	if err := m.checkVersion(version); err != nil {
		return err
	}

	scratch, err := newScratchPlace(m.nested, a)
	if err != nil {
		return err
	}
	m.nested.Create(scratch)
	defer m.nested.Destroy(scratch, a)
	if err := DeserializeFromBytes(m.nested, scratch, col.GetBytesAt(row), version, a); err != nil {
		return err
	}
	return m.nested.Merge(place, scratch, a)
}

// checkVersion rejects a mix of states with and without a declared version.
func (m *aggMerge) checkVersion(version StateVersion) error {
	seen := versionAbsent
	if version.Valid {
		seen = versionPresent
	}
	if m.versions.CompareAndSwap(versionUnseen, seen) {
		return nil
	}
	if first := m.versions.Load(); first != seen {
		return moerr.NewAggVersionMismatchNoCtx(m.Name(), describeVersion(first), describeVersion(seen))
	}
	return nil
}

func describeVersion(seen int32) string {
	if seen == versionPresent {
		return "versioned"
	}
	return "unversioned"
}

// newScratchPlace returns a heap place for a transient state, falling back
// to the arena for alignments the heap does not guarantee.
func newScratchPlace(fn AggFunc, a *arena.Arena) (Place, error) {
	size, align := fn.SizeOfData(), fn.AlignOfData()
	if align > 8 {
		ref, err := a.Alloc(size, align)
		if err != nil {
			return nil, err
		}
		return Place(a.Bytes(ref)), nil
	}
	words := make([]uint64, (size+7)/8)
	if len(words) == 0 {
		return Place{}, nil
	}
	return Place(unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), size)), nil
}

func (m *aggMerge) Merge(place, rhs Place, a *arena.Arena) error {
	return m.nested.Merge(place, rhs, a)
}

func (m *aggMerge) IsAbleToParallelizeMerge() bool {
	return m.nested.IsAbleToParallelizeMerge()
}

func (m *aggMerge) CanOptimizeEqualKeysRanges() bool {
	return m.nested.CanOptimizeEqualKeysRanges()
}

func (m *aggMerge) ParallelizeMergePrepare(places []Place, pool concurrent.ThreadPool, cancel *atomic.Bool, a *arena.Arena) error {
	return m.nested.ParallelizeMergePrepare(places, pool, cancel, a)
}

func (m *aggMerge) MergeParallel(place, rhs Place, pool concurrent.ThreadPool, cancel *atomic.Bool, a *arena.Arena) error {
	return m.nested.MergeParallel(place, rhs, pool, cancel, a)
}

func (m *aggMerge) Serialize(place Place, w *bytes.Buffer, version StateVersion, a *arena.Arena) error {
	return m.nested.Serialize(place, w, version, a)
}

func (m *aggMerge) Deserialize(place Place, r ReadBuffer, version StateVersion, a *arena.Arena) error {
	return m.nested.Deserialize(place, r, version, a)
}

func (m *aggMerge) InsertResultInto(place Place, to *vector.Vector, a *arena.Arena) error {
	return m.nested.InsertResultInto(place, to, a)
}
