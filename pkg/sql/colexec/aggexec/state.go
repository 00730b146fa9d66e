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

	"github.com/matrixorigin/aggmerge/pkg/common/arena"
	"github.com/matrixorigin/aggmerge/pkg/common/concurrent"
	"github.com/matrixorigin/aggmerge/pkg/common/moerr"
	"github.com/matrixorigin/aggmerge/pkg/container/types"
	"github.com/matrixorigin/aggmerge/pkg/container/vector"
)

// StateSuffix turns a function into one whose result is its state.
const StateSuffix = "State"

// aggState aggregates like nested but emits the state instead of the
// final value, which is how partial states reach a Merge combinator.
type aggState struct {
	nested AggFunc
}

var _ AggFunc = new(aggState)

func NewAggState(nested AggFunc) AggFunc {
	return &aggState{nested: nested}
}

func (s *aggState) Name() string                    { return s.nested.Name() + StateSuffix }
func (s *aggState) ArgumentTypes() []types.DataType { return s.nested.ArgumentTypes() }
func (s *aggState) Parameters() []float64           { return s.nested.Parameters() }
func (s *aggState) StateType() *StateType           { return s.nested.StateType() }
func (s *aggState) IsVersioned() bool               { return s.nested.IsVersioned() }
func (s *aggState) DefaultVersion() uint64          { return s.nested.DefaultVersion() }
func (s *aggState) SizeOfData() int                 { return s.nested.SizeOfData() }
func (s *aggState) AlignOfData() int                { return s.nested.AlignOfData() }
func (s *aggState) HasTrivialDestructor() bool      { return s.nested.HasTrivialDestructor() }
func (s *aggState) AllocatesMemoryInArena() bool    { return s.nested.AllocatesMemoryInArena() }
func (s *aggState) IsState() bool                   { return true }
func (s *aggState) NestedFunction() AggFunc         { return s.nested }

// ResultType is the state type, versioned with the default version when
// the nested function is versioned.
func (s *aggState) ResultType() types.DataType {
	st := s.nested.StateType()
	if s.nested.IsVersioned() {
		return st.WithVersion(Version(s.nested.DefaultVersion()))
	}
	return st
}

func (s *aggState) BaseWithSameStateRepresentation() AggFunc {
	return s.nested.BaseWithSameStateRepresentation()
}

func (s *aggState) HaveSameStateRepresentationImpl(rhs AggFunc) bool {
	return s.BaseWithSameStateRepresentation().HaveSameStateRepresentationImpl(rhs)
}

func (s *aggState) Create(place Place) {
	s.nested.Create(place)
}

func (s *aggState) Destroy(place Place, a *arena.Arena) {
	s.nested.Destroy(place, a)
}

func (s *aggState) DestroyUpToState(place Place, a *arena.Arena) {
	s.nested.DestroyUpToState(place, a)
}

func (s *aggState) Add(place Place, cols []*vector.Vector, row int, a *arena.Arena) error {
	return s.nested.Add(place, cols, row, a)
}

func (s *aggState) Merge(place, rhs Place, a *arena.Arena) error {
	return s.nested.Merge(place, rhs, a)
}

func (s *aggState) IsAbleToParallelizeMerge() bool {
	return s.nested.IsAbleToParallelizeMerge()
}

func (s *aggState) CanOptimizeEqualKeysRanges() bool {
	return s.nested.CanOptimizeEqualKeysRanges()
}

func (s *aggState) ParallelizeMergePrepare(places []Place, pool concurrent.ThreadPool, cancel *atomic.Bool, a *arena.Arena) error {
	return s.nested.ParallelizeMergePrepare(places, pool, cancel, a)
}

func (s *aggState) MergeParallel(place, rhs Place, pool concurrent.ThreadPool, cancel *atomic.Bool, a *arena.Arena) error {
	return s.nested.MergeParallel(place, rhs, pool, cancel, a)
}

func (s *aggState) Serialize(place Place, w *bytes.Buffer, version StateVersion, a *arena.Arena) error {
	return s.nested.Serialize(place, w, version, a)
}

func (s *aggState) Deserialize(place Place, r ReadBuffer, version StateVersion, a *arena.Arena) error {
	return s.nested.Deserialize(place, r, version, a)
}

// InsertResultInto appends the state itself. A column of in-memory states
// gets the place, which stays owned by the caller, anything else gets the
// serialized state.
func (s *aggState) InsertResultInto(place Place, to *vector.Vector, a *arena.Arena) error {
	if to.GetType().Oid() != types.T_aggstate {
		return moerr.NewInternalErrorNoCtx("%s result into column of %s", s.Name(), to.GetType())
	}
	if to.IsInMemoryStates() {
		return vector.AppendBytes(to, place, false)
	}
	version := NoVersion
	if st, ok := to.GetType().(*StateType); ok {
		version = st.Version
	}
	data, err := SerializeToBytes(s.nested, place, version, a)
	if err != nil {
		return err
	}
	return vector.AppendBytes(to, data, false)
}
