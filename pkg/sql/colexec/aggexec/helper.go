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
	"sync/atomic"

	"github.com/matrixorigin/aggmerge/pkg/common/arena"
	"github.com/matrixorigin/aggmerge/pkg/common/concurrent"
	"github.com/matrixorigin/aggmerge/pkg/container/types"
)

// AggFuncHelper carries the defaults shared by most functions. Embed it
// and bind it to the outer function with NewAggFuncHelper.
type AggFuncHelper struct {
	self   AggFunc
	name   string
	args   []types.DataType
	params []float64
	result types.DataType
}

func NewAggFuncHelper(self AggFunc, name string, args []types.DataType, params []float64, result types.DataType) AggFuncHelper {
	return AggFuncHelper{
		self:   self,
		name:   name,
		args:   args,
		params: params,
		result: result,
	}
}

func (h *AggFuncHelper) Name() string                             { return h.name }
func (h *AggFuncHelper) ArgumentTypes() []types.DataType          { return h.args }
func (h *AggFuncHelper) Parameters() []float64                    { return h.params }
func (h *AggFuncHelper) ResultType() types.DataType               { return h.result }
func (h *AggFuncHelper) StateType() *StateType                    { return NewStateType(h.self, NoVersion) }
func (h *AggFuncHelper) IsVersioned() bool                        { return false }
func (h *AggFuncHelper) DefaultVersion() uint64                   { return 0 }
func (h *AggFuncHelper) HasTrivialDestructor() bool               { return true }
func (h *AggFuncHelper) AllocatesMemoryInArena() bool             { return false }
func (h *AggFuncHelper) IsState() bool                            { return false }
func (h *AggFuncHelper) IsAbleToParallelizeMerge() bool           { return false }
func (h *AggFuncHelper) CanOptimizeEqualKeysRanges() bool         { return true }
func (h *AggFuncHelper) NestedFunction() AggFunc                  { return nil }
func (h *AggFuncHelper) BaseWithSameStateRepresentation() AggFunc { return h.self }

func (h *AggFuncHelper) Destroy(place Place, a *arena.Arena) {}

func (h *AggFuncHelper) DestroyUpToState(place Place, a *arena.Arena) {
	h.self.Destroy(place, a)
}

func (h *AggFuncHelper) ParallelizeMergePrepare(places []Place, pool concurrent.ThreadPool, cancel *atomic.Bool, a *arena.Arena) error {
	return nil
}

// MergeParallel falls back to the sequential Merge.
func (h *AggFuncHelper) MergeParallel(place, rhs Place, pool concurrent.ThreadPool, cancel *atomic.Bool, a *arena.Arena) error {
	return h.self.Merge(place, rhs, a)
}

// HaveSameStateRepresentationImpl matches functions of the same name,
// parameters and argument types.
func (h *AggFuncHelper) HaveSameStateRepresentationImpl(rhs AggFunc) bool {
	return h.name == rhs.Name() &&
		equalParams(h.params, rhs.Parameters()) &&
		EqualArgumentTypes(h.args, rhs.ArgumentTypes())
}

func EqualArgumentTypes(lhs, rhs []types.DataType) bool {
	if len(lhs) != len(rhs) {
		return false
	}
	for i := range lhs {
		if !types.Equal(lhs[i], rhs[i]) {
			return false
		}
	}
	return true
}

func equalParams(lhs, rhs []float64) bool {
	if len(lhs) != len(rhs) {
		return false
	}
	for i := range lhs {
		if lhs[i] != rhs[i] {
			return false
		}
	}
	return true
}
