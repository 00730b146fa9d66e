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
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matrixorigin/aggmerge/pkg/common/arena"
	"github.com/matrixorigin/aggmerge/pkg/common/moerr"
	"github.com/matrixorigin/aggmerge/pkg/container/types"
	"github.com/matrixorigin/aggmerge/pkg/container/vector"
)

func serializedColumn(t *testing.T, fn AggFunc, st *StateType, version StateVersion, a *arena.Arena, vals ...int64) *vector.Vector {
	col := vector.NewStateVec(st, false)
	places, err := newSumStates(fn, a, vals...)
	require.NoError(t, err)
	for _, place := range places {
		data, err := SerializeToBytes(fn, place, version, a)
		require.NoError(t, err)
		require.NoError(t, vector.AppendBytes(col, data, false))
	}
	return col
}

func mergeResult(t *testing.T, m AggFunc, a *arena.Arena, cols ...*vector.Vector) int64 {
	place, err := AllocState(m, a)
	require.NoError(t, err)
	defer m.Destroy(place, a)
	for _, col := range cols {
		require.NoError(t, AddBatchSinglePlace(m, place, []*vector.Vector{col}, 0, col.Length(), a))
	}
	res := vector.NewVec(m.ResultType())
	require.NoError(t, m.InsertResultInto(place, res, a))
	return vector.GetFixedAt[int64](res, 0)
}

func TestAggMergeForwarding(t *testing.T) {
	for _, owned := range []bool{false, true} {
		sum := newTestSum()
		sum.owned = owned
		sum.versioned = owned
		sum.parallel = owned

		m, err := NewAggMerge(sum, sum.StateType(), nil)
		require.NoError(t, err)
		require.Equal(t, "testSumMerge", m.Name())
		require.Equal(t, sum.SizeOfData(), m.SizeOfData())
		require.Equal(t, sum.AlignOfData(), m.AlignOfData())
		require.Equal(t, sum.HasTrivialDestructor(), m.HasTrivialDestructor())
		require.Equal(t, sum.IsVersioned(), m.IsVersioned())
		require.Equal(t, sum.DefaultVersion(), m.DefaultVersion())
		require.Equal(t, sum.IsAbleToParallelizeMerge(), m.IsAbleToParallelizeMerge())
		require.Equal(t, sum.CanOptimizeEqualKeysRanges(), m.CanOptimizeEqualKeysRanges())
		require.Equal(t, sum.AllocatesMemoryInArena(), m.AllocatesMemoryInArena())
		require.Equal(t, sum.IsState(), m.IsState())
		require.Equal(t, sum.ResultType(), m.ResultType())
		require.Equal(t, sum.StateType().String(), m.StateType().String())
		require.Equal(t, []types.DataType{sum.StateType()}, m.ArgumentTypes())
		require.Same(t, sum, m.NestedFunction())
		require.Same(t, sum, m.BaseWithSameStateRepresentation())
		require.True(t, HaveSameStateRepresentation(m, sum))
		require.True(t, HaveSameStateRepresentation(sum, m))
	}
}

func TestAggMergeLifecycleReachesNested(t *testing.T) {
	sum := newTestSum()
	sum.owned = true
	m, err := NewAggMerge(sum, sum.StateType(), nil)
	require.NoError(t, err)

	a := arena.New(0, 0)
	places, err := AllocStates(m, a, 3)
	require.NoError(t, err)
	require.Equal(t, int64(3), sum.live.Load())
	m.DestroyUpToState(places[0], a)
	DestroyStates(m, places[1:], a)
	require.Equal(t, int64(0), sum.live.Load())
}

func TestAggMergeIllegalArgument(t *testing.T) {
	sum := newTestSum()

	_, err := NewAggMerge(sum, types.Int64Type, nil)
	require.True(t, moerr.IsMoErrCode(err, moerr.ErrIllegalTypeOfArgument))
	require.Contains(t, err.Error(), "illegal type int64")
	require.Contains(t, err.Error(), "testSumMerge")
	require.Contains(t, err.Error(), "expected AggregateFunction(testSum, int64)")

	other := newNamedTestSum("otherSum", types.Int64Type)
	_, err = NewAggMerge(sum, other.StateType(), nil)
	require.True(t, moerr.IsMoErrCode(err, moerr.ErrIllegalTypeOfArgument))
	require.Contains(t, err.Error(), "AggregateFunction(otherSum, int64)")

	unsigned := newNamedTestSum("testSum", types.Uint64Type)
	_, err = NewAggMerge(sum, unsigned.StateType(), nil)
	require.True(t, moerr.IsMoErrCode(err, moerr.ErrIllegalTypeOfArgument))

	// the state of the state combinator is the nested state
	_, err = NewAggMerge(sum, NewAggState(newTestSum()).StateType(), nil)
	require.NoError(t, err)
}

func TestAggMergePartialSums(t *testing.T) {
	sum := newTestSum()
	sum.versioned = true
	a := arena.New(0, 0)

	st := sum.StateType().WithVersion(Version(0))
	require.Equal(t, "AggregateFunction(0, testSum, int64)", st.String())
	m, err := NewAggMerge(sum, st, nil)
	require.NoError(t, err)

	col := serializedColumn(t, sum, st, Version(0), a, 3, 4, 5)
	require.Equal(t, int64(12), mergeResult(t, m, a, col))
	// the combinator never calls the nested Add
	require.Equal(t, int64(3), sum.merges.Load())
}

func TestAggMergeInMemoryStates(t *testing.T) {
	sum := newTestSum()
	a := arena.New(0, 0)
	m, err := NewAggMerge(sum, sum.StateType(), nil)
	require.NoError(t, err)

	places, err := newSumStates(sum, a, 1, 2, 3, 4)
	require.NoError(t, err)
	col := vector.NewStateVec(sum.StateType(), true)
	for _, place := range places {
		require.NoError(t, vector.AppendBytes(col, place, false))
	}
	require.NoError(t, vector.AppendBytes(col, nil, true))
	require.Equal(t, int64(10), mergeResult(t, m, a, col))
}

func TestAggMergeVersionMismatch(t *testing.T) {
	sum := newTestSum()
	sum.versioned = true
	a := arena.New(0, 0)
	m, err := NewAggMerge(sum, sum.StateType(), nil)
	require.NoError(t, err)

	withVersion := serializedColumn(t, sum, sum.StateType().WithVersion(Version(1)), Version(1), a, 1)
	withoutVersion := serializedColumn(t, sum, sum.StateType(), Version(1), a, 2)

	place, err := AllocState(m, a)
	require.NoError(t, err)
	require.NoError(t, m.Add(place, []*vector.Vector{withVersion}, 0, a))
	err = m.Add(place, []*vector.Vector{withoutVersion}, 0, a)
	require.True(t, moerr.IsMoErrCode(err, moerr.ErrAggVersionMismatch))
	require.Contains(t, err.Error(), "testSumMerge")
}

func TestAggMergeCorruptedState(t *testing.T) {
	sum := newTestSum()
	sum.versioned = true
	a := arena.New(0, 0)
	m, err := NewAggMerge(sum, sum.StateType(), nil)
	require.NoError(t, err)
	place, err := AllocState(m, a)
	require.NoError(t, err)

	cases := map[string]*vector.Vector{}

	truncated := vector.NewStateVec(sum.StateType(), false)
	require.NoError(t, vector.AppendBytes(truncated, []byte{1, 2, 3}, false))
	cases["truncated"] = truncated

	unknown := vector.NewStateVec(sum.StateType(), false)
	require.NoError(t, vector.AppendBytes(unknown, []byte{7, 0, 0, 0, 0, 0, 0, 0, 0}, false))
	cases["unknown version"] = unknown

	cases["declared version differs"] = serializedColumn(t, sum, sum.StateType().WithVersion(Version(0)), Version(1), a, 5)

	for name, col := range cases {
		t.Run(name, func(t *testing.T) {
			m, err := NewAggMerge(sum, col.GetType(), nil)
			require.NoError(t, err)
			err = m.Add(place, []*vector.Vector{col}, 0, a)
			require.True(t, moerr.IsMoErrCode(err, moerr.ErrCorruptedAggState), "%v", err)
		})
	}
	require.Equal(t, int64(0), getSum(place))
}

func TestAggMergePermutationInvariance(t *testing.T) {
	sum := newTestSum()
	a := arena.New(0, 0)
	vals := []int64{5, -3, 17, 0, 42, 8, -11, 9}

	expected := int64(0)
	for _, v := range vals {
		expected += v
	}
	for i := 0; i < 10; i++ {
		rand.Shuffle(len(vals), func(i, j int) { vals[i], vals[j] = vals[j], vals[i] })
		m, err := NewAggMerge(sum, sum.StateType(), nil)
		require.NoError(t, err)
		col := serializedColumn(t, sum, sum.StateType(), NoVersion, a, vals...)
		assert.Equal(t, expected, mergeResult(t, m, a, col))
	}
}

func TestAggState(t *testing.T) {
	sum := newTestSum()
	sum.versioned = true
	a := arena.New(0, 0)

	s := NewAggState(sum)
	require.Equal(t, "testSumState", s.Name())
	require.True(t, s.IsState())
	require.Equal(t, "AggregateFunction(1, testSum, int64)", s.ResultType().String())
	require.Same(t, sum, s.BaseWithSameStateRepresentation())
	require.True(t, HaveSameStateRepresentation(s, sum))

	// partial aggregation on two workers
	serialized := vector.NewStateVec(s.ResultType(), false)
	for _, part := range [][]int64{{1, 2}, {3}} {
		input := vector.NewVec(types.Int64Type)
		require.NoError(t, vector.AppendFixedList(input, part))
		place, err := AllocState(s, a)
		require.NoError(t, err)
		require.NoError(t, AddBatchSinglePlace(s, place, []*vector.Vector{input}, 0, input.Length(), a))
		require.NoError(t, s.InsertResultInto(place, serialized, a))
	}

	m, err := NewAggMerge(sum, s.ResultType(), nil)
	require.NoError(t, err)
	require.Equal(t, int64(6), mergeResult(t, m, a, serialized))

	require.Error(t, s.InsertResultInto(make(Place, 8), vector.NewVec(types.Int64Type), a))

	inMemory := vector.NewStateVec(s.ResultType(), true)
	place, err := AllocState(s, a)
	require.NoError(t, err)
	require.NoError(t, s.InsertResultInto(place, inMemory, a))
	require.Equal(t, []byte(place), inMemory.GetBytesAt(0))
}
