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

package agg

import (
	"bytes"
	"math"

	"github.com/matrixorigin/aggmerge/pkg/common/arena"
	"github.com/matrixorigin/aggmerge/pkg/common/moerr"
	"github.com/matrixorigin/aggmerge/pkg/container/types"
	"github.com/matrixorigin/aggmerge/pkg/container/vector"
	"github.com/matrixorigin/aggmerge/pkg/sql/colexec/aggexec"
)

var SumSupportedTypes = []types.T{
	types.T_int64, types.T_uint64, types.T_float64,
}

// aggSum keeps the running sum in the 8 bytes of the state. Integer sums
// wrap around on overflow.
type aggSum[T numeric] struct {
	aggexec.AggFuncHelper
}

func newAggSum(args []types.DataType, params []float64) (aggexec.AggFunc, error) {
	if err := checkArgs("sum", args, SumSupportedTypes); err != nil {
		return nil, err
	}
	if err := checkNoParams("sum", params); err != nil {
		return nil, err
	}
	switch args[0].Oid() {
	case types.T_int64:
		return makeAggSum[int64](args), nil
	case types.T_uint64:
		return makeAggSum[uint64](args), nil
	default:
		return makeAggSum[float64](args), nil
	}
}

func makeAggSum[T numeric](args []types.DataType) *aggSum[T] {
	f := &aggSum[T]{}
	f.AggFuncHelper = aggexec.NewAggFuncHelper(f, "sum", args, nil, args[0])
	return f
}

func (f *aggSum[T]) SizeOfData() int  { return 8 }
func (f *aggSum[T]) AlignOfData() int { return 8 }

func (f *aggSum[T]) Create(place aggexec.Place) {
	*stateAt[T](place, 0) = 0
}

func (f *aggSum[T]) Add(place aggexec.Place, cols []*vector.Vector, row int, a *arena.Arena) error {
	if cols[0].IsNull(row) {
		return nil
	}
	*stateAt[T](place, 0) += vector.GetFixedAt[T](cols[0], row)
	return nil
}

func (f *aggSum[T]) Merge(place, rhs aggexec.Place, a *arena.Arena) error {
	*stateAt[T](place, 0) += *stateAt[T](rhs, 0)
	return nil
}

func (f *aggSum[T]) Serialize(place aggexec.Place, w *bytes.Buffer, version aggexec.StateVersion, a *arena.Arena) error {
	aggexec.WriteUint64(w, f.bits(*stateAt[T](place, 0)))
	return nil
}

func (f *aggSum[T]) Deserialize(place aggexec.Place, r aggexec.ReadBuffer, version aggexec.StateVersion, a *arena.Arena) error {
	v, err := aggexec.ReadUint64(f, r)
	if err != nil {
		return err
	}
	*stateAt[T](place, 0) = f.fromBits(v)
	return nil
}

func (f *aggSum[T]) InsertResultInto(place aggexec.Place, to *vector.Vector, a *arena.Arena) error {
	return vector.AppendFixed(to, *stateAt[T](place, 0), false)
}

func (f *aggSum[T]) bits(v T) uint64 {
	switch x := any(v).(type) {
	case int64:
		return uint64(x)
	case uint64:
		return x
	case float64:
		return math.Float64bits(x)
	}
	panic(moerr.NewInternalErrorNoCtx("sum of %T", v))
}

func (f *aggSum[T]) fromBits(v uint64) T {
	var zero T
	switch any(zero).(type) {
	case int64:
		return T(int64(v))
	case uint64:
		return T(v)
	}
	return any(math.Float64frombits(v)).(T)
}
