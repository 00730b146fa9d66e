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

	"github.com/matrixorigin/aggmerge/pkg/common/arena"
	"github.com/matrixorigin/aggmerge/pkg/container/types"
	"github.com/matrixorigin/aggmerge/pkg/container/vector"
	"github.com/matrixorigin/aggmerge/pkg/sql/colexec/aggexec"
)

var AvgSupportedTypes = []types.T{
	types.T_int64, types.T_uint64, types.T_float64,
}

const (
	// avgVersionVarCount writes the count as an unsigned varint.
	avgVersionVarCount uint64 = iota
	// avgVersionFixedCount writes the count as 8 bytes.
	avgVersionFixedCount
)

// aggAvg keeps a float64 sum at offset 0 and a uint64 count at offset 8.
type aggAvg struct {
	aggexec.AggFuncHelper
}

func newAggAvg(args []types.DataType, params []float64) (aggexec.AggFunc, error) {
	if err := checkArgs("avg", args, AvgSupportedTypes); err != nil {
		return nil, err
	}
	if err := checkNoParams("avg", params); err != nil {
		return nil, err
	}
	f := &aggAvg{}
	f.AggFuncHelper = aggexec.NewAggFuncHelper(f, "avg", args, nil, types.Float64Type)
	return f, nil
}

func (f *aggAvg) SizeOfData() int        { return 16 }
func (f *aggAvg) AlignOfData() int       { return 8 }
func (f *aggAvg) IsVersioned() bool      { return true }
func (f *aggAvg) DefaultVersion() uint64 { return avgVersionFixedCount }

func (f *aggAvg) Create(place aggexec.Place) {
	*stateAt[float64](place, 0) = 0
	*stateAt[uint64](place, 8) = 0
}

func (f *aggAvg) Add(place aggexec.Place, cols []*vector.Vector, row int, a *arena.Arena) error {
	if cols[0].IsNull(row) {
		return nil
	}
	*stateAt[float64](place, 0) += asFloat64(cols[0], row)
	*stateAt[uint64](place, 8)++
	return nil
}

func (f *aggAvg) Merge(place, rhs aggexec.Place, a *arena.Arena) error {
	*stateAt[float64](place, 0) += *stateAt[float64](rhs, 0)
	*stateAt[uint64](place, 8) += *stateAt[uint64](rhs, 8)
	return nil
}

func (f *aggAvg) Serialize(place aggexec.Place, w *bytes.Buffer, version aggexec.StateVersion, a *arena.Arena) error {
	aggexec.WriteFloat64(w, *stateAt[float64](place, 0))
	if version.Value == avgVersionVarCount {
		aggexec.WriteUvarint(w, *stateAt[uint64](place, 8))
	} else {
		aggexec.WriteUint64(w, *stateAt[uint64](place, 8))
	}
	return nil
}

func (f *aggAvg) Deserialize(place aggexec.Place, r aggexec.ReadBuffer, version aggexec.StateVersion, a *arena.Arena) error {
	sum, err := aggexec.ReadFloat64(f, r)
	if err != nil {
		return err
	}
	var count uint64
	if version.Value == avgVersionVarCount {
		count, err = aggexec.ReadUvarint(f, r)
	} else {
		count, err = aggexec.ReadUint64(f, r)
	}
	if err != nil {
		return err
	}
	*stateAt[float64](place, 0) = sum
	*stateAt[uint64](place, 8) = count
	return nil
}

// InsertResultInto emits NULL for an empty group.
func (f *aggAvg) InsertResultInto(place aggexec.Place, to *vector.Vector, a *arena.Arena) error {
	count := *stateAt[uint64](place, 8)
	if count == 0 {
		return vector.AppendFixed(to, float64(0), true)
	}
	return vector.AppendFixed(to, *stateAt[float64](place, 0)/float64(count), false)
}
