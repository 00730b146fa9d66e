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
	"github.com/matrixorigin/aggmerge/pkg/common/moerr"
	"github.com/matrixorigin/aggmerge/pkg/container/types"
	"github.com/matrixorigin/aggmerge/pkg/container/vector"
	"github.com/matrixorigin/aggmerge/pkg/sql/colexec/aggexec"
)

// aggCount counts rows, or the non NULL values of its argument.
type aggCount struct {
	aggexec.AggFuncHelper
}

func newAggCount(args []types.DataType, params []float64) (aggexec.AggFunc, error) {
	if len(args) > 1 {
		return nil, moerr.NewInvalidArgNoCtx("count argument count", len(args))
	}
	if err := checkNoParams("count", params); err != nil {
		return nil, err
	}
	f := &aggCount{}
	f.AggFuncHelper = aggexec.NewAggFuncHelper(f, "count", args, nil, types.Uint64Type)
	return f, nil
}

func (f *aggCount) SizeOfData() int  { return 8 }
func (f *aggCount) AlignOfData() int { return 8 }

func (f *aggCount) Create(place aggexec.Place) {
	*stateAt[uint64](place, 0) = 0
}

func (f *aggCount) Add(place aggexec.Place, cols []*vector.Vector, row int, a *arena.Arena) error {
	if len(cols) > 0 && cols[0].IsNull(row) {
		return nil
	}
	*stateAt[uint64](place, 0)++
	return nil
}

func (f *aggCount) Merge(place, rhs aggexec.Place, a *arena.Arena) error {
	*stateAt[uint64](place, 0) += *stateAt[uint64](rhs, 0)
	return nil
}

func (f *aggCount) Serialize(place aggexec.Place, w *bytes.Buffer, version aggexec.StateVersion, a *arena.Arena) error {
	aggexec.WriteUvarint(w, *stateAt[uint64](place, 0))
	return nil
}

func (f *aggCount) Deserialize(place aggexec.Place, r aggexec.ReadBuffer, version aggexec.StateVersion, a *arena.Arena) error {
	v, err := aggexec.ReadUvarint(f, r)
	if err != nil {
		return err
	}
	*stateAt[uint64](place, 0) = v
	return nil
}

func (f *aggCount) InsertResultInto(place aggexec.Place, to *vector.Vector, a *arena.Arena) error {
	return vector.AppendFixed(to, *stateAt[uint64](place, 0), false)
}
