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

	hll "github.com/axiomhq/hyperloglog"

	"github.com/matrixorigin/aggmerge/pkg/common/arena"
	"github.com/matrixorigin/aggmerge/pkg/container/types"
	"github.com/matrixorigin/aggmerge/pkg/container/vector"
	"github.com/matrixorigin/aggmerge/pkg/sql/colexec/aggexec"
)

var UniqSupportedTypes = []types.T{
	types.T_int64, types.T_uint64, types.T_float64, types.T_varbinary,
}

// aggUniq estimates the number of distinct values with a HyperLogLog
// sketch. The sketch is an arena object and the state holds its handle.
type aggUniq struct {
	aggexec.AggFuncHelper
}

func newAggUniq(args []types.DataType, params []float64) (aggexec.AggFunc, error) {
	if err := checkArgs("uniq", args, UniqSupportedTypes); err != nil {
		return nil, err
	}
	if err := checkNoParams("uniq", params); err != nil {
		return nil, err
	}
	f := &aggUniq{}
	f.AggFuncHelper = aggexec.NewAggFuncHelper(f, "uniq", args, nil, types.Uint64Type)
	return f, nil
}

func (f *aggUniq) SizeOfData() int                { return arena.HandleSize }
func (f *aggUniq) AlignOfData() int               { return arena.HandleSize }
func (f *aggUniq) HasTrivialDestructor() bool     { return false }
func (f *aggUniq) AllocatesMemoryInArena() bool   { return true }
func (f *aggUniq) IsAbleToParallelizeMerge() bool { return true }

func (f *aggUniq) Create(place aggexec.Place) {
	arena.PutHandle(place, 0)
}

// Destroy releases the sketch slot. A sketch is too large to leave to the
// arena when every merged row deserializes one.
func (f *aggUniq) Destroy(place aggexec.Place, a *arena.Arena) {
	a.ReleaseObject(arena.GetHandle(place))
	arena.PutHandle(place, 0)
}

func (f *aggUniq) sketch(place aggexec.Place, a *arena.Arena) *hll.Sketch {
	if sk, ok := a.Object(arena.GetHandle(place)).(*hll.Sketch); ok {
		return sk
	}
	return nil
}

func (f *aggUniq) mustSketch(place aggexec.Place, a *arena.Arena) *hll.Sketch {
	if sk := f.sketch(place, a); sk != nil {
		return sk
	}
	sk := hll.New()
	arena.PutHandle(place, a.NewObject(sk))
	return sk
}

func (f *aggUniq) Add(place aggexec.Place, cols []*vector.Vector, row int, a *arena.Arena) error {
	if cols[0].IsNull(row) {
		return nil
	}
	var buf [8]byte
	f.mustSketch(place, a).Insert(valueBytes(cols[0], row, buf[:]))
	return nil
}

func (f *aggUniq) Merge(place, rhs aggexec.Place, a *arena.Arena) error {
	other := f.sketch(rhs, a)
	if other == nil {
		return nil
	}
	return f.mustSketch(place, a).Merge(other)
}

func (f *aggUniq) Serialize(place aggexec.Place, w *bytes.Buffer, version aggexec.StateVersion, a *arena.Arena) error {
	sk := f.sketch(place, a)
	if sk == nil {
		aggexec.WriteUvarint(w, 0)
		return nil
	}
	data, err := sk.MarshalBinary()
	if err != nil {
		return err
	}
	aggexec.WriteUvarint(w, uint64(len(data)))
	w.Write(data)
	return nil
}

func (f *aggUniq) Deserialize(place aggexec.Place, r aggexec.ReadBuffer, version aggexec.StateVersion, a *arena.Arena) error {
	n, err := aggexec.ReadUvarint(f, r)
	if err != nil {
		return err
	}
	if n == 0 {
		// an empty state replaces whatever place held
		f.Destroy(place, a)
		return nil
	}
	data, err := aggexec.ReadBytes(f, r, n)
	if err != nil {
		return err
	}
	sk := hll.New()
	if err := sk.UnmarshalBinary(data); err != nil {
		return aggexec.CorruptedState(f, err)
	}
	if h := arena.GetHandle(place); h != 0 {
		a.SetObject(h, sk)
		return nil
	}
	arena.PutHandle(place, a.NewObject(sk))
	return nil
}

func (f *aggUniq) InsertResultInto(place aggexec.Place, to *vector.Vector, a *arena.Arena) error {
	var estimate uint64
	if sk := f.sketch(place, a); sk != nil {
		estimate = sk.Estimate()
	}
	return vector.AppendFixed(to, estimate, false)
}
