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
	"context"
	"math"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring"

	"github.com/matrixorigin/aggmerge/pkg/common/arena"
	"github.com/matrixorigin/aggmerge/pkg/common/concurrent"
	"github.com/matrixorigin/aggmerge/pkg/common/moerr"
	"github.com/matrixorigin/aggmerge/pkg/container/types"
	"github.com/matrixorigin/aggmerge/pkg/container/vector"
	"github.com/matrixorigin/aggmerge/pkg/sql/colexec/aggexec"
)

var GroupBitmapSupportedTypes = []types.T{
	types.T_int64, types.T_uint64,
}

// aggGroupBitmap counts distinct values exactly with a roaring bitmap.
// Values must fit in 32 bits. The bitmap is owned by its state, so
// destroying the state releases its arena object.
type aggGroupBitmap struct {
	aggexec.AggFuncHelper
}

func newAggGroupBitmap(args []types.DataType, params []float64) (aggexec.AggFunc, error) {
	if err := checkArgs("groupBitmap", args, GroupBitmapSupportedTypes); err != nil {
		return nil, err
	}
	if err := checkNoParams("groupBitmap", params); err != nil {
		return nil, err
	}
	f := &aggGroupBitmap{}
	f.AggFuncHelper = aggexec.NewAggFuncHelper(f, "groupBitmap", args, nil, types.Uint64Type)
	return f, nil
}

func (f *aggGroupBitmap) SizeOfData() int                { return arena.HandleSize }
func (f *aggGroupBitmap) AlignOfData() int               { return arena.HandleSize }
func (f *aggGroupBitmap) HasTrivialDestructor() bool     { return false }
func (f *aggGroupBitmap) AllocatesMemoryInArena() bool   { return true }
func (f *aggGroupBitmap) IsAbleToParallelizeMerge() bool { return true }

func (f *aggGroupBitmap) Create(place aggexec.Place) {
	arena.PutHandle(place, 0)
}

func (f *aggGroupBitmap) Destroy(place aggexec.Place, a *arena.Arena) {
	a.ReleaseObject(arena.GetHandle(place))
	arena.PutHandle(place, 0)
}

func (f *aggGroupBitmap) bitmap(place aggexec.Place, a *arena.Arena) *roaring.Bitmap {
	if bm, ok := a.Object(arena.GetHandle(place)).(*roaring.Bitmap); ok {
		return bm
	}
	return nil
}

func (f *aggGroupBitmap) mustBitmap(place aggexec.Place, a *arena.Arena) *roaring.Bitmap {
	if bm := f.bitmap(place, a); bm != nil {
		return bm
	}
	bm := roaring.New()
	arena.PutHandle(place, a.NewObject(bm))
	return bm
}

// setBitmap makes bm the bitmap of place.
func (f *aggGroupBitmap) setBitmap(place aggexec.Place, bm *roaring.Bitmap, a *arena.Arena) {
	if h := arena.GetHandle(place); h != 0 {
		a.SetObject(h, bm)
		return
	}
	arena.PutHandle(place, a.NewObject(bm))
}

func (f *aggGroupBitmap) Add(place aggexec.Place, cols []*vector.Vector, row int, a *arena.Arena) error {
	col := cols[0]
	if col.IsNull(row) {
		return nil
	}
	var v uint64
	if col.GetType().Oid() == types.T_int64 {
		x := vector.GetFixedAt[int64](col, row)
		if x < 0 {
			return moerr.NewOutOfRangeNoCtx("uint32", "groupBitmap value %d", x)
		}
		v = uint64(x)
	} else {
		v = vector.GetFixedAt[uint64](col, row)
	}
	if v > math.MaxUint32 {
		return moerr.NewOutOfRangeNoCtx("uint32", "groupBitmap value %d", v)
	}
	f.mustBitmap(place, a).Add(uint32(v))
	return nil
}

func (f *aggGroupBitmap) Merge(place, rhs aggexec.Place, a *arena.Arena) error {
	other := f.bitmap(rhs, a)
	if other == nil {
		return nil
	}
	f.mustBitmap(place, a).Or(other)
	return nil
}

// ParallelizeMergePrepare compresses the runs of every bitmap, a chunk of
// states per pool worker.
func (f *aggGroupBitmap) ParallelizeMergePrepare(places []aggexec.Place, pool concurrent.ThreadPool, cancel *atomic.Bool, a *arena.Arena) error {
	return concurrent.NewPoolExecutor(pool).Execute(context.Background(), len(places),
		func(_ context.Context, _ int, start, end int) error {
			for i := start; i < end; i++ {
				if cancel != nil && cancel.Load() {
					return nil
				}
				if bm := f.bitmap(places[i], a); bm != nil {
					bm.RunOptimize()
				}
			}
			return nil
		})
}

// MergeParallel unions the containers of both bitmaps with one worker per
// pool slot.
func (f *aggGroupBitmap) MergeParallel(place, rhs aggexec.Place, pool concurrent.ThreadPool, cancel *atomic.Bool, a *arena.Arena) error {
	if cancel != nil && cancel.Load() {
		return nil
	}
	other := f.bitmap(rhs, a)
	if other == nil {
		return nil
	}
	bm := f.bitmap(place, a)
	if bm == nil {
		f.setBitmap(place, other.Clone(), a)
		return nil
	}
	f.setBitmap(place, roaring.ParOr(pool.Cap(), bm, other), a)
	return nil
}

func (f *aggGroupBitmap) Serialize(place aggexec.Place, w *bytes.Buffer, version aggexec.StateVersion, a *arena.Arena) error {
	bm := f.bitmap(place, a)
	if bm == nil {
		aggexec.WriteUvarint(w, 0)
		return nil
	}
	data, err := bm.MarshalBinary()
	if err != nil {
		return err
	}
	aggexec.WriteUvarint(w, uint64(len(data)))
	w.Write(data)
	return nil
}

func (f *aggGroupBitmap) Deserialize(place aggexec.Place, r aggexec.ReadBuffer, version aggexec.StateVersion, a *arena.Arena) error {
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
	bm := roaring.New()
	if err := bm.UnmarshalBinary(data); err != nil {
		return aggexec.CorruptedState(f, err)
	}
	f.setBitmap(place, bm, a)
	return nil
}

func (f *aggGroupBitmap) InsertResultInto(place aggexec.Place, to *vector.Vector, a *arena.Arena) error {
	var card uint64
	if bm := f.bitmap(place, a); bm != nil {
		card = bm.GetCardinality()
	}
	return vector.AppendFixed(to, card, false)
}
