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
	"encoding/binary"
	"math"
	"unsafe"

	"golang.org/x/exp/slices"

	"github.com/matrixorigin/aggmerge/pkg/common/arena"
	"github.com/matrixorigin/aggmerge/pkg/common/moerr"
	"github.com/matrixorigin/aggmerge/pkg/container/types"
	"github.com/matrixorigin/aggmerge/pkg/container/vector"
	"github.com/matrixorigin/aggmerge/pkg/sql/colexec/aggexec"
)

var QuantileSupportedTypes = []types.T{
	types.T_int64, types.T_uint64, types.T_float64,
}

const (
	defaultQuantileLevel = 0.5
	minQuantileCapacity  = 4
	// the state is the Ref of the value buffer followed by the value count
	quantileLenOffset = arena.RefSize
)

// aggQuantile is the exact quantile. Every value is kept in a growable
// float64 buffer in the arena and the buffer is sorted only on output.
// The level does not change the state, so quantiles of any level share it.
type aggQuantile struct {
	aggexec.AggFuncHelper
	level float64
}

func newAggQuantile(args []types.DataType, params []float64) (aggexec.AggFunc, error) {
	if err := checkArgs("quantile", args, QuantileSupportedTypes); err != nil {
		return nil, err
	}
	level := defaultQuantileLevel
	switch len(params) {
	case 0:
	case 1:
		level = params[0]
	default:
		return nil, moerr.NewInvalidArgNoCtx("quantile parameters", params)
	}
	if math.IsNaN(level) || level < 0 || level > 1 {
		return nil, moerr.NewInvalidArgNoCtx("quantile level", level)
	}
	f := &aggQuantile{level: level}
	f.AggFuncHelper = aggexec.NewAggFuncHelper(f, "quantile", args, []float64{level}, types.Float64Type)
	return f, nil
}

func (f *aggQuantile) SizeOfData() int              { return quantileLenOffset + 4 }
func (f *aggQuantile) AlignOfData() int             { return 8 }
func (f *aggQuantile) AllocatesMemoryInArena() bool { return true }

func (f *aggQuantile) HaveSameStateRepresentationImpl(rhs aggexec.AggFunc) bool {
	return f.Name() == rhs.Name() && aggexec.EqualArgumentTypes(f.ArgumentTypes(), rhs.ArgumentTypes())
}

func (f *aggQuantile) Create(place aggexec.Place) {
	arena.PutRef(place, arena.Ref{})
	*stateAt[uint32](place, quantileLenOffset) = 0
}

func (f *aggQuantile) values(place aggexec.Place, a *arena.Arena) []float64 {
	n := *stateAt[uint32](place, quantileLenOffset)
	if n == 0 {
		return nil
	}
	mem := a.Bytes(arena.GetRef(place))
	return unsafe.Slice((*float64)(unsafe.Pointer(&mem[0])), n)
}

func (f *aggQuantile) push(place aggexec.Place, a *arena.Arena, vals ...float64) error {
	if len(vals) == 0 {
		return nil
	}
	ref := arena.GetRef(place)
	n := int(*stateAt[uint32](place, quantileLenOffset))
	if uint64(n+len(vals)) > math.MaxUint32 {
		return moerr.NewOutOfRangeNoCtx("quantile", "more than %d values", uint32(math.MaxUint32))
	}
	if need := n + len(vals); need > int(ref.Len/8) {
		capacity := 2 * int(ref.Len/8)
		if capacity < need {
			capacity = need
		}
		if capacity < minQuantileCapacity {
			capacity = minQuantileCapacity
		}
		var err error
		if ref, err = a.Realloc(ref, capacity*8, 8); err != nil {
			return err
		}
		arena.PutRef(place, ref)
	}
	mem := a.Bytes(ref)
	buf := unsafe.Slice((*float64)(unsafe.Pointer(&mem[0])), n+len(vals))
	copy(buf[n:], vals)
	*stateAt[uint32](place, quantileLenOffset) = uint32(n + len(vals))
	return nil
}

func (f *aggQuantile) Add(place aggexec.Place, cols []*vector.Vector, row int, a *arena.Arena) error {
	if cols[0].IsNull(row) {
		return nil
	}
	return f.push(place, a, asFloat64(cols[0], row))
}

func (f *aggQuantile) Merge(place, rhs aggexec.Place, a *arena.Arena) error {
	return f.push(place, a, f.values(rhs, a)...)
}

func (f *aggQuantile) Serialize(place aggexec.Place, w *bytes.Buffer, version aggexec.StateVersion, a *arena.Arena) error {
	vals := f.values(place, a)
	aggexec.WriteUvarint(w, uint64(len(vals)))
	for _, v := range vals {
		aggexec.WriteFloat64(w, v)
	}
	return nil
}

func (f *aggQuantile) Deserialize(place aggexec.Place, r aggexec.ReadBuffer, version aggexec.StateVersion, a *arena.Arena) error {
	n, err := aggexec.ReadUvarint(f, r)
	if err != nil {
		return err
	}
	if n > math.MaxUint32 {
		return moerr.NewCorruptedAggStateNoCtx(aggexec.FullName(f), "%d values", n)
	}
	data, err := aggexec.ReadBytes(f, r, n*8)
	if err != nil {
		return err
	}
	vals := make([]float64, n)
	for i := range vals {
		vals[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[i*8:]))
	}
	f.Create(place)
	return f.push(place, a, vals...)
}

// InsertResultInto emits NULL for an empty group.
func (f *aggQuantile) InsertResultInto(place aggexec.Place, to *vector.Vector, a *arena.Arena) error {
	vals := slices.Clone(f.values(place, a))
	if len(vals) == 0 {
		return vector.AppendFixed(to, float64(0), true)
	}
	slices.Sort(vals)
	idx := len(vals) - 1
	if f.level < 1 {
		idx = int(f.level * float64(len(vals)))
	}
	return vector.AppendFixed(to, vals[idx], false)
}

