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
	"encoding/binary"
	"math"
	"unsafe"

	"github.com/matrixorigin/aggmerge/pkg/common/moerr"
	"github.com/matrixorigin/aggmerge/pkg/container/types"
	"github.com/matrixorigin/aggmerge/pkg/container/vector"
	"github.com/matrixorigin/aggmerge/pkg/sql/colexec/aggexec"
)

type numeric interface {
	int64 | uint64 | float64
}

// stateAt views the bytes of a place at off as a T. Places are aligned
// to the AlignOfData of their function.
func stateAt[T any](place aggexec.Place, off int) *T {
	return (*T)(unsafe.Pointer(&place[off]))
}

func checkArgs(name string, args []types.DataType, supported []types.T) error {
	if len(args) != 1 {
		return moerr.NewInvalidArgNoCtx(name+" argument count", len(args))
	}
	for _, oid := range supported {
		if args[0].Oid() == oid {
			return nil
		}
	}
	return moerr.NewInvalidArgNoCtx(name+" argument type", args[0].String())
}

func checkNoParams(name string, params []float64) error {
	if len(params) != 0 {
		return moerr.NewInvalidArgNoCtx(name+" parameters", params)
	}
	return nil
}

// valueBytes is the hashing key of row i of a value column.
func valueBytes(col *vector.Vector, row int, buf []byte) []byte {
	switch col.GetType().Oid() {
	case types.T_int64:
		binary.LittleEndian.PutUint64(buf, uint64(vector.GetFixedAt[int64](col, row)))
		return buf[:8]
	case types.T_uint64:
		binary.LittleEndian.PutUint64(buf, vector.GetFixedAt[uint64](col, row))
		return buf[:8]
	case types.T_float64:
		binary.LittleEndian.PutUint64(buf, math.Float64bits(vector.GetFixedAt[float64](col, row)))
		return buf[:8]
	default:
		return col.GetBytesAt(row)
	}
}

func asFloat64(col *vector.Vector, row int) float64 {
	switch col.GetType().Oid() {
	case types.T_int64:
		return float64(vector.GetFixedAt[int64](col, row))
	case types.T_uint64:
		return float64(vector.GetFixedAt[uint64](col, row))
	default:
		return vector.GetFixedAt[float64](col, row)
	}
}
