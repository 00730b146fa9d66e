// Copyright 2021 Matrix Origin
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

package vector

import (
	"fmt"
	"strings"

	"github.com/matrixorigin/aggmerge/pkg/common/moerr"
	"github.com/matrixorigin/aggmerge/pkg/container/nulls"
	"github.com/matrixorigin/aggmerge/pkg/container/types"
)

const (
	FLAT     = iota // flat vector represent a uncompressed vector
	CONSTANT        // const vector
)

// Vector represent a column
type Vector struct {
	// vector's class
	class int
	// type represent the type of column
	typ types.DataType
	nsp *nulls.Nulls // nulls list

	// []T of fixed size values, [][]byte of varlen values and states
	col any

	length int

	// states of an aggstate column are places owned by the producing
	// operator rather than serialized payloads
	inMemory bool
}

// NewVec returns an empty flat vector of typ.
func NewVec(typ types.DataType) *Vector {
	v := &Vector{
		class: FLAT,
		typ:   typ,
		nsp:   nulls.NewWithSize(0),
	}
	switch typ.Oid() {
	case types.T_int64:
		v.col = make([]int64, 0)
	case types.T_uint64:
		v.col = make([]uint64, 0)
	case types.T_float64:
		v.col = make([]float64, 0)
	default:
		v.col = make([][]byte, 0)
	}
	return v
}

// NewStateVec returns an aggregate state column. With inMemory set its rows
// are live places, otherwise serialized states.
func NewStateVec(typ types.DataType, inMemory bool) *Vector {
	v := NewVec(typ)
	v.inMemory = inMemory
	return v
}

// NewConst returns a constant vector that repeats val length times.
func NewConst[T types.FixedSizeT](typ types.DataType, val T, length int) *Vector {
	v := NewVec(typ)
	v.class = CONSTANT
	v.col = []T{val}
	v.length = length
	return v
}

func (v *Vector) Length() int {
	return v.length
}

func (v *Vector) GetType() types.DataType {
	return v.typ
}

func (v *Vector) GetNulls() *nulls.Nulls {
	return v.nsp
}

func (v *Vector) IsConst() bool {
	return v.class == CONSTANT
}

// IsInMemoryStates reports whether the rows of an aggstate column are places.
func (v *Vector) IsInMemoryStates() bool {
	return v.inMemory
}

func (v *Vector) IsNull(i int) bool {
	if v.IsConst() {
		return nulls.Contains(v.nsp, 0)
	}
	return nulls.Contains(v.nsp, uint64(i))
}

// MustFixedCol returns the values of a fixed size column.
func MustFixedCol[T types.FixedSizeT](v *Vector) []T {
	return v.col.([]T)
}

// GetFixedAt returns row i of a fixed size column.
func GetFixedAt[T types.FixedSizeT](v *Vector, i int) T {
	if v.IsConst() {
		i = 0
	}
	return v.col.([]T)[i]
}

// GetBytesAt returns row i of a varlen or aggstate column.
func (v *Vector) GetBytesAt(i int) []byte {
	if v.IsConst() {
		i = 0
	}
	return v.col.([][]byte)[i]
}

func AppendFixed[T types.FixedSizeT](v *Vector, val T, isNull bool) error {
	if v.IsConst() {
		return moerr.NewInternalErrorNoCtx("append to const vector")
	}
	col, ok := v.col.([]T)
	if !ok {
		return moerr.NewInternalErrorNoCtx("append %T to vector of %s", val, v.typ)
	}
	if isNull {
		nulls.Add(v.nsp, uint64(v.length))
	}
	v.col = append(col, val)
	v.length++
	return nil
}

func AppendFixedList[T types.FixedSizeT](v *Vector, vals []T) error {
	for _, val := range vals {
		if err := AppendFixed(v, val, false); err != nil {
			return err
		}
	}
	return nil
}

// AppendBytes appends a varlen value or an aggregate state. In-memory
// states are stored as given, everything else is copied.
func AppendBytes(v *Vector, val []byte, isNull bool) error {
	if v.IsConst() {
		return moerr.NewInternalErrorNoCtx("append to const vector")
	}
	col, ok := v.col.([][]byte)
	if !ok {
		return moerr.NewInternalErrorNoCtx("append bytes to vector of %s", v.typ)
	}
	if isNull {
		nulls.Add(v.nsp, uint64(v.length))
		val = nil
	} else if !v.inMemory {
		val = append([]byte(nil), val...)
	}
	v.col = append(col, val)
	v.length++
	return nil
}

func AppendBytesList(v *Vector, vals [][]byte) error {
	for _, val := range vals {
		if err := AppendBytes(v, val, false); err != nil {
			return err
		}
	}
	return nil
}

// Window returns rows [start, end) sharing storage with v.
func (v *Vector) Window(start, end int) *Vector {
	w := &Vector{
		class:    v.class,
		typ:      v.typ,
		nsp:      nulls.NewWithSize(0),
		inMemory: v.inMemory,
		length:   end - start,
	}
	if v.IsConst() {
		w.col = v.col
		if v.IsNull(0) {
			nulls.Add(w.nsp, 0)
		}
		return w
	}
	switch col := v.col.(type) {
	case []int64:
		w.col = col[start:end]
	case []uint64:
		w.col = col[start:end]
	case []float64:
		w.col = col[start:end]
	case [][]byte:
		w.col = col[start:end]
	}
	for i := start; i < end; i++ {
		if v.IsNull(i) {
			nulls.Add(w.nsp, uint64(i-start))
		}
	}
	return w
}

// Free drops the values, an in-memory state column does not own its places.
func (v *Vector) Free() {
	nulls.Reset(v.nsp)
	v.col = NewVec(v.typ).col
	v.length = 0
}

func (v *Vector) String() string {
	var b strings.Builder
	b.WriteString("[")
	for i := 0; i < v.length; i++ {
		if i > 0 {
			b.WriteString(" ")
		}
		if v.IsNull(i) {
			b.WriteString("null")
			continue
		}
		switch v.typ.Oid() {
		case types.T_int64:
			fmt.Fprintf(&b, "%d", GetFixedAt[int64](v, i))
		case types.T_uint64:
			fmt.Fprintf(&b, "%d", GetFixedAt[uint64](v, i))
		case types.T_float64:
			fmt.Fprintf(&b, "%v", GetFixedAt[float64](v, i))
		default:
			fmt.Fprintf(&b, "%x", v.GetBytesAt(i))
		}
	}
	b.WriteString("]")
	return b.String()
}
