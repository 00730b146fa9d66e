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

package types

import (
	"strings"

	"github.com/matrixorigin/aggmerge/pkg/common/moerr"
)

type T uint8

const (
	T_any T = iota
	T_int64
	T_uint64
	T_float64
	T_varbinary

	// T_aggstate is a column of partial aggregate states.
	T_aggstate
)

// FixedSizeT are the value types stored flat in a vector.
type FixedSizeT interface {
	int64 | uint64 | float64
}

// DataType describes the values of a column. Basic columns use Type,
// aggregate state columns carry the type of their state.
type DataType interface {
	Oid() T
	String() string
}

type Type struct {
	oid T
}

var (
	AnyType       = New(T_any)
	Int64Type     = New(T_int64)
	Uint64Type    = New(T_uint64)
	Float64Type   = New(T_float64)
	VarbinaryType = New(T_varbinary)
)

func New(oid T) Type {
	return Type{oid: oid}
}

func (t Type) Oid() T {
	return t.oid
}

func (t Type) String() string {
	return t.oid.String()
}

// TypeSize returns the width of one fixed size value, 0 for varlen types.
func (t Type) TypeSize() int {
	return t.oid.TypeLen()
}

func (t T) String() string {
	switch t {
	case T_any:
		return "any"
	case T_int64:
		return "int64"
	case T_uint64:
		return "uint64"
	case T_float64:
		return "float64"
	case T_varbinary:
		return "varbinary"
	case T_aggstate:
		return "aggstate"
	}
	return "unknown"
}

func (t T) TypeLen() int {
	switch t {
	case T_int64, T_uint64, T_float64:
		return 8
	}
	return 0
}

func (t T) IsNumeric() bool {
	switch t {
	case T_int64, T_uint64, T_float64:
		return true
	}
	return false
}

// FromName resolves the name of a basic type.
func FromName(name string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "int64", "bigint":
		return Int64Type, nil
	case "uint64", "bigint unsigned":
		return Uint64Type, nil
	case "float64", "double":
		return Float64Type, nil
	case "varbinary", "string":
		return VarbinaryType, nil
	case "any":
		return AnyType, nil
	}
	return Type{}, moerr.NewInvalidInputNoCtx("unknown type name %s", name)
}

// Equal compares two data types by their rendered names.
func Equal(a, b DataType) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Oid() == b.Oid() && a.String() == b.String()
}

// Names renders each type.
func Names(typs []DataType) []string {
	names := make([]string, len(typs))
	for i, typ := range typs {
		names[i] = typ.String()
	}
	return names
}
