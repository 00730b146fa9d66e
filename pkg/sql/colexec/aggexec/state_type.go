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
	"strconv"
	"strings"

	"github.com/matrixorigin/aggmerge/pkg/container/types"
)

// StateType is the data type of a column of partial states of one function.
// Version, when valid, is the version the states were serialized with.
type StateType struct {
	Function AggFunc
	Version  StateVersion
}

func NewStateType(fn AggFunc, version StateVersion) *StateType {
	return &StateType{Function: fn, Version: version}
}

func (t *StateType) Oid() types.T {
	return types.T_aggstate
}

// String renders the type as AggregateFunction([version, ]fn(params), args...).
func (t *StateType) String() string {
	var b strings.Builder
	b.WriteString("AggregateFunction(")
	if t.Version.Valid {
		b.WriteString(strconv.FormatUint(t.Version.Value, 10))
		b.WriteString(", ")
	}
	b.WriteString(FullName(t.Function))
	for _, arg := range t.Function.ArgumentTypes() {
		b.WriteString(", ")
		b.WriteString(arg.String())
	}
	b.WriteString(")")
	return b.String()
}

// WithVersion returns the same type for states serialized with version.
func (t *StateType) WithVersion(version StateVersion) *StateType {
	return NewStateType(t.Function, version)
}

// FullName is the function name followed by its parameters, if any.
func FullName(fn AggFunc) string {
	params := fn.Parameters()
	if len(params) == 0 {
		return fn.Name()
	}
	parts := make([]string, len(params))
	for i, p := range params {
		parts[i] = strconv.FormatFloat(p, 'g', -1, 64)
	}
	return fn.Name() + "(" + strings.Join(parts, ", ") + ")"
}
