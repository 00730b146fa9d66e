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
	"sort"
	"strings"
	"sync"

	"github.com/matrixorigin/aggmerge/pkg/common/moerr"
	"github.com/matrixorigin/aggmerge/pkg/container/types"
)

/*
	functions are registered by name with a creator.
	a name ending with a combinator suffix resolves the rest of the name
	first and wraps the result, so sumStateMerge is sumState wrapped by Merge.
*/

// Creator builds a function for the given argument types and parameters.
type Creator func(args []types.DataType, params []float64) (AggFunc, error)

type Factory struct {
	sync.RWMutex
	creators map[string]Creator
}

func NewFactory() *Factory {
	return &Factory{creators: make(map[string]Creator)}
}

// Register adds a creator. Registering a name twice panics.
func (f *Factory) Register(name string, creator Creator) {
	f.Lock()
	defer f.Unlock()
	if _, ok := f.creators[name]; ok {
		panic(moerr.NewInternalErrorNoCtx("aggregate function %s registered twice", name))
	}
	f.creators[name] = creator
}

// Names lists the registered functions without combinators.
func (f *Factory) Names() []string {
	f.RLock()
	defer f.RUnlock()
	names := make([]string, 0, len(f.creators))
	for name := range f.creators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (f *Factory) Get(name string, args []types.DataType, params []float64) (AggFunc, error) {
	f.RLock()
	creator, ok := f.creators[name]
	f.RUnlock()
	if ok {
		return creator(args, params)
	}

	if nestedName, ok := strings.CutSuffix(name, MergeSuffix); ok && nestedName != "" {
		return f.getMerge(name, nestedName, args, params)
	}
	if nestedName, ok := strings.CutSuffix(name, StateSuffix); ok && nestedName != "" {
		nested, err := f.Get(nestedName, args, params)
		if err != nil {
			return nil, err
		}
		return NewAggState(nested), nil
	}
	return nil, moerr.NewUnknownAggFunctionNoCtx(name)
}

// getMerge builds the nested function from the arguments of the state
// type. Parameters given to the combinator win over those of the state.
func (f *Factory) getMerge(name, nestedName string, args []types.DataType, params []float64) (AggFunc, error) {
	if len(args) != 1 {
		return nil, moerr.NewInvalidArgNoCtx(name+" argument count", len(args))
	}
	st, ok := args[0].(*StateType)
	if !ok {
		return nil, moerr.NewIllegalTypeOfArgumentNoCtx(args[0].String(), name, "AggregateFunction("+nestedName+", ...)")
	}
	nestedParams := params
	if len(nestedParams) == 0 {
		nestedParams = st.Function.Parameters()
	}
	nested, err := f.Get(nestedName, st.Function.ArgumentTypes(), nestedParams)
	if err != nil {
		return nil, err
	}
	return NewAggMerge(nested, args[0], params)
}
