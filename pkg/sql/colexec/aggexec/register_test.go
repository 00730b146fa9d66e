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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/matrixorigin/aggmerge/pkg/common/moerr"
	"github.com/matrixorigin/aggmerge/pkg/container/types"
)

func TestFactory(t *testing.T) {
	f := NewFactory()
	f.Register("testSum", testSumCreator)
	require.Equal(t, []string{"testSum"}, f.Names())
	require.Panics(t, func() { f.Register("testSum", testSumCreator) })

	args := []types.DataType{types.Int64Type}
	fn, err := f.Get("testSum", args, nil)
	require.NoError(t, err)
	require.Equal(t, "testSum", fn.Name())

	state, err := f.Get("testSumState", args, nil)
	require.NoError(t, err)
	require.True(t, state.IsState())

	merge, err := f.Get("testSumMerge", []types.DataType{fn.StateType()}, nil)
	require.NoError(t, err)
	require.Equal(t, "testSumMerge", merge.Name())
	require.Equal(t, "testSum", merge.NestedFunction().Name())

	stateMerge, err := f.Get("testSumStateMerge", []types.DataType{state.ResultType()}, nil)
	require.NoError(t, err)
	require.True(t, stateMerge.IsState())
	require.True(t, HaveSameStateRepresentation(stateMerge, fn))

	_, err = f.Get("testSumMerge", args, nil)
	require.True(t, moerr.IsMoErrCode(err, moerr.ErrIllegalTypeOfArgument))

	_, err = f.Get("testSumMerge", nil, nil)
	require.True(t, moerr.IsMoErrCode(err, moerr.ErrInvalidArg))

	_, err = f.Get("testSum", []types.DataType{types.Float64Type}, nil)
	require.True(t, moerr.IsMoErrCode(err, moerr.ErrInvalidArg))

	for _, name := range []string{"avg", "Merge", "State", "avgMerge"} {
		_, err = f.Get(name, []types.DataType{fn.StateType()}, nil)
		require.True(t, moerr.IsMoErrCode(err, moerr.ErrUnknownAggFunction), name)
	}
}
