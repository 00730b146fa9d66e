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
	"bytes"
	"encoding/binary"
	"sync/atomic"

	"github.com/matrixorigin/aggmerge/pkg/common/arena"
	"github.com/matrixorigin/aggmerge/pkg/common/concurrent"
	"github.com/matrixorigin/aggmerge/pkg/common/moerr"
	"github.com/matrixorigin/aggmerge/pkg/container/types"
	"github.com/matrixorigin/aggmerge/pkg/container/vector"
)

// testSum sums int64 values into an 8 byte state. Its knobs switch on
// versioning, parallel merge and a counted destructor.
type testSum struct {
	AggFuncHelper
	versioned bool
	parallel  bool
	owned     bool

	live          atomic.Int64
	merges        atomic.Int64
	parallelCalls atomic.Int64
	prepareCalls  atomic.Int64
	onMerge       func()
}

func newTestSum() *testSum {
	return newNamedTestSum("testSum", types.Int64Type)
}

func newNamedTestSum(name string, arg types.DataType) *testSum {
	f := &testSum{}
	f.AggFuncHelper = NewAggFuncHelper(f, name, []types.DataType{arg}, nil, types.Int64Type)
	return f
}

func getSum(place Place) int64 {
	return int64(binary.LittleEndian.Uint64(place))
}

func setSum(place Place, v int64) {
	binary.LittleEndian.PutUint64(place, uint64(v))
}

func (f *testSum) SizeOfData() int            { return 8 }
func (f *testSum) AlignOfData() int           { return 8 }
func (f *testSum) IsVersioned() bool          { return f.versioned }
func (f *testSum) HasTrivialDestructor() bool { return !f.owned }

func (f *testSum) DefaultVersion() uint64 {
	if f.versioned {
		return 1
	}
	return 0
}

func (f *testSum) IsAbleToParallelizeMerge() bool {
	return f.parallel
}

func (f *testSum) Create(place Place) {
	setSum(place, 0)
	if f.owned {
		f.live.Add(1)
	}
}

func (f *testSum) Destroy(place Place, a *arena.Arena) {
	if f.owned {
		f.live.Add(-1)
	}
}

func (f *testSum) Add(place Place, cols []*vector.Vector, row int, a *arena.Arena) error {
	setSum(place, getSum(place)+vector.GetFixedAt[int64](cols[0], row))
	return nil
}

func (f *testSum) Merge(place, rhs Place, a *arena.Arena) error {
	setSum(place, getSum(place)+getSum(rhs))
	f.merges.Add(1)
	if f.onMerge != nil {
		f.onMerge()
	}
	return nil
}

func (f *testSum) ParallelizeMergePrepare(places []Place, pool concurrent.ThreadPool, cancel *atomic.Bool, a *arena.Arena) error {
	f.prepareCalls.Add(1)
	return nil
}

func (f *testSum) MergeParallel(place, rhs Place, pool concurrent.ThreadPool, cancel *atomic.Bool, a *arena.Arena) error {
	f.parallelCalls.Add(1)
	return f.Merge(place, rhs, a)
}

// version 0 writes a varint, version 1 and unversioned states 8 bytes.
func (f *testSum) Serialize(place Place, w *bytes.Buffer, version StateVersion, a *arena.Arena) error {
	if version.Valid && version.Value == 0 {
		WriteVarint(w, getSum(place))
		return nil
	}
	WriteUint64(w, uint64(getSum(place)))
	return nil
}

func (f *testSum) Deserialize(place Place, r ReadBuffer, version StateVersion, a *arena.Arena) error {
	if version.Valid && version.Value == 0 {
		v, err := ReadVarint(f, r)
		if err != nil {
			return err
		}
		setSum(place, v)
		return nil
	}
	v, err := ReadUint64(f, r)
	if err != nil {
		return err
	}
	setSum(place, int64(v))
	return nil
}

func (f *testSum) InsertResultInto(place Place, to *vector.Vector, a *arena.Arena) error {
	return vector.AppendFixed(to, getSum(place), false)
}

func testSumCreator(args []types.DataType, params []float64) (AggFunc, error) {
	if len(args) != 1 || args[0].Oid() != types.T_int64 {
		return nil, moerr.NewInvalidArgNoCtx("testSum arguments", types.Names(args))
	}
	return newTestSum(), nil
}

// newSumStates allocates one state per value.
func newSumStates(fn AggFunc, a *arena.Arena, vals ...int64) ([]Place, error) {
	places, err := AllocStates(fn, a, len(vals))
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		setSum(places[i], v)
	}
	return places, nil
}
