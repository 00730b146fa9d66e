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

package spill

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/matrixorigin/aggmerge/pkg/config"
	"github.com/matrixorigin/aggmerge/pkg/container/types"
	"github.com/matrixorigin/aggmerge/pkg/container/vector"
	"github.com/matrixorigin/aggmerge/pkg/sql/colexec/aggexec"
	"github.com/matrixorigin/aggmerge/pkg/sql/colexec/dispatch"
	"github.com/matrixorigin/aggmerge/pkg/sql/colexec/mergegroup"
	"github.com/matrixorigin/aggmerge/pkg/sql/plan/function/agg"
	"github.com/matrixorigin/aggmerge/pkg/vm/process"
)

func openMem(t *testing.T) *Store {
	s, err := Open(config.SpillParameters{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

func sumEnvelope(t *testing.T, proc *process.Process, fn string, v int64) *aggexec.StateEnvelope {
	sum, err := agg.DefaultFactory().Get(fn, []types.DataType{types.Int64Type}, nil)
	require.NoError(t, err)
	place, err := aggexec.AllocState(sum, proc.Arena)
	require.NoError(t, err)
	in := vector.NewVec(types.Int64Type)
	require.NoError(t, vector.AppendFixed(in, v, false))
	require.NoError(t, sum.Add(place, []*vector.Vector{in}, 0, proc.Arena))
	env, err := aggexec.NewStateEnvelope(sum, place, proc.Arena)
	require.NoError(t, err)
	return env
}

func TestKeyEncoding(t *testing.T) {
	for _, key := range [][]byte{{}, {0}, {0, 0xff}, []byte("a\x00b"), []byte("plain")} {
		got, seq, err := decodeKey(encodeKey(key, 42))
		require.NoError(t, err)
		require.Equal(t, uint64(42), seq)
		require.Equal(t, string(key), string(got))
	}
	// a key sorts before its extensions, whatever the seq
	require.Less(t, string(encodeKey([]byte("a"), 1<<63)), string(encodeKey([]byte("a\x00"), 0)))
	require.Less(t, string(encodeKey([]byte("a"), 1<<63)), string(encodeKey([]byte("ab"), 0)))

	_, _, err := decodeKey([]byte{1, 2})
	require.Error(t, err)
	_, _, err = decodeKey(append([]byte("abc"), make([]byte, seqSize)...))
	require.Error(t, err)
}

func TestPutScan(t *testing.T) {
	s := openMem(t)
	proc := process.New(context.Background(), nil, config.MergeParameters{})
	defer proc.Free()

	require.NoError(t, s.Put([]byte("b"), 2, sumEnvelope(t, proc, "sum", 20)))
	require.NoError(t, s.Put([]byte("a"), 1, sumEnvelope(t, proc, "sum", 1)))
	require.NoError(t, s.Put([]byte("b"), 1, sumEnvelope(t, proc, "sum", 10)))
	require.NoError(t, s.Put([]byte("a\x00"), 0, sumEnvelope(t, proc, "sum", 5)))
	require.NoError(t, s.Put([]byte("c"), 0, sumEnvelope(t, proc, "sum", 100)))

	type row struct {
		key string
		seq uint64
	}
	scan := func(lower, upper []byte) []row {
		var rows []row
		require.NoError(t, s.Scan(lower, upper, func(key []byte, seq uint64, env *aggexec.StateEnvelope) error {
			require.Equal(t, "sum", env.Name)
			rows = append(rows, row{string(key), seq})
			return nil
		}))
		return rows
	}
	require.Equal(t, []row{{"a", 1}, {"a\x00", 0}, {"b", 1}, {"b", 2}, {"c", 0}}, scan(nil, nil))
	require.Equal(t, []row{{"a\x00", 0}, {"b", 1}, {"b", 2}}, scan([]byte("a\x00"), []byte("c")))

	require.NoError(t, s.Delete([]byte("a"), []byte("b")))
	require.Equal(t, []row{{"b", 1}, {"b", 2}, {"c", 0}}, scan(nil, nil))
}

func TestReplay(t *testing.T) {
	s := openMem(t)
	proc := process.New(context.Background(), nil, config.MergeParameters{})
	defer proc.Free()
	f := agg.DefaultFactory()

	b := &dispatch.Block{}
	for i, key := range []string{"x", "y", "x", "z"} {
		b.Keys = append(b.Keys, []byte(key))
		b.Envelopes = append(b.Envelopes, sumEnvelope(t, proc, "sum", int64(i+1)))
	}
	next, err := s.PutBlock(b, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(4), next)
	_, err = s.PutBlock(b, next)
	require.NoError(t, err)

	sum, err := f.Get("sum", []types.DataType{types.Int64Type}, nil)
	require.NoError(t, err)
	m, err := f.Get("sumMerge", []types.DataType{sum.StateType()}, nil)
	require.NoError(t, err)
	op := mergegroup.New(proc, m)
	defer op.Free()

	rows, err := s.Replay(nil, nil, f, op)
	require.NoError(t, err)
	require.Equal(t, 8, rows)

	keys, res, err := op.Finalize()
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("x"), []byte("y"), []byte("z")}, keys)
	require.Equal(t, []int64{8, 4, 8}, vector.MustFixedCol[int64](res))
}

func TestReplayMixedFunctions(t *testing.T) {
	s := openMem(t)
	proc := process.New(context.Background(), nil, config.MergeParameters{})
	defer proc.Free()
	f := agg.DefaultFactory()

	require.NoError(t, s.Put([]byte("a"), 0, sumEnvelope(t, proc, "sum", 1)))
	require.NoError(t, s.Put([]byte("b"), 0, sumEnvelope(t, proc, "avg", 1)))

	sum, err := f.Get("sum", []types.DataType{types.Int64Type}, nil)
	require.NoError(t, err)
	m, err := f.Get("sumMerge", []types.DataType{sum.StateType()}, nil)
	require.NoError(t, err)
	op := mergegroup.New(proc, m)
	defer op.Free()

	// the avg states form a fill of their own, which sumMerge rejects
	rows, err := s.Replay(nil, nil, f, op)
	require.Error(t, err)
	require.Equal(t, 1, rows)
}

func TestOpenDir(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(config.SpillParameters{Dir: dir})
	require.NoError(t, err)
	proc := process.New(context.Background(), nil, config.MergeParameters{})
	defer proc.Free()
	require.NoError(t, s.Put([]byte("k"), 7, sumEnvelope(t, proc, "sum", 3)))
	require.NoError(t, s.Close())

	s, err = Open(config.SpillParameters{Dir: dir})
	require.NoError(t, err)
	defer s.Close()
	n := 0
	require.NoError(t, s.Scan(nil, nil, func(key []byte, seq uint64, _ *aggexec.StateEnvelope) error {
		require.Equal(t, "k", string(key))
		require.Equal(t, uint64(7), seq)
		n++
		return nil
	}))
	require.Equal(t, 1, n)
}
