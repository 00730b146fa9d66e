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

package dispatch

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/matrixorigin/aggmerge/pkg/common/arena"
	"github.com/matrixorigin/aggmerge/pkg/common/moerr"
	"github.com/matrixorigin/aggmerge/pkg/container/types"
	"github.com/matrixorigin/aggmerge/pkg/container/vector"
	"github.com/matrixorigin/aggmerge/pkg/sql/colexec/aggexec"
	"github.com/matrixorigin/aggmerge/pkg/sql/plan/function/agg"
)

// sumBlock returns a block with one sum state per key, the state of key i
// being i+1.
func sumBlock(t *testing.T, a *arena.Arena, rows int) *Block {
	sum, err := agg.DefaultFactory().Get("sum", []types.DataType{types.Int64Type}, nil)
	require.NoError(t, err)
	b := &Block{}
	for i := 0; i < rows; i++ {
		place, err := aggexec.AllocState(sum, a)
		require.NoError(t, err)
		in := vector.NewVec(types.Int64Type)
		require.NoError(t, vector.AppendFixed(in, int64(i+1), false))
		require.NoError(t, sum.Add(place, []*vector.Vector{in}, 0, a))
		env, err := aggexec.NewStateEnvelope(sum, place, a)
		require.NoError(t, err)
		b.Keys = append(b.Keys, []byte(fmt.Sprintf("key-%03d", i)))
		b.Envelopes = append(b.Envelopes, env)
	}
	return b
}

func TestParseCodec(t *testing.T) {
	for _, name := range []string{"none", "lz4", "zstd"} {
		c, err := ParseCodec(name)
		require.NoError(t, err)
		require.Equal(t, name, c.String())
	}
	c, err := ParseCodec("")
	require.NoError(t, err)
	require.Equal(t, CodecNone, c)
	_, err = ParseCodec("gzip")
	require.True(t, moerr.IsMoErrCode(err, moerr.ErrInvalidInput))
}

func TestBlockCodecs(t *testing.T) {
	a := arena.New(0, 0)
	b := sumBlock(t, a, 200)
	var sizes []int
	for _, codec := range []Codec{CodecNone, CodecLZ4, CodecZstd} {
		data, err := EncodeBlock(b, codec)
		require.NoError(t, err)
		require.Equal(t, byte(codec), data[0])
		sizes = append(sizes, len(data))

		got, err := DecodeBlock(data)
		require.NoError(t, err)
		require.Equal(t, b.Keys, got.Keys)
		require.Equal(t, len(b.Envelopes), len(got.Envelopes))
		for i := range b.Envelopes {
			require.Equal(t, b.Envelopes[i].Name, got.Envelopes[i].Name)
			require.Equal(t, b.Envelopes[i].Payload, got.Envelopes[i].Payload)
		}
	}
	// the keys and names repeat a lot
	require.Less(t, sizes[1], sizes[0])
	require.Less(t, sizes[2], sizes[0])
}

func TestDecodeBlockErrors(t *testing.T) {
	a := arena.New(0, 0)
	data, err := EncodeBlock(sumBlock(t, a, 3), CodecNone)
	require.NoError(t, err)

	for _, bad := range [][]byte{
		nil,
		{byte(CodecNone)},
		{9, 0},
		data[:len(data)-1],
		append(append([]byte(nil), data...), 0),
	} {
		_, err := DecodeBlock(bad)
		require.True(t, moerr.IsMoErrCode(err, moerr.ErrInvalidInput), "%v", bad)
	}

	_, err = EncodeBlock(&Block{Keys: [][]byte{{1}}}, CodecNone)
	require.True(t, moerr.IsMoErrCode(err, moerr.ErrInvalidInput))

	// one row whose key claims 5 bytes but has 2
	_, err = decodeRows([]byte{1, 5, 'a', 'b'})
	require.True(t, moerr.IsMoErrCode(err, moerr.ErrInvalidInput))
}

func TestDecodeBlockOversizedHeader(t *testing.T) {
	a := arena.New(0, 0)
	b := sumBlock(t, a, 3)
	for _, codec := range []Codec{CodecLZ4, CodecZstd} {
		data, err := EncodeBlock(b, codec)
		require.NoError(t, err)
		_, n := binary.Uvarint(data[1:])
		payload := data[1+n:]

		// a small block whose header claims the largest raw size
		forged := append([]byte{byte(codec)}, binary.AppendUvarint(nil, maxBlockSize)...)
		forged = append(forged, payload...)

		var before, after runtime.MemStats
		runtime.ReadMemStats(&before)
		_, err = DecodeBlock(forged)
		runtime.ReadMemStats(&after)
		require.True(t, moerr.IsMoErrCode(err, moerr.ErrInvalidInput), codec.String())
		require.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(maxBlockSize/16), codec.String())
	}
}

func TestPartitionAndScatter(t *testing.T) {
	a := arena.New(0, 0)
	b := sumBlock(t, a, 100)
	for _, key := range b.Keys {
		p := Partition(key, 4)
		require.True(t, p >= 0 && p < 4)
		require.Equal(t, p, Partition(append([]byte(nil), key...), 4))
	}

	parts := Scatter(b, 4)
	require.Len(t, parts, 4)
	total := 0
	for i, part := range parts {
		require.Equal(t, len(part.Keys), len(part.Envelopes))
		for j, key := range part.Keys {
			require.Equal(t, i, Partition(key, 4))
			require.Same(t, b.Envelopes[indexOf(b.Keys, key)], part.Envelopes[j])
		}
		total += part.Length()
	}
	require.Equal(t, b.Length(), total)
}

func indexOf(keys [][]byte, key []byte) int {
	for i := range keys {
		if bytes.Equal(keys[i], key) {
			return i
		}
	}
	return -1
}

func TestStateColumn(t *testing.T) {
	a := arena.New(0, 0)
	f := agg.DefaultFactory()
	b := sumBlock(t, a, 4)

	st, col, err := b.StateColumn(f)
	require.NoError(t, err)
	require.Equal(t, "AggregateFunction(sum, int64)", st.String())
	require.Equal(t, 4, col.Length())

	m, err := f.Get("sumMerge", []types.DataType{st}, nil)
	require.NoError(t, err)
	place, err := aggexec.AllocState(m, a)
	require.NoError(t, err)
	require.NoError(t, aggexec.AddBatchSinglePlace(m, place, []*vector.Vector{col}, 0, col.Length(), a))
	res := vector.NewVec(m.ResultType())
	require.NoError(t, m.InsertResultInto(place, res, a))
	require.Equal(t, int64(10), vector.GetFixedAt[int64](res, 0))

	b.Envelopes[2].Name = "avg"
	_, _, err = b.StateColumn(f)
	require.True(t, moerr.IsMoErrCode(err, moerr.ErrInvalidInput))
	_, _, err = (&Block{}).StateColumn(f)
	require.True(t, moerr.IsMoErrCode(err, moerr.ErrInvalidInput))
}

func TestDispatcher(t *testing.T) {
	a := arena.New(0, 0)
	b := sumBlock(t, a, 50)

	ctx := context.Background()
	regs := make([]*Register, 3)
	for i := range regs {
		regs[i] = &Register{Ctx: ctx, Ch: make(chan []byte, 2)}
	}
	gone, cancel := context.WithCancel(ctx)
	cancel()
	regs[2].Ctx = gone
	regs[2].Ch = make(chan []byte)

	d := New(CodecLZ4, regs)
	var buf bytes.Buffer
	String(d, &buf)
	require.Equal(t, "dispatch(lz4)", buf.String())

	require.NoError(t, d.Send(ctx, b))
	d.Close(ctx)

	received := 0
	for i, reg := range regs[:2] {
		data := <-reg.Ch
		got, err := DecodeBlock(data)
		require.NoError(t, err)
		for _, key := range got.Keys {
			require.Equal(t, i, Partition(key, 3))
		}
		received += got.Length()
		require.Nil(t, <-reg.Ch)
	}
	require.Equal(t, b.Length()-len(Scatter(b, 3)[2].Keys), received)
}

func TestDispatcherInterrupted(t *testing.T) {
	a := arena.New(0, 0)
	b := sumBlock(t, a, 10)

	regs := []*Register{{Ctx: context.Background(), Ch: make(chan []byte)}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := New(CodecNone, regs).Send(ctx, b)
	require.True(t, moerr.IsMoErrCode(err, moerr.ErrQueryInterrupted))
}
