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
	"encoding/binary"
	"io"
	"runtime"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4"

	"github.com/matrixorigin/aggmerge/pkg/common/moerr"
	"github.com/matrixorigin/aggmerge/pkg/config"
	"github.com/matrixorigin/aggmerge/pkg/sql/colexec/aggexec"
)

/*
	an encoded block is
		codec byte | uvarint raw size | payload
	where the payload, compressed by the codec, is
		uvarint rows | (uvarint key size | key | uvarint envelope size | envelope) * rows
*/

type Codec uint8

const (
	CodecNone Codec = iota
	CodecLZ4
	CodecZstd
)

// maxBlockSize bounds the raw size a block header may claim.
const maxBlockSize = 1 << 30

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	if zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1)); err != nil {
		panic(err)
	}
	if zstdDecoder, err = zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(runtime.GOMAXPROCS(0)),
		zstd.WithDecoderMaxMemory(maxBlockSize)); err != nil {
		panic(err)
	}
}

// ParseCodec maps a configured codec name to its Codec.
func ParseCodec(name string) (Codec, error) {
	switch name {
	case config.CodecNone, "":
		return CodecNone, nil
	case config.CodecLZ4:
		return CodecLZ4, nil
	case config.CodecZstd:
		return CodecZstd, nil
	}
	return 0, moerr.NewInvalidInputNoCtx("unknown block codec %s", name)
}

func (c Codec) String() string {
	switch c {
	case CodecNone:
		return config.CodecNone
	case CodecLZ4:
		return config.CodecLZ4
	case CodecZstd:
		return config.CodecZstd
	}
	return "unknown"
}

func EncodeBlock(b *Block, codec Codec) ([]byte, error) {
	if len(b.Keys) != len(b.Envelopes) {
		return nil, moerr.NewInvalidInputNoCtx("block of %d keys and %d states", len(b.Keys), len(b.Envelopes))
	}
	var raw bytes.Buffer
	aggexec.WriteUvarint(&raw, uint64(len(b.Keys)))
	for i, key := range b.Keys {
		env, err := aggexec.MarshalStateEnvelope(b.Envelopes[i])
		if err != nil {
			return nil, err
		}
		aggexec.WriteUvarint(&raw, uint64(len(key)))
		raw.Write(key)
		aggexec.WriteUvarint(&raw, uint64(len(env)))
		raw.Write(env)
	}

	var out bytes.Buffer
	out.WriteByte(byte(codec))
	aggexec.WriteUvarint(&out, uint64(raw.Len()))
	switch codec {
	case CodecNone:
		out.Write(raw.Bytes())
	case CodecLZ4:
		w := lz4.NewWriter(&out)
		if _, err := w.Write(raw.Bytes()); err != nil {
			return nil, moerr.ConvertGoError(moerr.Context(), err)
		}
		if err := w.Close(); err != nil {
			return nil, moerr.ConvertGoError(moerr.Context(), err)
		}
	case CodecZstd:
		return zstdEncoder.EncodeAll(raw.Bytes(), out.Bytes()), nil
	default:
		return nil, moerr.NewInvalidInputNoCtx("unknown block codec %d", codec)
	}
	return out.Bytes(), nil
}

func DecodeBlock(data []byte) (*Block, error) {
	if len(data) == 0 {
		return nil, moerr.NewInvalidInputNoCtx("empty block")
	}
	codec := Codec(data[0])
	size, n := binary.Uvarint(data[1:])
	if n <= 0 || size > maxBlockSize {
		return nil, moerr.NewInvalidInputNoCtx("bad block header")
	}
	payload := data[1+n:]

	// the header size is only checked after decompression, buffers grow
	// with the data actually decoded
	var raw []byte
	switch codec {
	case CodecNone:
		raw = payload
	case CodecLZ4:
		var buf bytes.Buffer
		r := io.LimitReader(lz4.NewReader(bytes.NewReader(payload)), int64(size)+1)
		if _, err := io.Copy(&buf, r); err != nil {
			return nil, moerr.NewInvalidInputNoCtx("lz4 block: %v", err)
		}
		raw = buf.Bytes()
	case CodecZstd:
		var err error
		if raw, err = zstdDecoder.DecodeAll(payload, nil); err != nil {
			return nil, moerr.NewInvalidInputNoCtx("zstd block: %v", err)
		}
	default:
		return nil, moerr.NewInvalidInputNoCtx("unknown block codec %d", codec)
	}
	if uint64(len(raw)) != size {
		return nil, moerr.NewInvalidInputNoCtx("block of %d bytes, header says %d", len(raw), size)
	}
	return decodeRows(raw)
}

func decodeRows(raw []byte) (*Block, error) {
	r := bytes.NewReader(raw)
	next := func() ([]byte, error) {
		size, err := binary.ReadUvarint(r)
		if err != nil || size > uint64(r.Len()) {
			return nil, moerr.NewInvalidInputNoCtx("truncated block")
		}
		buf := make([]byte, size)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, moerr.NewInvalidInputNoCtx("truncated block: %v", err)
		}
		return buf, nil
	}
	rows, err := binary.ReadUvarint(r)
	if err != nil || rows > uint64(r.Len()) {
		return nil, moerr.NewInvalidInputNoCtx("truncated block")
	}
	b := &Block{
		Keys:      make([][]byte, 0, rows),
		Envelopes: make([]*aggexec.StateEnvelope, 0, rows),
	}
	for i := uint64(0); i < rows; i++ {
		key, err := next()
		if err != nil {
			return nil, err
		}
		data, err := next()
		if err != nil {
			return nil, err
		}
		env, err := aggexec.UnmarshalStateEnvelope(data)
		if err != nil {
			return nil, err
		}
		b.Keys = append(b.Keys, key)
		b.Envelopes = append(b.Envelopes, env)
	}
	if r.Len() != 0 {
		return nil, moerr.NewInvalidInputNoCtx("%d trailing bytes in block", r.Len())
	}
	return b, nil
}
