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
	"io"
	"math"

	"github.com/matrixorigin/aggmerge/pkg/common/arena"
	"github.com/matrixorigin/aggmerge/pkg/common/moerr"
)

// SerializeState writes place in the wire format: the version as an
// unsigned varint if fn is versioned, followed by the function's payload.
// An invalid version of a versioned function means its default version.
func SerializeState(fn AggFunc, place Place, w *bytes.Buffer, version StateVersion, a *arena.Arena) error {
	if !fn.IsVersioned() {
		return fn.Serialize(place, w, NoVersion, a)
	}
	if !version.Valid {
		version = Version(fn.DefaultVersion())
	}
	if version.Value > fn.DefaultVersion() {
		return moerr.NewInvalidArgNoCtx(FullName(fn)+" state version", version.Value)
	}
	WriteUvarint(w, version.Value)
	return fn.Serialize(place, w, version, a)
}

// DeserializeState reads a state written by SerializeState into place,
// which must have been created. When expected is valid the version on the
// wire must equal it.
func DeserializeState(fn AggFunc, place Place, r ReadBuffer, expected StateVersion, a *arena.Arena) error {
	if !fn.IsVersioned() {
		return fn.Deserialize(place, r, NoVersion, a)
	}
	v, err := ReadUvarint(fn, r)
	if err != nil {
		return err
	}
	if v > fn.DefaultVersion() {
		return moerr.NewCorruptedAggStateNoCtx(FullName(fn), "unknown state version %d", v)
	}
	if expected.Valid && expected.Value != v {
		return moerr.NewCorruptedAggStateNoCtx(FullName(fn), "state version %d, expected %d", v, expected.Value)
	}
	return fn.Deserialize(place, r, Version(v), a)
}

// SerializeToBytes is SerializeState into a fresh slice.
func SerializeToBytes(fn AggFunc, place Place, version StateVersion, a *arena.Arena) ([]byte, error) {
	var buf bytes.Buffer
	if err := SerializeState(fn, place, &buf, version, a); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DeserializeFromBytes is DeserializeState from data, which must be
// consumed completely.
func DeserializeFromBytes(fn AggFunc, place Place, data []byte, expected StateVersion, a *arena.Arena) error {
	r := bytes.NewReader(data)
	if err := DeserializeState(fn, place, r, expected, a); err != nil {
		return err
	}
	if r.Len() != 0 {
		return moerr.NewCorruptedAggStateNoCtx(FullName(fn), "%d trailing bytes", r.Len())
	}
	return nil
}

func WriteUvarint(w *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	w.Write(tmp[:n])
}

func WriteVarint(w *bytes.Buffer, v int64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutVarint(tmp[:], v)
	w.Write(tmp[:n])
}

func WriteUint64(w *bytes.Buffer, v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	w.Write(tmp[:])
}

func WriteFloat64(w *bytes.Buffer, v float64) {
	WriteUint64(w, math.Float64bits(v))
}

func ReadUvarint(fn AggFunc, r ReadBuffer) (uint64, error) {
	v, err := binary.ReadUvarint(r)
	if err != nil {
		return 0, CorruptedState(fn, err)
	}
	return v, nil
}

func ReadVarint(fn AggFunc, r ReadBuffer) (int64, error) {
	v, err := binary.ReadVarint(r)
	if err != nil {
		return 0, CorruptedState(fn, err)
	}
	return v, nil
}

func ReadUint64(fn AggFunc, r ReadBuffer) (uint64, error) {
	var tmp [8]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, CorruptedState(fn, err)
	}
	return binary.LittleEndian.Uint64(tmp[:]), nil
}

func ReadFloat64(fn AggFunc, r ReadBuffer) (float64, error) {
	v, err := ReadUint64(fn, r)
	return math.Float64frombits(v), err
}

// ReadBytes reads n bytes, refusing lengths the reader cannot hold.
func ReadBytes(fn AggFunc, r ReadBuffer, n uint64) ([]byte, error) {
	if l, ok := r.(interface{ Len() int }); ok && n > uint64(l.Len()) {
		return nil, moerr.NewCorruptedAggStateNoCtx(FullName(fn), "length %d exceeds remaining %d bytes", n, l.Len())
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, CorruptedState(fn, err)
	}
	return data, nil
}

// CorruptedState wraps a decoding failure of a state of fn.
func CorruptedState(fn AggFunc, err error) error {
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return moerr.NewCorruptedAggStateNoCtx(FullName(fn), "%v", err)
}
