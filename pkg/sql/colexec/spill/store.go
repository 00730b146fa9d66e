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
	"bytes"
	"encoding/binary"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"go.uber.org/zap"

	"github.com/matrixorigin/aggmerge/pkg/common/moerr"
	"github.com/matrixorigin/aggmerge/pkg/config"
	"github.com/matrixorigin/aggmerge/pkg/logutil"
	"github.com/matrixorigin/aggmerge/pkg/sql/colexec/aggexec"
	"github.com/matrixorigin/aggmerge/pkg/sql/colexec/dispatch"
	"github.com/matrixorigin/aggmerge/pkg/sql/colexec/mergegroup"
)

/*
	a spilled state is stored under
		escaped group key | 0x00 0x01 | big endian seq
	where escaping turns every 0x00 of the key into 0x00 0xff, so stored
	keys sort by group key first and by seq within a group.
*/

const seqSize = 8

// replayBatchRows is the most states filled into an operator at once.
const replayBatchRows = 8192

// Store keeps partial states that did not fit in memory until they are
// merged.
type Store struct {
	db *pebble.DB
}

func Open(params config.SpillParameters) (*Store, error) {
	opts := &pebble.Options{}
	dir := params.Dir
	if params.InMemory {
		opts.FS = vfs.NewMem()
		dir = ""
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, moerr.NewInternalErrorNoCtx("open spill store %s: %v", dir, err)
	}
	logutil.Debug("spill store open", zap.String("dir", dir), zap.Bool("in-memory", params.InMemory))
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Put stores the seq-th state of the group key.
func (s *Store) Put(key []byte, seq uint64, env *aggexec.StateEnvelope) error {
	data, err := aggexec.MarshalStateEnvelope(env)
	if err != nil {
		return err
	}
	if err := s.db.Set(encodeKey(key, seq), data, pebble.Sync); err != nil {
		return moerr.ConvertGoError(moerr.Context(), err)
	}
	return nil
}

// PutBlock stores the states of b, atomically, under consecutive seqs
// starting at seq. It returns the seq following the last one used.
func (s *Store) PutBlock(b *dispatch.Block, seq uint64) (uint64, error) {
	bat := s.db.NewBatch()
	defer bat.Close()
	for i, key := range b.Keys {
		data, err := aggexec.MarshalStateEnvelope(b.Envelopes[i])
		if err != nil {
			return seq, err
		}
		if err := bat.Set(encodeKey(key, seq+uint64(i)), data, nil); err != nil {
			return seq, moerr.ConvertGoError(moerr.Context(), err)
		}
	}
	if err := bat.Commit(pebble.Sync); err != nil {
		return seq, moerr.ConvertGoError(moerr.Context(), err)
	}
	return seq + uint64(b.Length()), nil
}

// Scan calls fn, in group key then seq order, for every state of a group
// in [lower, upper). A nil upper has no bound.
func (s *Store) Scan(lower, upper []byte, fn func(key []byte, seq uint64, env *aggexec.StateEnvelope) error) error {
	opts := &pebble.IterOptions{LowerBound: escape(nil, lower)}
	if upper != nil {
		opts.UpperBound = escape(nil, upper)
	}
	iter := s.db.NewIter(opts)
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		key, seq, err := decodeKey(iter.Key())
		if err != nil {
			return err
		}
		env, err := aggexec.UnmarshalStateEnvelope(iter.Value())
		if err != nil {
			return err
		}
		if err := fn(key, seq, env); err != nil {
			return err
		}
	}
	return moerr.ConvertGoError(moerr.Context(), iter.Error())
}

// Delete drops the states of the groups in [lower, upper).
func (s *Store) Delete(lower, upper []byte) error {
	if err := s.db.DeleteRange(escape(nil, lower), escape(nil, upper), pebble.Sync); err != nil {
		return moerr.ConvertGoError(moerr.Context(), err)
	}
	return nil
}

// Replay fills op with the states of the groups in [lower, upper). The
// states of one fill must share their function and version, a change of
// either starts a new fill.
func (s *Store) Replay(lower, upper []byte, f *aggexec.Factory, op *mergegroup.Operator) (int, error) {
	var (
		rows int
		b    dispatch.Block
	)
	flush := func() error {
		if b.Length() == 0 {
			return nil
		}
		_, col, err := b.StateColumn(f)
		if err != nil {
			return err
		}
		if err := op.Fill(b.Keys, col); err != nil {
			return err
		}
		rows += b.Length()
		b = dispatch.Block{}
		return nil
	}
	err := s.Scan(lower, upper, func(key []byte, _ uint64, env *aggexec.StateEnvelope) error {
		if b.Length() == replayBatchRows || (b.Length() > 0 && !b.Envelopes[0].SameStateType(env)) {
			if err := flush(); err != nil {
				return err
			}
		}
		b.Keys = append(b.Keys, key)
		b.Envelopes = append(b.Envelopes, env)
		return nil
	})
	if err == nil {
		err = flush()
	}
	return rows, err
}

func escape(dst, key []byte) []byte {
	for _, c := range key {
		if c == 0 {
			dst = append(dst, 0, 0xff)
			continue
		}
		dst = append(dst, c)
	}
	return dst
}

func encodeKey(key []byte, seq uint64) []byte {
	buf := escape(make([]byte, 0, len(key)+2+seqSize), key)
	buf = append(buf, 0, 1)
	return binary.BigEndian.AppendUint64(buf, seq)
}

func decodeKey(data []byte) ([]byte, uint64, error) {
	if len(data) < 2+seqSize {
		return nil, 0, moerr.NewInvalidStateNoCtx("spill key of %d bytes", len(data))
	}
	seq := binary.BigEndian.Uint64(data[len(data)-seqSize:])
	esc := data[:len(data)-seqSize]
	if !bytes.HasSuffix(esc, []byte{0, 1}) {
		return nil, 0, moerr.NewInvalidStateNoCtx("spill key without terminator")
	}
	esc = esc[:len(esc)-2]
	key := make([]byte, 0, len(esc))
	for i := 0; i < len(esc); i++ {
		key = append(key, esc[i])
		if esc[i] == 0 {
			// skip the 0xff of an escaped zero
			i++
		}
	}
	return key, seq, nil
}
