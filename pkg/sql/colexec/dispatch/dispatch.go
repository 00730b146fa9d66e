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

	"github.com/dchest/siphash"
	"go.uber.org/zap"

	"github.com/matrixorigin/aggmerge/pkg/common/moerr"
	"github.com/matrixorigin/aggmerge/pkg/container/vector"
	"github.com/matrixorigin/aggmerge/pkg/logutil"
	"github.com/matrixorigin/aggmerge/pkg/sql/colexec/aggexec"
)

// partition keys are fixed so every node routes a group the same way
const (
	k0 = 0x6167676d65726765
	k1 = 0x7061727469746e6e
)

// Partition returns the partition, in [0, n), of a group key.
func Partition(key []byte, n int) int {
	return int(siphash.Hash(k0, k1, key) % uint64(n))
}

// Scatter splits b into n blocks by the partition of each key. Blocks of
// partitions without rows are empty.
func Scatter(b *Block, n int) []*Block {
	out := make([]*Block, n)
	for i := range out {
		out[i] = &Block{}
	}
	for i, key := range b.Keys {
		p := out[Partition(key, n)]
		p.Keys = append(p.Keys, key)
		p.Envelopes = append(p.Envelopes, b.Envelopes[i])
	}
	return out
}

// StateColumn rebuilds the states of b as one column. Every envelope must
// hold a state of the same function written with the same version.
func (b *Block) StateColumn(f *aggexec.Factory) (*aggexec.StateType, *vector.Vector, error) {
	if b.Length() == 0 {
		return nil, nil, moerr.NewInvalidInputNoCtx("empty block")
	}
	first := b.Envelopes[0]
	st, err := first.StateType(f)
	if err != nil {
		return nil, nil, err
	}
	col := vector.NewStateVec(st, false)
	for _, env := range b.Envelopes {
		if !first.SameStateType(env) {
			return nil, nil, moerr.NewInvalidInputNoCtx("block mixes states of %s and %s", first.Name, env.Name)
		}
		if err := vector.AppendBytes(col, env.Payload, false); err != nil {
			return nil, nil, err
		}
	}
	return st, col, nil
}

func New(codec Codec, regs []*Register) *Dispatcher {
	return &Dispatcher{codec: codec, regs: regs}
}

func String(d *Dispatcher, buf *bytes.Buffer) {
	buf.WriteString("dispatch(")
	buf.WriteString(d.codec.String())
	buf.WriteString(")")
}

// Send scatters b over the registers. Registers whose context is done
// are skipped. A done ctx interrupts the send.
func (d *Dispatcher) Send(ctx context.Context, b *Block) error {
	for i, part := range Scatter(b, len(d.regs)) {
		if part.Length() == 0 {
			continue
		}
		data, err := EncodeBlock(part, d.codec)
		if err != nil {
			return err
		}
		reg := d.regs[i]
		select {
		case <-ctx.Done():
			return moerr.NewQueryInterrupted(ctx)
		case <-reg.Ctx.Done():
			logutil.GetLogger(ctx).Warn("dispatch receiver gone", zap.Int("partition", i))
		case reg.Ch <- data:
		}
	}
	return nil
}

// Close ends the stream of every register.
func (d *Dispatcher) Close(ctx context.Context) {
	for _, reg := range d.regs {
		select {
		case <-ctx.Done():
			return
		case <-reg.Ctx.Done():
		case reg.Ch <- nil:
		}
	}
}
