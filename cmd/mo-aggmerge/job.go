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

package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/matrixorigin/aggmerge/pkg/common/concurrent"
	"github.com/matrixorigin/aggmerge/pkg/common/moerr"
	"github.com/matrixorigin/aggmerge/pkg/config"
	"github.com/matrixorigin/aggmerge/pkg/container/types"
	"github.com/matrixorigin/aggmerge/pkg/container/vector"
	"github.com/matrixorigin/aggmerge/pkg/sql/colexec/aggexec"
	"github.com/matrixorigin/aggmerge/pkg/sql/colexec/dispatch"
	"github.com/matrixorigin/aggmerge/pkg/sql/colexec/mergegroup"
	"github.com/matrixorigin/aggmerge/pkg/sql/colexec/spill"
	"github.com/matrixorigin/aggmerge/pkg/sql/plan/function/agg"
	"github.com/matrixorigin/aggmerge/pkg/vm/process"
)

// partition keys carry a two byte partition prefix so that the spill
// store can replay one partition at a time
const (
	partitionPrefixSize = 2
	maxPartitions       = 1<<16 - 1
	maxValue            = 1000
)

type result struct {
	key   string
	value string
}

// job aggregates generated rows in two phases. Workers build partial
// states per group and dispatch them. Every partition merges what it
// receives, spilling the blocks that do not fit in memory.
type job struct {
	proc    *process.Process
	store   *spill.Store
	factory *aggexec.Factory

	// state produces the partial states, merge folds them
	state aggexec.AggFunc
	merge aggexec.AggFunc

	seq atomic.Uint64
}

func newJob(proc *process.Process, store *spill.Store, name string, params []float64) (*job, error) {
	f := agg.DefaultFactory()
	args := []types.DataType{types.Uint64Type}
	state, err := f.Get(name+aggexec.StateSuffix, args, params)
	if err != nil {
		return nil, err
	}
	merge, err := f.Get(name+aggexec.MergeSuffix, []types.DataType{state.ResultType()}, params)
	if err != nil {
		return nil, err
	}
	return &job{
		proc:    proc,
		store:   store,
		factory: f,
		state:   state,
		merge:   merge,
	}, nil
}

func (j *job) run(exchange config.ExchangeParameters, workers, groups, rows, memBlocks int, seed int64) ([]result, error) {
	if exchange.Partitions > maxPartitions {
		return nil, moerr.NewInvalidInputNoCtx("%d partitions, at most %d", exchange.Partitions, maxPartitions)
	}
	codec, err := dispatch.ParseCodec(exchange.Codec)
	if err != nil {
		return nil, err
	}
	regs := make([]*dispatch.Register, exchange.Partitions)
	for i := range regs {
		regs[i] = &dispatch.Register{Ctx: j.proc.Ctx, Ch: make(chan []byte, workers)}
	}
	d := dispatch.New(codec, regs)

	ops := make([]*mergegroup.Operator, len(regs))
	g, ctx := errgroup.WithContext(j.proc.Ctx)
	for i := range regs {
		i := i
		g.Go(func() error {
			op, err := j.receive(ctx, uint16(i), regs[i], memBlocks)
			ops[i] = op
			return err
		})
	}
	g.Go(func() error {
		defer d.Close(ctx)
		return concurrent.NewThreadPoolExecutor(workers).Execute(ctx, workers,
			func(ctx context.Context, id int, _, _ int) error {
				r := rand.New(rand.NewSource(seed + int64(id)))
				err := j.produce(ctx, d, r, groups, rows/workers)
				if err != nil && j.proc.Cancelled() {
					// the rows produced so far are merged as partial results
					return nil
				}
				return err
			})
	})
	err = g.Wait()
	defer func() {
		for _, op := range ops {
			if op != nil {
				op.Free()
			}
		}
	}()
	if err != nil {
		return nil, err
	}

	var results []result
	for _, op := range ops {
		keys, vec, err := op.Finalize()
		if err != nil {
			return nil, err
		}
		for i, key := range keys {
			results = append(results, result{
				key:   string(key[partitionPrefixSize:]),
				value: formatValue(vec, i),
			})
		}
		vec.Free()
	}
	sort.Slice(results, func(a, b int) bool { return results[a].key < results[b].key })
	return results, nil
}

// produce aggregates n generated rows into one partial state per group and
// dispatches the states.
func (j *job) produce(ctx context.Context, d *dispatch.Dispatcher, r *rand.Rand, groups, n int) error {
	a := j.proc.Arena
	places := make(map[string]aggexec.Place)
	defer func() {
		for _, place := range places {
			j.state.Destroy(place, a)
		}
	}()

	col := vector.NewVec(types.Uint64Type)
	for i := 0; i < n; i++ {
		if err := vector.AppendFixed(col, uint64(r.Intn(maxValue)), false); err != nil {
			return err
		}
	}
	cols := []*vector.Vector{col}
	for i := 0; i < n; i++ {
		key := "g" + strconv.Itoa(r.Intn(groups))
		place, ok := places[key]
		if !ok {
			var err error
			if place, err = aggexec.AllocState(j.state, a); err != nil {
				return err
			}
			places[key] = place
		}
		if err := j.state.Add(place, cols, i, a); err != nil {
			return err
		}
	}

	b := &dispatch.Block{}
	for key, place := range places {
		env, err := aggexec.NewStateEnvelope(j.state, place, a)
		if err != nil {
			return err
		}
		b.Keys = append(b.Keys, []byte(key))
		b.Envelopes = append(b.Envelopes, env)
	}
	return d.Send(ctx, b)
}

// receive merges the blocks of one partition. The first memBlocks blocks
// get an operator each, the rest go to the spill store and are replayed
// into one more operator at the end of the stream. The operators are
// then merged into the first. A cancelled process ends the stream early
// and what was received is merged as a partial result.
func (j *job) receive(ctx context.Context, partition uint16, reg *dispatch.Register, memBlocks int) (*mergegroup.Operator, error) {
	var (
		ops     []*mergegroup.Operator
		spilled int
		prefix  = binary.BigEndian.AppendUint16(nil, partition)
	)
	free := func() {
		for _, op := range ops {
			op.Free()
		}
	}

loop:
	for {
		var data []byte
		select {
		case <-ctx.Done():
			if !j.proc.Cancelled() {
				free()
				return nil, moerr.NewQueryInterrupted(ctx)
			}
			break loop
		case data = <-reg.Ch:
		}
		if data == nil {
			break loop
		}
		b, err := dispatch.DecodeBlock(data)
		if err != nil {
			free()
			return nil, err
		}
		for i, key := range b.Keys {
			b.Keys[i] = append(append(make([]byte, 0, len(prefix)+len(key)), prefix...), key...)
		}
		if len(ops) >= memBlocks && len(ops) > 0 {
			n := uint64(b.Length())
			if _, err := j.store.PutBlock(b, j.seq.Add(n)-n); err != nil {
				free()
				return nil, err
			}
			spilled++
			continue
		}
		_, col, err := b.StateColumn(j.factory)
		if err != nil {
			free()
			return nil, err
		}
		op := mergegroup.New(j.proc, j.merge)
		ops = append(ops, op)
		if err := op.Fill(b.Keys, col); err != nil {
			free()
			return nil, err
		}
	}

	if spilled > 0 {
		op := mergegroup.New(j.proc, j.merge)
		ops = append(ops, op)
		upper := binary.BigEndian.AppendUint16(nil, partition+1)
		rows, err := j.store.Replay(prefix, upper, j.factory, op)
		if err != nil {
			free()
			return nil, err
		}
		j.proc.Debug("spilled blocks replayed",
			zap.Uint16("partition", partition),
			zap.Int("blocks", spilled),
			zap.Int("states", rows))
	}
	if len(ops) == 0 {
		return mergegroup.New(j.proc, j.merge), nil
	}

	res, err := ops[0].MergeFrom(ops[1:]...)
	if err != nil {
		free()
		return nil, err
	}
	j.proc.Debug("partition merged",
		zap.Uint16("partition", partition),
		zap.Int("groups", ops[0].Len()),
		zap.Int("merged", res.Merged),
		zap.Bool("cancelled", res.Cancelled))
	return ops[0], nil
}

func formatValue(vec *vector.Vector, i int) string {
	if vec.IsNull(i) {
		return "NULL"
	}
	switch vec.GetType().Oid() {
	case types.T_int64:
		return strconv.FormatInt(vector.GetFixedAt[int64](vec, i), 10)
	case types.T_uint64:
		return strconv.FormatUint(vector.GetFixedAt[uint64](vec, i), 10)
	case types.T_float64:
		return strconv.FormatFloat(vector.GetFixedAt[float64](vec, i), 'g', -1, 64)
	}
	return fmt.Sprintf("%x", vec.GetBytesAt(i))
}
