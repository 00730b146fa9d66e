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
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/matrixorigin/aggmerge/pkg/common/arena"
	"github.com/matrixorigin/aggmerge/pkg/common/concurrent"
	"github.com/matrixorigin/aggmerge/pkg/common/moerr"
	"github.com/matrixorigin/aggmerge/pkg/logutil"
)

// DefaultParallelThreshold is the fewest sources merged on the pool.
const DefaultParallelThreshold = 4

var defaultThreshold = DefaultParallelThreshold

// MergeResult reports how a merge ended. Cancellation is not an error:
// every state stays valid and destroyable, dst holds a partial merge.
type MergeResult struct {
	Cancelled bool
	// Merged is the number of completed merge steps. A complete merge of
	// n sources takes n steps.
	Merged int
}

// Merger merges many states of one group into one.
type Merger struct {
	Pool concurrent.ThreadPool
	// Threshold is the fewest sources merged in parallel.
	Threshold int
}

// MergeStates merges srcs into dst with the default threshold.
func MergeStates(
	ctx context.Context,
	fn AggFunc, dst Place, srcs []Place,
	pool concurrent.ThreadPool, cancel *atomic.Bool, a *arena.Arena) (MergeResult, error) {
	m := Merger{Pool: pool, Threshold: defaultThreshold}
	return m.MergeStates(ctx, fn, dst, srcs, cancel, a)
}

// MergeStates merges srcs into dst. Functions that cannot parallelize
// their merge, and small inputs, are folded sequentially. Otherwise
// the sources are reduced pairwise on the pool, level by level, and the
// remaining one is merged into dst with the function's parallel merge.
// Sources may absorb other sources on the way. cancel is polled before
// every merge step.
func (m Merger) MergeStates(
	ctx context.Context,
	fn AggFunc, dst Place, srcs []Place,
	cancel *atomic.Bool, a *arena.Arena) (MergeResult, error) {
	if cancel == nil {
		cancel = new(atomic.Bool)
	}
	threshold := m.Threshold
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	if m.Pool == nil || !fn.IsAbleToParallelizeMerge() || len(srcs) < threshold {
		return mergeSequential(ctx, fn, dst, srcs, cancel, a)
	}
	return m.mergeParallel(ctx, fn, dst, srcs, cancel, a)
}

func mergeSequential(
	ctx context.Context,
	fn AggFunc, dst Place, srcs []Place,
	cancel *atomic.Bool, a *arena.Arena) (MergeResult, error) {
	var res MergeResult
	for _, src := range srcs {
		if cancel.Load() {
			res.Cancelled = true
			logCancelled(ctx, fn, res, len(srcs))
			return res, nil
		}
		if err := fn.Merge(dst, src, a); err != nil {
			return res, err
		}
		res.Merged++
	}
	return res, nil
}

func (m Merger) mergeParallel(
	ctx context.Context,
	fn AggFunc, dst Place, srcs []Place,
	cancel *atomic.Bool, a *arena.Arena) (MergeResult, error) {
	var res MergeResult
	start := time.Now()
	logger := logutil.GetLogger(ctx)
	logger.Debug("parallel merge start",
		zap.String("function", FullName(fn)),
		zap.Int("states", len(srcs)),
		zap.Int("pool", m.Pool.Cap()))

	places := make([]Place, 0, len(srcs)+1)
	places = append(places, dst)
	places = append(places, srcs...)
	if err := fn.ParallelizeMergePrepare(places, m.Pool, cancel, a); err != nil {
		return res, err
	}

	work := append([]Place(nil), srcs...)
	var merged atomic.Int64
	for stride := 1; stride < len(work); stride *= 2 {
		if err := m.mergeLevel(ctx, fn, work, stride, cancel, &merged, a); err != nil {
			res.Merged = int(merged.Load())
			return res, err
		}
		if cancel.Load() {
			res.Merged = int(merged.Load())
			res.Cancelled = true
			logCancelled(ctx, fn, res, len(srcs))
			return res, nil
		}
	}

	res.Merged = int(merged.Load())
	if cancel.Load() {
		res.Cancelled = true
		logCancelled(ctx, fn, res, len(srcs))
		return res, nil
	}
	// the caller's goroutine drives the last step so the function may
	// spread it over the pool
	if err := fn.MergeParallel(dst, work[0], m.Pool, cancel, a); err != nil {
		return res, err
	}
	if cancel.Load() {
		res.Cancelled = true
		logCancelled(ctx, fn, res, len(srcs))
		return res, nil
	}
	res.Merged++
	logger.Debug("parallel merge finish",
		zap.String("function", FullName(fn)),
		zap.Int("states", len(srcs)),
		logutil.Elapsed(start))
	return res, nil
}

// mergeLevel merges work[i+stride] into work[i] for every i that is a
// multiple of 2*stride. Tasks use the plain Merge: a task waiting on the
// pool it runs on could starve it.
func (m Merger) mergeLevel(
	ctx context.Context,
	fn AggFunc, work []Place, stride int,
	cancel *atomic.Bool, merged *atomic.Int64, a *arena.Arena) error {
	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	setErr := func(err error) {
		once.Do(func() { firstErr = err })
	}

	for i := 0; i+stride < len(work); i += 2 * stride {
		if cancel.Load() {
			break
		}
		lhs, rhs := work[i], work[i+stride]
		wg.Add(1)
		task := func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					setErr(moerr.ConvertPanicError(ctx, r))
				}
			}()
			if cancel.Load() {
				return
			}
			if err := fn.Merge(lhs, rhs, a); err != nil {
				setErr(err)
				return
			}
			merged.Add(1)
		}
		if err := m.Pool.Submit(task); err != nil {
			wg.Done()
			setErr(moerr.ConvertGoError(ctx, err))
			break
		}
	}
	wg.Wait()
	return firstErr
}

func logCancelled(ctx context.Context, fn AggFunc, res MergeResult, states int) {
	logutil.GetLogger(ctx).Info("aggregate state merge cancelled",
		zap.String("function", FullName(fn)),
		zap.Int("states", states),
		zap.Int("merged", res.Merged))
}
