// Copyright 2021 Matrix Origin
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

package concurrent

import (
	"context"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/matrixorigin/aggmerge/pkg/common/moerr"
)

// ThreadPoolExecutor splits a range of items into one chunk per thread and
// runs the chunks concurrently, either on fresh goroutines or on a shared pool.
type ThreadPoolExecutor struct {
	nthreads int
	pool     ThreadPool
}

func NewThreadPoolExecutor(nthreads int) ThreadPoolExecutor {
	if nthreads == 0 {
		nthreads = runtime.NumCPU()
	}
	return ThreadPoolExecutor{nthreads: nthreads}
}

// NewPoolExecutor runs the chunks as tasks of pool, one chunk per pool worker.
func NewPoolExecutor(pool ThreadPool) ThreadPoolExecutor {
	nthreads := pool.Cap()
	if nthreads <= 0 {
		nthreads = runtime.NumCPU()
	}
	return ThreadPoolExecutor{nthreads: nthreads, pool: pool}
}

func (e ThreadPoolExecutor) Execute(
	ctx context.Context,
	nitems int,
	fn func(ctx context.Context, threadID int, start, end int) error) (err error) {

	if e.pool != nil {
		return e.executeOnPool(ctx, nitems, fn)
	}

	g, ctx := errgroup.WithContext(ctx)
	e.split(nitems, func(threadID, start, end int) {
		g.Go(func() error {
			return fn(ctx, threadID, start, end)
		})
	})
	return g.Wait()
}

func (e ThreadPoolExecutor) executeOnPool(
	ctx context.Context,
	nitems int,
	fn func(ctx context.Context, threadID int, start, end int) error) error {

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	setErr := func(err error) {
		once.Do(func() {
			firstErr = err
			cancel()
		})
	}

	e.split(nitems, func(threadID, start, end int) {
		wg.Add(1)
		task := func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					setErr(moerr.ConvertPanicError(ctx, r))
				}
			}()
			if err := fn(ctx, threadID, start, end); err != nil {
				setErr(err)
			}
		}
		if err := e.pool.Submit(task); err != nil {
			wg.Done()
			setErr(moerr.ConvertGoError(ctx, err))
		}
	})
	wg.Wait()
	return firstErr
}

func (e ThreadPoolExecutor) split(nitems int, run func(threadID, start, end int)) {
	q := nitems / e.nthreads
	r := nitems % e.nthreads

	start := 0
	for i := 0; i < e.nthreads; i++ {
		size := q
		if i < r {
			size++
		}
		if size == 0 {
			break
		}
		end := start + size
		run(i, start, end)
		start = end
	}
}
