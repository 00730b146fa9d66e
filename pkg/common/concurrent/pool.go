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

package concurrent

import (
	"runtime"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/matrixorigin/aggmerge/pkg/common/moerr"
	"github.com/matrixorigin/aggmerge/pkg/logutil"
)

// ThreadPool runs submitted tasks on a bounded set of workers.
type ThreadPool interface {
	// Submit queues task, blocking while every worker is busy.
	Submit(task func()) error
	// Cap is the number of workers.
	Cap() int
}

// AntsPool is the ThreadPool every query of a service shares.
type AntsPool struct {
	pool *ants.Pool
}

// NewAntsPool returns a pool of size workers, the number of cpus when size is zero.
func NewAntsPool(size int) (*AntsPool, error) {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	pool, err := ants.NewPool(size,
		ants.WithPanicHandler(func(v interface{}) {
			logutil.Error("thread pool task panicked", zap.Error(moerr.ConvertPanicError(moerr.Context(), v)))
		}))
	if err != nil {
		return nil, moerr.ConvertGoError(moerr.Context(), err)
	}
	return &AntsPool{pool: pool}, nil
}

func (p *AntsPool) Submit(task func()) error {
	return p.pool.Submit(task)
}

func (p *AntsPool) Cap() int {
	return p.pool.Cap()
}

// Running returns the number of busy workers.
func (p *AntsPool) Running() int {
	return p.pool.Running()
}

func (p *AntsPool) Release() {
	p.pool.Release()
}
