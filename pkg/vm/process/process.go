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

package process

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/matrixorigin/aggmerge/pkg/common/arena"
	"github.com/matrixorigin/aggmerge/pkg/common/concurrent"
	"github.com/matrixorigin/aggmerge/pkg/config"
	"github.com/matrixorigin/aggmerge/pkg/logutil"
	"github.com/matrixorigin/aggmerge/pkg/sql/colexec/aggexec"
)

// New creates the process of a new query. The pool is shared with other
// queries, the arena belongs to this one.
func New(ctx context.Context, pool concurrent.ThreadPool, params config.MergeParameters) *Process {
	proc := &Process{
		Id: uuid.New().String(),
		Lim: Limitation{
			ParallelThreshold: params.ParallelThreshold,
			ArenaLimit:        params.ArenaLimit,
		},
		Arena: arena.New(params.ArenaPageSize, params.ArenaLimit),
		Pool:  pool,
	}
	ctx = logutil.ContextWithFields(ctx, zap.String("query-id", proc.Id))
	proc.Ctx, proc.cancel = context.WithCancel(ctx)
	return proc
}

func (proc *Process) QueryId() string {
	return proc.Id
}

// CancelFlag is polled by merges running for this query.
func (proc *Process) CancelFlag() *atomic.Bool {
	return &proc.cancelled
}

// Cancel stops the merges of this query. They return with the states
// they touched still valid.
func (proc *Process) Cancel() {
	if proc.cancelled.CompareAndSwap(false, true) {
		proc.Info("query cancelled")
	}
	proc.cancel()
}

func (proc *Process) Cancelled() bool {
	return proc.cancelled.Load()
}

// Merger merges states on the pool of the process.
func (proc *Process) Merger() aggexec.Merger {
	return aggexec.Merger{Pool: proc.Pool, Threshold: proc.Lim.ParallelThreshold}
}

// MergeStates merges srcs into dst for this query.
func (proc *Process) MergeStates(fn aggexec.AggFunc, dst aggexec.Place, srcs []aggexec.Place) (aggexec.MergeResult, error) {
	return proc.Merger().MergeStates(proc.Ctx, fn, dst, srcs, &proc.cancelled, proc.Arena)
}

// Free releases the arena. States of the query must have been destroyed.
func (proc *Process) Free() {
	proc.Debug("query free", zap.Int64("arena", proc.Arena.Allocated()))
	proc.cancel()
	proc.Arena.Reset()
}

func (proc *Process) log(level zapcore.Level, msg string, fields ...zap.Field) {
	logger := logutil.GetLogger(proc.Ctx).WithOptions(zap.AddCallerSkip(2))
	if ce := logger.Check(level, msg); ce != nil {
		ce.Write(fields...)
	}
}

func (proc *Process) Info(msg string, fields ...zap.Field) {
	proc.log(zap.InfoLevel, msg, fields...)
}

func (proc *Process) Error(msg string, fields ...zap.Field) {
	proc.log(zap.ErrorLevel, msg, fields...)
}

func (proc *Process) Warn(msg string, fields ...zap.Field) {
	proc.log(zap.WarnLevel, msg, fields...)
}

func (proc *Process) Debug(msg string, fields ...zap.Field) {
	proc.log(zap.DebugLevel, msg, fields...)
}
