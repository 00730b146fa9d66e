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
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/matrixorigin/aggmerge/pkg/common/concurrent"
	"github.com/matrixorigin/aggmerge/pkg/common/moerr"
	"github.com/matrixorigin/aggmerge/pkg/config"
	"github.com/matrixorigin/aggmerge/pkg/logutil"
	"github.com/matrixorigin/aggmerge/pkg/sql/colexec/spill"
	"github.com/matrixorigin/aggmerge/pkg/vm/process"
)

var (
	configFile = flag.String("cfg", "./etc/aggmerge.toml", "toml or yaml configuration of the merge")
	funcName   = flag.String("func", "sum", "aggregate function: sum, count, avg, quantile, uniq or groupBitmap")
	params     = flag.String("params", "", "comma separated parameters of the function, as quantile's level")
	workers    = flag.Int("workers", 4, "number of workers producing partial states")
	groups     = flag.Int("groups", 16, "number of groups")
	rows       = flag.Int("rows", 100000, "rows aggregated by all workers together")
	memBlocks  = flag.Int("mem-blocks", 2, "blocks a partition merges in memory, later blocks are spilled")
	seed       = flag.Int64("seed", 1, "seed of the generated rows")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(context.Background(), *configFile)
	if err != nil {
		panic(fmt.Sprintf("failed to parse config from %s, error: %s", *configFile, err.Error()))
	}
	logutil.SetupMOLogger(&cfg.Log)

	if err := run(cfg); err != nil {
		logutil.Error("aggregate merge failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	pool, err := concurrent.NewAntsPool(cfg.Merge.PoolSize)
	if err != nil {
		return err
	}
	defer pool.Release()

	ctx := config.WithConfig(context.Background(), cfg)
	proc := process.New(ctx, pool, cfg.Merge)
	defer proc.Free()
	go cancelOnSignal(proc)

	store, err := spill.Open(cfg.Spill)
	if err != nil {
		return err
	}
	defer store.Close()

	fnParams, err := parseParams(*params)
	if err != nil {
		return err
	}
	job, err := newJob(proc, store, *funcName, fnParams)
	if err != nil {
		return err
	}
	proc.Info("aggregate merge start",
		zap.String("function", *funcName),
		zap.Int("workers", *workers),
		zap.Int("partitions", cfg.Exchange.Partitions),
		zap.String("codec", cfg.Exchange.Codec))

	results, err := job.run(cfg.Exchange, *workers, *groups, *rows, *memBlocks, *seed)
	if err != nil {
		return err
	}
	if proc.Cancelled() {
		fmt.Println("cancelled, results are partial")
	}
	for _, r := range results {
		fmt.Printf("%s\t%s\n", r.key, r.value)
	}
	return nil
}

func parseParams(s string) ([]float64, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, moerr.NewInvalidInputNoCtx("function parameter %s", p)
		}
		out[i] = v
	}
	return out, nil
}

func cancelOnSignal(proc *process.Process) {
	sigchan := make(chan os.Signal, 1)
	signal.Notify(sigchan, syscall.SIGTERM, syscall.SIGINT)
	select {
	case <-sigchan:
		proc.Cancel()
	case <-proc.Ctx.Done():
	}
	signal.Stop(sigchan)
}
