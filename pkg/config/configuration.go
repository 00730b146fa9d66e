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

package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"sigs.k8s.io/yaml"

	"github.com/matrixorigin/aggmerge/pkg/common/moerr"
	"github.com/matrixorigin/aggmerge/pkg/logutil"
)

type ConfigurationKeyType int

const (
	ParameterUnitKey ConfigurationKeyType = 1
)

const (
	CodecNone = "none"
	CodecLZ4  = "lz4"
	CodecZstd = "zstd"

	defaultArenaPageSize     = 64 << 10
	defaultParallelThreshold = 4
	defaultPartitions        = 4
)

// MergeParameters of the aggregate state merge
type MergeParameters struct {
	//default is 0, the number of cpus. the size of the pool running parallel merges.
	PoolSize int `toml:"poolSize" json:"poolSize"`

	//default is 4. below this number of partial states a merge is a sequential fold.
	ParallelThreshold int `toml:"parallelThreshold" json:"parallelThreshold"`

	//default is 0, unlimited. the bytes a query arena may hand out.
	ArenaLimit int64 `toml:"arenaLimit" json:"arenaLimit"`

	//default is 64KB. the size of one arena page.
	ArenaPageSize int `toml:"arenaPageSize" json:"arenaPageSize"`
}

// ExchangeParameters of the partial state exchange between workers
type ExchangeParameters struct {
	//default is 'none'. one of none, lz4, zstd.
	Codec string `toml:"codec" json:"codec"`

	//default is 4. the number of merge partitions.
	Partitions int `toml:"partitions" json:"partitions"`
}

// SpillParameters of the partial state spill store
type SpillParameters struct {
	//default is ''. the directory of the spill store, required unless InMemory.
	Dir string `toml:"dir" json:"dir"`

	//default is false. keep the spill store in memory.
	InMemory bool `toml:"inMemory" json:"inMemory"`
}

// Config of the aggregate merge service
type Config struct {
	Log logutil.LogConfig `toml:"log" json:"log"`

	Merge MergeParameters `toml:"merge" json:"merge"`

	Exchange ExchangeParameters `toml:"exchange" json:"exchange"`

	Spill SpillParameters `toml:"spill" json:"spill"`
}

// Load reads the config file, toml or yaml by its extension, and validates it.
func Load(ctx context.Context, path string) (*Config, error) {
	cfg := &Config{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, moerr.NewBadConfig(ctx, "decode %s: %v", path, err)
		}
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, moerr.ConvertGoError(ctx, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, moerr.NewBadConfig(ctx, "decode %s: %v", path, err)
		}
	default:
		return nil, moerr.NewBadConfig(ctx, "unsupported config file %s", path)
	}
	if err := cfg.Validate(ctx); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate fills the defaults and rejects values the service cannot run with.
func (c *Config) Validate(ctx context.Context) error {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}

	if c.Merge.PoolSize < 0 {
		return moerr.NewBadConfig(ctx, "merge.poolSize %d", c.Merge.PoolSize)
	}
	if c.Merge.ParallelThreshold == 0 {
		c.Merge.ParallelThreshold = defaultParallelThreshold
	}
	if c.Merge.ParallelThreshold < 2 {
		return moerr.NewBadConfig(ctx, "merge.parallelThreshold %d, must be at least 2", c.Merge.ParallelThreshold)
	}
	if c.Merge.ArenaLimit < 0 {
		return moerr.NewBadConfig(ctx, "merge.arenaLimit %d", c.Merge.ArenaLimit)
	}
	if c.Merge.ArenaPageSize == 0 {
		c.Merge.ArenaPageSize = defaultArenaPageSize
	}
	if c.Merge.ArenaPageSize < 0 {
		return moerr.NewBadConfig(ctx, "merge.arenaPageSize %d", c.Merge.ArenaPageSize)
	}

	switch c.Exchange.Codec {
	case "":
		c.Exchange.Codec = CodecNone
	case CodecNone, CodecLZ4, CodecZstd:
	default:
		return moerr.NewBadConfig(ctx, "exchange.codec %s", c.Exchange.Codec)
	}
	if c.Exchange.Partitions == 0 {
		c.Exchange.Partitions = defaultPartitions
	}
	if c.Exchange.Partitions < 0 {
		return moerr.NewBadConfig(ctx, "exchange.partitions %d", c.Exchange.Partitions)
	}

	if !c.Spill.InMemory && c.Spill.Dir == "" {
		return moerr.NewBadConfig(ctx, "spill.dir is required unless spill.inMemory is set")
	}
	return nil
}

// WithConfig attaches the configuration to the context.
func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, ParameterUnitKey, cfg)
}

// GetConfig gets the configuration from the context.
func GetConfig(ctx context.Context) *Config {
	cfg, _ := ctx.Value(ParameterUnitKey).(*Config)
	if cfg == nil {
		panic("parameter unit is invalid")
	}
	return cfg
}
