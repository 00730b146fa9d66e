// Copyright 2022 Matrix Origin
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

package logutil

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/lni/goutils/leaktest"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/matrixorigin/aggmerge/pkg/common/moerr"
)

func TestLogConfig_getter(t *testing.T) {
	cfg := &LogConfig{
		Level:    "debug",
		Format:   "console",
		Filename: "",
		MaxSize:  0,
		MaxDays:  0,
	}

	require.Equal(t, zapcore.DebugLevel, cfg.getLevel().Level())
	require.Equal(t, 2, len(cfg.getOptions()))
	require.Equal(t, getConsoleSyncer(), cfg.getSyncer())
	require.Equal(t, 1, len(cfg.getSinks()))
	require.Equal(t, zapcore.FatalLevel, cfg.getStacktraceLevel())

	cfg.StacktraceLevel = "warn"
	require.Equal(t, zapcore.WarnLevel, cfg.getStacktraceLevel())

	cfg.Filename = filepath.Join(t.TempDir(), "merge.log")
	require.NotEqual(t, getConsoleSyncer(), cfg.getSyncer())
	require.Equal(t, 512, cfg.MaxSize)
}

func TestSetupMOLogger(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer SetupMOLogger(&LogConfig{Level: "info", Format: "console"})

	for _, format := range []string{"console", "json"} {
		SetupMOLogger(&LogConfig{Level: "debug", Format: format})
		require.True(t, GetGlobalLogger().Core().Enabled(zapcore.DebugLevel))
	}
}

func TestSetupMOLogger_panic(t *testing.T) {
	defer func() {
		err := recover()
		require.Equal(t, moerr.NewInternalError(context.TODO(), "unsupported log format: %s", "yaml"), err)
	}()
	SetupMOLogger(&LogConfig{Level: "debug", Format: "yaml"})
}

func TestSetupMOLogger_panicLevel(t *testing.T) {
	require.Panics(t, func() {
		SetupMOLogger(&LogConfig{Level: "loud", Format: "console"})
	})
}

func TestSetupMOLogger_panicDir(t *testing.T) {
	dir := t.TempDir()
	defer func() {
		require.Equal(t, "log file can't be a directory", recover())
	}()
	SetupMOLogger(&LogConfig{Level: "debug", Format: "console", Filename: dir})
}

func Test_getLoggerEncoder(t *testing.T) {
	cases := []struct {
		format string
		msg    string
		expect *regexp.Regexp
	}{
		{
			format: "console",
			msg:    "console msg",
			expect: regexp.MustCompile(`\d{4}/\d{2}/\d{2} (\d{2}:{0,1}){3}\.\d{6} [\+\-]\d{4}\s+DEBUG\s+console msg`),
		},
		{
			format: "json",
			msg:    "json msg",
			expect: regexp.MustCompile(`\{.*"level":"DEBUG".*"msg":"json msg".*\}`),
		},
	}

	for _, c := range cases {
		t.Run(c.format, func(t *testing.T) {
			enc := getLoggerEncoder(c.format)
			buf, err := enc.EncodeEntry(zapcore.Entry{
				Level:   zapcore.DebugLevel,
				Time:    time.Now(),
				Message: c.msg,
			}, nil)
			require.NoError(t, err)
			require.Regexp(t, c.expect, buf.String())
		})
	}
}

func TestContextFields(t *testing.T) {
	ctx := ContextWithFields(context.Background(), zap.String("query", "q1"))
	ctx = ContextWithFields(ctx, zap.Int("worker", 3))
	fields := ContextFields(ctx)
	require.Len(t, fields, 2)
	require.Equal(t, "query", fields[0].Key)
	require.Equal(t, "worker", fields[1].Key)
	require.Nil(t, ContextFields(context.Background()))
}

func TestGetLoggerWritesContextFields(t *testing.T) {
	var buf bytes.Buffer
	core := zapcore.NewCore(getLoggerEncoder("json"), zapcore.AddSync(&buf), zapcore.DebugLevel)
	prev := GetGlobalLogger()
	replaceGlobalLogger(zap.New(core))
	defer replaceGlobalLogger(prev)

	ctx := ContextWithFields(context.Background(), zap.String("query", "q1"))
	GetLogger(ctx).Info("merged")
	require.Contains(t, buf.String(), `"query":"q1"`)
	require.Contains(t, buf.String(), `"msg":"merged"`)
}

func TestFileSink(t *testing.T) {
	name := filepath.Join(t.TempDir(), "merge.log")
	defer SetupMOLogger(&LogConfig{Level: "info", Format: "console"})
	SetupMOLogger(&LogConfig{Level: "info", Format: "json", Filename: name})
	Info("to file")
	require.NoError(t, GetGlobalLogger().Sync())
	data, err := os.ReadFile(name)
	require.NoError(t, err)
	require.Contains(t, string(data), "to file")
}
