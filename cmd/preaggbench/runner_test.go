// Copyright 2024 The Tektite Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/spirit-labs/preagg/conf"
	"github.com/spirit-labs/preagg/errors"
	"github.com/spirit-labs/preagg/kds"
	"github.com/spirit-labs/preagg/types"
	"github.com/stretchr/testify/require"
)

func TestParseConfig(t *testing.T) {
	cfg, err := loadConfig([]string{"--config", "testdata/config.hcl"})
	require.NoError(t, err)
	require.Equal(t, 8, *cfg.Engine.WarpSize)
	require.Equal(t, 32, *cfg.Engine.BlockSize)
	require.Equal(t, conf.ParseableInt(500), *cfg.Engine.SlotBufferCapacity)
	require.Equal(t, conf.ParseableInt(256), *cfg.Engine.ArenaWords)
	require.Equal(t, 10, *cfg.Engine.HLLRegisterBits)
	// defaulted
	require.Equal(t, conf.DefaultMaxResumeAttempts, *cfg.Engine.MaxResumeAttempts)
	require.Equal(t, "warn", cfg.Log.Level)
	require.Equal(t, workload{
		Format:        "block",
		KeyType:       "long",
		Compression:   "none",
		Rows:          3000,
		Keys:          7,
		Users:         40,
		LinesPerPage:  128,
		DeadLineEvery: 5,
	}, cfg.Workload)
}

func TestFlagsOverrideConfig(t *testing.T) {
	cfg, err := loadConfig([]string{"--config", "testdata/config.hcl", "--workload-format", "arrow",
		"--workload-keys", "0"})
	require.NoError(t, err)
	require.Equal(t, "arrow", cfg.Workload.Format)
	require.Equal(t, 0, cfg.Workload.Keys)
}

func TestInvalidEngineConfig(t *testing.T) {
	_, err := loadConfig([]string{"--config", "testdata/config.hcl", "--block-size", "20"})
	require.True(t, errors.IsPreAggErrorWithCode(err, errors.InvalidConfiguration))
}

func TestWorkloadSources(t *testing.T) {
	w := workload{Rows: 1000, Keys: 3, Users: 10, LinesPerPage: 100, DeadLineEvery: 4}
	for _, format := range []string{"row", "block", "arrow", "column"} {
		w.Format = format
		src, err := w.source()
		require.NoError(t, err)
		require.Equal(t, 1000, src.NRows(), format)
	}
	w.Format = "column"
	w.Compression = "lz4"
	src, err := w.source()
	require.NoError(t, err)
	require.Equal(t, int64(999%3), src.(*kds.ColumnSource).Batch.GetInt64Column(0).Get(999))
	w.Format = "block"
	src, err = w.source()
	require.NoError(t, err)
	blocks := src.(*kds.BlockSource)
	require.Len(t, blocks.Parts, 10)
	require.Len(t, blocks.Parts[0].Lines, 125)
}

func TestRunAllFormats(t *testing.T) {
	for _, format := range []string{"row", "block", "arrow", "column"} {
		t.Run(format, func(t *testing.T) {
			var out bytes.Buffer
			err := run(context.Background(), []string{"--config", "testdata/config.hcl", "--workload-format",
				format, "--workload-min-value", "50", "--workload-compression", "snappy"}, &out)
			require.NoError(t, err)
			s := out.String()
			require.Contains(t, s, "group by key")
			require.Contains(t, s, "7 groups from 3000 rows (1500 filtered)")
		})
	}
}

func TestRunKeyTypes(t *testing.T) {
	for _, keyType := range []string{"int", "float", "double"} {
		for _, format := range []string{"row", "arrow", "column"} {
			t.Run(keyType+"/"+format, func(t *testing.T) {
				var out bytes.Buffer
				err := run(context.Background(), []string{"--config", "testdata/config.hcl", "--workload-format",
					format, "--workload-key-type", keyType, "--workload-min-value", "50"}, &out)
				require.NoError(t, err)
				require.Contains(t, out.String(), "7 groups from 3000 rows (1500 filtered)")
			})
		}
	}
}

func TestWorkloadKeyType(t *testing.T) {
	w := workload{Rows: 10, Keys: 3, Users: 2, LinesPerPage: 4, KeyType: "float"}
	require.NoError(t, w.validate())
	require.Equal(t, types.ColumnTypeFloat32, w.query().ColumnTypes[0])
	w.Format = "column"
	src, err := w.source()
	require.NoError(t, err)
	require.Equal(t, float32(2), src.(*kds.ColumnSource).Batch.GetFloat32Column(0).Get(5))

	w.KeyType = "bool"
	require.True(t, errors.IsPreAggErrorWithCode(w.validate(), errors.InvalidConfiguration))
	w.KeyType = "decimal"
	require.True(t, errors.IsPreAggErrorWithCode(w.validate(), errors.InvalidConfiguration))
}
