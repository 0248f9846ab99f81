//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Copyright (C) 2025 Aaron Mathis aaron.mathis@gmail.com
//
// This file is part of Songlake.
//
// Songlake is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Songlake is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Songlake. If not, see https://www.gnu.org/licenses/.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	flag "github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/songlake/warehouse"
)

func writeEnv(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestRegister_Precedence(t *testing.T) {
	t.Setenv("SONGLAKE_LAKE_DIR", "/from/env")
	path := writeEnv(t, "SONGLAKE_LAKE_DIR=/from/file\nSONGLAKE_SONG_DATA=/songs\nSONGLAKE_STAGE_TIMEOUT=90s\nSONGLAKE_WORKERS=3\n")

	env, err := LoadEnv(path, filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg := Register(fs, env)
	require.NoError(t, fs.Parse([]string{"--log-data", "/logs"}))

	assert.Equal(t, "/from/env", cfg.LakeDir)
	assert.Equal(t, "/songs", cfg.SongData)
	assert.Equal(t, "/logs", cfg.LogData)
	assert.Equal(t, 90*time.Second, cfg.StageTimeout)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, defaultMaxRowsPerFile, cfg.MaxRowsPerFile)
	assert.Equal(t, defaultRowGroupSize, cfg.RowGroupSize)
	assert.Equal(t, "snappy", cfg.Compression)
	require.NoError(t, cfg.ValidateRun())

	_, set := os.LookupEnv("SONGLAKE_SONG_DATA")
	assert.False(t, set)
}

func TestRegister_BadEnvFallsBack(t *testing.T) {
	t.Setenv("SONGLAKE_WORKERS", "many")
	t.Setenv("SONGLAKE_FAIL_FAST", "yes please")
	cfg := Register(flag.NewFlagSet("test", flag.ContinueOnError), Env{})
	assert.Equal(t, 0, cfg.Workers)
	assert.False(t, cfg.FailFast)
}

func TestRegister_S3FromDotEnv(t *testing.T) {
	path := writeEnv(t, "SONGLAKE_S3_ACCESS_KEY_ID=AKID\nSONGLAKE_S3_SECRET_ACCESS_KEY=secret\nSONGLAKE_S3_REGION=us-west-2\nSONGLAKE_S3_PATH_STYLE=true\n")
	env, err := LoadEnv(path)
	require.NoError(t, err)

	cfg := Register(flag.NewFlagSet("test", flag.ContinueOnError), env)
	require.NotNil(t, cfg.S3)
	assert.Equal(t, "AKID", cfg.S3.AccessKeyID)
	assert.Equal(t, "us-west-2", cfg.S3.Region)
	assert.True(t, cfg.S3.UsePathStyle)
}

func TestValidateRun(t *testing.T) {
	cfg := Register(flag.NewFlagSet("test", flag.ContinueOnError), Env{})
	cfg.PublishTo = "/tmp/out"
	cfg.ReportFormat = "xml"
	cfg.MaxRowsPerFile = 0
	cfg.RowGroupSize = -1
	cfg.Compression = "lzo"

	err := cfg.ValidateRun()
	require.Error(t, err)
	assert.ErrorContains(t, err, "song data root is empty")
	assert.ErrorContains(t, err, "log data root is empty")
	assert.ErrorContains(t, err, "not an s3:// location")
	assert.ErrorContains(t, err, "unsupported report format")
	assert.ErrorContains(t, err, "max rows per file")
	assert.ErrorContains(t, err, "row group size must be positive")
	assert.ErrorContains(t, err, `unknown parquet compression "lzo"`)
}

func TestRegister_ParquetFlags(t *testing.T) {
	t.Setenv("SONGLAKE_COMPRESSION", "gzip")
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg := Register(fs, Env{})
	require.NoError(t, fs.Parse([]string{"--row-group-size", "500", "--song-data", "/songs", "--log-data", "/logs"}))

	assert.Equal(t, "gzip", cfg.Compression)
	assert.Equal(t, 500, cfg.RowGroupSize)
	require.NoError(t, cfg.ValidateRun())
}

func TestConfig_Checks(t *testing.T) {
	cfg := &Config{}
	checks, err := cfg.Checks(nil)
	require.NoError(t, err)
	assert.Len(t, checks, len(warehouse.Tables()))

	cfg.ChecksFile = filepath.Join(t.TempDir(), "checks.yaml")
	require.NoError(t, os.WriteFile(cfg.ChecksFile, []byte("checks:\n  - table: songs\n    min: 5\n"), 0o644))
	checks, err = cfg.Checks(nil)
	require.NoError(t, err)
	require.Len(t, checks, 1)
	assert.Equal(t, warehouse.Songs, checks[0].Table)
}

func TestConfig_NeedsS3(t *testing.T) {
	cfg := &Config{SongData: "/songs", LogData: "/logs"}
	assert.False(t, cfg.NeedsS3())
	cfg.LogData = "s3a://udacity-dend/log_data"
	assert.True(t, cfg.NeedsS3())
}
