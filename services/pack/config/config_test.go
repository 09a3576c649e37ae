// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(""))
	require.NoError(t, err)
	assert.Equal(t, DefaultEntrypoint, cfg.Entrypoint)
	assert.Equal(t, DefaultOutputDir, cfg.OutputDir)
	assert.Empty(t, cfg.IncludeFiles)
	assert.Nil(t, cfg.Helpers)
}

func TestParse_PatternsStringOrList(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want Patterns
	}{
		{"string", "includeFiles: templates/**\n", Patterns{"templates/**"}},
		{"list", "includeFiles:\n  - a/*.txt\n  - b/**\n", Patterns{"a/*.txt", "b/**"}},
		{"empty string", "includeFiles: \"\"\n", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(tt.yaml))
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.IncludeFiles)
		})
	}
}

func TestParse_Full(t *testing.T) {
	data := `entrypoint: build/server.js
entrypoints:
  - build/worker.js
  - ./build/server.js
includeFiles: views/**
excludeFiles:
  - "**/*.map"
outputDir: build
awsLambdaHandler: build/server.handler
helpers: false
supportsResponseStreaming: true
`
	cfg, err := Parse([]byte(data))
	require.NoError(t, err)

	assert.Equal(t, []string{"build/server.js", "build/worker.js"}, cfg.AllEntrypoints())
	assert.Equal(t, Patterns{"views/**"}, cfg.IncludeFiles)
	assert.Equal(t, Patterns{"**/*.map"}, cfg.ExcludeFiles)
	assert.Equal(t, "build", cfg.OutputDir)
	assert.Equal(t, "build/server.handler", cfg.AWSLambdaHandler)
	assert.False(t, cfg.HelpersEnabled())
	assert.True(t, cfg.SupportsResponseStreaming)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad yaml", "entrypoint: [\n"},
		{"patterns as map", "includeFiles:\n  a: b\n"},
		{"entrypoint escapes", "entrypoint: ../outside.js\n"},
		{"output dir escapes", "outputDir: ../dist\n"},
		{"bad pattern", "excludeFiles: \"[\"\n"},
		{"handler whitespace", "awsLambdaHandler: \"a b\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoadDir(t *testing.T) {
	t.Run("missing file yields defaults", func(t *testing.T) {
		cfg, err := LoadDir(t.TempDir())
		require.NoError(t, err)
		assert.Equal(t, Default(), cfg)
	})

	t.Run("reads fnpack.yaml", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("outputDir: out\n"), 0o644))
		cfg, err := LoadDir(dir)
		require.NoError(t, err)
		assert.Equal(t, "out", cfg.OutputDir)
		assert.Equal(t, DefaultEntrypoint, cfg.Entrypoint)
	})

	t.Run("invalid file is an error", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("outputDir: ../x\n"), 0o644))
		_, err := LoadDir(dir)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
}

func TestHelpersEnabled(t *testing.T) {
	on := true
	off := false

	t.Run("default on", func(t *testing.T) {
		t.Setenv("NODEJS_HELPERS", "")
		assert.True(t, (&Config{}).HelpersEnabled())
		assert.True(t, (&Config{Helpers: &on}).HelpersEnabled())
		assert.False(t, (&Config{Helpers: &off}).HelpersEnabled())
	})

	t.Run("env disables", func(t *testing.T) {
		t.Setenv("NODEJS_HELPERS", "0")
		assert.False(t, (&Config{Helpers: &on}).HelpersEnabled())
	})
}
