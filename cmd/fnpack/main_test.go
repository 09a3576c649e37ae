// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/fnpack/services/pack"
	"github.com/AleutianAI/fnpack/services/pack/storage/badger"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
}

func newProject(t *testing.T) (root, workDir string) {
	t.Helper()
	root = t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0o755))
	writeTree(t, root, map[string]string{
		"api/fnpack.yaml":                    "includeFiles: assets/**\n",
		"api/dist/main.js":                   "require(\"left-pad\");\n",
		"api/node_modules/left-pad/index.js": "module.exports = (s) => s;\n",
		"api/assets/logo.svg":                "<svg/>",
	})
	return root, filepath.Join(root, "api")
}

// run executes the CLI and returns stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestBuildCommand_JSON(t *testing.T) {
	_, workDir := newProject(t)

	out, err := run(t, "build", "--work-dir", workDir, "--json")
	require.NoError(t, err)

	var resp pack.BuildResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "api/dist/main.js", resp.Output.Handler)
	assert.False(t, resp.Stored)

	var paths []string
	for _, f := range resp.Files {
		paths = append(paths, f.Path)
	}
	assert.Equal(t, []string{
		"api/assets/logo.svg",
		"api/dist/main.js",
		"api/node_modules/left-pad/index.js",
	}, paths)
}

func TestBuildCommand_MachineOutput(t *testing.T) {
	_, workDir := newProject(t)

	out, err := run(t, "--output", "machine", "build", "--work-dir", workDir)
	require.NoError(t, err)
	assert.Contains(t, out, "PROGRESS: tracing "+workDir)
	assert.Contains(t, out, "HANDLER: api/dist/main.js")
	assert.Contains(t, out, "SUMMARY: files=3")
}

func TestBuildCommand_Zip(t *testing.T) {
	_, workDir := newProject(t)
	zipPath := filepath.Join(t.TempDir(), "api.zip")

	out, err := run(t, "--output", "machine", "build", "--work-dir", workDir, "--zip", zipPath)
	require.NoError(t, err)
	assert.Contains(t, out, "OK: wrote "+zipPath)

	r, err := zip.OpenReader(zipPath)
	require.NoError(t, err)
	defer r.Close()

	var names []string
	for _, f := range r.File {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{
		"api/assets/logo.svg",
		"api/dist/main.js",
		"api/node_modules/left-pad/index.js",
	}, names)
}

func TestBuildCommand_EntrypointArgsAndFlags(t *testing.T) {
	root, workDir := newProject(t)
	writeTree(t, workDir, map[string]string{"src/handler.js": "module.exports = 1;\n"})

	out, err := run(t, "build", "src/handler.js",
		"--work-dir", workDir,
		"--root", root,
		"--out-dir", "-",
		"--include", "src/*.js",
		"--json",
	)
	require.NoError(t, err)

	var resp pack.BuildResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Files, 1)
	assert.Equal(t, "api/src/handler.js", resp.Files[0].Path)
	assert.Equal(t, "api/src/handler.js", resp.Output.Handler)
}

func TestBuildCommand_InvalidConfig(t *testing.T) {
	_, workDir := newProject(t)
	writeTree(t, workDir, map[string]string{"fnpack.yaml": "entrypoint: ../../outside.js\n"})

	_, err := run(t, "build", "--work-dir", workDir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestBuildsCommands(t *testing.T) {
	_, workDir := newProject(t)
	store := t.TempDir()

	out, err := run(t, "--store", store, "build", "--work-dir", workDir, "--json")
	require.NoError(t, err)
	var resp pack.BuildResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.True(t, resp.Stored)

	out, err = run(t, "--store", store, "builds", "list", "--json")
	require.NoError(t, err)
	var records []badger.BuildRecord
	require.NoError(t, json.Unmarshal([]byte(out), &records))
	require.Len(t, records, 1)
	assert.Equal(t, resp.ID, records[0].ID)

	out, err = run(t, "--store", store, "--output", "machine", "builds", "show", resp.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "HANDLER: api/dist/main.js")
	assert.Contains(t, out, "api/node_modules/left-pad/index.js")

	out, err = run(t, "--store", store, "--output", "machine", "builds", "delete", resp.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "OK: deleted "+resp.ID)

	_, err = run(t, "--store", store, "builds", "show", resp.ID)
	assert.ErrorIs(t, err, badger.ErrNotFound)
}

func TestBuildsCommands_StoreFromEnv(t *testing.T) {
	_, workDir := newProject(t)
	t.Setenv("FNPACK_STORE", t.TempDir())

	_, err := run(t, "build", "--work-dir", workDir, "--json")
	require.NoError(t, err)

	out, err := run(t, "builds", "list", "--json")
	require.NoError(t, err)
	var records []badger.BuildRecord
	require.NoError(t, json.Unmarshal([]byte(out), &records))
	assert.Len(t, records, 1)
}

func TestBuildsCommands_RequireStore(t *testing.T) {
	t.Setenv("FNPACK_STORE", "")
	_, err := run(t, "builds", "list")
	assert.ErrorIs(t, err, errStoreRequired)
}

func TestCacheFilesCommand(t *testing.T) {
	root, _ := newProject(t)

	out, err := run(t, "cache-files", "--root", root)
	require.NoError(t, err)
	assert.Equal(t, []string{"api/node_modules/left-pad/index.js"}, strings.Fields(out))
}

func TestRootCommand_InvalidLogLevel(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--log-level", "loud", "cache-files"})
	assert.Error(t, cmd.Execute())
}

func TestExecute_ExitCode(t *testing.T) {
	cmd := newRootCmd()
	var errOut bytes.Buffer
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&errOut)
	cmd.SetArgs([]string{"builds", "show"})
	assert.Equal(t, 1, execute(cmd))
	assert.Contains(t, errOut.String(), "accepts 1 arg")
}
