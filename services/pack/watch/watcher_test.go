// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collector records batches delivered by Run.
type collector struct {
	mu      sync.Mutex
	batches [][]Change
}

func (c *collector) handle(_ context.Context, changes []Change) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, changes)
	return nil
}

func (c *collector) paths() map[string]bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]bool)
	for _, b := range c.batches {
		for _, ch := range b {
			out[ch.Path] = true
		}
	}
	return out
}

func startWatcher(t *testing.T, root string, opts ...Option) *collector {
	t.Helper()
	w, err := New(root, append([]Option{WithDebounce(30 * time.Millisecond)}, opts...)...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c := &collector{}
	go func() {
		defer close(done)
		_ = w.Run(ctx, c.handle)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return c
}

func TestWatcher_ReportsChanges(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src"), 0o755))
	c := startWatcher(t, root)

	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "index.js"), []byte("x"), 0o644))

	assert.Eventually(t, func() bool {
		return c.paths()["src/index.js"]
	}, 3*time.Second, 20*time.Millisecond)
}

func TestWatcher_IgnoresPatterns(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "tmp"), 0o755))
	c := startWatcher(t, root, WithIgnore("tmp/**"))

	require.NoError(t, os.WriteFile(filepath.Join(root, ".git", "HEAD"), []byte("ref"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "tmp", "scratch"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "kept.js"), []byte("x"), 0o644))

	assert.Eventually(t, func() bool {
		return c.paths()["kept.js"]
	}, 3*time.Second, 20*time.Millisecond)

	paths := c.paths()
	assert.False(t, paths[".git/HEAD"])
	assert.False(t, paths["tmp/scratch"])
}

func TestWatcher_WatchesNewDirectories(t *testing.T) {
	root := t.TempDir()
	c := startWatcher(t, root)

	dir := filepath.Join(root, "lib")
	require.NoError(t, os.Mkdir(dir, 0o755))
	assert.Eventually(t, func() bool {
		return c.paths()["lib"]
	}, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.js"), []byte("x"), 0o644))
	assert.Eventually(t, func() bool {
		return c.paths()["lib/new.js"]
	}, 3*time.Second, 20*time.Millisecond)
}

func TestWatcher_CoalescesBurst(t *testing.T) {
	root := t.TempDir()
	w, err := New(root, WithDebounce(200*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := &collector{}
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx, c.handle)
	}()

	p := filepath.Join(root, "a.js")
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(p, []byte{byte(i)}, 0o644))
	}

	assert.Eventually(t, func() bool {
		return c.paths()["a.js"]
	}, 3*time.Second, 20*time.Millisecond)

	c.mu.Lock()
	first := c.batches[0]
	c.mu.Unlock()
	assert.Len(t, first, 1)

	cancel()
	<-done
}

func TestNew_InvalidIgnorePattern(t *testing.T) {
	_, err := New(t.TempDir(), WithIgnore("["))
	assert.Error(t, err)
}

func TestRun_NilHandler(t *testing.T) {
	w, err := New(t.TempDir())
	require.NoError(t, err)
	defer w.Close()
	assert.ErrorIs(t, w.Run(context.Background(), nil), ErrNilHandler)
}

func TestConvertOp(t *testing.T) {
	assert.Equal(t, OpCreate, convertOp(fsnotify.Create))
	assert.Equal(t, OpWrite, convertOp(fsnotify.Write))
	assert.Equal(t, OpRemove, convertOp(fsnotify.Remove))
	assert.Equal(t, OpRename, convertOp(fsnotify.Rename))
	assert.Equal(t, OpWrite, convertOp(fsnotify.Chmod))
	assert.Equal(t, "create", OpCreate.String())
}
