// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pathcache

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/AleutianAI/fnpack/services/pack/manifest"
)

// countingFS counts every call and can fail chosen paths.
type countingFS struct {
	OSFileSystem

	lstats    atomic.Int64
	reads     atomic.Int64
	readlinks atomic.Int64

	// denied paths fail Lstat with fs.ErrPermission.
	denied map[string]bool

	// delay slows ReadFile so concurrent callers overlap.
	delay time.Duration
}

func (f *countingFS) Lstat(name string) (fs.FileInfo, error) {
	f.lstats.Add(1)
	if f.denied[name] {
		return nil, &fs.PathError{Op: "lstat", Path: name, Err: fs.ErrPermission}
	}
	return f.OSFileSystem.Lstat(name)
}

func (f *countingFS) ReadFile(name string) ([]byte, error) {
	f.reads.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.OSFileSystem.ReadFile(name)
}

func (f *countingFS) Readlink(name string) (string, error) {
	f.readlinks.Add(1)
	return f.OSFileSystem.Readlink(name)
}

func writeFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestCache_IdempotentReads(t *testing.T) {
	root := t.TempDir()
	abs := writeFile(t, root, "lib/a.js", "module.exports = 1")
	cfs := &countingFS{}
	c := New(root, WithFileSystem(cfs))
	ctx := context.Background()

	first, found, err := c.Read(ctx, abs)
	if err != nil || !found {
		t.Fatalf("first read: found=%v err=%v", found, err)
	}
	second, found, err := c.Read(ctx, abs)
	if err != nil || !found {
		t.Fatalf("second read: found=%v err=%v", found, err)
	}

	if !bytes.Equal(first, second) {
		t.Errorf("reads differ: %q vs %q", first, second)
	}
	if got := cfs.lstats.Load(); got != 1 {
		t.Errorf("lstat calls = %d, want 1", got)
	}
	if got := cfs.reads.Load(); got != 1 {
		t.Errorf("read calls = %d, want 1", got)
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 || stats.Records != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestCache_KeyIsCanonicalRelativePath(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "lib/a.js", "x")
	cfs := &countingFS{}
	c := New(root, WithFileSystem(cfs))
	ctx := context.Background()

	if _, _, err := c.Read(ctx, filepath.Join(root, "lib", "a.js")); err != nil {
		t.Fatal(err)
	}
	if _, _, err := c.Read(ctx, filepath.Join(root, "lib", ".", "..", "lib", "a.js")); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := c.Classify(ctx, "./lib//a.js"); err != nil || !ok {
		t.Fatalf("Classify: ok=%v err=%v", ok, err)
	}

	if got := cfs.lstats.Load(); got != 1 {
		t.Errorf("lstat calls = %d, want 1", got)
	}
}

func TestCache_ConcurrentFirstReads(t *testing.T) {
	root := t.TempDir()
	abs := writeFile(t, root, "shared.js", "shared")
	cfs := &countingFS{delay: 20 * time.Millisecond}
	c := New(root, WithFileSystem(cfs))
	ctx := context.Background()

	const callers = 32
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			data, found, err := c.Read(ctx, abs)
			if err != nil {
				errs <- err
				return
			}
			if !found || string(data) != "shared" {
				errs <- errors.New("unexpected read result")
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	if got := cfs.reads.Load(); got != 1 {
		t.Errorf("read calls = %d, want exactly 1", got)
	}
}

func TestCache_ExpectedAbsence(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "dir"), 0o755); err != nil {
		t.Fatal(err)
	}
	c := New(root)
	ctx := context.Background()

	tests := []struct {
		name string
		path string
	}{
		{"missing file", filepath.Join(root, "missing.js")},
		{"directory", filepath.Join(root, "dir")},
		{"missing parent", filepath.Join(root, "nope", "x.js")},
		{"outside root", filepath.Join(root, "..", "elsewhere.js")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, found, err := c.Read(ctx, tt.path)
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if found || data != nil {
				t.Errorf("expected not found, got %q", data)
			}
		})
	}

	if _, state := c.Lookup("missing.js"); state != NotFound {
		t.Errorf("Lookup(missing.js) state = %v, want not_found", state)
	}
	if _, state := c.Lookup("dir"); state != NotFound {
		t.Errorf("Lookup(dir) state = %v, want not_found", state)
	}
	if _, state := c.Lookup("never-asked.js"); state != Pending {
		t.Errorf("Lookup(never-asked.js) state = %v, want pending", state)
	}
}

func TestCache_PermissionDeniedIsFatal(t *testing.T) {
	root := t.TempDir()
	abs := writeFile(t, root, "secret.js", "x")
	cfs := &countingFS{denied: map[string]bool{abs: true}}
	c := New(root, WithFileSystem(cfs))

	_, _, err := c.Read(context.Background(), abs)
	if err == nil {
		t.Fatal("expected fatal error")
	}
	if !errors.Is(err, manifest.ErrIO) {
		t.Errorf("expected ErrIO, got %v", err)
	}
	if !errors.Is(err, fs.ErrPermission) {
		t.Errorf("expected permission error in chain, got %v", err)
	}
	var pe *manifest.PathError
	if !errors.As(err, &pe) || pe.Path != "secret.js" || pe.Op != "lstat" {
		t.Errorf("unexpected PathError: %+v", pe)
	}
	if _, state := c.Lookup("secret.js"); state != Pending {
		t.Errorf("failed read must not be cached, state = %v", state)
	}
}

func TestCache_Symlinks(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "real.txt", "real content")
	if err := os.Symlink("real.txt", filepath.Join(root, "link.txt")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	if err := os.Symlink("gone.txt", filepath.Join(root, "dangling.txt")); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	t.Run("link is classified as reference", func(t *testing.T) {
		c := New(root)
		entry, found, err := c.Classify(ctx, "link.txt")
		if err != nil || !found {
			t.Fatalf("Classify: found=%v err=%v", found, err)
		}
		if entry.Kind != manifest.KindSymlink {
			t.Fatalf("kind = %v, want symlink", entry.Kind)
		}
		if entry.Target != "real.txt" {
			t.Errorf("target = %q", entry.Target)
		}
		if entry.Content != nil {
			t.Error("symlink entry must not embed content")
		}
	})

	t.Run("read through link returns target bytes", func(t *testing.T) {
		c := New(root)
		data, found, err := c.Read(ctx, filepath.Join(root, "link.txt"))
		if err != nil || !found {
			t.Fatalf("Read: found=%v err=%v", found, err)
		}
		if string(data) != "real content" {
			t.Errorf("data = %q", data)
		}
		if _, state := c.Lookup("real.txt"); state != Pending {
			t.Error("reading a link must not populate its target")
		}
	})

	t.Run("dangling link is found but unreadable", func(t *testing.T) {
		c := New(root)
		_, found, err := c.Read(ctx, filepath.Join(root, "dangling.txt"))
		if err != nil {
			t.Fatalf("dangling link must not fail: %v", err)
		}
		if found {
			t.Error("dangling link should not be readable")
		}
		entry, state := c.Lookup("dangling.txt")
		if state != Found || !entry.IsSymlink() {
			t.Errorf("state = %v entry = %+v", state, entry)
		}
	})
}

// readDeniedFS fails ReadFile for one path.
type readDeniedFS struct {
	OSFileSystem
	path string
}

func (f readDeniedFS) ReadFile(name string) ([]byte, error) {
	if name == f.path {
		return nil, &fs.PathError{Op: "read", Path: name, Err: fs.ErrPermission}
	}
	return f.OSFileSystem.ReadFile(name)
}

func TestCache_UnreadableSymlinkTargets(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "a")
	writeFile(t, root, "real.txt", "real")
	links := map[string]string{
		"loop.txt":   "loop.txt",
		"notdir.txt": "a.txt/missing",
		"denied.txt": "real.txt",
	}
	for link, target := range links {
		if err := os.Symlink(target, filepath.Join(root, link)); err != nil {
			t.Skipf("symlinks unsupported: %v", err)
		}
	}
	ctx := context.Background()

	for link := range links {
		t.Run(link, func(t *testing.T) {
			abs := filepath.Join(root, link)
			c := New(root, WithFileSystem(readDeniedFS{path: filepath.Join(root, "denied.txt")}))

			_, found, err := c.Read(ctx, abs)
			if err != nil {
				t.Fatalf("reading through a classified link must not fail: %v", err)
			}
			if found {
				t.Error("link should not be readable")
			}
			entry, state := c.Lookup(link)
			if state != Found || !entry.IsSymlink() {
				t.Errorf("state = %v entry = %+v", state, entry)
			}
		})
	}
}

func TestIsDanglingTarget(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"not exist", fs.ErrNotExist, true},
		{"is dir", syscall.EISDIR, true},
		{"loop", &fs.PathError{Op: "stat", Path: "x", Err: syscall.ELOOP}, true},
		{"not dir", &fs.PathError{Op: "stat", Path: "x", Err: syscall.ENOTDIR}, true},
		{"permission", fs.ErrPermission, false},
		{"other", errors.New("disk on fire"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsDanglingTarget(tt.err); got != tt.want {
				t.Errorf("IsDanglingTarget(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestCache_ClassifyRejectsEscape(t *testing.T) {
	c := New(t.TempDir())
	_, _, err := c.Classify(context.Background(), "../x.js")
	if !errors.Is(err, manifest.ErrPathTraversal) {
		t.Fatalf("expected ErrPathTraversal, got %v", err)
	}
}
