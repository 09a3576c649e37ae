// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pathcache memoizes file reads for a single closure build.
//
// Every path is classified at most once: as file content, as a symlink
// reference, or as not found. The record is keyed by the canonical path
// relative to the project root and is never invalidated while the cache
// lives. A cache is created per build and discarded afterwards.
//
// # Thread Safety
//
// Cache is safe for concurrent use. Concurrent first reads of the same key
// are collapsed so only one filesystem access happens.
package pathcache

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/AleutianAI/fnpack/services/pack/manifest"
	"golang.org/x/sync/singleflight"
)

// State is the tri-state of a cache record.
type State int

const (
	// Pending means the path has not been classified yet.
	Pending State = iota

	// Found means the path holds a content or symlink entry.
	Found

	// NotFound means the path does not exist or is not a regular file.
	NotFound
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Found:
		return "found"
	case NotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// record is the write-once result of classifying one path.
type record struct {
	// entry is nil when the path was not found.
	entry *manifest.FileEntry

	// source is what the traversal sees when it reads the path. For a symlink
	// this is the content reached through the link, or nil if the link
	// dangles or points at a directory.
	source []byte

	readable bool
}

// Stats summarizes cache activity.
type Stats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Records int   `json:"records"`
}

// Cache is the per-build path cache.
type Cache struct {
	root   string
	fsys   FileSystem
	logger *slog.Logger

	mu      sync.RWMutex
	records map[string]*record
	flight  singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64
}

// Option configures a Cache.
type Option func(*Cache)

// WithFileSystem replaces the OS filesystem.
func WithFileSystem(fsys FileSystem) Option {
	return func(c *Cache) {
		if fsys != nil {
			c.fsys = fsys
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates an empty cache rooted at projectRoot.
//
// projectRoot must be absolute and clean; callers validate it.
func New(projectRoot string, opts ...Option) *Cache {
	c := &Cache{
		root:    filepath.Clean(projectRoot),
		fsys:    OSFileSystem{},
		logger:  slog.Default(),
		records: make(map[string]*record),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Root returns the project root.
func (c *Cache) Root() string {
	return c.root
}

// FileSystem returns the filesystem the cache reads through.
func (c *Cache) FileSystem() FileSystem {
	return c.fsys
}

// Read returns the bytes a traversal should see for absPath.
//
// Description:
//
//	Classifies the path on first request and serves every later request
//	from the cache. A missing path, a directory, a dangling symlink, and a
//	path outside the project root all report found=false without error.
//
// Inputs:
//
//	ctx - Context for metrics.
//	absPath - Absolute path (relative paths are taken as root-relative).
//
// Outputs:
//
//	[]byte - File content. Shared with the cache; callers must not modify it.
//	bool - False if there is nothing readable at the path.
//	error - Non-nil only for fatal I/O failures (wraps manifest.ErrIO).
//
// Thread Safety: Safe for concurrent use.
func (c *Cache) Read(ctx context.Context, absPath string) ([]byte, bool, error) {
	rel, err := manifest.RelPath(c.root, absPath)
	if err != nil {
		c.logger.Debug("read outside project root", slog.String("path", absPath))
		return nil, false, nil
	}
	r, err := c.get(ctx, rel)
	if err != nil {
		return nil, false, err
	}
	return r.source, r.readable, nil
}

// Classify returns the manifest entry for a relative path, loading it from
// disk on first request.
//
// Outputs:
//
//	*manifest.FileEntry - The entry, or nil if not found.
//	bool - True if the path holds a content or symlink entry.
//	error - Non-nil only for fatal I/O failures or an escaping path.
func (c *Cache) Classify(ctx context.Context, relPath string) (*manifest.FileEntry, bool, error) {
	rel := manifest.Canonical(relPath)
	if manifest.IsEscape(rel) {
		return nil, false, fmt.Errorf("%w: %s", manifest.ErrPathTraversal, relPath)
	}
	r, err := c.get(ctx, rel)
	if err != nil {
		return nil, false, err
	}
	return r.entry, r.entry != nil, nil
}

// Lookup returns what the cache already knows about a path. It never
// touches disk.
func (c *Cache) Lookup(relPath string) (*manifest.FileEntry, State) {
	c.mu.RLock()
	r, ok := c.records[manifest.Canonical(relPath)]
	c.mu.RUnlock()
	switch {
	case !ok:
		return nil, Pending
	case r.entry == nil:
		return nil, NotFound
	default:
		return r.entry, Found
	}
}

// Stats returns hit and miss counts and the number of records.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	n := len(c.records)
	c.mu.RUnlock()
	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Records: n,
	}
}

// get is the lookup-or-populate operation behind Read and Classify.
func (c *Cache) get(ctx context.Context, rel string) (*record, error) {
	if r, ok := c.cached(rel); ok {
		c.hits.Add(1)
		recordHit(ctx)
		return r, nil
	}

	v, err, _ := c.flight.Do(rel, func() (interface{}, error) {
		// A flight for this key may have finished between the read lock and
		// Do; its record must win.
		if r, ok := c.cached(rel); ok {
			return r, nil
		}
		c.misses.Add(1)
		recordMiss(ctx)

		r, err := c.load(ctx, rel)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		if existing, ok := c.records[rel]; ok {
			r = existing
		} else {
			c.records[rel] = r
		}
		c.mu.Unlock()
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*record), nil
}

func (c *Cache) cached(rel string) (*record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.records[rel]
	return r, ok
}

// load classifies rel from disk.
func (c *Cache) load(ctx context.Context, rel string) (*record, error) {
	abs := manifest.AbsPath(c.root, rel)

	info, err := c.fsys.Lstat(abs)
	if err != nil {
		if IsExpectedAbsence(err) {
			recordLoad(ctx, "not_found")
			return &record{}, nil
		}
		return nil, &manifest.PathError{Path: rel, Op: "lstat", Err: err}
	}

	mode := info.Mode()
	switch {
	case mode&fs.ModeSymlink != 0:
		return c.loadSymlink(ctx, rel, abs, mode)
	case mode.IsDir():
		recordLoad(ctx, "not_found")
		return &record{}, nil
	case !mode.IsRegular():
		c.logger.Debug("skipping irregular file",
			slog.String("path", rel),
			slog.String("mode", mode.String()),
		)
		recordLoad(ctx, "not_found")
		return &record{}, nil
	}

	data, err := c.fsys.ReadFile(abs)
	if err != nil {
		if IsExpectedAbsence(err) {
			recordLoad(ctx, "not_found")
			return &record{}, nil
		}
		return nil, &manifest.PathError{Path: rel, Op: "read", Err: err}
	}

	recordLoad(ctx, "content")
	return &record{
		entry:    manifest.NewContentEntry(data, mode),
		source:   data,
		readable: true,
	}, nil
}

// loadSymlink records the link target without embedding it. The content
// reached through the link is kept only as traversal source; failing to
// read through an already classified link only makes it unreadable.
func (c *Cache) loadSymlink(ctx context.Context, rel, abs string, mode fs.FileMode) (*record, error) {
	target, err := c.fsys.Readlink(abs)
	if err != nil {
		if IsExpectedAbsence(err) {
			recordLoad(ctx, "not_found")
			return &record{}, nil
		}
		return nil, &manifest.PathError{Path: rel, Op: "readlink", Err: err}
	}

	r := &record{entry: manifest.NewSymlinkEntry(target, mode)}

	data, err := c.fsys.ReadFile(abs)
	switch {
	case err == nil:
		r.source = data
		r.readable = true
	case IsDanglingTarget(err):
		c.logger.Debug("symlink has no readable target",
			slog.String("path", rel),
			slog.String("target", target),
		)
	default:
		c.logger.Warn("cannot read through symlink",
			slog.String("path", rel),
			slog.String("target", target),
			slog.String("error", err.Error()),
		)
	}

	recordLoad(ctx, "symlink")
	return r, nil
}
