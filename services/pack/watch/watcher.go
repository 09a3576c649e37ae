// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package watch reports debounced batches of file changes under a project
// root so closure builds can be rerun.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/fnpack/services/pack/manifest"
)

// DefaultDebounce is how long the watcher waits for quiet before flushing.
const DefaultDebounce = 200 * time.Millisecond

// DefaultIgnore are patterns never reported.
var DefaultIgnore = []string{"**/.git/**", "**/node_modules/.cache/**"}

// ErrNilHandler is returned when Run is given no change handler.
var ErrNilHandler = errors.New("change handler must not be nil")

// Op is the kind of change.
type Op int

const (
	OpCreate Op = iota
	OpWrite
	OpRemove
	OpRename
)

// String returns the operation name.
func (op Op) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpWrite:
		return "write"
	case OpRemove:
		return "remove"
	case OpRename:
		return "rename"
	default:
		return "unknown"
	}
}

// Change is one debounced file change.
type Change struct {
	// Path is relative to the watched root, slash separated.
	Path string
	Op   Op
}

// ChangeHandler receives each batch. Errors are logged and watching
// continues.
type ChangeHandler func(ctx context.Context, changes []Change) error

// Watcher watches a directory tree.
//
// # Thread Safety
//
// Run must be called at most once. The handler runs on the Run goroutine,
// so batches never overlap.
type Watcher struct {
	root     string
	fsw      *fsnotify.Watcher
	ignore   *manifest.Matcher
	debounce time.Duration
	logger   *slog.Logger
}

// Option configures a Watcher.
type Option func(*options)

type options struct {
	debounce time.Duration
	ignore   []string
	logger   *slog.Logger
}

// WithDebounce sets the quiet period before a batch is flushed.
func WithDebounce(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.debounce = d
		}
	}
}

// WithIgnore adds doublestar patterns, relative to the root, to DefaultIgnore.
func WithIgnore(patterns ...string) Option {
	return func(o *options) {
		o.ignore = append(o.ignore, patterns...)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// New creates a Watcher over root and registers every directory that is
// not ignored.
//
// Outputs:
//
//	*Watcher - Ready to Run. Call Close if Run is never called.
//	error - manifest.ErrInvalidPattern or an fsnotify failure.
func New(root string, opts ...Option) (*Watcher, error) {
	o := options{
		debounce: DefaultDebounce,
		ignore:   append([]string(nil), DefaultIgnore...),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	ignore, err := manifest.NewMatcher(o.ignore)
	if err != nil {
		return nil, fmt.Errorf("ignore: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	w := &Watcher{
		root:     filepath.Clean(root),
		fsw:      fsw,
		ignore:   ignore,
		debounce: o.debounce,
		logger:   o.logger,
	}
	if err := w.addRecursive(w.root); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

// Close releases the fsnotify watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

// addRecursive watches dir and every non-ignored directory below it.
func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtrees are skipped; only the root must be watchable.
			if p == w.root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != w.root && w.ignored(p) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(p); err != nil {
			return fmt.Errorf("watch %s: %w", p, err)
		}
		return nil
	})
}

// rel returns the root-relative path of abs, or false outside the root.
func (w *Watcher) rel(abs string) (string, bool) {
	rel, err := manifest.RelPath(w.root, abs)
	return rel, err == nil
}

func (w *Watcher) ignored(abs string) bool {
	rel, ok := w.rel(abs)
	if !ok {
		return true
	}
	return w.ignore.Match(rel)
}

// Run delivers batches to onChange until ctx is done.
//
// Description:
//
//	Events for ignored paths are dropped. Remaining events are coalesced
//	per path, keeping the latest operation, and flushed in sorted path
//	order once no event has arrived for the debounce period. Newly created
//	directories are watched as they appear.
//
// Outputs:
//
//	error - ErrNilHandler, or nil once ctx is done.
func (w *Watcher) Run(ctx context.Context, onChange ChangeHandler) error {
	if onChange == nil {
		return ErrNilHandler
	}
	defer w.fsw.Close()

	pending := make(map[string]Op)
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}

	flush := func() {
		if len(pending) == 0 {
			return
		}
		batch := make([]Change, 0, len(pending))
		for p, op := range pending {
			batch = append(batch, Change{Path: p, Op: op})
		}
		sort.Slice(batch, func(i, j int) bool { return batch[i].Path < batch[j].Path })
		clear(pending)

		w.logger.Debug("file changes detected", slog.Int("changes", len(batch)))
		if err := onChange(ctx, batch); err != nil {
			w.logger.Error("change handler failed", slog.String("error", err.Error()))
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if w.ignored(event.Name) {
				continue
			}
			rel, ok := w.rel(event.Name)
			if !ok {
				continue
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addRecursive(event.Name); err != nil {
						w.logger.Warn("failed to watch new directory",
							slog.String("path", rel),
							slog.String("error", err.Error()),
						)
					}
				}
			}
			pending[rel] = convertOp(event.Op)
			timer.Reset(w.debounce)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", slog.String("error", err.Error()))

		case <-timer.C:
			flush()
		}
	}
}

func convertOp(op fsnotify.Op) Op {
	switch {
	case op.Has(fsnotify.Create):
		return OpCreate
	case op.Has(fsnotify.Remove):
		return OpRemove
	case op.Has(fsnotify.Rename):
		return OpRename
	default:
		return OpWrite
	}
}
