// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package nodetrace is the default closure tracer for Node.js projects.
//
// It walks the module graph from the entrypoints, parsing JavaScript and
// TypeScript sources with tree-sitter to find import, require and import()
// references, and resolves each one with the Node.js algorithm (relative
// paths, extension probing, package.json main and exports, node_modules
// lookup). Files without a grammar (JSON, .node addons, .wasm) are reached
// but not scanned.
//
// All file content is read through the trace hooks so the closure builder's
// path cache observes every read.
package nodetrace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/fnpack/services/pack/closure"
	"github.com/AleutianAI/fnpack/services/pack/manifest"
	"github.com/AleutianAI/fnpack/services/pack/pathcache"
)

// DefaultConcurrency bounds parallel file scans within one trace level.
const DefaultConcurrency = 8

// DefaultMaxScanSize is the largest file, in bytes, that is parsed for
// references. Larger files are still reachable.
const DefaultMaxScanSize = 8 << 20

// Tracer implements closure.Tracer for Node.js module graphs.
//
// Thread Safety: Safe for concurrent use. Each Trace call keeps its own
// state.
type Tracer struct {
	fsys        pathcache.FileSystem
	logger      *slog.Logger
	concurrency int
	maxScanSize int
	extensions  []string
}

var _ closure.Tracer = (*Tracer)(nil)

// Option configures a Tracer.
type Option func(*Tracer)

// WithFileSystem sets the filesystem used to check candidate paths during
// resolution. Content is never read through it.
func WithFileSystem(fsys pathcache.FileSystem) Option {
	return func(t *Tracer) {
		if fsys != nil {
			t.fsys = fsys
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracer) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithConcurrency bounds parallel scans. Values below 1 are ignored.
func WithConcurrency(n int) Option {
	return func(t *Tracer) {
		if n > 0 {
			t.concurrency = n
		}
	}
}

// WithMaxScanSize sets the largest file parsed for references. Values
// below 1 are ignored.
func WithMaxScanSize(n int) Option {
	return func(t *Tracer) {
		if n > 0 {
			t.maxScanSize = n
		}
	}
}

// WithExtensions replaces the extensions tried during resolution.
func WithExtensions(exts ...string) Option {
	return func(t *Tracer) {
		if len(exts) > 0 {
			t.extensions = append([]string(nil), exts...)
		}
	}
}

// New creates a Tracer.
func New(opts ...Option) *Tracer {
	t := &Tracer{
		fsys:        pathcache.OSFileSystem{},
		logger:      slog.Default(),
		concurrency: DefaultConcurrency,
		maxScanSize: DefaultMaxScanSize,
		extensions:  DefaultExtensions,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// visitResult is what scanning one file produced.
type visitResult struct {
	found    bool
	deps     []string
	warnings []string
}

// Trace walks the module graph from entries.
//
// Description:
//
//	Files are processed level by level: every file at one depth is read
//	and scanned in parallel, then the newly discovered dependencies form
//	the next level. Results are merged in level order so warnings are
//	deterministic for a given input.
//
//	Unresolvable references and missing entrypoints become warnings.
//	Errors from the ReadFile hook abort the trace.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	entries - Entrypoints relative to hooks.Base.
//	hooks - Read, resolve and ignore hooks. ReadFile is required.
//
// Outputs:
//
//	*closure.TraceOutput - Sorted reachable paths and warnings.
//	error - ErrNoReadHook or a fatal read error.
func (t *Tracer) Trace(ctx context.Context, entries []string, hooks closure.TraceHooks) (*closure.TraceOutput, error) {
	if hooks.ReadFile == nil {
		return nil, ErrNoReadHook
	}

	ctx, span := startTraceSpan(ctx, hooks.Base, len(entries))
	defer span.End()

	res := newResolver(hooks.Base, hooks, t.fsys.Stat, t.extensions, t.logger)

	visited := make(map[string]bool)
	entrySet := make(map[string]bool, len(entries))
	var frontier []string
	for _, e := range entries {
		rel := manifest.Canonical(e)
		entrySet[rel] = true
		if visited[rel] || ignored(hooks, rel) {
			continue
		}
		visited[rel] = true
		frontier = append(frontier, rel)
	}

	var (
		reachable []string
		warnings  []string
	)

	for depth := 0; len(frontier) > 0; depth++ {
		results := make([]visitResult, len(frontier))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(t.concurrency)
		for i, rel := range frontier {
			g.Go(func() error {
				r, err := t.visit(gctx, rel, hooks, res)
				if err != nil {
					return err
				}
				results[i] = r
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			span.RecordError(err)
			return nil, err
		}

		var next []string
		for i, rel := range frontier {
			r := results[i]
			if !r.found {
				if entrySet[rel] {
					warnings = append(warnings, fmt.Sprintf("entrypoint not found: %s", rel))
				}
				continue
			}
			reachable = append(reachable, rel)
			warnings = append(warnings, r.warnings...)
			for _, dep := range r.deps {
				if visited[dep] || ignored(hooks, dep) {
					continue
				}
				visited[dep] = true
				next = append(next, dep)
			}
		}

		t.logger.Debug("trace level complete",
			slog.Int("depth", depth),
			slog.Int("files", len(frontier)),
			slog.Int("discovered", len(next)),
		)
		frontier = next
	}

	for _, p := range res.packageFiles() {
		if !visited[p] {
			visited[p] = true
			reachable = append(reachable, p)
		}
	}
	sort.Strings(reachable)

	return &closure.TraceOutput{
		FileList: reachable,
		Warnings: warnings,
	}, nil
}

func ignored(hooks closure.TraceHooks, rel string) bool {
	return hooks.Ignore != nil && hooks.Ignore(rel)
}

// visit reads one file and resolves its references.
func (t *Tracer) visit(ctx context.Context, rel string, hooks closure.TraceHooks, res *resolver) (visitResult, error) {
	abs := filepath.Join(hooks.Base, filepath.FromSlash(rel))
	data, found, err := hooks.ReadFile(ctx, abs)
	if err != nil {
		return visitResult{}, err
	}
	if !found {
		return visitResult{}, nil
	}

	out := visitResult{found: true}

	// References resolve from the file's real location. A file reached
	// through a symlink inside the base is scanned once, at its real path.
	parent := abs
	if real, inRoot := res.realPath(abs); real != abs {
		if realRel, err := filepath.Rel(hooks.Base, real); inRoot && err == nil {
			realRel = manifest.Canonical(realRel)
			if !ignored(hooks, realRel) {
				out.deps = append(out.deps, realRel)
				return out, nil
			}
		}
		parent = real
	}

	grammar := GrammarFor(rel)
	if grammar == GrammarNone {
		return out, nil
	}
	if len(data) > t.maxScanSize {
		out.warnings = append(out.warnings, fmt.Sprintf("%s: file too large to scan (%d bytes)", rel, len(data)))
		return out, nil
	}

	scan, err := Scan(ctx, data, grammar)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return visitResult{}, ctxErr
		}
		// Unparseable sources are still packaged.
		out.warnings = append(out.warnings, fmt.Sprintf("%s: %v", rel, err))
		return out, nil
	}
	recordScan(ctx, grammar)
	if scan.HasSyntaxErrors {
		t.logger.Debug("syntax errors while scanning", slog.String("path", rel))
	}

	next := res.resolve
	for _, ref := range scan.References {
		if IsBuiltin(ref.Specifier) {
			continue
		}

		var resolved string
		if hooks.Resolve != nil {
			resolved, err = hooks.Resolve(ctx, ref.Specifier, parent, next)
		} else {
			resolved, err = next(ctx, ref.Specifier, parent)
		}
		if err != nil {
			if isFatal(err) {
				return visitResult{}, err
			}
			recordUnresolved(ctx, ref.Kind)
			out.warnings = append(out.warnings, fmt.Sprintf("cannot resolve %q from %s", ref.Specifier, rel))
			continue
		}

		depRel, err := filepath.Rel(hooks.Base, resolved)
		if err != nil {
			continue
		}
		depRel = manifest.Canonical(depRel)
		if manifest.IsEscape(depRel) {
			t.logger.Debug("dependency outside base",
				slog.String("from", rel),
				slog.String("path", resolved),
			)
			continue
		}
		out.deps = append(out.deps, depRel)
	}

	for _, ref := range scan.Unresolvable {
		recordUnresolved(ctx, ref.Kind)
		verb := "require"
		if ref.Kind == RefDynamicImport {
			verb = "import"
		}
		out.warnings = append(out.warnings, fmt.Sprintf("unresolvable dynamic %s in %s:%d", verb, rel, ref.Line))
	}

	return out, nil
}

// isFatal separates read failures, which abort the trace, from resolution
// misses.
func isFatal(err error) bool {
	return errors.Is(err, manifest.ErrIO) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
