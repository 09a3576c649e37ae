// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package closure computes the file dependency closure of a server-side
// application and assembles it into a manifest.
//
// A build runs in four stages over a per-build path cache:
//
//  1. Trace: the pluggable Tracer walks the module graph from the
//     entrypoints, reading through the cache and resolving through the
//     resolution adapter. Exclude patterns prune the walk.
//  2. Symlinks: regular-file targets of reachable symlinks are added, one
//     level deep, when they stay inside the project root.
//  3. Include: user glob patterns and the build output directory are
//     expanded into explicit entries.
//  4. Assemble: reachable paths and explicit entries are merged into the
//     manifest, with includes winning over traced entries and output files
//     merged last.
//
// A build either returns a complete manifest with its warnings or a single
// fatal error and no manifest.
//
// # Thread Safety
//
// Builder is safe for concurrent use. Each Build call owns its own cache.
package closure

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/AleutianAI/fnpack/services/pack/manifest"
	"github.com/AleutianAI/fnpack/services/pack/pathcache"
)

// DefaultOutputDir is the build output directory merged into every manifest.
const DefaultOutputDir = "dist"

// DefaultConcurrency bounds parallel glob expansion and reads.
const DefaultConcurrency = 8

// Request describes one closure build.
type Request struct {
	// ProjectRoot is the absolute directory all manifest keys are relative to.
	// Usually the repository root.
	ProjectRoot string

	// WorkDir is the absolute directory include patterns and OutputDir are
	// evaluated against. Must be inside ProjectRoot. Defaults to ProjectRoot.
	WorkDir string

	// Entrypoints are the files tracing starts from, relative to ProjectRoot.
	Entrypoints []string

	// Include patterns are always materialized, traced or not.
	Include []string

	// Exclude patterns prune the trace before files are opened.
	Exclude []string

	// OutputDir is the build output directory relative to WorkDir. Its files
	// are always included. Empty means DefaultOutputDir; "-" disables it.
	OutputDir string
}

// Stats summarizes one build.
type Stats struct {
	Traced         int             `json:"traced"`
	SymlinkTargets int             `json:"symlink_targets"`
	Included       int             `json:"included"`
	OutputFiles    int             `json:"output_files"`
	Files          int             `json:"files"`
	Bytes          int64           `json:"bytes"`
	Warnings       int             `json:"warnings"`
	Cache          pathcache.Stats `json:"cache"`
	DurationMilli  int64           `json:"duration_milli"`
}

// Result is a completed build.
type Result struct {
	Manifest *manifest.Manifest
	Warnings []string
	Stats    Stats
}

// Builder runs closure builds.
type Builder struct {
	tracer      Tracer
	fsys        pathcache.FileSystem
	logger      *slog.Logger
	concurrency int
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithTracer sets the trace primitive. Required.
func WithTracer(t Tracer) BuilderOption {
	return func(b *Builder) {
		b.tracer = t
	}
}

// WithFileSystem replaces the OS filesystem used for classification and
// symlink target checks.
func WithFileSystem(fsys pathcache.FileSystem) BuilderOption {
	return func(b *Builder) {
		if fsys != nil {
			b.fsys = fsys
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) BuilderOption {
	return func(b *Builder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithConcurrency bounds parallel work within a build. Values below 1 are
// ignored.
func WithConcurrency(n int) BuilderOption {
	return func(b *Builder) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// NewBuilder creates a Builder.
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{
		fsys:        pathcache.OSFileSystem{},
		logger:      slog.Default(),
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build computes the closure for req and assembles its manifest.
//
// Description:
//
//	Creates a fresh path cache, traces from the entrypoints, augments the
//	result with symlink targets, expands include patterns and the output
//	directory, and assembles the manifest.
//
// Inputs:
//
//	ctx - Context for tracing spans. Must not be nil.
//	req - The build request.
//
// Outputs:
//
//	*Result - Manifest, warnings and stats. Nil on error.
//	error - ErrNilContext, ErrNoTracer, ErrNoEntrypoints,
//	        manifest.ErrInvalidRoot, manifest.ErrPathTraversal,
//	        manifest.ErrInvalidPattern, or a fatal I/O failure wrapping
//	        manifest.ErrIO.
//
// Thread Safety: Safe for concurrent use.
func (b *Builder) Build(ctx context.Context, req Request) (*Result, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if b.tracer == nil {
		return nil, ErrNoTracer
	}

	nreq, err := b.normalize(req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	ctx, span := startBuildSpan(ctx, nreq.projectRoot, len(nreq.entrypoints))
	defer span.End()

	logger := b.logger.With(slog.String("project_root", nreq.projectRoot))
	logger.Debug("closure build starting",
		slog.Any("entrypoints", nreq.entrypoints),
		slog.Any("include", nreq.include.Patterns()),
		slog.Any("exclude", nreq.exclude.Patterns()),
	)

	cache := pathcache.New(nreq.projectRoot,
		pathcache.WithFileSystem(b.fsys),
		pathcache.WithLogger(b.logger),
	)

	fail := func(err error) (*Result, error) {
		span.RecordError(err)
		recordBuild(ctx, time.Since(start), false, Stats{})
		logger.Error("closure build failed", slog.String("error", err.Error()))
		return nil, err
	}

	traced, err := b.invokeTrace(ctx, cache, nreq)
	if err != nil {
		return fail(err)
	}
	tracedCount := len(traced.reachable)

	added, err := b.augmentSymlinks(ctx, cache, traced.reachable)
	if err != nil {
		return fail(err)
	}

	includes, err := b.expandIncludes(ctx, cache, nreq)
	if err != nil {
		return fail(err)
	}

	outputs, err := b.expandOutputDir(ctx, cache, nreq)
	if err != nil {
		return fail(err)
	}

	m, err := b.assemble(ctx, cache, traced.reachable, includes, outputs)
	if err != nil {
		return fail(err)
	}

	duration := time.Since(start)
	stats := Stats{
		Traced:         tracedCount,
		SymlinkTargets: len(added),
		Included:       len(includes),
		OutputFiles:    len(outputs),
		Files:          m.Len(),
		Bytes:          m.TotalSize(),
		Warnings:       len(traced.warnings),
		Cache:          cache.Stats(),
		DurationMilli:  duration.Milliseconds(),
	}
	setBuildSpanResult(span, stats)
	recordBuild(ctx, duration, true, stats)

	logger.Info("closure build complete",
		slog.Int("files", stats.Files),
		slog.Int("traced", stats.Traced),
		slog.Int("symlink_targets", stats.SymlinkTargets),
		slog.Int("warnings", stats.Warnings),
		slog.Int64("duration_ms", stats.DurationMilli),
	)

	return &Result{
		Manifest: m,
		Warnings: traced.warnings,
		Stats:    stats,
	}, nil
}

// normalizedRequest is a validated Request.
type normalizedRequest struct {
	projectRoot string
	workDir     string
	entrypoints []string
	include     *manifest.Matcher
	exclude     *manifest.Matcher
	// outputDir is relative to workDir, slash separated; empty when disabled.
	outputDir string
}

func (b *Builder) normalize(req Request) (*normalizedRequest, error) {
	if req.ProjectRoot == "" || !filepath.IsAbs(req.ProjectRoot) {
		return nil, fmt.Errorf("%w: must be an absolute path: %q", manifest.ErrInvalidRoot, req.ProjectRoot)
	}
	root := filepath.Clean(req.ProjectRoot)
	info, err := b.fsys.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", manifest.ErrInvalidRoot, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: not a directory: %s", manifest.ErrInvalidRoot, root)
	}

	workDir := root
	if req.WorkDir != "" {
		if !filepath.IsAbs(req.WorkDir) {
			workDir = filepath.Join(root, req.WorkDir)
		} else {
			workDir = filepath.Clean(req.WorkDir)
		}
		if _, err := manifest.RelPath(root, workDir); err != nil {
			return nil, fmt.Errorf("work dir: %w", err)
		}
	}

	if len(req.Entrypoints) == 0 {
		return nil, ErrNoEntrypoints
	}
	seen := make(map[string]bool, len(req.Entrypoints))
	entrypoints := make([]string, 0, len(req.Entrypoints))
	for _, e := range req.Entrypoints {
		rel, err := manifest.RelPath(root, e)
		if err != nil {
			return nil, fmt.Errorf("entrypoint %q: %w", e, err)
		}
		if !seen[rel] {
			seen[rel] = true
			entrypoints = append(entrypoints, rel)
		}
	}

	include, err := manifest.NewMatcher(req.Include)
	if err != nil {
		return nil, fmt.Errorf("include: %w", err)
	}
	exclude, err := manifest.NewMatcher(req.Exclude)
	if err != nil {
		return nil, fmt.Errorf("exclude: %w", err)
	}

	outputDir := req.OutputDir
	switch outputDir {
	case "":
		outputDir = DefaultOutputDir
	case "-":
		outputDir = ""
	}
	if outputDir != "" {
		outputDir = manifest.Canonical(outputDir)
		if manifest.IsEscape(outputDir) {
			return nil, fmt.Errorf("output dir %q: %w", req.OutputDir, manifest.ErrPathTraversal)
		}
		// Escape metacharacters so a literal directory name is globbed as-is.
		outputDir = escapeGlob(outputDir)
	}

	return &normalizedRequest{
		projectRoot: root,
		workDir:     workDir,
		entrypoints: entrypoints,
		include:     include,
		exclude:     exclude,
		outputDir:   outputDir,
	}, nil
}

// escapeGlob backslash-escapes doublestar metacharacters in a literal path.
func escapeGlob(p string) string {
	var out []byte
	for i := 0; i < len(p); i++ {
		switch p[i] {
		case '*', '?', '[', ']', '{', '}', '\\':
			out = append(out, '\\')
		}
		out = append(out, p[i])
	}
	return string(out)
}
