// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package closure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sync"

	"github.com/AleutianAI/fnpack/services/pack/manifest"
	"github.com/AleutianAI/fnpack/services/pack/pathcache"
	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"
)

// entrySet maps canonical relative paths to entries.
type entrySet map[string]*manifest.FileEntry

// expandPatterns globs every pattern against workDir in parallel and
// classifies the matches through the cache.
//
// Description:
//
//	Matches are keyed relative to the project root, not workDir. A pattern
//	with no matches contributes nothing. Directories never match. Matches
//	that turn out to be not found between glob and classify are dropped.
//
//	Directory listing goes through the OS, not the cache's FileSystem;
//	only classification of each match is read through the cache. Symlinked
//	directories are not descended, so a link is packaged as a reference
//	and never exposes files from outside the root under an in-root key.
//
// Inputs:
//
//	ctx - Context for the errgroup.
//	cache - The build's path cache.
//	workDir - Absolute directory patterns are evaluated against.
//	patterns - Validated doublestar patterns.
//
// Outputs:
//
//	entrySet - Matched entries.
//	error - Fatal I/O failure or malformed pattern.
func (b *Builder) expandPatterns(ctx context.Context, cache *pathcache.Cache, workDir string, patterns []string) (entrySet, error) {
	if len(patterns) == 0 {
		return entrySet{}, nil
	}

	var (
		mu  sync.Mutex
		out = make(entrySet)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	fsys := os.DirFS(workDir)

	for _, pattern := range patterns {
		g.Go(func() error {
			matches, err := doublestar.Glob(fsys, pattern,
				doublestar.WithFilesOnly(),
				doublestar.WithFailOnIOErrors(),
				doublestar.WithNoFollow(),
			)
			if err != nil {
				if errors.Is(err, doublestar.ErrBadPattern) {
					return fmt.Errorf("%w: %q", manifest.ErrInvalidPattern, pattern)
				}
				return &manifest.PathError{Path: pattern, Op: "glob", Err: err}
			}
			if len(matches) == 0 {
				b.logger.Debug("include pattern matched nothing", slog.String("pattern", pattern))
			}

			for _, match := range matches {
				rel, err := manifest.RelPath(cache.Root(), filepath.Join(workDir, filepath.FromSlash(match)))
				if err != nil {
					continue
				}
				entry, found, err := cache.Classify(gctx, rel)
				if err != nil {
					return err
				}
				if !found {
					continue
				}
				mu.Lock()
				out[rel] = entry
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// expandIncludes materializes the user's include patterns.
func (b *Builder) expandIncludes(ctx context.Context, cache *pathcache.Cache, req *normalizedRequest) (entrySet, error) {
	ctx, span := startStageSpan(ctx, "include", len(req.include.Patterns()))
	defer span.End()

	entries, err := b.expandPatterns(ctx, cache, req.workDir, req.include.Patterns())
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return entries, nil
}

// expandOutputDir materializes every file under the build output
// directory. Exclude patterns never apply here.
func (b *Builder) expandOutputDir(ctx context.Context, cache *pathcache.Cache, req *normalizedRequest) (entrySet, error) {
	if req.outputDir == "" {
		return entrySet{}, nil
	}
	ctx, span := startStageSpan(ctx, "output_dir", 1)
	defer span.End()

	pattern := path.Join(req.outputDir, "**", "*")
	entries, err := b.expandPatterns(ctx, cache, req.workDir, []string{pattern})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return entries, nil
}
