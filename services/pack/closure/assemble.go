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
	"time"

	"github.com/AleutianAI/fnpack/services/pack/manifest"
	"github.com/AleutianAI/fnpack/services/pack/pathcache"
	"golang.org/x/sync/errgroup"
)

// assemble builds the final manifest.
//
// Description:
//
//	Reachable paths are already canonical, so each logical file is read at
//	most once. Entries the cache holds are reused; the rest are classified
//	in parallel. Not-found paths are omitted. Include matches then replace
//	traced entries, and output-directory files are merged last.
//
// Outputs:
//
//	*manifest.Manifest - Complete manifest, or nil on error.
//	error - Fatal I/O failure.
func (b *Builder) assemble(ctx context.Context, cache *pathcache.Cache, reachable pathSet, includes, outputs entrySet) (*manifest.Manifest, error) {
	ctx, span := startStageSpan(ctx, "assemble", len(reachable))
	defer span.End()

	paths := reachable.sorted()
	entries := make([]*manifest.FileEntry, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for i, rel := range paths {
		entry, state := cache.Lookup(rel)
		switch state {
		case pathcache.Found:
			entries[i] = entry
			continue
		case pathcache.NotFound:
			continue
		}
		g.Go(func() error {
			e, _, err := cache.Classify(gctx, rel)
			if err != nil {
				return err
			}
			entries[i] = e
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	m := manifest.NewManifest(cache.Root())
	for i, rel := range paths {
		if entries[i] != nil {
			m.Files[rel] = entries[i]
		}
	}
	for rel, e := range includes {
		m.Files[rel] = e
	}
	for rel, e := range outputs {
		m.Files[rel] = e
	}
	m.CreatedAtMilli = time.Now().UnixMilli()

	return m, nil
}
