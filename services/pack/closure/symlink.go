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
	"log/slog"
	"path/filepath"

	"github.com/AleutianAI/fnpack/services/pack/manifest"
	"github.com/AleutianAI/fnpack/services/pack/pathcache"
)

// augmentSymlinks adds the regular-file targets of reachable symlinks.
//
// Description:
//
//	Walks a sorted snapshot of the reachable set once. For each symlink
//	entry it follows exactly one level of indirection: the target the
//	filesystem recorded when the link was cached. A target is skipped when
//	it escapes the project root, is already reachable, is missing, loops,
//	or is not a regular file. Paths the trace listed but never read are
//	classified first so their symlink-ness is known.
//
// Outputs:
//
//	[]string - Targets added to reachable, in order.
//	error - Non-nil only for fatal I/O failures.
func (b *Builder) augmentSymlinks(ctx context.Context, cache *pathcache.Cache, reachable pathSet) ([]string, error) {
	ctx, span := startStageSpan(ctx, "symlinks", len(reachable))
	defer span.End()

	root := cache.Root()
	fsys := cache.FileSystem()
	var added []string

	for _, rel := range reachable.sorted() {
		entry, state := cache.Lookup(rel)
		if state == pathcache.Pending {
			var err error
			entry, _, err = cache.Classify(ctx, rel)
			if err != nil {
				span.RecordError(err)
				return nil, err
			}
		}
		if !entry.IsSymlink() {
			continue
		}

		linkAbs := manifest.AbsPath(root, rel)
		targetAbs := filepath.FromSlash(entry.Target)
		if !filepath.IsAbs(targetAbs) {
			targetAbs = filepath.Join(filepath.Dir(linkAbs), targetAbs)
		}

		targetRel, err := manifest.RelPath(root, targetAbs)
		if err != nil {
			b.logger.Debug("symlink target outside project root",
				slog.String("path", rel),
				slog.String("target", entry.Target),
			)
			continue
		}

		// Already-included targets are trusted as classified.
		if reachable.has(targetRel) {
			continue
		}

		info, err := fsys.Stat(targetAbs)
		if err != nil {
			if pathcache.IsDanglingTarget(err) {
				b.logger.Debug("dangling symlink",
					slog.String("path", rel),
					slog.String("target", entry.Target),
				)
				continue
			}
			perr := &manifest.PathError{Path: targetRel, Op: "stat", Err: err}
			span.RecordError(perr)
			return nil, perr
		}
		if !info.Mode().IsRegular() {
			continue
		}

		reachable.add(targetRel)
		added = append(added, targetRel)
	}

	recordSymlinkTargets(ctx, len(added))
	return added, nil
}
