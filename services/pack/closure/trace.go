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
	"fmt"
	"log/slog"
	"sort"

	"github.com/AleutianAI/fnpack/services/pack/manifest"
	"github.com/AleutianAI/fnpack/services/pack/pathcache"
	"github.com/AleutianAI/fnpack/services/pack/resolve"
)

// pathSet is a set of canonical relative paths.
type pathSet map[string]struct{}

func (s pathSet) add(rel string) {
	s[rel] = struct{}{}
}

func (s pathSet) has(rel string) bool {
	_, ok := s[rel]
	return ok
}

// sorted returns the members in lexical order.
func (s pathSet) sorted() []string {
	out := make([]string, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// traceResult is the reachable set and warnings of one trace.
type traceResult struct {
	reachable pathSet
	warnings  []string
}

// invokeTrace runs the tracer with the cache's read function, the
// resolution adapter and the exclude matcher as ignore.
//
// Description:
//
//	Entrypoints are always part of the reachable set. Paths the tracer
//	reports outside the project root are dropped. Warnings are logged and
//	returned; they never fail the build. Any error returned by the tracer
//	is fatal.
func (b *Builder) invokeTrace(ctx context.Context, cache *pathcache.Cache, req *normalizedRequest) (*traceResult, error) {
	ctx, span := startStageSpan(ctx, "trace", len(req.entrypoints))
	defer span.End()

	hooks := TraceHooks{
		Base:     req.projectRoot,
		Resolve:  resolve.Hook,
		ReadFile: cache.Read,
		Ignore:   req.exclude.Match,
	}

	out, err := b.tracer.Trace(ctx, req.entrypoints, hooks)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %w", ErrTraceFailed, err)
	}

	result := &traceResult{reachable: make(pathSet)}
	for _, entry := range req.entrypoints {
		result.reachable.add(entry)
	}
	if out == nil {
		return result, nil
	}

	for _, p := range out.FileList {
		rel := manifest.Canonical(p)
		if manifest.IsEscape(rel) {
			b.logger.Debug("dropping traced path outside project root",
				slog.String("path", p),
				slog.String("project_root", req.projectRoot),
			)
			continue
		}
		result.reachable.add(rel)
	}

	result.warnings = append(result.warnings, out.Warnings...)
	for _, w := range result.warnings {
		b.logger.Warn("trace warning", slog.String("warning", w))
	}

	return result, nil
}
