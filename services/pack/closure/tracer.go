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

	"github.com/AleutianAI/fnpack/services/pack/resolve"
)

// ResolveFunc is a primitive's default module resolution. See resolve.DefaultFunc.
type ResolveFunc = resolve.DefaultFunc

// ResolveHook intercepts module resolution. It receives the primitive's
// default resolver as next and decides whether and how to call it.
type ResolveHook func(ctx context.Context, id, parent string, next ResolveFunc) (string, error)

// ReadFunc returns the content the traversal should analyze for an absolute
// path. found is false for expected absences; err is reserved for fatal
// failures and must abort the traversal.
type ReadFunc func(ctx context.Context, absPath string) (data []byte, found bool, err error)

// IgnoreFunc reports whether a path relative to Base must be skipped
// without being opened.
type IgnoreFunc func(relPath string) bool

// TraceHooks configures a Tracer for one build.
type TraceHooks struct {
	// Base is the absolute directory reachable paths are reported against.
	Base string

	// Resolve, if set, is consulted for every module id instead of calling
	// the default resolver directly.
	Resolve ResolveHook

	// ReadFile is the only way the tracer may read file content.
	ReadFile ReadFunc

	// Ignore, if set, prunes paths before they are read.
	Ignore IgnoreFunc
}

// TraceOutput is what a Tracer returns.
type TraceOutput struct {
	// FileList holds every reachable path, relative to Base.
	FileList []string

	// Warnings are non-fatal diagnostics in the order they were produced.
	Warnings []string
}

// Tracer is the opaque closure-traversal primitive.
//
// Given entrypoints relative to hooks.Base, it returns every file that
// could be loaded at runtime. The result must be a pure function of the
// entrypoints, the resolve behavior and the content ReadFile serves.
//
// Implementations must propagate errors from ReadFile and must never turn
// an unresolvable reference into an error; those become warnings.
type Tracer interface {
	Trace(ctx context.Context, entries []string, hooks TraceHooks) (*TraceOutput, error)
}

// TracerFunc adapts a function to the Tracer interface.
type TracerFunc func(ctx context.Context, entries []string, hooks TraceHooks) (*TraceOutput, error)

// Trace implements Tracer.
func (f TracerFunc) Trace(ctx context.Context, entries []string, hooks TraceHooks) (*TraceOutput, error) {
	return f(ctx, entries, hooks)
}
