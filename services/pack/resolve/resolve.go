// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resolve adapts module ids before they reach the trace primitive's
// own resolver.
package resolve

import (
	"context"
	"strings"
)

// WasmModuleSuffix is the import qualifier that marks a WebAssembly module
// import, as in `import wasm from "./add.wasm?module"`.
const WasmModuleSuffix = "?module"

// DefaultFunc is a trace primitive's built-in module resolution.
//
// It resolves id as imported from the file at parent (absolute) and returns
// the absolute path of the resolved file.
type DefaultFunc func(ctx context.Context, id, parent string) (string, error)

// Hook normalizes id and delegates to next.
//
// Description:
//
//	The only transformation is stripping WasmModuleSuffix so the default
//	resolver can find the physical .wasm file. Every other id is passed
//	through untouched. Hook keeps no state; resolution caching belongs to
//	the primitive.
//
// Inputs:
//
//	ctx - Passed through to next.
//	id - Module id as written in the importing file.
//	parent - Absolute path of the importing file.
//	next - The primitive's default resolver. Must not be nil.
//
// Outputs:
//
//	string - Whatever next returns.
//	error - Whatever next returns.
func Hook(ctx context.Context, id, parent string, next DefaultFunc) (string, error) {
	return next(ctx, Normalize(id), parent)
}

// Normalize returns id with a trailing WasmModuleSuffix removed.
func Normalize(id string) string {
	return strings.TrimSuffix(id, WasmModuleSuffix)
}
