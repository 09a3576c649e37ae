// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package nodetrace

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/AleutianAI/fnpack/services/pack/closure"
	"github.com/AleutianAI/fnpack/services/pack/manifest"
)

// DefaultExtensions are tried, in order, when a specifier has no exact
// file match.
var DefaultExtensions = []string{
	".js", ".json", ".node", ".mjs", ".cjs",
	".ts", ".tsx", ".mts", ".cts", ".jsx", ".wasm",
}

// exportConditions are the package "exports" conditions honored, in
// priority order.
var exportConditions = []string{"node", "require", "import", "default"}

// packageJSON holds the fields resolution reads.
type packageJSON struct {
	Main    string          `json:"main"`
	Exports json.RawMessage `json:"exports"`
}

// resolver implements Node.js module resolution for one trace.
//
// package.json files are read through the trace's read hook and every one
// consulted is recorded so the tracer can report it reachable.
type resolver struct {
	base       string
	realBase   string
	stat       func(name string) (fs.FileInfo, error)
	read       closure.ReadFunc
	ignore     closure.IgnoreFunc
	extensions []string
	logger     *slog.Logger

	mu       sync.Mutex
	packages map[string]*packageJSON // keyed by directory; nil value = none
	consumed map[string]struct{}     // package.json paths, relative to base
}

func newResolver(base string, hooks closure.TraceHooks, stat func(string) (fs.FileInfo, error), extensions []string, logger *slog.Logger) *resolver {
	realBase, err := filepath.EvalSymlinks(base)
	if err != nil {
		realBase = base
	}
	return &resolver{
		base:       base,
		realBase:   realBase,
		stat:       stat,
		read:       hooks.ReadFile,
		ignore:     hooks.Ignore,
		extensions: extensions,
		logger:     logger,
		packages:   make(map[string]*packageJSON),
		consumed:   make(map[string]struct{}),
	}
}

// resolve is the default resolution algorithm.
//
// Description:
//
//	Relative and absolute specifiers are resolved as a file (exact, then
//	with each extension) and then as a directory (package.json main, then
//	index). Bare specifiers are looked up in node_modules directories from
//	the importing file's directory up to the trace base, honoring the
//	package's "exports" map when present.
//
// Inputs:
//
//	ctx - Passed to the read hook.
//	id - Module specifier.
//	parent - Absolute path of the importing file.
//
// Outputs:
//
//	string - Absolute path of the resolved file.
//	error - ErrUnresolved, or a fatal read error.
func (r *resolver) resolve(ctx context.Context, id, parent string) (string, error) {
	if id == "" {
		return "", fmt.Errorf("%w: empty specifier", ErrUnresolved)
	}

	if isPathSpecifier(id) {
		p := filepath.FromSlash(id)
		if !filepath.IsAbs(p) {
			p = filepath.Join(filepath.Dir(parent), p)
		}
		if f, ok := r.resolveFile(p); ok {
			return f, nil
		}
		f, ok, err := r.resolveDirectory(ctx, p)
		if err != nil {
			return "", err
		}
		if ok {
			return f, nil
		}
		return "", fmt.Errorf("%w: %s", ErrUnresolved, id)
	}

	return r.resolvePackage(ctx, id, parent)
}

// realPath returns the location Node loads abs from, with every symlink
// resolved. Paths that stay inside the trace base are expressed under base
// and reported inRoot.
func (r *resolver) realPath(abs string) (real string, inRoot bool) {
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return abs, false
	}
	rel, err := filepath.Rel(r.realBase, resolved)
	if err != nil || manifest.IsEscape(rel) {
		return resolved, false
	}
	return filepath.Join(r.base, rel), true
}

func isPathSpecifier(id string) bool {
	return id == "." || id == ".." ||
		strings.HasPrefix(id, "./") || strings.HasPrefix(id, "../") ||
		strings.HasPrefix(id, "/")
}

func (r *resolver) isFile(p string) bool {
	info, err := r.stat(p)
	return err == nil && info.Mode().IsRegular()
}

func (r *resolver) isDir(p string) bool {
	info, err := r.stat(p)
	return err == nil && info.IsDir()
}

// resolveFile tries p exactly and then p plus each extension.
func (r *resolver) resolveFile(p string) (string, bool) {
	if r.isFile(p) {
		return p, true
	}
	for _, ext := range r.extensions {
		if r.isFile(p + ext) {
			return p + ext, true
		}
	}
	return "", false
}

// resolveIndex tries dir/index plus each extension.
func (r *resolver) resolveIndex(dir string) (string, bool) {
	for _, ext := range r.extensions {
		p := filepath.Join(dir, "index"+ext)
		if r.isFile(p) {
			return p, true
		}
	}
	return "", false
}

// resolveDirectory resolves a directory through package.json main or index.
func (r *resolver) resolveDirectory(ctx context.Context, dir string) (string, bool, error) {
	if !r.isDir(dir) {
		return "", false, nil
	}
	pkg, err := r.readPackage(ctx, dir)
	if err != nil {
		return "", false, err
	}
	if pkg != nil && pkg.Main != "" {
		main := filepath.Join(dir, filepath.FromSlash(pkg.Main))
		if f, ok := r.resolveFile(main); ok {
			return f, true, nil
		}
		if f, ok := r.resolveIndex(main); ok {
			return f, true, nil
		}
	}
	f, ok := r.resolveIndex(dir)
	return f, ok, nil
}

// resolvePackage walks node_modules directories upward from parent.
func (r *resolver) resolvePackage(ctx context.Context, id, parent string) (string, error) {
	name, sub := splitPackageSpecifier(id)
	if name == "" {
		return "", fmt.Errorf("%w: invalid package specifier %q", ErrUnresolved, id)
	}

	dir := filepath.Dir(parent)
	for {
		candidate := filepath.Join(dir, "node_modules", filepath.FromSlash(name))
		if r.isDir(candidate) {
			f, ok, err := r.resolveInPackage(ctx, candidate, sub)
			if err != nil {
				return "", err
			}
			if ok {
				return f, nil
			}
		}

		if dir == r.base {
			break
		}
		next := filepath.Dir(dir)
		if next == dir {
			break
		}
		if _, err := manifest.RelPath(r.base, next); err != nil {
			break
		}
		dir = next
	}
	return "", fmt.Errorf("%w: %s", ErrUnresolved, id)
}

// resolveInPackage resolves a subpath ("" for the package itself) inside an
// installed package directory.
func (r *resolver) resolveInPackage(ctx context.Context, pkgDir, sub string) (string, bool, error) {
	pkg, err := r.readPackage(ctx, pkgDir)
	if err != nil {
		return "", false, err
	}

	if pkg != nil && len(pkg.Exports) > 0 {
		subpath := "."
		if sub != "" {
			subpath = "./" + sub
		}
		if target, ok := exportTarget(pkg.Exports, subpath); ok {
			if f, ok := r.resolveFile(filepath.Join(pkgDir, filepath.FromSlash(target))); ok {
				return f, true, nil
			}
		}
	}

	if sub != "" {
		p := filepath.Join(pkgDir, filepath.FromSlash(sub))
		if f, ok := r.resolveFile(p); ok {
			return f, true, nil
		}
		return r.resolveDirectory(ctx, p)
	}
	return r.resolveDirectory(ctx, pkgDir)
}

// readPackage reads and memoizes dir/package.json through the read hook.
// A missing, ignored or malformed manifest yields nil without error.
func (r *resolver) readPackage(ctx context.Context, dir string) (*packageJSON, error) {
	r.mu.Lock()
	pkg, ok := r.packages[dir]
	r.mu.Unlock()
	if ok {
		return pkg, nil
	}

	path := filepath.Join(dir, "package.json")
	rel, relErr := filepath.Rel(r.base, path)
	rel = filepath.ToSlash(rel)
	if relErr != nil || manifest.IsEscape(rel) || (r.ignore != nil && r.ignore(rel)) {
		r.store(dir, nil, "")
		return nil, nil
	}

	data, found, err := r.read(ctx, path)
	if err != nil {
		return nil, err
	}
	if !found {
		r.store(dir, nil, "")
		return nil, nil
	}

	pkg = &packageJSON{}
	if err := json.Unmarshal(data, pkg); err != nil {
		r.logger.Debug("ignoring malformed package.json",
			slog.String("path", rel),
			slog.String("error", err.Error()),
		)
		pkg = nil
	}
	r.store(dir, pkg, rel)
	return pkg, nil
}

func (r *resolver) store(dir string, pkg *packageJSON, consumedRel string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.packages[dir]; !ok {
		r.packages[dir] = pkg
	}
	if consumedRel != "" {
		r.consumed[consumedRel] = struct{}{}
	}
}

// packageFiles returns the package.json files consulted, relative to base.
func (r *resolver) packageFiles() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.consumed))
	for p := range r.consumed {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// splitPackageSpecifier splits "@scope/name/sub/path" into
// ("@scope/name", "sub/path") and "name/sub" into ("name", "sub").
func splitPackageSpecifier(id string) (name, sub string) {
	parts := strings.Split(id, "/")
	n := 1
	if strings.HasPrefix(id, "@") {
		if len(parts) < 2 || parts[1] == "" {
			return "", ""
		}
		n = 2
	}
	if parts[0] == "" {
		return "", ""
	}
	return strings.Join(parts[:n], "/"), strings.Join(parts[n:], "/")
}

// exportTarget resolves subpath ("." or "./x") against a package.json
// "exports" value.
func exportTarget(raw json.RawMessage, subpath string) (string, bool) {
	var exports any
	if err := json.Unmarshal(raw, &exports); err != nil {
		return "", false
	}

	m, isMap := exports.(map[string]any)
	if !isMap || !hasSubpathKeys(m) {
		// Sugar form: the whole value describes ".".
		if subpath != "." {
			return "", false
		}
		return conditionTarget(exports)
	}

	if v, ok := m[subpath]; ok {
		return conditionTarget(v)
	}

	// Subpath patterns: "./features/*": "./src/features/*.js". The longest
	// matching prefix wins.
	keys := make([]string, 0, len(m))
	for k := range m {
		if strings.Count(k, "*") == 1 {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })
	for _, k := range keys {
		prefix, suffix, _ := strings.Cut(k, "*")
		if len(subpath) < len(prefix)+len(suffix) ||
			!strings.HasPrefix(subpath, prefix) || !strings.HasSuffix(subpath, suffix) {
			continue
		}
		star := subpath[len(prefix) : len(subpath)-len(suffix)]
		if target, ok := conditionTarget(m[k]); ok {
			return strings.ReplaceAll(target, "*", star), true
		}
	}
	return "", false
}

func hasSubpathKeys(m map[string]any) bool {
	for k := range m {
		if strings.HasPrefix(k, ".") {
			return true
		}
	}
	return false
}

// conditionTarget picks a target string from a string, a fallback array or
// a conditions object.
func conditionTarget(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case []any:
		for _, item := range t {
			if target, ok := conditionTarget(item); ok {
				return target, true
			}
		}
	case map[string]any:
		for _, cond := range exportConditions {
			if next, ok := t[cond]; ok {
				if target, ok := conditionTarget(next); ok {
					return target, true
				}
			}
		}
	}
	return "", false
}
