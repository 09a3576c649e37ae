// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package manifest

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// Canonical returns the single spelling used for a relative path: slash
// separated, cleaned, with no leading "./".
//
// Two spellings of the same logical file ("a/./b.js", "a//b.js", "a/b.js")
// map to the same key.
func Canonical(relPath string) string {
	return path.Clean(filepath.ToSlash(relPath))
}

// IsEscape reports whether a canonical relative path leaves its root.
func IsEscape(relPath string) bool {
	rel := Canonical(relPath)
	return rel == ".." || strings.HasPrefix(rel, "../") || path.IsAbs(rel)
}

// RelPath computes the canonical path of absPath relative to projectRoot.
//
// Description:
//
//	Cleans absPath (joining it onto projectRoot if it is relative) and
//	makes it relative to projectRoot. The root itself yields ".".
//
// Inputs:
//
//	projectRoot - Absolute, clean project root.
//	absPath - Path to convert. Relative paths are taken as root-relative.
//
// Outputs:
//
//	string - Canonical relative path.
//	error - ErrPathTraversal if the path resolves outside projectRoot.
func RelPath(projectRoot, absPath string) (string, error) {
	if !filepath.IsAbs(absPath) {
		absPath = filepath.Join(projectRoot, absPath)
	}
	rel, err := filepath.Rel(projectRoot, filepath.Clean(absPath))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPathTraversal, err)
	}
	rel = Canonical(rel)
	if IsEscape(rel) {
		return "", fmt.Errorf("%w: %s escapes root", ErrPathTraversal, absPath)
	}
	return rel, nil
}

// AbsPath joins a canonical relative path back onto projectRoot.
func AbsPath(projectRoot, relPath string) string {
	return filepath.Join(projectRoot, filepath.FromSlash(relPath))
}
