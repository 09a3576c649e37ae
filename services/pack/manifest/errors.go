// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package manifest defines the deployable file manifest produced by the
// closure builder: file entries, the relative-path rules every key obeys,
// and the glob matcher used for include and exclude patterns.
//
// # Design Principles
//
// Every manifest key is a slash-separated path relative to the project root
// that never escapes it. Symlinks are recorded as references, never
// followed into embedded content.
//
// # Thread Safety
//
// FileEntry values are immutable once constructed. A Manifest is owned by
// whoever receives it and is NOT safe for concurrent modification.
package manifest

import (
	"errors"
	"fmt"
)

// Sentinel errors for manifest operations.
var (
	// ErrPathTraversal is returned when a path escapes the project root.
	ErrPathTraversal = errors.New("path escapes project root")

	// ErrInvalidRoot is returned when the project root path is invalid.
	ErrInvalidRoot = errors.New("invalid project root")

	// ErrInvalidPattern is returned when an include or exclude glob is malformed.
	ErrInvalidPattern = errors.New("invalid glob pattern")

	// ErrIO is returned for filesystem failures other than not-found and
	// is-a-directory. It always aborts the build.
	ErrIO = errors.New("filesystem failure")
)

// PathError records the path and operation behind a fatal filesystem failure.
type PathError struct {
	// Path is the path relative to the project root.
	Path string `json:"path"`

	// Op is the filesystem operation that failed (lstat, stat, read, readlink).
	Op string `json:"op"`

	// Err is the underlying error.
	Err error `json:"error"`
}

// Error implements the error interface.
func (e *PathError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying errors for errors.Is/As support.
//
// ErrIO is always part of the chain so callers can classify any PathError
// as fatal without inspecting the OS error.
func (e *PathError) Unwrap() []error {
	return []error{ErrIO, e.Err}
}
