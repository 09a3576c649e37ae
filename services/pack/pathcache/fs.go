// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pathcache

import (
	"errors"
	"io/fs"
	"os"
	"syscall"
)

// FileSystem is the set of filesystem calls the closure builder makes.
//
// All paths are absolute. Implementations must return errors that satisfy
// errors.Is(err, fs.ErrNotExist) for missing paths.
type FileSystem interface {
	Lstat(name string) (fs.FileInfo, error)
	Stat(name string) (fs.FileInfo, error)
	ReadFile(name string) ([]byte, error)
	Readlink(name string) (string, error)
}

// OSFileSystem is the FileSystem backed by package os.
type OSFileSystem struct{}

// Lstat implements FileSystem.
func (OSFileSystem) Lstat(name string) (fs.FileInfo, error) { return os.Lstat(name) }

// Stat implements FileSystem.
func (OSFileSystem) Stat(name string) (fs.FileInfo, error) { return os.Stat(name) }

// ReadFile implements FileSystem.
func (OSFileSystem) ReadFile(name string) ([]byte, error) { return os.ReadFile(name) }

// Readlink implements FileSystem.
func (OSFileSystem) Readlink(name string) (string, error) { return os.Readlink(name) }

var _ FileSystem = OSFileSystem{}

// IsExpectedAbsence reports whether err means "nothing readable here":
// the path does not exist or names a directory.
//
// Every other error is a genuine I/O failure.
func IsExpectedAbsence(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.EISDIR)
}

// IsDanglingTarget reports whether err, returned while following a
// symlink, means the link leads nowhere usable. Besides the expected
// absences this covers link loops and targets that pass through a regular
// file.
func IsDanglingTarget(err error) bool {
	return IsExpectedAbsence(err) ||
		errors.Is(err, syscall.ELOOP) ||
		errors.Is(err, syscall.ENOTDIR)
}
