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
	"encoding/json"
	"fmt"
	"io/fs"
	"sort"
)

// FileKind distinguishes embedded content from symbolic link references.
type FileKind int

const (
	// KindContent is an ordinary readable file whose bytes are embedded.
	KindContent FileKind = iota

	// KindSymlink is a symbolic link. Only the link target is recorded; the
	// consumer resolves it at use time.
	KindSymlink
)

// String returns "content", "symlink" or "unknown".
func (k FileKind) String() string {
	switch k {
	case KindContent:
		return "content"
	case KindSymlink:
		return "symlink"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the kind as its string name.
func (k FileKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON decodes a kind from its string name.
func (k *FileKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "content":
		*k = KindContent
	case "symlink":
		*k = KindSymlink
	default:
		return fmt.Errorf("unknown file kind %q", s)
	}
	return nil
}

// FileEntry is a single manifest entry.
//
// # Description
//
// FileEntry is a tagged variant keyed on Kind. For KindContent, Content holds
// the file bytes. For KindSymlink, Target holds the link target exactly as
// the filesystem recorded it (relative targets stay relative to the link's
// directory). Mode carries the permission bits and, for symlinks,
// fs.ModeSymlink.
//
// # Thread Safety
//
// Entries are shared between the path cache and the manifest and must not
// be mutated after construction.
type FileEntry struct {
	Kind    FileKind    `json:"kind"`
	Mode    fs.FileMode `json:"mode"`
	Content []byte      `json:"content,omitempty"`
	Target  string      `json:"target,omitempty"`
}

// NewContentEntry creates a content entry. Type bits other than the
// permission bits are dropped from mode.
func NewContentEntry(content []byte, mode fs.FileMode) *FileEntry {
	return &FileEntry{
		Kind:    KindContent,
		Mode:    mode.Perm(),
		Content: content,
	}
}

// NewSymlinkEntry creates a symlink reference entry.
func NewSymlinkEntry(target string, mode fs.FileMode) *FileEntry {
	return &FileEntry{
		Kind:   KindSymlink,
		Mode:   mode.Perm() | fs.ModeSymlink,
		Target: target,
	}
}

// IsSymlink reports whether the entry is a symlink reference.
func (e *FileEntry) IsSymlink() bool {
	return e != nil && e.Kind == KindSymlink
}

// Size returns the embedded byte count, or the target length for symlinks.
func (e *FileEntry) Size() int64 {
	if e == nil {
		return 0
	}
	if e.Kind == KindSymlink {
		return int64(len(e.Target))
	}
	return int64(len(e.Content))
}

// Manifest maps canonical relative paths to file entries.
//
// # Fields
//
//   - ProjectRoot: Absolute directory every key is relative to.
//   - Files: Entries keyed by slash-separated relative path.
//   - CreatedAtMilli: Unix milliseconds when the manifest was assembled.
type Manifest struct {
	ProjectRoot    string                `json:"project_root"`
	Files          map[string]*FileEntry `json:"files"`
	CreatedAtMilli int64                 `json:"created_at_milli"`
}

// NewManifest creates an empty manifest rooted at projectRoot.
func NewManifest(projectRoot string) *Manifest {
	return &Manifest{
		ProjectRoot: projectRoot,
		Files:       make(map[string]*FileEntry),
	}
}

// Get returns the entry for a relative path in any spelling.
func (m *Manifest) Get(relPath string) (*FileEntry, bool) {
	e, ok := m.Files[Canonical(relPath)]
	return e, ok
}

// Len returns the number of entries.
func (m *Manifest) Len() int {
	return len(m.Files)
}

// Paths returns all keys in sorted order.
func (m *Manifest) Paths() []string {
	paths := make([]string, 0, len(m.Files))
	for p := range m.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// TotalSize returns the sum of all entry sizes.
func (m *Manifest) TotalSize() int64 {
	var total int64
	for _, e := range m.Files {
		total += e.Size()
	}
	return total
}
