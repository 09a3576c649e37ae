// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package bundle turns a manifest into a deployable zip archive and into
// the file summaries persisted with build records.
package bundle

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/AleutianAI/fnpack/services/pack/manifest"
)

// ErrNilManifest is returned when no manifest is given.
var ErrNilManifest = errors.New("manifest must not be nil")

// epoch is the modification time used when the manifest has none. The zip
// format cannot represent times before 1980.
var epoch = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)

// Write emits m as a zip archive.
//
// Description:
//
//	Entries are written in sorted path order with the manifest's creation
//	time, so equal manifests produce identical archives. Content entries
//	are deflated and keep their permission bits. Symlink entries are stored
//	uncompressed as zip symlinks whose body is the link target.
//
// Inputs:
//
//	w - Destination. Not closed.
//	m - Manifest to archive.
//
// Outputs:
//
//	error - ErrNilManifest or a write failure.
func Write(w io.Writer, m *manifest.Manifest) error {
	if m == nil {
		return ErrNilManifest
	}

	modified := epoch
	if m.CreatedAtMilli > 0 {
		modified = time.UnixMilli(m.CreatedAtMilli).UTC()
	}

	zw := zip.NewWriter(w)
	for _, p := range m.Paths() {
		entry := m.Files[p]
		hdr := &zip.FileHeader{
			Name:     p,
			Modified: modified,
			Method:   zip.Deflate,
		}

		body := entry.Content
		if entry.IsSymlink() {
			hdr.Method = zip.Store
			hdr.SetMode(fs.ModeSymlink | 0o777)
			body = []byte(entry.Target)
		} else {
			hdr.SetMode(entry.Mode.Perm())
		}

		fw, err := zw.CreateHeader(hdr)
		if err != nil {
			return fmt.Errorf("create zip entry %s: %w", p, err)
		}
		if _, err := fw.Write(body); err != nil {
			return fmt.Errorf("write zip entry %s: %w", p, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finish zip: %w", err)
	}
	return nil
}

// Summarize returns one record per manifest entry in sorted path order.
// Content entries carry the SHA-256 of their bytes.
func Summarize(m *manifest.Manifest) []manifest.FileRecord {
	if m == nil {
		return nil
	}
	records := make([]manifest.FileRecord, 0, m.Len())
	for _, p := range m.Paths() {
		entry := m.Files[p]
		rec := manifest.FileRecord{
			Path: p,
			Kind: entry.Kind,
			Mode: uint32(entry.Mode),
			Size: entry.Size(),
		}
		if entry.IsSymlink() {
			rec.Target = entry.Target
		} else {
			sum := sha256.Sum256(entry.Content)
			rec.SHA256 = hex.EncodeToString(sum[:])
		}
		records = append(records, rec)
	}
	return records
}
