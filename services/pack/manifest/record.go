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

// FileRecord describes one manifest entry without its content. It is what
// build records persist.
type FileRecord struct {
	Path   string   `json:"path"`
	Kind   FileKind `json:"kind"`
	Mode   uint32   `json:"mode"`
	Size   int64    `json:"size"`
	SHA256 string   `json:"sha256,omitempty"`
	Target string   `json:"target,omitempty"`
}
