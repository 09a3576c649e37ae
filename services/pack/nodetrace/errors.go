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

import "errors"

var (
	// ErrInvalidContent is returned by Scan for content that is not UTF-8.
	ErrInvalidContent = errors.New("invalid source content")

	// ErrUnresolved is returned by the default resolver when a specifier
	// matches no file.
	ErrUnresolved = errors.New("module not found")

	// ErrNoReadHook is returned when Trace is called without a ReadFile hook.
	ErrNoReadHook = errors.New("trace hooks must provide ReadFile")
)
