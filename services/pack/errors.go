// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pack

import (
	"errors"

	"github.com/AleutianAI/fnpack/services/pack/closure"
	"github.com/AleutianAI/fnpack/services/pack/config"
	"github.com/AleutianAI/fnpack/services/pack/manifest"
)

// Sentinel errors for the pack service.
var (
	// ErrInvalidRequest indicates a malformed build request.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrRelativePath indicates a work dir or project root was not absolute.
	ErrRelativePath = errors.New("path must be absolute")

	// ErrStoreDisabled indicates a build record operation without a store.
	ErrStoreDisabled = errors.New("artifact store not configured")
)

// isValidationError reports errors caused by the caller's input rather than
// the filesystem or the store.
func isValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrRelativePath) ||
		errors.Is(err, config.ErrInvalidConfig) ||
		errors.Is(err, closure.ErrNoEntrypoints) ||
		errors.Is(err, manifest.ErrInvalidRoot) ||
		errors.Is(err, manifest.ErrPathTraversal) ||
		errors.Is(err, manifest.ErrInvalidPattern)
}
