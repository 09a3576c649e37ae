// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package closure

import "errors"

var (
	// ErrNilContext is returned when a nil context is passed to Build.
	ErrNilContext = errors.New("context must not be nil")

	// ErrNoTracer is returned when the builder has no trace primitive.
	ErrNoTracer = errors.New("no tracer configured")

	// ErrNoEntrypoints is returned when a request names no entrypoint.
	ErrNoEntrypoints = errors.New("at least one entrypoint is required")

	// ErrTraceFailed wraps a fatal error returned by the trace primitive.
	ErrTraceFailed = errors.New("trace failed")
)
