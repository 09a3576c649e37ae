// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command fnpack packages a server-side Node.js function.
//
// It traces the function's entrypoints to the exact set of files needed at
// runtime, merges configured includes and the build output directory, and
// writes the result as a zip bundle or a JSON manifest summary.
//
// Usage:
//
//	fnpack build --work-dir ./api --zip api.zip
//	fnpack build dist/main.js --exclude '**/*.map' --json
//	fnpack watch --work-dir ./api
//	fnpack serve --port 8080 --store ~/.fnpack/store
//	fnpack builds list --store ~/.fnpack/store
//	fnpack cache-files --root .
//
// Every persistent flag can also be set through the environment with the
// FNPACK_ prefix, e.g. FNPACK_LOG_LEVEL=debug or FNPACK_STORE=/var/fnpack.
package main

import "os"

func main() {
	os.Exit(execute(newRootCmd()))
}
