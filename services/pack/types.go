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
	"github.com/AleutianAI/fnpack/services/pack/closure"
	"github.com/AleutianAI/fnpack/services/pack/manifest"
)

// ServiceVersion is reported by the health endpoint.
const ServiceVersion = "0.1.0"

// BuildRequest is the body of POST /v1/pack/build.
type BuildRequest struct {
	// WorkDir is the absolute directory holding fnpack.yaml. Required.
	WorkDir string `json:"work_dir" binding:"required"`

	// ProjectRoot is the absolute directory manifest keys are relative to.
	// Defaults to the nearest ancestor of WorkDir holding .git.
	ProjectRoot string `json:"project_root,omitempty"`

	// Entrypoints replace the configured entrypoints. Relative to WorkDir.
	Entrypoints []string `json:"entrypoints,omitempty"`

	// Include replaces the configured includeFiles.
	Include []string `json:"include,omitempty"`

	// Exclude replaces the configured excludeFiles.
	Exclude []string `json:"exclude,omitempty"`

	// OutputDir replaces the configured outputDir. "-" disables it.
	OutputDir string `json:"output_dir,omitempty"`

	// SkipStore builds without persisting a record.
	SkipStore bool `json:"skip_store,omitempty"`
}

// FunctionOutput describes the deployable function produced by a build.
type FunctionOutput struct {
	// Handler is the function's main file relative to the project root.
	Handler string `json:"handler"`

	// AWSLambdaHandler is the Lambda handler name, if one applies.
	AWSLambdaHandler string `json:"aws_lambda_handler,omitempty"`

	// ShouldAddHelpers enables the runtime request helpers.
	ShouldAddHelpers bool `json:"should_add_helpers"`

	// SupportsResponseStreaming marks a streaming function.
	SupportsResponseStreaming bool `json:"supports_response_streaming,omitempty"`
}

// BuildResponse is a completed build.
type BuildResponse struct {
	ID          string                `json:"id"`
	ProjectRoot string                `json:"project_root"`
	WorkDir     string                `json:"work_dir"`
	Output      FunctionOutput        `json:"output"`
	Files       []manifest.FileRecord `json:"files"`
	Warnings    []string              `json:"warnings"`
	Stats       closure.Stats         `json:"stats"`
	Stored      bool                  `json:"stored"`

	// Manifest holds file content for in-process callers. Not serialized.
	Manifest *manifest.Manifest `json:"-"`
}

// CacheFilesResponse lists installed dependency files.
type CacheFilesResponse struct {
	ProjectRoot string   `json:"project_root"`
	Files       []string `json:"files"`
}

// HealthResponse is returned by GET /v1/pack/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Store   bool   `json:"store"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is a stable machine-readable error code.
	Code string `json:"code,omitempty"`
}
