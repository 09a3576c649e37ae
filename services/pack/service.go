// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pack is the fnpack build service.
//
// It turns a work directory holding fnpack.yaml into a function manifest:
// configuration is loaded, the closure builder traces the entrypoints with
// the Node.js tracer, the function output is described, and a build record
// is persisted when an artifact store is attached. The same Service backs
// the CLI and the HTTP API registered by RegisterRoutes.
package pack

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"

	"github.com/AleutianAI/fnpack/services/pack/bundle"
	"github.com/AleutianAI/fnpack/services/pack/closure"
	"github.com/AleutianAI/fnpack/services/pack/config"
	"github.com/AleutianAI/fnpack/services/pack/manifest"
	"github.com/AleutianAI/fnpack/services/pack/nodetrace"
	"github.com/AleutianAI/fnpack/services/pack/pathcache"
	"github.com/AleutianAI/fnpack/services/pack/storage/badger"
)

// cachePattern selects installed dependency files.
const cachePattern = "**/node_modules/**"

// ServiceConfig configures the Service.
type ServiceConfig struct {
	// MaxBuildDuration bounds one build. Zero means no limit.
	// Default: 2m
	MaxBuildDuration time.Duration

	// Concurrency bounds parallel glob expansion and reads per build.
	// Default: closure.DefaultConcurrency
	Concurrency int

	// TraceConcurrency bounds parallel source scans per trace level.
	// Default: nodetrace.DefaultConcurrency
	TraceConcurrency int

	// MaxScanSize is the largest source file parsed for imports.
	// Default: nodetrace.DefaultMaxScanSize
	MaxScanSize int

	// AllowedRoots restricts project roots to these prefixes. Empty allows
	// any root.
	AllowedRoots []string
}

// DefaultServiceConfig returns the production defaults.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		MaxBuildDuration: 2 * time.Minute,
		Concurrency:      closure.DefaultConcurrency,
		TraceConcurrency: nodetrace.DefaultConcurrency,
		MaxScanSize:      nodetrace.DefaultMaxScanSize,
	}
}

// Service runs builds and serves build records.
//
// Thread Safety:
//
//	Service is safe for concurrent use. Every build gets its own path
//	cache, so concurrent builds share nothing but the store.
type Service struct {
	config  ServiceConfig
	builder *closure.Builder
	store   *badger.ArtifactStore
	fsys    pathcache.FileSystem
	logger  *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithStore attaches an artifact store. Without one builds are not
// persisted and record lookups fail with ErrStoreDisabled.
func WithStore(store *badger.ArtifactStore) ServiceOption {
	return func(s *Service) {
		s.store = store
	}
}

// WithServiceLogger sets the logger.
func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithServiceFileSystem replaces the OS filesystem used by the builder and
// tracer.
func WithServiceFileSystem(fsys pathcache.FileSystem) ServiceOption {
	return func(s *Service) {
		if fsys != nil {
			s.fsys = fsys
		}
	}
}

// NewService creates a Service.
func NewService(cfg ServiceConfig, opts ...ServiceOption) *Service {
	s := &Service{
		config: cfg,
		fsys:   pathcache.OSFileSystem{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	tracer := nodetrace.New(
		nodetrace.WithFileSystem(s.fsys),
		nodetrace.WithLogger(s.logger),
		nodetrace.WithConcurrency(cfg.TraceConcurrency),
		nodetrace.WithMaxScanSize(cfg.MaxScanSize),
	)
	s.builder = closure.NewBuilder(
		closure.WithTracer(tracer),
		closure.WithFileSystem(s.fsys),
		closure.WithLogger(s.logger),
		closure.WithConcurrency(cfg.Concurrency),
	)
	return s
}

// HasStore reports whether build records are persisted.
func (s *Service) HasStore() bool {
	return s.store != nil
}

// Build packages the function in req.WorkDir.
//
// Description:
//
//	Loads fnpack.yaml from the work dir (defaults when absent), applies
//	the request's overrides, runs the closure builder from the configured
//	entrypoints and describes the function output. When a store is
//	attached and SkipStore is false the build record is persisted.
//
// Inputs:
//
//	ctx - Context for cancellation. Must not be nil.
//	req - The build request. WorkDir is required and must be absolute.
//
// Outputs:
//
//	*BuildResponse - The manifest summary and function output.
//	error - A validation error (see isValidationError), a fatal I/O
//	        failure wrapping manifest.ErrIO, or a store failure.
func (s *Service) Build(ctx context.Context, req BuildRequest) (*BuildResponse, error) {
	if ctx == nil {
		return nil, closure.ErrNilContext
	}
	workDir, projectRoot, err := s.roots(req)
	if err != nil {
		return nil, err
	}

	cfg, err := config.LoadDir(workDir)
	if err != nil {
		return nil, err
	}
	if err := applyOverrides(cfg, req); err != nil {
		return nil, err
	}

	entrypoints, err := rootRelative(projectRoot, workDir, cfg.AllEntrypoints())
	if err != nil {
		return nil, err
	}

	if s.config.MaxBuildDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.MaxBuildDuration)
		defer cancel()
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate build id: %w", err)
	}
	logger := s.logger.With(slog.String("build_id", id.String()))
	logger.Info("build starting",
		slog.String("project_root", projectRoot),
		slog.String("work_dir", workDir),
		slog.Any("entrypoints", entrypoints),
	)

	result, err := s.builder.Build(ctx, closure.Request{
		ProjectRoot: projectRoot,
		WorkDir:     workDir,
		Entrypoints: entrypoints,
		Include:     cfg.IncludeFiles,
		Exclude:     cfg.ExcludeFiles,
		OutputDir:   cfg.OutputDir,
	})
	if err != nil {
		logger.Error("build failed", slog.String("error", err.Error()))
		return nil, err
	}

	output, err := describeOutput(cfg, projectRoot, workDir)
	if err != nil {
		return nil, err
	}

	resp := &BuildResponse{
		ID:          id.String(),
		ProjectRoot: projectRoot,
		WorkDir:     workDir,
		Output:      output,
		Files:       bundle.Summarize(result.Manifest),
		Warnings:    result.Warnings,
		Stats:       result.Stats,
		Manifest:    result.Manifest,
	}
	if resp.Warnings == nil {
		resp.Warnings = []string{}
	}

	if s.store != nil && !req.SkipStore {
		rec := &badger.BuildRecord{
			ID:             resp.ID,
			ProjectRoot:    projectRoot,
			CreatedAtMilli: result.Manifest.CreatedAtMilli,
			Handler:        output.Handler,
			Files:          resp.Files,
			Warnings:       resp.Warnings,
			TotalBytes:     result.Stats.Bytes,
		}
		if err := s.store.Put(ctx, rec); err != nil {
			return nil, fmt.Errorf("store build record: %w", err)
		}
		resp.Stored = true
	}

	logger.Info("build complete",
		slog.Int("files", result.Stats.Files),
		slog.Int64("bytes", result.Stats.Bytes),
		slog.Int("warnings", result.Stats.Warnings),
		slog.Bool("stored", resp.Stored),
	)
	return resp, nil
}

// roots validates and resolves the work dir and project root.
func (s *Service) roots(req BuildRequest) (workDir, projectRoot string, err error) {
	if req.WorkDir == "" {
		return "", "", fmt.Errorf("%w: work_dir is required", ErrInvalidRequest)
	}
	if !filepath.IsAbs(req.WorkDir) {
		return "", "", fmt.Errorf("%w: %s", ErrRelativePath, req.WorkDir)
	}
	workDir = filepath.Clean(req.WorkDir)

	projectRoot = req.ProjectRoot
	if projectRoot == "" {
		projectRoot = FindProjectRoot(workDir)
	} else if !filepath.IsAbs(projectRoot) {
		return "", "", fmt.Errorf("%w: %s", ErrRelativePath, projectRoot)
	}
	projectRoot = filepath.Clean(projectRoot)

	if !s.rootAllowed(projectRoot) {
		return "", "", fmt.Errorf("%w: project root %s is not allowed", ErrInvalidRequest, projectRoot)
	}
	return workDir, projectRoot, nil
}

func (s *Service) rootAllowed(root string) bool {
	if len(s.config.AllowedRoots) == 0 {
		return true
	}
	for _, allowed := range s.config.AllowedRoots {
		if _, err := manifest.RelPath(filepath.Clean(allowed), root); err == nil {
			return true
		}
	}
	return false
}

// applyOverrides replaces config fields the request sets.
func applyOverrides(cfg *config.Config, req BuildRequest) error {
	if len(req.Entrypoints) > 0 {
		cfg.Entrypoint = req.Entrypoints[0]
		cfg.Entrypoints = req.Entrypoints[1:]
	}
	if len(req.Include) > 0 {
		cfg.IncludeFiles = req.Include
	}
	if len(req.Exclude) > 0 {
		cfg.ExcludeFiles = req.Exclude
	}
	if req.OutputDir != "" {
		cfg.OutputDir = req.OutputDir
	}
	return cfg.Validate()
}

// rootRelative maps work-dir-relative paths to project-root-relative ones.
func rootRelative(projectRoot, workDir string, paths []string) ([]string, error) {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		rel, err := manifest.RelPath(projectRoot, filepath.Join(workDir, filepath.FromSlash(p)))
		if err != nil {
			return nil, err
		}
		out = append(out, rel)
	}
	return out, nil
}

// describeOutput builds the FunctionOutput for a configured project.
func describeOutput(cfg *config.Config, projectRoot, workDir string) (FunctionOutput, error) {
	main := cfg.Entrypoint
	if cfg.OutputDir != "-" {
		main = path.Join(cfg.OutputDir, "main.js")
	}
	handler, err := manifest.RelPath(projectRoot, filepath.Join(workDir, filepath.FromSlash(main)))
	if err != nil {
		return FunctionOutput{}, err
	}
	return FunctionOutput{
		Handler:                   handler,
		AWSLambdaHandler:          LambdaHandler(cfg, cfg.Entrypoint),
		ShouldAddHelpers:          cfg.HelpersEnabled(),
		SupportsResponseStreaming: cfg.SupportsResponseStreaming,
	}, nil
}

// LambdaHandler returns the AWS Lambda handler name for an entrypoint.
//
// The configured awsLambdaHandler wins. Otherwise, when
// NODEJS_AWS_HANDLER_NAME is set, the handler is the entrypoint without
// its extension followed by "." and that name. Empty means none.
func LambdaHandler(cfg *config.Config, entrypoint string) string {
	if cfg.AWSLambdaHandler != "" {
		return cfg.AWSLambdaHandler
	}
	name := os.Getenv("NODEJS_AWS_HANDLER_NAME")
	if name == "" {
		return ""
	}
	entrypoint = filepath.ToSlash(entrypoint)
	base := strings.TrimSuffix(path.Base(entrypoint), path.Ext(entrypoint))
	if dir := path.Dir(entrypoint); dir != "." {
		base = dir + "/" + base
	}
	return base + "." + name
}

// FindProjectRoot walks up from workDir to the nearest directory holding
// .git. Without one, workDir is the root.
func FindProjectRoot(workDir string) string {
	dir := filepath.Clean(workDir)
	for {
		if _, err := os.Lstat(filepath.Join(dir, ".git")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return filepath.Clean(workDir)
		}
		dir = parent
	}
}

// CacheFiles lists the installed dependency files under root, relative to
// it and sorted.
func (s *Service) CacheFiles(ctx context.Context, root string) ([]string, error) {
	if ctx == nil {
		return nil, closure.ErrNilContext
	}
	if !filepath.IsAbs(root) {
		return nil, fmt.Errorf("%w: %s", ErrRelativePath, root)
	}

	var files []string
	err := doublestar.GlobWalk(os.DirFS(root), cachePattern, func(p string, d fs.DirEntry) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		files = append(files, p)
		return nil
	}, doublestar.WithFilesOnly(), doublestar.WithNoFollow())
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: glob %s: %v", manifest.ErrIO, cachePattern, err)
	}
	sort.Strings(files)
	return files, nil
}

// GetBuild returns a stored build record.
func (s *Service) GetBuild(ctx context.Context, id string) (*badger.BuildRecord, error) {
	if s.store == nil {
		return nil, ErrStoreDisabled
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: invalid build id %q", ErrInvalidRequest, id)
	}
	return s.store.Get(ctx, id)
}

// ListBuilds returns up to limit stored build records, newest first.
func (s *Service) ListBuilds(ctx context.Context, limit int) ([]*badger.BuildRecord, error) {
	if s.store == nil {
		return nil, ErrStoreDisabled
	}
	return s.store.List(ctx, limit)
}

// DeleteBuild removes a stored build record.
func (s *Service) DeleteBuild(ctx context.Context, id string) error {
	if s.store == nil {
		return ErrStoreDisabled
	}
	return s.store.Delete(ctx, id)
}

// isNotFound reports a missing build record.
func isNotFound(err error) bool {
	return errors.Is(err, badger.ErrNotFound)
}
