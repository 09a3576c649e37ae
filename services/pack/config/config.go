// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the per-project fnpack.yaml file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/fnpack/services/pack/manifest"
)

// FileName is the project config file looked up in the work directory.
const FileName = "fnpack.yaml"

// Defaults.
const (
	DefaultEntrypoint = "dist/main.js"
	DefaultOutputDir  = "dist"
)

// ErrInvalidConfig is returned for unreadable or inconsistent config files.
var ErrInvalidConfig = errors.New("invalid config")

// Patterns is a list of glob patterns that may be written in YAML as a
// single string or a sequence.
type Patterns []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (p *Patterns) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		if s == "" {
			*p = nil
			return nil
		}
		*p = Patterns{s}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := value.Decode(&list); err != nil {
			return err
		}
		*p = list
		return nil
	default:
		return fmt.Errorf("line %d: expected a string or a list of strings", value.Line)
	}
}

// Config is the content of fnpack.yaml.
type Config struct {
	// Entrypoint is the function's main file, relative to the work dir.
	Entrypoint string `yaml:"entrypoint"`

	// Entrypoints are additional trace roots, relative to the work dir.
	Entrypoints []string `yaml:"entrypoints,omitempty"`

	// IncludeFiles are always packaged.
	IncludeFiles Patterns `yaml:"includeFiles,omitempty"`

	// ExcludeFiles prune tracing.
	ExcludeFiles Patterns `yaml:"excludeFiles,omitempty"`

	// OutputDir is the build output directory, relative to the work dir.
	OutputDir string `yaml:"outputDir"`

	// AWSLambdaHandler overrides the generated Lambda handler name.
	AWSLambdaHandler string `yaml:"awsLambdaHandler,omitempty"`

	// Helpers enables the runtime request helpers. Nil means enabled.
	Helpers *bool `yaml:"helpers,omitempty"`

	// SupportsResponseStreaming marks the function as streaming.
	SupportsResponseStreaming bool `yaml:"supportsResponseStreaming,omitempty"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Entrypoint: DefaultEntrypoint,
		OutputDir:  DefaultOutputDir,
	}
}

// Load reads and validates a config file. Unset fields take defaults.
func Load(file string) (*Config, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read %s: %v", ErrInvalidConfig, file, err)
	}
	return Parse(data)
}

// LoadDir loads dir/fnpack.yaml. A missing file yields Default().
func LoadDir(dir string) (*Config, error) {
	file := filepath.Join(dir, FileName)
	if _, err := os.Stat(file); errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return Load(file)
}

// Parse decodes and validates config content.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if cfg.Entrypoint == "" {
		cfg.Entrypoint = DefaultEntrypoint
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = DefaultOutputDir
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks paths stay inside the work dir and patterns compile.
func (c *Config) Validate() error {
	for _, p := range c.AllEntrypoints() {
		if manifest.IsEscape(p) {
			return fmt.Errorf("%w: entrypoint %q leaves the work dir", ErrInvalidConfig, p)
		}
	}
	if c.OutputDir != "-" && manifest.IsEscape(c.OutputDir) {
		return fmt.Errorf("%w: outputDir %q leaves the work dir", ErrInvalidConfig, c.OutputDir)
	}
	if _, err := manifest.NewMatcher(c.IncludeFiles); err != nil {
		return fmt.Errorf("%w: includeFiles: %v", ErrInvalidConfig, err)
	}
	if _, err := manifest.NewMatcher(c.ExcludeFiles); err != nil {
		return fmt.Errorf("%w: excludeFiles: %v", ErrInvalidConfig, err)
	}
	if strings.ContainsAny(c.AWSLambdaHandler, " \t\n") {
		return fmt.Errorf("%w: awsLambdaHandler %q contains whitespace", ErrInvalidConfig, c.AWSLambdaHandler)
	}
	return nil
}

// AllEntrypoints returns Entrypoint followed by Entrypoints, deduplicated
// and canonicalized.
func (c *Config) AllEntrypoints() []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range append([]string{c.Entrypoint}, c.Entrypoints...) {
		if e == "" {
			continue
		}
		e = path.Clean(filepath.ToSlash(e))
		if !seen[e] {
			seen[e] = true
			out = append(out, e)
		}
	}
	return out
}

// HelpersEnabled reports whether runtime helpers are on. The
// NODEJS_HELPERS=0 environment variable disables them.
func (c *Config) HelpersEnabled() bool {
	if os.Getenv("NODEJS_HELPERS") == "0" {
		return false
	}
	return c.Helpers == nil || *c.Helpers
}
