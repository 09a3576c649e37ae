// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/fnpack/pkg/ux"
	"github.com/AleutianAI/fnpack/services/pack"
	"github.com/AleutianAI/fnpack/services/pack/bundle"
)

// buildOptions are the flags shared by build and watch.
type buildOptions struct {
	workDir     string
	projectRoot string
	include     []string
	exclude     []string
	outputDir   string
	zipPath     string
	json        bool
	noStore     bool
}

func (o *buildOptions) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&o.workDir, "work-dir", ".", "directory holding fnpack.yaml")
	f.StringVar(&o.projectRoot, "root", "", "project root manifest paths are relative to (default: nearest .git ancestor)")
	f.StringSliceVar(&o.include, "include", nil, "glob of files to always include (repeatable, replaces includeFiles)")
	f.StringSliceVar(&o.exclude, "exclude", nil, "glob of files to never trace (repeatable, replaces excludeFiles)")
	f.StringVar(&o.outputDir, "out-dir", "", `build output directory merged into the bundle, "-" to disable`)
	f.StringVar(&o.zipPath, "zip", "", "write the bundle to this zip file")
	f.BoolVar(&o.json, "json", false, "print the build result as JSON")
	f.BoolVar(&o.noStore, "no-store", false, "do not persist a build record")
}

// request turns flags and positional entrypoints into a BuildRequest.
func (o *buildOptions) request(entrypoints []string) (pack.BuildRequest, error) {
	workDir, err := filepath.Abs(o.workDir)
	if err != nil {
		return pack.BuildRequest{}, fmt.Errorf("work dir: %w", err)
	}
	req := pack.BuildRequest{
		WorkDir:     workDir,
		Entrypoints: entrypoints,
		Include:     o.include,
		Exclude:     o.exclude,
		OutputDir:   o.outputDir,
		SkipStore:   o.noStore,
	}
	if o.projectRoot != "" {
		if req.ProjectRoot, err = filepath.Abs(o.projectRoot); err != nil {
			return pack.BuildRequest{}, fmt.Errorf("project root: %w", err)
		}
	}
	return req, nil
}

func newBuildCmd(a *app) *cobra.Command {
	opts := &buildOptions{}
	cmd := &cobra.Command{
		Use:   "build [entrypoint...]",
		Short: "Trace a function and package its files",
		Long: `Trace the function's entrypoints (default: fnpack.yaml entrypoint, or
dist/main.js) and package every file reachable at runtime together with
includeFiles and the build output directory.

Entrypoints are relative to --work-dir and replace the configured ones.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeStore, err := a.newService()
			if err != nil {
				return err
			}
			defer closeStore()

			req, err := opts.request(args)
			if err != nil {
				return err
			}
			_, err = runBuild(cmd.Context(), svc, req, opts, a.printer, cmd.OutOrStdout())
			return err
		},
	}
	opts.register(cmd)
	return cmd
}

// runBuild performs one build and reports it.
func runBuild(ctx context.Context, svc *pack.Service, req pack.BuildRequest, opts *buildOptions, p *ux.Printer, out io.Writer) (*pack.BuildResponse, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var spin *ux.Spinner
	if !opts.json {
		spin = p.Spinner("tracing " + req.WorkDir)
		spin.Start()
	}
	resp, err := svc.Build(ctx, req)
	if spin != nil {
		spin.Stop()
	}
	if err != nil {
		return nil, err
	}

	var zipSize int64
	if opts.zipPath != "" {
		if zipSize, err = writeZip(opts.zipPath, resp); err != nil {
			return nil, err
		}
	}

	if opts.json {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return resp, enc.Encode(resp)
	}
	printBuild(p, resp)
	if opts.zipPath != "" {
		p.Success(fmt.Sprintf("wrote %s (%s)", opts.zipPath, ux.Bytes(zipSize)))
	}
	return resp, nil
}

func writeZip(path string, resp *pack.BuildResponse) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create bundle: %w", err)
	}
	if err := bundle.Write(f, resp.Manifest); err != nil {
		f.Close()
		return 0, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return 0, fmt.Errorf("stat bundle: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("close bundle: %w", err)
	}
	return info.Size(), nil
}

func printBuild(p *ux.Printer, resp *pack.BuildResponse) {
	p.Title("fnpack build")
	p.KeyValue("project root", resp.ProjectRoot)
	p.KeyValue("handler", resp.Output.Handler)
	if resp.Output.AWSLambdaHandler != "" {
		p.KeyValue("lambda", resp.Output.AWSLambdaHandler)
	}
	p.KeyValue("helpers", strconv.FormatBool(resp.Output.ShouldAddHelpers))
	if resp.Output.SupportsResponseStreaming {
		p.KeyValue("streaming", "true")
	}
	p.KeyValue("traced", strconv.Itoa(resp.Stats.Traced))
	if resp.Stored {
		p.KeyValue("build id", resp.ID)
	}
	p.WarningBox("Warnings", resp.Warnings)
	p.Summary(resp.Stats.Files, resp.Stats.Bytes, len(resp.Warnings))
}
