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
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/fnpack/services/pack"
	"github.com/AleutianAI/fnpack/services/pack/config"
	"github.com/AleutianAI/fnpack/services/pack/manifest"
	"github.com/AleutianAI/fnpack/services/pack/watch"
)

func newWatchCmd(a *app) *cobra.Command {
	opts := &buildOptions{}
	var debounce time.Duration
	cmd := &cobra.Command{
		Use:   "watch [entrypoint...]",
		Short: "Build, then rebuild whenever project files change",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc, closeStore, err := a.newService()
			if err != nil {
				return err
			}
			defer closeStore()

			req, err := opts.request(args)
			if err != nil {
				return err
			}
			if req.ProjectRoot == "" {
				req.ProjectRoot = pack.FindProjectRoot(req.WorkDir)
			}

			ignore, err := watchIgnore(req, opts.zipPath)
			if err != nil {
				return err
			}
			w, err := watch.New(req.ProjectRoot,
				watch.WithDebounce(debounce),
				watch.WithIgnore(ignore...),
				watch.WithLogger(slog.Default()),
			)
			if err != nil {
				return err
			}
			defer w.Close()

			if _, err := runBuild(ctx, svc, req, opts, a.printer, cmd.OutOrStdout()); err != nil {
				a.printer.Error(err.Error())
			}
			a.printer.Info(fmt.Sprintf("watching %s", req.ProjectRoot))

			return w.Run(ctx, func(ctx context.Context, changes []watch.Change) error {
				slog.Info("rebuilding",
					slog.Int("changes", len(changes)),
					slog.String("first", changes[0].Path),
				)
				if _, err := runBuild(ctx, svc, req, opts, a.printer, cmd.OutOrStdout()); err != nil {
					a.printer.Error(err.Error())
				}
				return nil
			})
		},
	}
	opts.register(cmd)
	cmd.Flags().DurationVar(&debounce, "debounce", watch.DefaultDebounce, "quiet period before rebuilding")
	return cmd
}

// watchIgnore returns the project's exclude patterns plus the bundle path
// when it lies inside the project root, so writing it does not trigger a
// rebuild.
func watchIgnore(req pack.BuildRequest, zipPath string) ([]string, error) {
	exclude := req.Exclude
	if len(exclude) == 0 {
		cfg, err := config.LoadDir(req.WorkDir)
		if err != nil {
			return nil, err
		}
		exclude = cfg.ExcludeFiles
	}
	ignore := append([]string(nil), exclude...)

	if zipPath != "" {
		abs, err := filepath.Abs(zipPath)
		if err != nil {
			return nil, fmt.Errorf("zip path: %w", err)
		}
		if rel, err := manifest.RelPath(req.ProjectRoot, abs); err == nil {
			ignore = append(ignore, rel)
		}
	}
	return ignore, nil
}
