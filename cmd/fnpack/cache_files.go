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
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/fnpack/services/pack"
)

func newCacheFilesCmd(a *app) *cobra.Command {
	var (
		root   string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "cache-files",
		Short: "List installed dependency files worth caching between builds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if root == "" {
				wd, err := os.Getwd()
				if err != nil {
					return err
				}
				root = pack.FindProjectRoot(wd)
			}
			abs, err := filepath.Abs(root)
			if err != nil {
				return fmt.Errorf("root: %w", err)
			}

			svc := pack.NewService(pack.DefaultServiceConfig())
			files, err := svc.CacheFiles(cmd.Context(), abs)
			if err != nil {
				return err
			}
			if asJSON {
				if files == nil {
					files = []string{}
				}
				return writeJSON(cmd, pack.CacheFilesResponse{ProjectRoot: abs, Files: files})
			}
			for _, f := range files {
				fmt.Fprintln(cmd.OutOrStdout(), f)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&root, "root", "", "project root (default: nearest .git ancestor of the current directory)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}
