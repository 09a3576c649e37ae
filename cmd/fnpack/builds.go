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
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/fnpack/pkg/ux"
	"github.com/AleutianAI/fnpack/services/pack/storage/badger"
)

func newBuildsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "builds",
		Short: "Inspect stored build records",
	}

	var (
		limit  int
		asJSON bool
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List stored builds, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeStore, err := a.newService()
			if err != nil {
				return err
			}
			defer closeStore()
			if !svc.HasStore() {
				return errStoreRequired
			}

			records, err := svc.ListBuilds(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if asJSON {
				if records == nil {
					records = []*badger.BuildRecord{}
				}
				return writeJSON(cmd, records)
			}
			if len(records) == 0 {
				a.printer.Info("no builds stored")
				return nil
			}
			for _, rec := range records {
				printRecordLine(a.printer, rec)
			}
			return nil
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "maximum number of builds")
	list.Flags().BoolVar(&asJSON, "json", false, "print records as JSON")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one stored build and its files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeStore, err := a.newService()
			if err != nil {
				return err
			}
			defer closeStore()
			if !svc.HasStore() {
				return errStoreRequired
			}

			rec, err := svc.GetBuild(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, rec)
			}
			printRecord(a.printer, rec)
			return nil
		},
	}
	show.Flags().BoolVar(&asJSON, "json", false, "print the record as JSON")

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a stored build",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeStore, err := a.newService()
			if err != nil {
				return err
			}
			defer closeStore()
			if !svc.HasStore() {
				return errStoreRequired
			}
			if err := svc.DeleteBuild(cmd.Context(), args[0]); err != nil {
				return err
			}
			a.printer.Success("deleted " + args[0])
			return nil
		},
	}

	cmd.AddCommand(list, show, del)
	return cmd
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func createdAt(rec *badger.BuildRecord) time.Time {
	return time.UnixMilli(rec.CreatedAtMilli)
}

func printRecordLine(p *ux.Printer, rec *badger.BuildRecord) {
	if p.Mode() == ux.ModeMachine {
		p.Info(fmt.Sprintf("%s\t%s\t%d\t%d\t%s",
			rec.ID, createdAt(rec).UTC().Format(time.RFC3339), len(rec.Files), rec.TotalBytes, rec.Handler))
		return
	}
	p.Info(fmt.Sprintf("%s  %s  %d files  %s  %s",
		ux.Styles.Bold.Render(rec.ID),
		ux.Styles.Muted.Render(humanize.Time(createdAt(rec))),
		len(rec.Files),
		ux.Bytes(rec.TotalBytes),
		rec.Handler,
	))
}

func printRecord(p *ux.Printer, rec *badger.BuildRecord) {
	p.Title("build " + rec.ID)
	p.KeyValue("project root", rec.ProjectRoot)
	p.KeyValue("created", createdAt(rec).UTC().Format(time.RFC3339))
	p.KeyValue("handler", rec.Handler)
	p.KeyValue("files", strconv.Itoa(len(rec.Files)))
	p.KeyValue("size", ux.Bytes(rec.TotalBytes))
	for _, f := range rec.Files {
		line := fmt.Sprintf("%s  %s  %s", f.Kind, ux.Bytes(f.Size), f.Path)
		if f.Target != "" {
			line += " -> " + f.Target
		}
		p.Info(line)
	}
	p.WarningBox("Warnings", rec.Warnings)
}
