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
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/AleutianAI/fnpack/pkg/logging"
	"github.com/AleutianAI/fnpack/pkg/ux"
	"github.com/AleutianAI/fnpack/services/pack"
	"github.com/AleutianAI/fnpack/services/pack/storage/badger"
	"github.com/AleutianAI/fnpack/services/pack/telemetry"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

// envPrefix namespaces environment overrides, e.g. FNPACK_LOG_LEVEL.
const envPrefix = "FNPACK"

// errStoreRequired is returned by commands that need --store.
var errStoreRequired = errors.New("an artifact store is required: pass --store or set FNPACK_STORE")

// app holds state shared by every command of one invocation.
type app struct {
	v        *viper.Viper
	printer  *ux.Printer
	logger   *logging.Logger
	shutdown func(context.Context) error
}

// newRootCmd builds the command tree.
func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:           "fnpack",
		Short:         "Package a Node.js function with exactly the files it needs",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.teardown(cmd.Context())
		},
	}

	flags := root.PersistentFlags()
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.String("log-dir", "", "also write JSON logs to this directory")
	flags.String("output", "", "output style: rich, minimal, machine (default: detect)")
	flags.String("store", "", "artifact store directory for build records")
	flags.String("trace-exporter", "", "trace exporter: otlp, stdout, none")
	flags.String("metric-exporter", "", "metric exporter: prometheus, stdout, none")
	flags.String("otlp-endpoint", "", "OTLP collector endpoint")
	_ = a.v.BindPFlags(flags)

	a.v.SetEnvPrefix(envPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	root.AddCommand(
		newBuildCmd(a),
		newWatchCmd(a),
		newServeCmd(a),
		newBuildsCmd(a),
		newCacheFilesCmd(a),
	)
	return root
}

// execute runs root and reports a failure on stderr. It returns the exit
// code.
func execute(root *cobra.Command) int {
	if err := root.Execute(); err != nil {
		ux.NewPrinter(root.ErrOrStderr(), ux.DetectMode(root.ErrOrStderr())).Error(err.Error())
		return 1
	}
	return 0
}

// setup configures logging, telemetry and output for the invocation.
func (a *app) setup(cmd *cobra.Command) error {
	level, err := logging.ParseLevel(a.v.GetString("log-level"))
	if err != nil {
		return err
	}
	a.logger = logging.New(logging.Config{
		Level:   level,
		LogDir:  a.v.GetString("log-dir"),
		Service: "fnpack",
		Output:  cmd.ErrOrStderr(),
	})
	slog.SetDefault(a.logger.Slog())

	mode := ux.DetectMode(cmd.OutOrStdout())
	if o := a.v.GetString("output"); o != "" {
		mode = ux.ParseMode(o)
	}
	a.printer = ux.NewPrinter(cmd.OutOrStdout(), mode)

	tcfg := telemetry.DefaultConfig()
	tcfg.ServiceVersion = Version
	if cmd.Name() != "serve" {
		// One-shot commands have no /metrics endpoint to scrape.
		tcfg.MetricExporter = telemetry.ExporterNone
	}
	if e := a.v.GetString("trace-exporter"); e != "" {
		tcfg.TraceExporter = e
	}
	if e := a.v.GetString("metric-exporter"); e != "" {
		tcfg.MetricExporter = e
	}
	if e := a.v.GetString("otlp-endpoint"); e != "" {
		tcfg.OTLPEndpoint = e
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a.shutdown, err = telemetry.Init(ctx, tcfg)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	return nil
}

func (a *app) teardown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var errs []error
	if a.shutdown != nil {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		errs = append(errs, a.shutdown(ctx))
	}
	if a.logger != nil {
		errs = append(errs, a.logger.Close())
	}
	return errors.Join(errs...)
}

// openStore opens the configured artifact store. A nil store and a no-op
// close are returned when none is configured.
func (a *app) openStore() (*badger.ArtifactStore, func(), error) {
	dir := a.v.GetString("store")
	if dir == "" {
		return nil, func() {}, nil
	}
	cfg := badger.DefaultConfig(dir)
	cfg.Logger = slog.Default()
	db, err := badger.Open(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open store %s: %w", dir, err)
	}
	return badger.NewArtifactStore(db), func() {
		if err := db.Close(); err != nil {
			slog.Warn("close store", slog.String("error", err.Error()))
		}
	}, nil
}

// newService creates a build service over the configured store.
func (a *app) newService() (*pack.Service, func(), error) {
	store, closeStore, err := a.openStore()
	if err != nil {
		return nil, nil, err
	}
	opts := []pack.ServiceOption{pack.WithServiceLogger(slog.Default())}
	if store != nil {
		opts = append(opts, pack.WithStore(store))
	}
	return pack.NewService(pack.DefaultServiceConfig(), opts...), closeStore, nil
}
