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
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/fnpack/services/pack"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the build API over HTTP",
		Long: `Serve the build API:

  POST /v1/pack/build         build a function
  GET  /v1/pack/builds        list stored builds
  GET  /v1/pack/builds/:id    show a stored build
  DELETE /v1/pack/builds/:id  delete a stored build
  GET  /v1/pack/cache-files   list cacheable node_modules files
  GET  /v1/pack/health        health check
  GET  /metrics               Prometheus metrics`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc, closeStore, err := a.newService()
			if err != nil {
				return err
			}
			defer closeStore()

			if a.v.GetString("log-level") != "debug" {
				gin.SetMode(gin.ReleaseMode)
			}

			rcfg := pack.DefaultRouterConfig()
			rcfg.BuildRate = a.v.GetFloat64("build-rate")
			rcfg.BuildBurst = a.v.GetInt("build-burst")
			router := pack.NewRouter(rcfg, pack.NewHandlers(svc))

			addr := fmt.Sprintf(":%d", a.v.GetInt("port"))
			return serve(ctx, &http.Server{
				Addr:              addr,
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
			})
		},
	}

	f := cmd.Flags()
	f.Int("port", 8080, "port to listen on")
	f.Float64("build-rate", pack.DefaultRouterConfig().BuildRate, "sustained builds per second, 0 for unlimited")
	f.Int("build-burst", pack.DefaultRouterConfig().BuildBurst, "build request burst size")
	_ = a.v.BindPFlags(f)
	return cmd
}

// serve runs srv until ctx is done, then shuts it down gracefully.
func serve(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("fnpack server listening", slog.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down fnpack server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
