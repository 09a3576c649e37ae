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
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/fnpack/services/pack/telemetry"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
)

// RouterConfig configures NewRouter.
type RouterConfig struct {
	// ServiceName labels otelgin spans.
	ServiceName string

	// BuildRate is the sustained POST /build rate per second. Zero disables
	// limiting.
	BuildRate float64

	// BuildBurst is the limiter's bucket size.
	BuildBurst int
}

// DefaultRouterConfig returns production defaults.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		ServiceName: "fnpack",
		BuildRate:   2,
		BuildBurst:  4,
	}
}

// NewRouter returns a gin engine serving the pack API under /v1 and, when
// the Prometheus exporter is active, metrics at /metrics.
func NewRouter(cfg RouterConfig, handlers *Handlers) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(RequestID())

	if h := telemetry.MetricsHandler(); h != nil {
		router.GET("/metrics", gin.WrapH(h))
	}

	var limiter *rate.Limiter
	if cfg.BuildRate > 0 {
		burst := cfg.BuildBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.BuildRate), burst)
	}

	v1 := router.Group("/v1")
	RegisterRoutes(v1, handlers, limiter)
	return router
}

// RegisterRoutes registers the /pack endpoints on rg.
//
// Endpoints:
//
//	POST   /v1/pack/build - Build a function
//	GET    /v1/pack/builds - List stored builds
//	GET    /v1/pack/builds/:id - Get a stored build
//	DELETE /v1/pack/builds/:id - Delete a stored build
//	GET    /v1/pack/cache-files - List installed dependency files
//	GET    /v1/pack/health - Health check
//
// A nil limiter leaves POST /build unlimited.
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers, limiter *rate.Limiter) {
	pack := rg.Group("/pack")
	{
		if limiter != nil {
			pack.POST("/build", RateLimit(limiter), handlers.HandleBuild)
		} else {
			pack.POST("/build", handlers.HandleBuild)
		}

		pack.GET("/builds", handlers.HandleListBuilds)
		pack.GET("/builds/:id", handlers.HandleGetBuild)
		pack.DELETE("/builds/:id", handlers.HandleDeleteBuild)
		pack.GET("/cache-files", handlers.HandleCacheFiles)

		pack.GET("/health", handlers.HandleHealth)
	}
}

// RequestID ensures every request carries an X-Request-ID, echoing the
// caller's or generating one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		getOrCreateRequestID(c)
		c.Next()
	}
}

// RateLimit rejects requests with 429 when limiter has no token.
func RateLimit(limiter *rate.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
				Error: "too many build requests",
				Code:  "RATE_LIMITED",
			})
			return
		}
		c.Next()
	}
}
