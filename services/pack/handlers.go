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
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/fnpack/services/pack/telemetry"
)

// DefaultListLimit is used when GET /builds has no limit parameter.
const DefaultListLimit = 20

// Handlers serves the pack HTTP API.
type Handlers struct {
	svc *Service
}

// NewHandlers creates handlers backed by svc.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// HandleBuild handles POST /v1/pack/build.
//
// Description:
//
//	Builds the function in the request's work dir and returns the file
//	summary, warnings and function output.
//
// Request Body:
//
//	BuildRequest
//
// Response:
//
//	200 OK: BuildResponse
//	400 Bad Request: Validation error
//	500 Internal Server Error: Filesystem or store failure
func (h *Handlers) HandleBuild(c *gin.Context) {
	ctx := c.Request.Context()
	logger := telemetry.LoggerWithTrace(ctx, slog.Default()).With(
		slog.String("request_id", getOrCreateRequestID(c)),
		slog.String("handler", "HandleBuild"),
	)

	var req BuildRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	resp, err := h.svc.Build(ctx, req)
	if err != nil {
		status, code := statusFor(err, "BUILD_FAILED")
		logger.Error("build failed", slog.String("error", err.Error()), slog.Int("status", status))
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleListBuilds handles GET /v1/pack/builds.
//
// Query Parameters:
//
//	limit: Maximum number of records (optional, default 20)
//
// Response:
//
//	200 OK: []BuildRecord, newest first
//	400 Bad Request: Invalid limit
//	503 Service Unavailable: No store attached
func (h *Handlers) HandleListBuilds(c *gin.Context) {
	limit := DefaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: "limit must be a positive integer",
				Code:  "INVALID_LIMIT",
			})
			return
		}
		limit = n
	}

	records, err := h.svc.ListBuilds(c.Request.Context(), limit)
	if err != nil {
		status, code := statusFor(err, "LIST_FAILED")
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}
	c.JSON(http.StatusOK, records)
}

// HandleGetBuild handles GET /v1/pack/builds/:id.
//
// Response:
//
//	200 OK: BuildRecord
//	400 Bad Request: Malformed id
//	404 Not Found: No such build
//	503 Service Unavailable: No store attached
func (h *Handlers) HandleGetBuild(c *gin.Context) {
	rec, err := h.svc.GetBuild(c.Request.Context(), c.Param("id"))
	if err != nil {
		status, code := statusFor(err, "GET_FAILED")
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// HandleDeleteBuild handles DELETE /v1/pack/builds/:id.
func (h *Handlers) HandleDeleteBuild(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid build id", Code: "INVALID_REQUEST"})
		return
	}
	if err := h.svc.DeleteBuild(c.Request.Context(), id); err != nil {
		status, code := statusFor(err, "DELETE_FAILED")
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleCacheFiles handles GET /v1/pack/cache-files?root=<abs>.
func (h *Handlers) HandleCacheFiles(c *gin.Context) {
	root := c.Query("root")
	if root == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "root is required", Code: "INVALID_REQUEST"})
		return
	}
	files, err := h.svc.CacheFiles(c.Request.Context(), root)
	if err != nil {
		status, code := statusFor(err, "CACHE_FILES_FAILED")
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}
	if files == nil {
		files = []string{}
	}
	c.JSON(http.StatusOK, CacheFilesResponse{ProjectRoot: root, Files: files})
}

// HandleHealth handles GET /v1/pack/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: ServiceVersion,
		Store:   h.svc.HasStore(),
	})
}

// statusFor maps a service error to an HTTP status and error code.
func statusFor(err error, fallback string) (int, string) {
	switch {
	case errors.Is(err, ErrStoreDisabled):
		return http.StatusServiceUnavailable, "STORE_DISABLED"
	case isNotFound(err):
		return http.StatusNotFound, "NOT_FOUND"
	case isValidationError(err):
		return http.StatusBadRequest, "INVALID_REQUEST"
	default:
		return http.StatusInternalServerError, fallback
	}
}

// getOrCreateRequestID gets or creates a request ID.
func getOrCreateRequestID(c *gin.Context) string {
	if id := c.GetString(requestIDKey); id != "" {
		return id
	}
	requestID := c.GetHeader(requestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(requestIDKey, requestID)
	c.Header(requestIDHeader, requestID)
	return requestID
}
