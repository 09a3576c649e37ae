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
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/fnpack/services/pack/storage/badger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupTestRouter(svc *Service, cfg RouterConfig) *gin.Engine {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "fnpack-test"
	}
	return NewRouter(cfg, NewHandlers(svc))
}

func doJSON(t *testing.T, router http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestHandlers_HandleHealth(t *testing.T) {
	router := setupTestRouter(NewService(DefaultServiceConfig(), WithStore(newTestStore(t))), RouterConfig{})

	w := doJSON(t, router, http.MethodGet, "/v1/pack/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, ServiceVersion, resp.Version)
	assert.True(t, resp.Store)
}

func TestHandlers_RequestID(t *testing.T) {
	router := setupTestRouter(NewService(DefaultServiceConfig()), RouterConfig{})

	w := doJSON(t, router, http.MethodGet, "/v1/pack/health", nil)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/v1/pack/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "req-123", w.Header().Get("X-Request-ID"))
}

func TestHandlers_HandleBuild(t *testing.T) {
	_, workDir := newTestProject(t)
	router := setupTestRouter(NewService(DefaultServiceConfig(), WithStore(newTestStore(t))), RouterConfig{})

	w := doJSON(t, router, http.MethodPost, "/v1/pack/build", BuildRequest{WorkDir: workDir})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp BuildResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.ID)
	assert.True(t, resp.Stored)
	assert.Equal(t, "app/dist/main.js", resp.Output.Handler)
	assert.Len(t, resp.Files, 5)
	assert.NotNil(t, resp.Warnings)

	w = doJSON(t, router, http.MethodGet, "/v1/pack/builds/"+resp.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var rec badger.BuildRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, resp.ID, rec.ID)

	w = doJSON(t, router, http.MethodGet, "/v1/pack/builds?limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var records []badger.BuildRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &records))
	require.Len(t, records, 1)

	w = doJSON(t, router, http.MethodDelete, "/v1/pack/builds/"+resp.ID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, router, http.MethodGet, "/v1/pack/builds/"+resp.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", decodeError(t, w).Code)
}

func TestHandlers_HandleBuild_BadRequests(t *testing.T) {
	router := setupTestRouter(NewService(DefaultServiceConfig()), RouterConfig{})

	tests := []struct {
		name string
		body any
	}{
		{"missing work dir", map[string]any{}},
		{"relative work dir", BuildRequest{WorkDir: "app"}},
		{"wrong type", map[string]any{"work_dir": 42}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, router, http.MethodPost, "/v1/pack/build", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "INVALID_REQUEST", decodeError(t, w).Code)
		})
	}
}

func TestHandlers_RateLimit(t *testing.T) {
	router := setupTestRouter(NewService(DefaultServiceConfig()), RouterConfig{BuildRate: 0.001, BuildBurst: 1})

	w := doJSON(t, router, http.MethodPost, "/v1/pack/build", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, http.MethodPost, "/v1/pack/build", map[string]any{})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "RATE_LIMITED", decodeError(t, w).Code)

	// Other routes are not limited.
	w = doJSON(t, router, http.MethodGet, "/v1/pack/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandlers_StoreDisabled(t *testing.T) {
	router := setupTestRouter(NewService(DefaultServiceConfig()), RouterConfig{})

	w := doJSON(t, router, http.MethodGet, "/v1/pack/builds", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "STORE_DISABLED", decodeError(t, w).Code)
}

func TestHandlers_GetBuild_InvalidID(t *testing.T) {
	router := setupTestRouter(NewService(DefaultServiceConfig(), WithStore(newTestStore(t))), RouterConfig{})

	w := doJSON(t, router, http.MethodGet, "/v1/pack/builds/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, http.MethodDelete, "/v1/pack/builds/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlers_ListBuilds_InvalidLimit(t *testing.T) {
	router := setupTestRouter(NewService(DefaultServiceConfig(), WithStore(newTestStore(t))), RouterConfig{})

	for _, limit := range []string{"abc", "0", "-3"} {
		w := doJSON(t, router, http.MethodGet, "/v1/pack/builds?limit="+limit, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, limit)
	}
}

func TestHandlers_CacheFiles(t *testing.T) {
	root, _ := newTestProject(t)
	router := setupTestRouter(NewService(DefaultServiceConfig()), RouterConfig{})

	w := doJSON(t, router, http.MethodGet, "/v1/pack/cache-files?root="+root, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp CacheFilesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Files, 3)

	w = doJSON(t, router, http.MethodGet, "/v1/pack/cache-files", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
