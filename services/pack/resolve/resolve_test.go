// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resolve

import (
	"context"
	"errors"
	"testing"
)

func TestHook(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want string
	}{
		{"wasm qualifier stripped", "./add.wasm?module", "./add.wasm"},
		{"bare package wasm", "pkg/lib.wasm?module", "pkg/lib.wasm"},
		{"plain relative untouched", "./util", "./util"},
		{"bare untouched", "lodash/get", "lodash/get"},
		{"other query untouched", "./data.json?raw", "./data.json?raw"},
		{"qualifier only stripped at end", "./a?module/b.js", "./a?module/b.js"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotID, gotParent string
			next := func(_ context.Context, id, parent string) (string, error) {
				gotID, gotParent = id, parent
				return "/resolved", nil
			}

			res, err := Hook(context.Background(), tt.id, "/app/index.js", next)
			if err != nil {
				t.Fatalf("Hook: %v", err)
			}
			if res != "/resolved" {
				t.Errorf("result = %q", res)
			}
			if gotID != tt.want {
				t.Errorf("next got id %q, want %q", gotID, tt.want)
			}
			if gotParent != "/app/index.js" {
				t.Errorf("next got parent %q", gotParent)
			}
		})
	}
}

func TestHook_PropagatesError(t *testing.T) {
	want := errors.New("cannot find module")
	next := func(context.Context, string, string) (string, error) { return "", want }

	if _, err := Hook(context.Background(), "missing", "/app/index.js", next); !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestHook_NoCaching(t *testing.T) {
	calls := 0
	next := func(context.Context, string, string) (string, error) {
		calls++
		return "/x", nil
	}
	for i := 0; i < 3; i++ {
		if _, err := Hook(context.Background(), "./x", "/app/a.js", next); err != nil {
			t.Fatal(err)
		}
	}
	if calls != 3 {
		t.Errorf("next called %d times, want 3", calls)
	}
}
