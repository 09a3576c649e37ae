// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package manifest

import (
	"errors"
	"testing"
)

func TestMatcher_Match(t *testing.T) {
	tests := []struct {
		name     string
		patterns []string
		path     string
		want     bool
	}{
		{
			name:     "no patterns matches nothing",
			patterns: nil,
			path:     "src/main.js",
			want:     false,
		},
		{
			name:     "simple pattern matches",
			patterns: []string{"*.js"},
			path:     "main.js",
			want:     true,
		},
		{
			name:     "single star does not cross directories",
			patterns: []string{"*.js"},
			path:     "lib/main.js",
			want:     false,
		},
		{
			name:     "** matches deeply nested",
			patterns: []string{"static/**/*.png"},
			path:     "static/img/icons/logo.png",
			want:     true,
		},
		{
			name:     "** matches zero directories",
			patterns: []string{"static/**/*.png"},
			path:     "static/logo.png",
			want:     true,
		},
		{
			name:     "leading dot slash is ignored",
			patterns: []string{"./templates/*.html"},
			path:     "templates/index.html",
			want:     true,
		},
		{
			name:     "trailing slash matches subtree",
			patterns: []string{"node_modules/aws-sdk/"},
			path:     "node_modules/aws-sdk/lib/core.js",
			want:     true,
		},
		{
			name:     "alternation",
			patterns: []string{"data/*.{json,csv}"},
			path:     "data/rows.csv",
			want:     true,
		},
		{
			name:     "non-canonical path is normalized",
			patterns: []string{"lib/*.js"},
			path:     "lib/./util.js",
			want:     true,
		},
		{
			name:     "any of several patterns",
			patterns: []string{"a/**", "b/**"},
			path:     "b/c.txt",
			want:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewMatcher(tt.patterns)
			if err != nil {
				t.Fatalf("NewMatcher: %v", err)
			}
			if got := m.Match(tt.path); got != tt.want {
				t.Errorf("Match(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestNewMatcher_InvalidPattern(t *testing.T) {
	_, err := NewMatcher([]string{"static/[abc"})
	if !errors.Is(err, ErrInvalidPattern) {
		t.Fatalf("expected ErrInvalidPattern, got %v", err)
	}
}

func TestNewMatcher_SkipsEmpty(t *testing.T) {
	m, err := NewMatcher([]string{"", "  "})
	if err != nil {
		t.Fatalf("NewMatcher: %v", err)
	}
	if !m.Empty() {
		t.Errorf("expected empty matcher, got %v", m.Patterns())
	}
}

func TestMatcher_NilIsEmpty(t *testing.T) {
	var m *Matcher
	if m.Match("anything") {
		t.Error("nil matcher should match nothing")
	}
	if !m.Empty() {
		t.Error("nil matcher should be empty")
	}
}
