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
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Matcher matches canonical relative paths against a set of glob patterns.
//
// Patterns use doublestar syntax:
//   - * matches any sequence of non-separator characters
//   - ** matches any sequence of characters including separators
//   - ? matches any single non-separator character
//   - [abc] and {a,b} alternation
//
// A pattern ending in "/" also matches everything below that directory.
//
// Thread Safety: Matcher is safe for concurrent use after creation.
type Matcher struct {
	patterns []string
}

// NewMatcher validates patterns and builds a matcher.
//
// Empty strings are skipped. Leading "./" is stripped so "./static/**" and
// "static/**" behave the same. An empty pattern set matches nothing.
func NewMatcher(patterns []string) (*Matcher, error) {
	m := &Matcher{patterns: make([]string, 0, len(patterns))}
	for _, p := range patterns {
		p = NormalizePattern(p)
		if p == "" {
			continue
		}
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPattern, p)
		}
		m.patterns = append(m.patterns, p)
	}
	return m, nil
}

// NormalizePattern trims whitespace and a leading "./" and expands a trailing
// "/" into a recursive match.
func NormalizePattern(p string) string {
	p = strings.TrimSpace(p)
	p = strings.TrimPrefix(p, "./")
	if strings.HasSuffix(p, "/") {
		p += "**"
	}
	return p
}

// Match reports whether relPath matches any pattern.
func (m *Matcher) Match(relPath string) bool {
	if m == nil || len(m.patterns) == 0 {
		return false
	}
	rel := Canonical(relPath)
	for _, p := range m.patterns {
		// Patterns were validated in NewMatcher; MatchUnvalidated skips the
		// per-call check.
		if doublestar.MatchUnvalidated(p, rel) {
			return true
		}
	}
	return false
}

// Patterns returns a copy of the normalized patterns.
func (m *Matcher) Patterns() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.patterns...)
}

// Empty reports whether the matcher has no patterns.
func (m *Matcher) Empty() bool {
	return m == nil || len(m.patterns) == 0
}
