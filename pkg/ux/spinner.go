// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"fmt"
	"io"
	"sync"
	"time"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// spinnerInterval is the animation frame period.
const spinnerInterval = 80 * time.Millisecond

// Spinner is an animated progress line for long-running steps.
//
// Only rich mode animates. Machine mode prints one PROGRESS line on Start
// and minimal mode prints nothing.
type Spinner struct {
	out  io.Writer
	mode Mode

	mu      sync.Mutex
	message string
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// Spinner creates a stopped spinner writing to the printer's output.
func (p *Printer) Spinner(message string) *Spinner {
	return &Spinner{out: p.out, mode: p.mode, message: message}
}

// Start begins the animation. Calling Start on a running spinner is a
// no-op.
func (s *Spinner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true

	switch s.mode {
	case ModeMachine:
		fmt.Fprintf(s.out, "PROGRESS: %s\n", s.message)
		return
	case ModeMinimal:
		return
	}

	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.animate(s.stop, s.done)
}

func (s *Spinner) animate(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(spinnerInterval)
	defer ticker.Stop()

	for frame := 0; ; frame = (frame + 1) % len(spinnerFrames) {
		select {
		case <-stop:
			// Clear the spinner line.
			fmt.Fprint(s.out, "\r\033[K")
			return
		case <-ticker.C:
			s.mu.Lock()
			msg := s.message
			s.mu.Unlock()
			fmt.Fprintf(s.out, "\r%s %s", Styles.Title.Render(spinnerFrames[frame]), msg)
		}
	}
}

// Update replaces the message while running.
func (s *Spinner) Update(message string) {
	s.mu.Lock()
	s.message = message
	s.mu.Unlock()
}

// Stop halts the animation and clears its line. It is safe to call more
// than once.
func (s *Spinner) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stop, done := s.stop, s.done
	s.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}
