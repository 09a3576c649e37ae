// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
// Package ux provides terminal output styling for the fnpack CLI.
package ux

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
)

// Palette, deep ocean teals.
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7") // Bright teal - highlights, success
	ColorTealPrimary = lipgloss.Color("#20B9B4") // Primary teal - main brand color
	ColorTealDeep    = lipgloss.Color("#16858E") // Deep teal - borders, accents
	ColorSlate       = lipgloss.Color("#2C4A54") // Slate - muted text, borders

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles.
var Styles = struct {
	Title    lipgloss.Style
	Subtitle lipgloss.Style
	Bold     lipgloss.Style
	Muted    lipgloss.Style
	Success  lipgloss.Style
	Warning  lipgloss.Style
	Error    lipgloss.Style
	Key      lipgloss.Style

	Box        lipgloss.Style
	WarningBox lipgloss.Style
}{
	Title:    lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Subtitle: lipgloss.NewStyle().Foreground(ColorTealPrimary),
	Bold:     lipgloss.NewStyle().Bold(true),
	Muted:    lipgloss.NewStyle().Foreground(ColorSlate),
	Success:  lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:  lipgloss.NewStyle().Foreground(ColorWarning),
	Error:    lipgloss.NewStyle().Foreground(ColorError),
	Key:      lipgloss.NewStyle().Foreground(ColorTealPrimary).Width(14),

	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
	WarningBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorWarning).
		Padding(0, 1),
}

// Icon provides themed status icons.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconBullet  Icon = "•"
)

// Render returns the icon with appropriate styling.
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	default:
		return string(i)
	}
}

// Mode selects how much styling output carries.
type Mode int

const (
	// ModeRich uses colors, icons and boxes.
	ModeRich Mode = iota
	// ModeMinimal uses icons without boxes.
	ModeMinimal
	// ModeMachine emits plain "KEY: value" lines for scripts.
	ModeMachine
)

// ParseMode maps "rich", "minimal" or "machine" to a Mode. Anything else is
// ModeRich.
func ParseMode(s string) Mode {
	switch strings.ToLower(s) {
	case "minimal":
		return ModeMinimal
	case "machine":
		return ModeMachine
	default:
		return ModeRich
	}
}

// DetectMode returns ModeRich for terminals and ModeMachine otherwise.
func DetectMode(w io.Writer) Mode {
	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		return ModeRich
	}
	return ModeMachine
}

// Printer writes styled CLI output.
type Printer struct {
	out  io.Writer
	mode Mode
}

// NewPrinter creates a Printer writing to out.
func NewPrinter(out io.Writer, mode Mode) *Printer {
	return &Printer{out: out, mode: mode}
}

// Mode returns the printer's mode.
func (p *Printer) Mode() Mode {
	return p.mode
}

// Title prints a styled title. Silent in machine mode.
func (p *Printer) Title(text string) {
	if p.mode == ModeMachine {
		return
	}
	fmt.Fprintln(p.out, Styles.Title.Render(text))
}

// Success prints a success message with a checkmark.
func (p *Printer) Success(text string) {
	switch p.mode {
	case ModeMachine:
		fmt.Fprintf(p.out, "OK: %s\n", text)
	case ModeMinimal:
		fmt.Fprintf(p.out, "%s %s\n", IconSuccess.Render(), text)
	default:
		fmt.Fprintf(p.out, "%s %s\n", IconSuccess.Render(), Styles.Success.Render(text))
	}
}

// Warning prints a warning message.
func (p *Printer) Warning(text string) {
	switch p.mode {
	case ModeMachine:
		fmt.Fprintf(p.out, "WARN: %s\n", text)
	case ModeMinimal:
		fmt.Fprintf(p.out, "%s %s\n", IconWarning.Render(), text)
	default:
		fmt.Fprintf(p.out, "%s %s\n", IconWarning.Render(), Styles.Warning.Render(text))
	}
}

// Error prints an error message.
func (p *Printer) Error(text string) {
	switch p.mode {
	case ModeMachine:
		fmt.Fprintf(p.out, "ERROR: %s\n", text)
	default:
		fmt.Fprintf(p.out, "%s %s\n", IconError.Render(), Styles.Error.Render(text))
	}
}

// Info prints an informational line.
func (p *Printer) Info(text string) {
	if p.mode == ModeMachine {
		fmt.Fprintln(p.out, text)
		return
	}
	fmt.Fprintf(p.out, "%s %s\n", Styles.Muted.Render("│"), text)
}

// KeyValue prints one aligned field.
func (p *Printer) KeyValue(key, value string) {
	if p.mode == ModeMachine {
		fmt.Fprintf(p.out, "%s: %s\n", strings.ToUpper(strings.ReplaceAll(key, " ", "_")), value)
		return
	}
	fmt.Fprintf(p.out, "%s %s\n", Styles.Key.Render(key), value)
}

// Box prints content in a rounded box under a title.
func (p *Printer) Box(title, content string) {
	if p.mode != ModeRich {
		fmt.Fprintf(p.out, "%s: %s\n", title, content)
		return
	}
	fmt.Fprintln(p.out, Styles.Box.Width(72).Render(Styles.Title.Render(title)+"\n"+content))
}

// WarningBox prints lines in a warning box. Machine mode prints one WARN
// line per entry.
func (p *Printer) WarningBox(title string, lines []string) {
	if len(lines) == 0 {
		return
	}
	switch p.mode {
	case ModeMachine:
		for _, l := range lines {
			fmt.Fprintf(p.out, "WARN: %s\n", l)
		}
	case ModeMinimal:
		for _, l := range lines {
			p.Warning(l)
		}
	default:
		body := make([]string, len(lines))
		for i, l := range lines {
			body[i] = fmt.Sprintf("%s %s", IconBullet, l)
		}
		heading := Styles.Warning.Bold(true).Render(title)
		fmt.Fprintln(p.out, Styles.WarningBox.Width(72).Render(heading+"\n"+strings.Join(body, "\n")))
	}
}

// Summary prints a one-line count summary.
func (p *Printer) Summary(files int, size int64, warnings int) {
	if p.mode == ModeMachine {
		fmt.Fprintf(p.out, "SUMMARY: files=%d bytes=%d warnings=%d\n", files, size, warnings)
		return
	}
	warn := Styles.Muted.Render(fmt.Sprintf("%d", warnings))
	if warnings > 0 {
		warn = Styles.Warning.Render(fmt.Sprintf("%d", warnings))
	}
	fmt.Fprintf(p.out, "\n%s %s  %s  %s %s\n",
		Styles.Success.Render(fmt.Sprintf("%d", files)), Styles.Muted.Render("files"),
		Styles.Bold.Render(Bytes(size)),
		warn, Styles.Muted.Render("warnings"),
	)
}

// Bytes formats a size with IEC units, e.g. "1.2 MiB".
func Bytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}
