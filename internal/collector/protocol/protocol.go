// Package protocol implements the line protocol spoken by the OS probe on its
// standard output:
//
//	READY
//	DBG:<text>
//	ERR:<text>
//	WIN:<processName>|<windowTitle...>|<keystrokeCount>|<idleMs>|<bgCategoriesCSV>
//
// A literal "|" inside the window title is escaped as "&#124;".
package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"focuslens/internal/activity"
)

const (
	ReadyLine    = "READY"
	DebugPrefix  = "DBG:"
	ErrorPrefix  = "ERR:"
	WindowPrefix = "WIN:"

	// PipeEscape stands in for "|" inside a window title.
	PipeEscape = "&#124;"

	// BackgroundNone explicitly clears the sticky background categories.
	BackgroundNone = "none"

	minWindowFields = 5
)

var ErrMalformedLine = errors.New("malformed detector line")

// WindowLine is the decoded payload of a WIN line.
type WindowLine struct {
	ProcessName string
	Title       string
	Keystrokes  int64
	IdleMs      int64
	// BackgroundRaw is the untouched CSV field; empty means "not recomputed".
	BackgroundRaw string
}

// EscapeTitle replaces "|" with the escape sentinel.
func EscapeTitle(title string) string {
	return strings.ReplaceAll(title, "|", PipeEscape)
}

// UnescapeTitle reverses EscapeTitle.
func UnescapeTitle(title string) string {
	return strings.ReplaceAll(title, PipeEscape, "|")
}

// ParseWindow decodes the part of a WIN line after the prefix. The last three
// fields are fixed-position; anything between the process name and them is
// the title, so an unescaped "|" inside the title still parses.
func ParseWindow(payload string) (WindowLine, error) {
	fields := strings.Split(payload, "|")
	if len(fields) < minWindowFields {
		return WindowLine{}, fmt.Errorf("%w: %d fields, want at least %d", ErrMalformedLine, len(fields), minWindowFields)
	}
	n := len(fields)
	wl := WindowLine{
		ProcessName:   strings.TrimSpace(fields[0]),
		Title:         UnescapeTitle(strings.Join(fields[1:n-3], "|")),
		Keystrokes:    parseCount(fields[n-3]),
		IdleMs:        parseCount(fields[n-2]),
		BackgroundRaw: strings.TrimSpace(fields[n-1]),
	}
	return wl, nil
}

// FormatWindow renders obs as a WIN line. Background categories are joined
// with commas; an empty list renders as an empty (sticky) field.
func FormatWindow(processName, title string, keystrokes, idleMs int64, background []activity.Category) string {
	bg := make([]string, len(background))
	for i, c := range background {
		bg[i] = string(c)
	}
	return fmt.Sprintf("%s%s|%s|%d|%d|%s",
		WindowPrefix, processName, EscapeTitle(title), keystrokes, idleMs, strings.Join(bg, ","))
}

// parseCount parses a non-negative integer field; anything unparseable is 0.
func parseCount(s string) int64 {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

// ParseBackground splits a background CSV into known categories.
// Unknown names are skipped.
func ParseBackground(raw string) []activity.Category {
	if strings.EqualFold(strings.TrimSpace(raw), BackgroundNone) {
		return []activity.Category{}
	}
	var out []activity.Category
	for _, part := range strings.Split(raw, ",") {
		if c, ok := activity.ParseCategory(part); ok && c != activity.CategoryIdle {
			out = append(out, c)
		}
	}
	if out == nil {
		out = []activity.Category{}
	}
	return out
}

// isIdleShell reports whether a sample is the desktop shell with no window
// focused, which the probe reports while the workstation is locked or idle.
func isIdleShell(processName, title string) bool {
	name := strings.TrimSuffix(strings.ToLower(processName), ".exe")
	return name == "explorer" && strings.TrimSpace(title) == ""
}
