package protocol

import (
	"log"
	"strings"

	"focuslens/internal/activity"
)

type LineKind int

const (
	KindEmpty LineKind = iota
	KindReady
	KindDebug
	KindError
	KindWindow
	KindMalformed
	KindUnknown
)

func (k LineKind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindReady:
		return "ready"
	case KindDebug:
		return "debug"
	case KindError:
		return "error"
	case KindWindow:
		return "window"
	case KindMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Parser keeps the latest observation decoded from probe output. It is not
// safe for concurrent use; the supervisor serializes access.
type Parser struct {
	logger     *log.Logger
	latest     activity.WindowObservation
	hasLatest  bool
	background []activity.Category
	ready      bool
}

func NewParser(logger *log.Logger) *Parser {
	if logger == nil {
		logger = log.Default()
	}
	return &Parser{logger: logger}
}

// Parse consumes one line and reports what kind it was. Malformed lines are
// dropped with a warning and never touch the latest observation.
func (p *Parser) Parse(line string) LineKind {
	line = strings.TrimRight(line, "\r\n")
	trimmed := strings.TrimSpace(line)

	switch {
	case trimmed == "":
		return KindEmpty

	case trimmed == ReadyLine:
		p.ready = true
		return KindReady

	case strings.HasPrefix(trimmed, DebugPrefix):
		p.logger.Printf("Detector debug: %s", strings.TrimSpace(strings.TrimPrefix(trimmed, DebugPrefix)))
		return KindDebug

	case strings.HasPrefix(trimmed, ErrorPrefix):
		msg := strings.TrimSpace(strings.TrimPrefix(trimmed, ErrorPrefix))
		p.logger.Printf("Error: detector reported: %s", msg)
		p.SetError(msg)
		return KindError

	case strings.HasPrefix(trimmed, WindowPrefix):
		wl, err := ParseWindow(strings.TrimPrefix(strings.TrimLeft(line, " \t"), WindowPrefix))
		if err != nil {
			p.logger.Printf("Warning: dropping detector line %q: %v", activity.Truncate(line, 120), err)
			return KindMalformed
		}
		p.apply(wl)
		return KindWindow

	default:
		p.logger.Printf("Warning: unrecognized detector line %q", activity.Truncate(trimmed, 120))
		return KindUnknown
	}
}

func (p *Parser) apply(wl WindowLine) {
	// The probe only recomputes background categories periodically and sends
	// an empty field in between, so an empty field keeps the last value.
	if wl.BackgroundRaw != "" {
		p.background = ParseBackground(wl.BackgroundRaw)
	}

	appName := wl.ProcessName
	title := wl.Title
	if isIdleShell(appName, title) {
		appName = activity.IdleAppName
	}

	p.latest = activity.WindowObservation{
		AppName:     appName,
		WindowTitle: title,
		Keystrokes:  wl.Keystrokes,
		IdleMs:      wl.IdleMs,
		Background:  copyCategories(p.background),
	}
	p.hasLatest = true
}

// SetError replaces the latest observation with an error pseudo-activity
// carrying msg as its title.
func (p *Parser) SetError(msg string) {
	p.latest = activity.WindowObservation{
		AppName:     activity.ErrorAppName,
		WindowTitle: msg,
		Background:  []activity.Category{},
	}
	p.hasLatest = true
}

// Latest returns a copy of the most recent observation.
func (p *Parser) Latest() (activity.WindowObservation, bool) {
	if !p.hasLatest {
		return activity.WindowObservation{}, false
	}
	obs := p.latest
	obs.Background = copyCategories(p.latest.Background)
	return obs, true
}

// Ready reports whether the READY handshake has been seen.
func (p *Parser) Ready() bool {
	return p.ready
}

// Reset forgets everything, including sticky background categories.
func (p *Parser) Reset() {
	p.latest = activity.WindowObservation{}
	p.hasLatest = false
	p.background = nil
	p.ready = false
}

// ResetHandshake clears only the READY flag, for a restarted probe.
func (p *Parser) ResetHandshake() {
	p.ready = false
}

func copyCategories(in []activity.Category) []activity.Category {
	out := make([]activity.Category, len(in))
	copy(out, in)
	return out
}
