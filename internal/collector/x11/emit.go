// Package x11 implements the probe side of the detector protocol on X11.
package x11

import (
	"context"
	"fmt"
	"io"
	"time"

	"focuslens/internal/activity"
	"focuslens/internal/collector/protocol"
)

// Sampler is what the emit loop needs from a display.
type Sampler interface {
	Active() (process, title string, err error)
	IdleMs() int64
	Inputs() int64
	Background() []activity.Category
}

// EmitOptions controls the probe output loop.
type EmitOptions struct {
	Interval time.Duration
	// BackgroundEvery recomputes background categories on every Nth sample;
	// the field is sent empty in between.
	BackgroundEvery int
}

// Emit writes READY, then one WIN line per interval until ctx is done. A
// failed sample becomes a DBG line; a write error ends the loop.
func Emit(ctx context.Context, w io.Writer, s Sampler, opts EmitOptions) error {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.BackgroundEvery <= 0 {
		opts.BackgroundEvery = 5
	}

	if _, err := fmt.Fprintln(w, protocol.ReadyLine); err != nil {
		return fmt.Errorf("write handshake: %w", err)
	}

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	for n := 0; ; n++ {
		if err := emitOne(w, s, n%opts.BackgroundEvery == 0); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func emitOne(w io.Writer, s Sampler, withBackground bool) error {
	process, title, err := s.Active()
	if err != nil {
		_, werr := fmt.Fprintf(w, "%s%v\n", protocol.DebugPrefix, err)
		return werr
	}

	idle := s.IdleMs()
	var background []activity.Category
	if withBackground {
		background = s.Background()
	}
	line := protocol.FormatWindow(process, title, s.Inputs(), idle, background)
	if withBackground && len(background) == 0 {
		line += protocol.BackgroundNone
	}
	if _, err := fmt.Fprintln(w, line); err != nil {
		return fmt.Errorf("write sample: %w", err)
	}
	return nil
}
