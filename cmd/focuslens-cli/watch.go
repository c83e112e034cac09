package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/spf13/cobra"

	"focuslens/internal/activity"
	"focuslens/internal/ipc"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Show live activity from the daemon's snapshot stream (q to quit)",
	Run: func(cmd *cobra.Command, args []string) {
		addr := settings().StreamAddr
		if addr == "" {
			log.Fatalf("Error: the daemon stream is disabled (stream_addr is empty)")
		}
		if err := runWatch(ipc.StreamURL(addr)); err != nil {
			log.Fatalf("Error: %v", err)
		}
	},
}

func runWatch(url string) error {
	app := tview.NewApplication()
	view := tview.NewTextView().SetDynamicColors(true)
	view.SetBorder(true).SetTitle(" FocusLens ")
	view.SetText("Connecting to " + url + " ...")

	app.SetInputCapture(func(ev *tcell.EventKey) *tcell.EventKey {
		if ev.Key() == tcell.KeyEscape || ev.Rune() == 'q' {
			app.Stop()
			return nil
		}
		return ev
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var last activity.Snapshot
	var idle bool
	streamErr := make(chan error, 1)
	go func() {
		err := ipc.Subscribe(ctx, url, func(ev ipc.Event) {
			switch ev.Type {
			case ipc.EventSnapshot:
				var snap activity.Snapshot
				if err := json.Unmarshal(ev.Payload, &snap); err != nil {
					return
				}
				last = snap
			case ipc.EventIdle:
				var payload struct {
					Idle bool `json:"idle"`
				}
				if err := json.Unmarshal(ev.Payload, &payload); err != nil {
					return
				}
				idle = payload.Idle
			default:
				return
			}
			text := renderSnapshot(last, idle)
			app.QueueUpdateDraw(func() { view.SetText(text) })
		})
		streamErr <- err
		// Queued so it also works if the stream fails before Run starts.
		app.QueueUpdate(app.Stop)
	}()

	if err := app.SetRoot(view, true).Run(); err != nil {
		return err
	}
	cancel()
	return <-streamErr
}

func renderSnapshot(s activity.Snapshot, idle bool) string {
	var b strings.Builder
	state := "[green]active[-]"
	if idle {
		state = "[yellow]away[-]"
	}
	names := make([]string, len(s.Categories))
	for i, c := range s.Categories {
		names[i] = string(c)
	}
	fmt.Fprintf(&b, "State:       %s\n", state)
	fmt.Fprintf(&b, "Application: %s\n", tview.Escape(s.AppName))
	fmt.Fprintf(&b, "Window:      %s\n", tview.Escape(activity.Truncate(s.WindowTitle, 80)))
	fmt.Fprintf(&b, "Category:    [::b]%s[::-]", s.Category)
	if s.ContextTag != "" {
		fmt.Fprintf(&b, " (%s)", tview.Escape(s.ContextTag))
	}
	fmt.Fprintf(&b, "\nAll:         %s\n", strings.Join(names, ", "))
	fmt.Fprintf(&b, "Confidence:  %.2f\n", s.Confidence)
	fmt.Fprintf(&b, "Keystrokes:  %d\n", s.Keystrokes)
	if !s.Timestamp.IsZero() {
		fmt.Fprintf(&b, "Updated:     %s\n", s.Timestamp.Local().Format(time.TimeOnly))
	}
	return b.String()
}
