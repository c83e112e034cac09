package x11

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/BurntSushi/xgb/screensaver"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil"
	"github.com/BurntSushi/xgbutil/ewmh"
	"github.com/BurntSushi/xgbutil/icccm"

	"focuslens/internal/activity"
)

// musicClasses are WM_CLASS values of players whose open window counts as
// background music.
var musicClasses = map[string]bool{
	"spotify":       true,
	"rhythmbox":     true,
	"audacious":     true,
	"clementine":    true,
	"strawberry":    true,
	"elisa":         true,
	"lollypop":      true,
	"tidal-hifi":    true,
	"deezer":        true,
	"amarok":        true,
	"cider":         true,
	"youtube music": true,
}

// Display samples the focused window and user idle time from an X server.
type Display struct {
	X              *xgbutil.XUtil
	hasScreensaver bool
	procRoot       string

	lastIdle int64
	inputs   int64
}

// Open connects to the X server named by $DISPLAY.
func Open() (*Display, error) {
	X, err := xgbutil.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}

	// Check if EWMH is supported (needed for _NET_ACTIVE_WINDOW, _NET_WM_NAME)
	if _, err := ewmh.CurrentDesktopGet(X); err != nil {
		log.Printf("Warning: EWMH potentially not supported by Window Manager: %v", err)
	}

	d := &Display{X: X, procRoot: "/proc"}
	if err := screensaver.Init(X.Conn()); err != nil {
		log.Printf("Warning: MIT-SCREEN-SAVER unavailable, idle time will read 0: %v", err)
	} else {
		d.hasScreensaver = true
	}
	return d, nil
}

// Close releases the X connection.
func (d *Display) Close() {
	d.X.Conn().Close()
}

// Active returns the process name and title of the focused window. An empty
// title with a known process is a desktop or panel.
func (d *Display) Active() (string, string, error) {
	win, err := ewmh.ActiveWindowGet(d.X)
	if err != nil {
		return "", "", fmt.Errorf("could not get active window ID: %w", err)
	}
	if win == 0 {
		return "unknown", "", nil
	}

	// Get window title (_NET_WM_NAME preferred, fallback to WM_NAME)
	title, err := ewmh.WmNameGet(d.X, win)
	if err != nil || title == "" {
		title, _ = icccm.WmNameGet(d.X, win)
	}
	return d.processName(win), title, nil
}

// processName resolves _NET_WM_PID to /proc/<pid>/comm, falling back to the
// WM_CLASS class.
func (d *Display) processName(win xproto.Window) string {
	if pid, err := ewmh.WmPidGet(d.X, win); err == nil && pid > 0 {
		if comm, err := os.ReadFile(fmt.Sprintf("%s/%d/comm", d.procRoot, pid)); err == nil {
			if name := strings.TrimSpace(string(comm)); name != "" {
				return name
			}
		}
	}
	if class, err := icccm.WmClassGet(d.X, win); err == nil && class != nil && class.Class != "" {
		return class.Class
	}
	return "unknown"
}

// IdleMs returns milliseconds since the last user input.
func (d *Display) IdleMs() int64 {
	if !d.hasScreensaver {
		return 0
	}
	reply, err := screensaver.QueryInfo(d.X.Conn(), xproto.Drawable(d.X.RootWin())).Reply()
	if err != nil {
		return 0
	}
	idle := int64(reply.MsSinceUserInput)
	// X exposes no keystroke counter without XRecord; count input bursts
	// (idle time going backwards) instead.
	if idle < d.lastIdle {
		d.inputs++
	}
	d.lastIdle = idle
	return idle
}

// Inputs returns the number of input bursts seen so far.
func (d *Display) Inputs() int64 {
	return d.inputs
}

// Background reports categories of non-focused windows, currently only music
// players.
func (d *Display) Background() []activity.Category {
	clients, err := ewmh.ClientListGet(d.X)
	if err != nil {
		return nil
	}
	for _, win := range clients {
		class, err := icccm.WmClassGet(d.X, win)
		if err != nil || class == nil {
			continue
		}
		if musicClasses[strings.ToLower(class.Class)] || musicClasses[strings.ToLower(class.Instance)] {
			return []activity.Category{activity.CategoryMusic}
		}
	}
	return []activity.Category{}
}
