// Package ipc carries commands from focuslens-cli to the daemon over a unix
// socket and streams live snapshots over a websocket.
package ipc

import (
	"encoding/json"
	"fmt"
	"time"

	"focuslens/internal/activity"
)

const DefaultSocketPath = "/tmp/focuslens.sock"

// Command represents a command sent over the socket
type Command struct {
	Name string      `json:"name"`
	Args interface{} `json:"args,omitempty"`
}

// Response represents a response sent back over the socket
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

const (
	CmdPing            = "ping"
	CmdGetStatus       = "get_status"
	CmdPause           = "pause"
	CmdResume          = "resume"
	CmdSetAFKThreshold = "set_afk_threshold"
)

type SetAFKThresholdArgs struct {
	Duration string `json:"duration"` // e.g. "5m"
}

type RefineStatus struct {
	Enabled       bool      `json:"enabled"`
	Cached        int       `json:"cached"`
	Queued        int       `json:"queued"`
	InFlight      int       `json:"in_flight"`
	CooldownUntil time.Time `json:"cooldown_until,omitempty"`
}

type StatusData struct {
	SessionID     string             `json:"session_id"`
	Running       bool               `json:"running"`
	Paused        bool               `json:"paused"`
	AFKThreshold  string             `json:"afk_threshold"`
	Detector      string             `json:"detector"`
	DetectorError string             `json:"detector_error,omitempty"`
	Segments      int                `json:"segments"`
	SegmentSince  *time.Time         `json:"segment_since,omitempty"`
	Current       *activity.Snapshot `json:"current,omitempty"`
	Refine        RefineStatus       `json:"refine"`
}

// DecodeArgs converts the generic value produced by json decoding into a
// typed struct.
func DecodeArgs(input interface{}, output interface{}) error {
	if input == nil {
		return nil
	}
	jsonBytes, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("failed to marshal args: %w", err)
	}
	if err := json.Unmarshal(jsonBytes, output); err != nil {
		return fmt.Errorf("failed to unmarshal args into struct: %w", err)
	}
	return nil
}
