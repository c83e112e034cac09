package collector

import (
	"context"

	"focuslens/internal/activity"
)

// Source defines the interface for foreground-window observers. The detector
// supervisor is the production implementation.
type Source interface {
	Start(ctx context.Context) error
	Stop() error
	// Latest returns the most recent observation, if any has been seen.
	Latest() (activity.WindowObservation, bool)
}
