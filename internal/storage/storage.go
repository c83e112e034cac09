// Package storage defines where finished activity segments are kept.
package storage

import (
	"context"
	"time"

	"focuslens/internal/activity"
)

type Storage interface {
	Init(ctx context.Context) error
	// SaveSegments writes a batch of segments atomically.
	SaveSegments(ctx context.Context, segments []activity.Segment) error
	// GetSegments returns segments overlapping [start, end], oldest first,
	// optionally restricted to the given categories.
	GetSegments(ctx context.Context, start, end time.Time, categories ...activity.Category) ([]activity.Segment, error)
	Close() error
}
