// Package tracker polls the detector, classifies what the user is doing and
// turns the result into snapshots and segments.
package tracker

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"go.uber.org/atomic"

	"focuslens/internal/activity"
	"focuslens/internal/afk"
	"focuslens/internal/classify"
	"focuslens/internal/collector"
	"focuslens/internal/refine"
	"focuslens/internal/segment"
)

const (
	DefaultInterval = 2 * time.Second
	DefaultWarmup   = 750 * time.Millisecond
)

// Options configures an Engine. Source is required; everything else has a
// usable default.
type Options struct {
	Source     collector.Source
	Classifier *classify.Classifier
	// Refiner overlays cached AI refinements. Nil means heuristics only.
	Refiner      *refine.Pipeline
	AFKThreshold time.Duration
	Interval     time.Duration
	Warmup       time.Duration
	Now          func() time.Time
	NewSessionID func() string
	Logger       *log.Logger
}

func (o *Options) setDefaults() {
	if o.Classifier == nil {
		o.Classifier = classify.New()
	}
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.Warmup <= 0 {
		o.Warmup = DefaultWarmup
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NewSessionID == nil {
		o.NewSessionID = func() string { return uuid.New().String() }
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
}

// Engine is the poller. One Engine serves one tracking session at a time.
type Engine struct {
	opts   Options
	logger *log.Logger
	afk    *afk.Machine

	paused *atomic.Bool

	mu          sync.Mutex
	running     bool
	sessionID   string
	builder     *segment.Builder
	lastKeys    int64
	sessionKeys int64
	current     activity.Snapshot
	hasCurrent  bool
	cancel      context.CancelFunc
	wg          *conc.WaitGroup

	activityListeners registry[activity.Snapshot]
}

func New(opts Options) *Engine {
	opts.setDefaults()
	return &Engine{
		opts:    opts,
		logger:  opts.Logger,
		afk:     afk.NewMachine(opts.AFKThreshold),
		paused:  atomic.NewBool(false),
		builder: segment.New(""),
	}
}

// Start begins a new session: counters are reset, a tick runs immediately and
// again after the warm-up delay, and the source is started in the background.
// Starting a running engine is a no-op.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.sessionID = e.opts.NewSessionID()
	e.builder = segment.New(e.sessionID)
	e.lastKeys = 0
	e.sessionKeys = 0
	e.current = activity.Snapshot{}
	e.hasCurrent = false
	e.afk.Reset()
	ctx, e.cancel = context.WithCancel(ctx)
	e.wg = conc.NewWaitGroup()
	wg := e.wg
	e.mu.Unlock()

	e.paused.Store(false)
	if e.opts.Refiner != nil {
		e.opts.Refiner.Start(ctx)
	}

	wg.Go(func() {
		if err := e.opts.Source.Start(ctx); err != nil {
			e.logger.Printf("Warning: detector unavailable, running without activity data: %v", err)
		}
	})
	wg.Go(func() { e.run(ctx) })
	e.logger.Printf("Tracking session %s started", e.SessionID())
}

func (e *Engine) run(ctx context.Context) {
	e.tick()

	warmup := time.NewTimer(e.opts.Warmup)
	defer warmup.Stop()
	ticker := time.NewTicker(e.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-warmup.C:
			e.tick()
		case <-ticker.C:
			e.tick()
		}
	}
}

// Stop ends the session. It tears down the source and the refinement worker,
// flushes the open segment and returns every segment of the session. Calling
// Stop on a stopped engine returns nil.
func (e *Engine) Stop() []activity.Segment {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	cancel, wg := e.cancel, e.wg
	e.cancel, e.wg = nil, nil
	e.mu.Unlock()

	cancel()
	wg.Wait()

	if err := e.opts.Source.Stop(); err != nil {
		e.logger.Printf("Warning: stopping detector: %v", err)
	}
	if e.opts.Refiner != nil {
		e.opts.Refiner.Stop()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	segments := e.builder.Stop(e.opts.Now())
	e.hasCurrent = false
	e.logger.Printf("Tracking session %s stopped with %d segments", e.sessionID, len(segments))
	return segments
}

// Pause suspends ticking. The open segment is closed so paused time is not
// attributed to it; session counters are kept.
func (e *Engine) Pause() {
	if e.paused.Swap(true) {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		e.builder.Close(e.opts.Now())
	}
}

// Resume continues ticking. Input counted by the probe while paused is not
// credited to the session.
func (e *Engine) Resume() {
	e.mu.Lock()
	if obs, ok := e.opts.Source.Latest(); ok && e.running {
		e.lastKeys = obs.Keystrokes
	}
	e.mu.Unlock()
	e.paused.Store(false)
}

func (e *Engine) Paused() bool {
	return e.paused.Load()
}

func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Current returns the snapshot published by the latest tick.
func (e *Engine) Current() (activity.Snapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.hasCurrent {
		return activity.Snapshot{}, false
	}
	return copySnapshot(e.current), true
}

// Segments returns the segments closed so far in this session.
func (e *Engine) Segments() []activity.Segment {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.builder.Segments()
}

// OpenSegment returns the segment still being extended, if any.
func (e *Engine) OpenSegment() (segment.Current, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.builder.Open()
}

// OnActivityUpdate registers fn for every published snapshot and returns its
// unsubscribe func.
func (e *Engine) OnActivityUpdate(fn func(activity.Snapshot)) func() {
	return e.activityListeners.add(fn)
}

// OnIdleChange registers fn for AFK transitions and returns its unsubscribe
// func.
func (e *Engine) OnIdleChange(fn func(idle bool)) func() {
	return e.afk.OnChange(fn)
}

// SetAFKThreshold changes the AFK threshold and returns the clamped value.
func (e *Engine) SetAFKThreshold(d time.Duration) time.Duration {
	return e.afk.SetThreshold(d)
}

func (e *Engine) AFKThreshold() time.Duration {
	return e.afk.Threshold()
}

func (e *Engine) SessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessionID
}

// tick runs one poll. Listeners are called after the engine lock is released.
func (e *Engine) tick() {
	if e.paused.Load() {
		return
	}

	e.mu.Lock()
	// Pause may have closed the builder while this tick waited for the lock.
	if !e.running || e.paused.Load() {
		e.mu.Unlock()
		return
	}
	snap, notifyIdle := e.observeLocked(e.opts.Now())
	e.current = snap
	e.hasCurrent = true
	e.mu.Unlock()

	notifyIdle()
	for _, fn := range e.activityListeners.all() {
		fn(copySnapshot(snap))
	}
}

// observeLocked returns the new snapshot and a func that notifies idle
// listeners if the AFK state changed.
func (e *Engine) observeLocked(now time.Time) (activity.Snapshot, func()) {
	obs, ok := e.opts.Source.Latest()
	if !ok {
		e.builder.Close(now)
		return e.snapshot(now, activity.DetectingAppName, "", nil), func() {}
	}

	_, notifyIdle := e.afk.Update(obs.IdleMs)
	idle := e.afk.State() == afk.Idle

	delta := obs.Keystrokes - e.lastKeys
	if delta < 0 {
		// The probe restarted and its counter began again from zero.
		delta = obs.Keystrokes
	}
	e.lastKeys = obs.Keystrokes
	e.sessionKeys += delta

	app, title, background := obs.AppName, obs.WindowTitle, obs.Background
	if idle {
		app, title, background = activity.IdleAppName, "", nil
	}

	snap := e.snapshot(now, app, title, background)
	snap.Idle = idle || snap.Category == activity.CategoryIdle

	switch app {
	case activity.ErrorAppName, activity.DetectingAppName:
		e.builder.Close(now)
	default:
		fg := snap.Categories
		if snap.Idle {
			fg = []activity.Category{activity.CategoryIdle}
		}
		e.builder.Observe(now, app, title, fg, nil, delta)
	}
	return snap, notifyIdle
}

// snapshot classifies (app, title), applies any cached refinement and merges
// the background categories.
func (e *Engine) snapshot(now time.Time, app, title string, background []activity.Category) activity.Snapshot {
	c := e.opts.Classifier.Classify(app, title)
	if e.opts.Refiner != nil {
		c = e.opts.Refiner.Overlay(c, app, title)
	}

	categories := []activity.Category{c.Primary()}
	if c.Primary() != activity.CategoryIdle {
		categories = activity.MergeCategories(c.Categories, background)
	}
	return activity.Snapshot{
		AppName:     app,
		WindowTitle: title,
		Category:    c.Primary(),
		Categories:  categories,
		ContextTag:  c.ContextTag,
		Confidence:  c.Confidence,
		Timestamp:   now,
		Keystrokes:  e.sessionKeys,
	}
}

func copySnapshot(s activity.Snapshot) activity.Snapshot {
	s.Categories = append([]activity.Category(nil), s.Categories...)
	return s
}
