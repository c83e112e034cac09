package tracker

import (
	"bytes"
	"context"
	"errors"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"focuslens/internal/activity"
	"focuslens/internal/collector/protocol"
	"focuslens/internal/refine"
)

type fakeSource struct {
	mu       sync.Mutex
	obs      activity.WindowObservation
	ok       bool
	startErr error
	starts   int
	stops    int
}

func (f *fakeSource) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	return f.startErr
}

func (f *fakeSource) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakeSource) Latest() (activity.WindowObservation, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.obs, f.ok
}

func (f *fakeSource) set(obs activity.WindowObservation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.obs, f.ok = obs, true
}

// parserSource feeds raw probe lines through the real protocol parser.
type parserSource struct {
	fakeSource
	parser *protocol.Parser
}

func (p *parserSource) feed(line string) {
	p.parser.Parse(line)
	if obs, ok := p.parser.Latest(); ok {
		p.set(obs)
	}
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	engine *Engine
	source *fakeSource
	clock  *clock
	logs   *bytes.Buffer
}

// newHarness starts an engine whose timers never fire during a test; ticks
// are driven by calling tick directly.
func newHarness(t *testing.T, source *fakeSource, opts Options) *harness {
	t.Helper()
	c := &clock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	logs := &bytes.Buffer{}
	opts.Source = source
	opts.Interval = time.Hour
	opts.Warmup = time.Hour
	opts.Now = c.Now
	opts.NewSessionID = func() string { return "session-1" }
	opts.Logger = log.New(logs, "", 0)

	e := New(opts)
	e.Start(context.Background())
	t.Cleanup(func() { e.Stop() })

	// Wait for the immediate tick.
	require.Eventually(t, func() bool {
		_, ok := e.Current()
		return ok
	}, time.Second, 5*time.Millisecond)
	return &harness{engine: e, source: source, clock: c, logs: logs}
}

func (h *harness) step(obs activity.WindowObservation) activity.Snapshot {
	h.clock.Advance(2 * time.Second)
	h.source.set(obs)
	h.engine.tick()
	snap, _ := h.engine.Current()
	return snap
}

func TestDetectingWithoutData(t *testing.T) {
	h := newHarness(t, &fakeSource{}, Options{})

	snap, ok := h.engine.Current()
	require.True(t, ok)
	assert.Equal(t, activity.DetectingAppName, snap.AppName)
	assert.Equal(t, activity.CategoryOther, snap.Category)
	assert.Equal(t, "detecting", snap.ContextTag)
	assert.Equal(t, "session-1", h.engine.SessionID())

	assert.Empty(t, h.engine.Stop())
}

func TestStartKicksOffSource(t *testing.T) {
	src := &fakeSource{startErr: errors.New("probe failed")}
	h := newHarness(t, src, Options{})

	require.Eventually(t, func() bool {
		src.mu.Lock()
		defer src.mu.Unlock()
		return src.starts == 1
	}, time.Second, 5*time.Millisecond)

	h.engine.Stop()
	h.engine.Stop()
	assert.Equal(t, 1, src.stops, "Stop is idempotent")
	assert.Contains(t, h.logs.String(), "running without activity data")
	assert.False(t, h.engine.Running())
}

func TestIdleChangeFiresOncePerCrossing(t *testing.T) {
	h := newHarness(t, &fakeSource{}, Options{AFKThreshold: 180 * time.Second})

	var mu sync.Mutex
	var calls []bool
	var atTick []int
	h.engine.OnIdleChange(func(idle bool) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, idle)
	})

	for i, idleMs := range []int64{0, 0, 185000, 185000} {
		before := len(calls)
		h.step(activity.WindowObservation{AppName: "code", WindowTitle: "main.go", IdleMs: idleMs})
		if len(calls) > before {
			atTick = append(atTick, i+1)
		}
	}
	assert.Equal(t, []bool{true}, calls)
	assert.Equal(t, []int{3}, atTick)

	snap := h.step(activity.WindowObservation{AppName: "code", WindowTitle: "main.go", IdleMs: 10})
	assert.Equal(t, []bool{true, false}, calls)
	assert.False(t, snap.Idle)
}

func TestIdleSnapshotAndSegments(t *testing.T) {
	h := newHarness(t, &fakeSource{}, Options{AFKThreshold: 3 * time.Minute})
	start := h.clock.Now()

	h.step(activity.WindowObservation{AppName: "Code", WindowTitle: "main.go", Keystrokes: 5})
	snap := h.step(activity.WindowObservation{AppName: "Code", WindowTitle: "main.go", Keystrokes: 12})
	assert.Equal(t, activity.CategoryCoding, snap.Category)
	assert.InDelta(t, 0.98, snap.Confidence, 0.001)
	assert.Equal(t, int64(12), snap.Keystrokes)

	snap = h.step(activity.WindowObservation{
		AppName: "Code", WindowTitle: "main.go", Keystrokes: 12, IdleMs: 200000,
		Background: []activity.Category{activity.CategoryMusic},
	})
	assert.Equal(t, activity.IdleAppName, snap.AppName)
	assert.Equal(t, activity.CategoryIdle, snap.Category)
	assert.Equal(t, []activity.Category{activity.CategoryIdle}, snap.Categories)
	assert.True(t, snap.Idle)

	segments := h.engine.Stop()
	require.Len(t, segments, 1)
	seg := segments[0]
	assert.Equal(t, "Code", seg.AppName)
	assert.Equal(t, activity.CategoryCoding, seg.Category)
	assert.Equal(t, start.Add(2*time.Second), seg.StartTime)
	assert.Equal(t, start.Add(6*time.Second), seg.EndTime)
	assert.Equal(t, int64(7), seg.Keystrokes)
	assert.Equal(t, "session-1", seg.SessionID)
}

func TestBackgroundCategoriesProduceParallelSegments(t *testing.T) {
	h := newHarness(t, &fakeSource{}, Options{})

	snap := h.step(activity.WindowObservation{
		AppName: "Code", WindowTitle: "main.go",
		Background: []activity.Category{activity.CategoryMusic},
	})
	assert.Equal(t, []activity.Category{activity.CategoryCoding, activity.CategoryMusic}, snap.Categories)
	assert.Equal(t, activity.CategoryCoding, snap.Category)
	h.step(activity.WindowObservation{AppName: "Code", WindowTitle: "main.go"})

	segments := h.engine.Stop()
	require.Len(t, segments, 3, "coding+music pair, then coding alone")
	assert.Equal(t, segments[0].StartTime, segments[1].StartTime)
	assert.Equal(t, segments[0].EndTime, segments[1].EndTime)
	assert.ElementsMatch(t,
		[]activity.Category{activity.CategoryCoding, activity.CategoryMusic},
		[]activity.Category{segments[0].Category, segments[1].Category})
	assert.Equal(t, activity.CategoryCoding, segments[2].Category)
	assert.Equal(t, segments[0].EndTime, segments[2].StartTime)
}

func TestKeystrokeCounterRestart(t *testing.T) {
	h := newHarness(t, &fakeSource{}, Options{})

	h.step(activity.WindowObservation{AppName: "Code", WindowTitle: "main.go", Keystrokes: 10})
	snap := h.step(activity.WindowObservation{AppName: "Code", WindowTitle: "main.go", Keystrokes: 3})
	assert.Equal(t, int64(13), snap.Keystrokes, "a counter going backwards means the probe restarted")
}

func TestExplorerWithoutTitleIsIdle(t *testing.T) {
	src := &parserSource{parser: protocol.NewParser(log.New(&bytes.Buffer{}, "", 0))}
	h := newHarness(t, &src.fakeSource, Options{})

	src.feed("READY")
	src.feed("WIN:explorer||0|500|")
	h.clock.Advance(2 * time.Second)
	h.engine.tick()

	snap, ok := h.engine.Current()
	require.True(t, ok)
	assert.Equal(t, activity.IdleAppName, snap.AppName)
	assert.Equal(t, activity.CategoryIdle, snap.Category)
	assert.Empty(t, h.engine.Stop(), "idle contributes to no segment")
}

func TestErrorObservationClosesSegment(t *testing.T) {
	h := newHarness(t, &fakeSource{}, Options{})

	h.step(activity.WindowObservation{AppName: "Code", WindowTitle: "main.go"})
	snap := h.step(activity.WindowObservation{AppName: activity.ErrorAppName, WindowTitle: "no display"})
	assert.Equal(t, "no display", snap.WindowTitle)
	assert.Equal(t, "error", snap.ContextTag)

	require.Len(t, h.engine.Segments(), 1)
	assert.Equal(t, "Code", h.engine.Segments()[0].AppName)
}

func TestPauseResume(t *testing.T) {
	h := newHarness(t, &fakeSource{}, Options{})

	var updates int
	unsubscribe := h.engine.OnActivityUpdate(func(activity.Snapshot) { updates++ })

	h.step(activity.WindowObservation{AppName: "Code", WindowTitle: "main.go", Keystrokes: 4})
	require.Equal(t, 1, updates)

	h.engine.Pause()
	assert.True(t, h.engine.Paused())
	require.Len(t, h.engine.Segments(), 1, "pausing closes the open segment")

	h.step(activity.WindowObservation{AppName: "Code", WindowTitle: "main.go", Keystrokes: 50})
	assert.Equal(t, 1, updates, "no ticks while paused")

	h.engine.Resume()
	snap := h.step(activity.WindowObservation{AppName: "Code", WindowTitle: "main.go", Keystrokes: 52})
	assert.Equal(t, 2, updates)
	assert.Equal(t, int64(6), snap.Keystrokes, "input during the pause is not counted")

	unsubscribe()
	h.step(activity.WindowObservation{AppName: "Code", WindowTitle: "main.go", Keystrokes: 52})
	assert.Equal(t, 2, updates)
}

func TestTickWaitingOnLockHonorsPause(t *testing.T) {
	h := newHarness(t, &fakeSource{}, Options{})
	h.step(activity.WindowObservation{AppName: "Code", WindowTitle: "main.go"})
	open, ok := h.engine.OpenSegment()
	require.True(t, ok)
	assert.Equal(t, "Code", open.AppName)
	assert.Equal(t, h.clock.Now(), open.Start)

	h.clock.Advance(2 * time.Second)
	h.engine.mu.Lock()
	done := make(chan struct{})
	go func() {
		h.engine.tick()
		close(done)
	}()
	// Give the tick time to pass the unlocked pause check and block.
	time.Sleep(50 * time.Millisecond)
	h.engine.paused.Store(true)
	h.engine.builder.Close(h.clock.Now())
	h.engine.mu.Unlock()
	<-done

	_, ok = h.engine.OpenSegment()
	assert.False(t, ok, "no segment reopened after pause")
	require.Len(t, h.engine.Segments(), 1)
}

func TestSetAFKThresholdClamps(t *testing.T) {
	e := New(Options{Source: &fakeSource{}})
	assert.Equal(t, 30*time.Second, e.SetAFKThreshold(5*time.Second))
	assert.Equal(t, 5*time.Minute, e.SetAFKThreshold(5*time.Minute))
	assert.Equal(t, 5*time.Minute, e.AFKThreshold())
}

func TestStartResetsSession(t *testing.T) {
	h := newHarness(t, &fakeSource{}, Options{})
	h.step(activity.WindowObservation{AppName: "Code", WindowTitle: "main.go", Keystrokes: 9})
	h.engine.Stop()

	_, ok := h.engine.Current()
	assert.False(t, ok)

	h.engine.Start(context.Background())
	require.Eventually(t, func() bool {
		_, ok := h.engine.Current()
		return ok
	}, time.Second, 5*time.Millisecond)
	snap, _ := h.engine.Current()
	assert.Equal(t, int64(9), snap.Keystrokes, "the first sample of a session counts from zero")
	assert.Empty(t, h.engine.Segments())
}

type learningClassifier struct{}

func (learningClassifier) ClassifyBatch(_ context.Context, reqs []refine.Request) ([]refine.Result, error) {
	out := make([]refine.Result, len(reqs))
	for i, r := range reqs {
		out[i] = refine.Result{Key: r.Key, Category: "learning", Confidence: 0.95, Reason: "tutorial"}
	}
	return out, nil
}

func TestRefinementOverlay(t *testing.T) {
	pipeline := refine.New(learningClassifier{}, refine.Options{
		Interval: time.Hour,
		Logger:   log.New(&bytes.Buffer{}, "", 0),
	})
	h := newHarness(t, &fakeSource{}, Options{Refiner: pipeline})

	obs := activity.WindowObservation{AppName: "chrome", WindowTitle: "Weekend plans"}
	snap := h.step(obs)
	assert.NotEqual(t, "refined", snap.ContextTag)
	assert.Equal(t, 1, pipeline.Stats().Queued)

	require.NoError(t, pipeline.Flush(context.Background()))

	snap = h.step(obs)
	assert.Equal(t, activity.CategoryLearning, snap.Category)
	assert.Equal(t, "refined", snap.ContextTag)
	assert.InDelta(t, 0.95, snap.Confidence, 0.001)
}
