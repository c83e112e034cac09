package refine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"focuslens/internal/activity"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeClassifier struct {
	mu      sync.Mutex
	calls   [][]Request
	err     error
	reply   func(batch []Request) []Result
	started chan struct{}
	release chan struct{}
}

func (f *fakeClassifier) ClassifyBatch(ctx context.Context, batch []Request) ([]Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, batch)
	err, reply, started, release := f.err, f.reply, f.started, f.release
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		<-release
	}
	if err != nil {
		return nil, err
	}
	if reply != nil {
		return reply(batch), nil
	}
	out := make([]Result, len(batch))
	for i, r := range batch {
		out[i] = Result{Key: r.Key, Category: "coding", Confidence: 0.95, Reason: "looks like work"}
	}
	return out, nil
}

func (f *fakeClassifier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestPipeline(t *testing.T, c BatchClassifier) (*Pipeline, *fakeClock, *bytes.Buffer) {
	t.Helper()
	clock := newFakeClock()
	var buf bytes.Buffer
	p := New(c, Options{Now: clock.Now, Logger: log.New(&buf, "", 0)})
	return p, clock, &buf
}

var browsing = activity.Classification{
	Categories: []activity.Category{activity.CategoryBrowsing},
	ContextTag: "browser:browsing",
	Confidence: 0.6,
}

func TestKeyNormalizes(t *testing.T) {
	assert.Equal(t, Key("Chrome", "Some   Page\tTitle"), Key("chrome", " some page title "))
	assert.NotEqual(t, Key("chrome", "a"), Key("firefox", "a"))

	long := strings.Repeat("x", 500)
	assert.Equal(t, Key("app", long), Key("app", long+"tail"))
}

func TestCacheExpiresAndEvictsOldest(t *testing.T) {
	clock := newFakeClock()
	c := NewCache(time.Hour, 2, clock.Now)

	c.Put("a", CacheEntry{Category: activity.CategoryCoding})
	clock.Advance(time.Minute)
	c.Put("b", CacheEntry{Category: activity.CategoryMusic})
	clock.Advance(time.Minute)
	c.Put("c", CacheEntry{Category: activity.CategoryDesign})

	assert.Equal(t, 2, c.Len())
	_, ok := c.Get("a")
	assert.False(t, ok, "oldest entry evicted")
	_, ok = c.Get("b")
	assert.True(t, ok)

	clock.Advance(time.Hour)
	_, ok = c.Get("b")
	assert.False(t, ok, "entry past its TTL")
	e, ok := c.Get("c")
	require.True(t, ok)
	assert.Equal(t, activity.CategoryDesign, e.Category)
}

func TestQueueDedupsAndEvictsOldest(t *testing.T) {
	q := NewQueue(3)
	assert.True(t, q.Push(Request{Key: "1"}))
	assert.False(t, q.Push(Request{Key: "1"}))
	assert.True(t, q.Push(Request{Key: "2"}))
	assert.True(t, q.Push(Request{Key: "3"}))
	assert.True(t, q.Push(Request{Key: "4"}))

	assert.Equal(t, 3, q.Len())
	assert.False(t, q.Contains("1"))

	got := q.Pop(2)
	require.Len(t, got, 2)
	assert.Equal(t, "2", got[0].Key)
	assert.Equal(t, "3", got[1].Key)
	assert.False(t, q.Contains("2"))
	assert.True(t, q.Push(Request{Key: "2"}), "popped keys may be queued again")

	assert.Len(t, q.Pop(10), 2)
	assert.Empty(t, q.Pop(1))
}

func TestEligibility(t *testing.T) {
	p, _, _ := newTestPipeline(t, &fakeClassifier{})
	ide := activity.Classification{Categories: []activity.Category{activity.CategoryCoding}, Confidence: 0.98}
	lowDesign := activity.Classification{Categories: []activity.Category{activity.CategoryDesign}, Confidence: 0.85}
	learning := activity.Classification{Categories: []activity.Category{activity.CategoryLearning}, Confidence: 0.9}

	tests := []struct {
		name  string
		app   string
		title string
		h     activity.Classification
		want  bool
	}{
		{"browser", "chrome", "Weather today", browsing, true},
		{"terminal even when confident", "kitty", "cargo build", ide, true},
		{"confident editor", "code", "main.go - project", ide, false},
		{"low confidence", "electron", "Some App Window", lowDesign, true},
		{"ambiguous category", "okular", "paper about cats", learning, true},
		{"idle sentinel", activity.IdleAppName, "whatever here", browsing, false},
		{"error sentinel", activity.ErrorAppName, "display unavailable", browsing, false},
		{"short title", "chrome", "abc", browsing, false},
		{"self reference", "chrome", "FocusLens dashboard", browsing, false},
		{"self reference app", "focuslens-cli", "watch view", browsing, false},
		{"new tab", "chrome", "New  Tab", browsing, false},
		{"blank", "firefox", "about:blank", browsing, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Eligible(tt.app, tt.title, tt.h))
		})
	}

	disabled := New(nil, Options{})
	assert.False(t, disabled.Eligible("chrome", "Weather today", browsing))
}

func TestOverlayMissQueuesAndReturnsHeuristic(t *testing.T) {
	f := &fakeClassifier{}
	p, _, _ := newTestPipeline(t, f)

	got := p.Overlay(browsing, "chrome", "Weather today")
	assert.Equal(t, browsing, got)
	assert.Equal(t, 1, p.Stats().Queued)

	p.Overlay(browsing, "chrome", "weather   TODAY")
	assert.Equal(t, 1, p.Stats().Queued, "same normalized key is not queued twice")
	assert.Zero(t, f.callCount(), "overlay never calls the classifier")
}

func TestOverlayAppliesCacheHit(t *testing.T) {
	f := &fakeClassifier{}
	p, _, _ := newTestPipeline(t, f)

	p.Overlay(browsing, "chrome", "Weather today")
	require.NoError(t, p.Flush(context.Background()))

	got := p.Overlay(browsing, "chrome", "Weather today")
	assert.Equal(t, []activity.Category{activity.CategoryCoding, activity.CategoryBrowsing}, got.Categories)
	assert.InDelta(t, 0.95, got.Confidence, 0.001)
	assert.Equal(t, "refined", got.ContextTag)

	// Confidence is the max of heuristic and cached.
	strong := activity.Classification{Categories: []activity.Category{activity.CategoryBrowsing, activity.CategoryCoding}, Confidence: 0.99}
	got = p.Overlay(strong, "chrome", "Weather today")
	assert.Equal(t, []activity.Category{activity.CategoryCoding, activity.CategoryBrowsing}, got.Categories)
	assert.InDelta(t, 0.99, got.Confidence, 0.001)

	assert.False(t, p.Request("chrome", "Weather today", activity.CategoryBrowsing), "cached pairs are not re-queued")
}

func TestCachedResultExpires(t *testing.T) {
	p, clock, _ := newTestPipeline(t, &fakeClassifier{})
	p.Overlay(browsing, "chrome", "Weather today")
	require.NoError(t, p.Flush(context.Background()))

	_, ok := p.Lookup("chrome", "Weather today")
	require.True(t, ok)

	clock.Advance(DefaultCacheTTL + time.Second)
	got := p.Overlay(browsing, "chrome", "Weather today")
	assert.Equal(t, browsing, got)
	assert.Equal(t, 1, p.Stats().Queued, "expired pair is queued again")
}

func TestFlushBatchesUpToEight(t *testing.T) {
	f := &fakeClassifier{}
	p, _, _ := newTestPipeline(t, f)

	for i := 0; i < 11; i++ {
		assert.True(t, p.Request("chrome", fmt.Sprintf("page number %d", i), activity.CategoryBrowsing))
	}
	require.NoError(t, p.Flush(context.Background()))
	require.Equal(t, 1, f.callCount())
	assert.Len(t, f.calls[0], DefaultBatchSize)
	assert.Equal(t, 3, p.Stats().Queued)
	assert.Equal(t, 8, p.Stats().Cached)

	require.NoError(t, p.Flush(context.Background()))
	assert.Len(t, f.calls[1], 3)
	assert.Zero(t, p.Stats().Queued)

	require.NoError(t, p.Flush(context.Background()))
	assert.Equal(t, 2, f.callCount(), "empty queue dispatches nothing")
}

func TestQueueBoundEvictsOldest(t *testing.T) {
	p, _, _ := newTestPipeline(t, &fakeClassifier{})
	for i := 0; i < DefaultQueueSize+5; i++ {
		p.Request("chrome", fmt.Sprintf("page number %d", i), activity.CategoryBrowsing)
	}
	assert.Equal(t, DefaultQueueSize, p.Stats().Queued)
	assert.False(t, p.queue.Contains(Key("chrome", "page number 0")))
	assert.True(t, p.queue.Contains(Key("chrome", fmt.Sprintf("page number %d", DefaultQueueSize+4))))
}

func TestInFlightPairsAreNotRequeued(t *testing.T) {
	f := &fakeClassifier{started: make(chan struct{}), release: make(chan struct{})}
	p, _, _ := newTestPipeline(t, f)
	p.Request("chrome", "Weather today", activity.CategoryBrowsing)

	done := make(chan error)
	go func() { done <- p.Flush(context.Background()) }()
	<-f.started

	assert.Equal(t, 1, p.Stats().InFlight)
	assert.False(t, p.Request("chrome", "Weather today", activity.CategoryBrowsing))
	assert.NoError(t, p.Flush(context.Background()), "second flush is a no-op while one runs")

	close(f.release)
	require.NoError(t, <-done)
	assert.Zero(t, p.Stats().InFlight)
	assert.Equal(t, 1, f.callCount())
}

func TestFailureStartsCooldown(t *testing.T) {
	f := &fakeClassifier{err: errors.New("503")}
	p, clock, _ := newTestPipeline(t, f)
	p.Request("chrome", "Weather today", activity.CategoryBrowsing)

	err := p.Flush(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Zero(t, p.Stats().InFlight, "in-flight cleared after failure")

	assert.True(t, p.Request("chrome", "Weather today", activity.CategoryBrowsing), "failed pair can be reconsidered")
	assert.ErrorIs(t, p.Flush(context.Background()), ErrCooldown)
	assert.Equal(t, 1, f.callCount())

	clock.Advance(DefaultCooldown - time.Second)
	assert.ErrorIs(t, p.Flush(context.Background()), ErrCooldown)

	f.mu.Lock()
	f.err = nil
	f.mu.Unlock()
	clock.Advance(2 * time.Second)
	require.NoError(t, p.Flush(context.Background()))
	assert.Equal(t, 2, f.callCount())
	_, ok := p.Lookup("chrome", "Weather today")
	assert.True(t, ok)
}

func TestCacheConsultedDuringCooldown(t *testing.T) {
	f := &fakeClassifier{}
	p, _, _ := newTestPipeline(t, f)
	p.Request("chrome", "Weather today", activity.CategoryBrowsing)
	require.NoError(t, p.Flush(context.Background()))

	f.err = errors.New("boom")
	p.Request("chrome", "Other page", activity.CategoryBrowsing)
	require.Error(t, p.Flush(context.Background()))

	got := p.Overlay(browsing, "chrome", "Weather today")
	assert.Equal(t, activity.CategoryCoding, got.Primary())
}

func TestResultsAreValidated(t *testing.T) {
	f := &fakeClassifier{reply: func(batch []Request) []Result {
		return []Result{
			{Key: batch[0].Key, Category: "Music", Confidence: 1.7, Reason: strings.Repeat("r", 300)},
			{Key: batch[1].Key, Category: "sleeping", Confidence: 0.9},
			{Key: batch[2].Key, Category: "idle", Confidence: 0.9},
			{Key: batch[3].Key, Category: "social", Confidence: -2},
			{Key: "not-requested", Category: "coding", Confidence: 0.9},
		}
	}}
	p, _, logs := newTestPipeline(t, f)
	for _, title := range []string{"first page", "second page", "third page", "fourth page"} {
		p.Request("chrome", title, activity.CategoryBrowsing)
	}
	require.NoError(t, p.Flush(context.Background()))

	e, ok := p.Lookup("chrome", "first page")
	require.True(t, ok)
	assert.Equal(t, activity.CategoryMusic, e.Category)
	assert.Equal(t, 1.0, e.Confidence)
	assert.Len(t, []rune(e.Reason), DefaultReasonLimit)

	_, ok = p.Lookup("chrome", "second page")
	assert.False(t, ok)
	_, ok = p.Lookup("chrome", "third page")
	assert.False(t, ok)

	e, ok = p.Lookup("chrome", "fourth page")
	require.True(t, ok)
	assert.Equal(t, 0.0, e.Confidence)

	assert.Equal(t, 2, p.Stats().Cached)
	assert.Contains(t, logs.String(), `ignoring category "sleeping"`)
}

func TestDisabledPipelineIsPassThrough(t *testing.T) {
	p := New(nil, Options{})
	assert.Equal(t, browsing, p.Overlay(browsing, "chrome", "Weather today"))
	assert.Zero(t, p.Stats().Queued)
	assert.NoError(t, p.Flush(context.Background()))
	p.Start(context.Background())
	p.Stop()
}

func TestWorkerRefinesInBackground(t *testing.T) {
	f := &fakeClassifier{}
	p := New(f, Options{Interval: 10 * time.Millisecond, Logger: log.New(&bytes.Buffer{}, "", 0)})
	p.Start(context.Background())
	defer p.Stop()

	p.Overlay(browsing, "chrome", "Weather today")
	assert.Eventually(t, func() bool {
		return p.Overlay(browsing, "chrome", "Weather today").Primary() == activity.CategoryCoding
	}, 2*time.Second, 10*time.Millisecond)
}
