// Package refine improves ambiguous heuristic classifications with a remote
// batch classifier, asynchronously and without ever blocking the caller.
package refine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"go.uber.org/atomic"

	"focuslens/internal/activity"
	"focuslens/internal/classify"
)

// ErrCooldown is returned by Flush while a previous failure's cooldown is
// still running.
var ErrCooldown = errors.New("refine: cooling down after failure")

const (
	DefaultInterval    = 2500 * time.Millisecond
	DefaultBatchSize   = 8
	DefaultCooldown    = 60 * time.Second
	DefaultCacheTTL    = 12 * time.Hour
	DefaultCacheSize   = 1200
	DefaultQueueSize   = 48
	DefaultReasonLimit = 120
	DefaultCallTimeout = 20 * time.Second

	// AmbiguousConfidence is the heuristic confidence below which a result is
	// considered worth refining.
	AmbiguousConfidence = 0.88
	minTitleLength      = 4
	productName         = "focuslens"
)

// Result is the remote verdict for one request.
type Result struct {
	Key        string
	Category   string
	Confidence float64
	Reason     string
}

// BatchClassifier classifies several requests in one remote call.
type BatchClassifier interface {
	ClassifyBatch(ctx context.Context, batch []Request) ([]Result, error)
}

// Options configures a Pipeline. Zero values take the defaults above.
type Options struct {
	Interval    time.Duration
	BatchSize   int
	Cooldown    time.Duration
	CacheTTL    time.Duration
	CacheSize   int
	QueueSize   int
	ReasonLimit int
	CallTimeout time.Duration
	Now         func() time.Time
	Logger      *log.Logger
}

func (o *Options) setDefaults() {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.Cooldown <= 0 {
		o.Cooldown = DefaultCooldown
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = DefaultCacheTTL
	}
	if o.CacheSize <= 0 {
		o.CacheSize = DefaultCacheSize
	}
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
	if o.ReasonLimit <= 0 {
		o.ReasonLimit = DefaultReasonLimit
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = DefaultCallTimeout
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
}

// Stats is a point-in-time view of the pipeline's state.
type Stats struct {
	Enabled       bool
	Cached        int
	Queued        int
	InFlight      int
	CooldownUntil time.Time
}

// Pipeline owns the refinement cache, queue and in-flight set.
type Pipeline struct {
	classifier BatchClassifier
	opts       Options
	logger     *log.Logger

	mu            sync.Mutex
	cache         *Cache
	queue         *Queue
	inFlight      map[string]struct{}
	cooldownUntil time.Time

	running *atomic.Bool

	cancel context.CancelFunc
	wg     *conc.WaitGroup
}

// New creates a pipeline. A nil classifier disables refinement: Overlay then
// returns heuristics untouched.
func New(classifier BatchClassifier, opts Options) *Pipeline {
	opts.setDefaults()
	return &Pipeline{
		classifier: classifier,
		opts:       opts,
		logger:     opts.Logger,
		cache:      NewCache(opts.CacheTTL, opts.CacheSize, opts.Now),
		queue:      NewQueue(opts.QueueSize),
		inFlight:   make(map[string]struct{}),
		running:    atomic.NewBool(false),
	}
}

// Enabled reports whether a remote classifier is configured.
func (p *Pipeline) Enabled() bool { return p.classifier != nil }

var placeholderTitles = map[string]bool{
	"new tab":           true,
	"new private tab":   true,
	"new incognito tab": true,
	"newtab":            true,
	"about:blank":       true,
	"blank page":        true,
	"start page":        true,
	"untitled":          true,
}

// Eligible reports whether (app, title) with heuristic result h is worth a
// remote call.
func (p *Pipeline) Eligible(app, title string, h activity.Classification) bool {
	if !p.Enabled() {
		return false
	}
	switch app {
	case activity.IdleAppName, activity.ErrorAppName, activity.DetectingAppName:
		return false
	}
	t := strings.TrimSpace(title)
	if len([]rune(t)) < minTitleLength {
		return false
	}
	lowerTitle := strings.ToLower(t)
	if strings.Contains(lowerTitle, productName) || strings.Contains(strings.ToLower(app), productName) {
		return false
	}
	if placeholderTitles[strings.Join(strings.Fields(lowerTitle), " ")] {
		return false
	}
	return isAmbiguous(app, h)
}

func isAmbiguous(app string, h activity.Classification) bool {
	if classify.IsBrowser(app) || classify.IsTerminal(app) {
		return true
	}
	if h.Confidence < AmbiguousConfidence {
		return true
	}
	switch h.Primary() {
	case activity.CategoryBrowsing, activity.CategoryOther, activity.CategoryLearning:
		return true
	}
	return false
}

// Overlay applies a cached refinement to h, or queues an eligible miss and
// returns h unchanged. It never waits on the remote classifier.
func (p *Pipeline) Overlay(h activity.Classification, app, title string) activity.Classification {
	if !p.Enabled() {
		return h
	}
	key := Key(app, title)

	p.mu.Lock()
	entry, hit := p.cache.Get(key)
	p.mu.Unlock()

	if hit {
		return applyEntry(h, entry)
	}
	if p.Eligible(app, title, h) {
		p.Request(app, title, h.Primary())
	}
	return h
}

func applyEntry(h activity.Classification, e CacheEntry) activity.Classification {
	categories := make([]activity.Category, 0, len(h.Categories)+1)
	categories = append(categories, e.Category)
	for _, c := range h.Categories {
		if c != e.Category {
			categories = append(categories, c)
		}
	}
	confidence := h.Confidence
	if e.Confidence > confidence {
		confidence = e.Confidence
	}
	return activity.Classification{
		Categories: categories,
		ContextTag: "refined",
		Confidence: confidence,
	}
}

// Request queues (app, title) unless it is already cached, queued or in
// flight. It reports whether a new entry was queued.
func (p *Pipeline) Request(app, title string, current activity.Category) bool {
	key := Key(app, title)

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.cache.Get(key); ok {
		return false
	}
	if _, ok := p.inFlight[key]; ok {
		return false
	}
	return p.queue.Push(Request{Key: key, App: app, Title: title, CurrentCategory: current})
}

// Lookup returns the cached refinement for (app, title), if any.
func (p *Pipeline) Lookup(app, title string) (CacheEntry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cache.Get(Key(app, title))
}

// Flush dispatches one batch if the worker is idle, the cooldown has passed
// and the queue is non-empty.
func (p *Pipeline) Flush(ctx context.Context) error {
	if !p.Enabled() {
		return nil
	}
	if !p.running.CAS(false, true) {
		return nil
	}
	defer p.running.Store(false)

	p.mu.Lock()
	if p.opts.Now().Before(p.cooldownUntil) {
		p.mu.Unlock()
		return ErrCooldown
	}
	batch := p.queue.Pop(p.opts.BatchSize)
	for _, r := range batch {
		p.inFlight[r.Key] = struct{}{}
	}
	p.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx, p.opts.CallTimeout)
	results, err := p.classifier.ClassifyBatch(callCtx, batch)
	cancel()

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, r := range batch {
		delete(p.inFlight, r.Key)
	}
	if err != nil {
		p.cooldownUntil = p.opts.Now().Add(p.opts.Cooldown)
		return fmt.Errorf("refine batch of %d: %w", len(batch), err)
	}

	requested := make(map[string]bool, len(batch))
	for _, r := range batch {
		requested[r.Key] = true
	}
	for _, res := range results {
		if !requested[res.Key] {
			continue
		}
		category, ok := allowedCategory(res.Category)
		if !ok {
			p.logger.Printf("Warning: refine: ignoring category %q", res.Category)
			continue
		}
		p.cache.Put(res.Key, CacheEntry{
			Category:   category,
			Confidence: clamp(res.Confidence),
			Reason:     activity.Truncate(strings.TrimSpace(res.Reason), p.opts.ReasonLimit),
			Timestamp:  p.opts.Now(),
		})
	}
	return nil
}

// allowedCategory accepts every category except idle, which only the AFK
// machine may assign.
func allowedCategory(s string) (activity.Category, bool) {
	c, ok := activity.ParseCategory(s)
	if !ok || c == activity.CategoryIdle {
		return "", false
	}
	return c, true
}

func clamp(v float64) float64 {
	switch {
	case v != v: // NaN
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// Start runs the batch worker until ctx is done or Stop is called. It is a
// no-op when refinement is disabled or already started.
func (p *Pipeline) Start(ctx context.Context) {
	if !p.Enabled() || p.cancel != nil {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.wg = conc.NewWaitGroup()
	p.wg.Go(func() { p.run(ctx) })
}

func (p *Pipeline) run(ctx context.Context) {
	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Flush(ctx); err != nil && !errors.Is(err, ErrCooldown) {
				p.logger.Printf("Warning: %v (cooling down for %s)", err, p.opts.Cooldown)
			}
		}
	}
}

// Stop halts the worker and waits for an in-progress batch to finish.
func (p *Pipeline) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	p.wg.Wait()
	p.cancel = nil
	p.wg = nil
}

// Stats reports queue and cache sizes.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Enabled:       p.Enabled(),
		Cached:        p.cache.Len(),
		Queued:        p.queue.Len(),
		InFlight:      len(p.inFlight),
		CooldownUntil: p.cooldownUntil,
	}
}
