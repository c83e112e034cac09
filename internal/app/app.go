package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"

	"focuslens/internal/activity"
	"focuslens/internal/classify"
	"focuslens/internal/collector/detector"
	"focuslens/internal/config"
	"focuslens/internal/ipc"
	"focuslens/internal/llm"
	"focuslens/internal/refine"
	"focuslens/internal/storage"
	"focuslens/internal/tracker"

	sqlitestore "focuslens/internal/storage/sqlite"
)

type App struct {
	cfg      *config.Config
	storage  storage.Storage
	detector *detector.Supervisor
	refiner  *refine.Pipeline
	engine   *tracker.Engine
	server   *ipc.Server
	hub      *ipc.Hub

	wg     *conc.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewApp(cfg *config.Config) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		cfg:    cfg,
		hub:    ipc.NewHub(),
		wg:     conc.NewWaitGroup(),
		ctx:    ctx,
		cancel: cancel,
	}

	a.storage = sqlitestore.NewSQLiteStore(cfg.DatabasePath)
	if err := a.storage.Init(ctx); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	rules, err := cfg.ClassifierRules()
	if err != nil {
		cancel()
		a.storage.Close()
		return nil, fmt.Errorf("invalid classify.rules: %w", err)
	}

	a.detector = detector.New(detector.Config{
		Shell:           cfg.Detector.Shell,
		Script:          cfg.Detector.Script,
		ProbeCommand:    cfg.Detector.ProbeCommand,
		ProbeTimeout:    cfg.Detector.ProbeTimeout,
		LivenessTimeout: cfg.Detector.LivenessTimeout,
	})
	a.refiner = refine.New(newBatchClassifier(cfg.LLM), refine.Options{
		Interval:  cfg.Refine.Interval,
		BatchSize: cfg.Refine.BatchSize,
		Cooldown:  cfg.Refine.Cooldown,
		CacheTTL:  cfg.Refine.CacheTTL,
		CacheSize: cfg.Refine.CacheSize,
		QueueSize: cfg.Refine.QueueSize,
	})
	a.engine = tracker.New(tracker.Options{
		Source:       a.detector,
		Classifier:   classify.New(rules...),
		Refiner:      a.refiner,
		AFKThreshold: cfg.AFKThreshold,
		Interval:     cfg.PollInterval,
	})
	a.server = ipc.NewServer(cfg.SocketPath, a.processCommand)
	return a, nil
}

// newBatchClassifier returns nil, disabling refinement, when no LLM backend is
// usable. The nil must be an untyped interface for the pipeline to notice.
func newBatchClassifier(cfg config.LLMConfig) refine.BatchClassifier {
	client, err := llm.NewClient(llm.Config{
		Backend: cfg.Backend,
		Model:   cfg.Model,
		BaseURL: cfg.BaseURL,
		APIKey:  cfg.APIKey,
		Timeout: cfg.Timeout,
	})
	if err != nil {
		if errors.Is(err, llm.ErrNotConfigured) {
			log.Printf("AI refinement disabled: %v", err)
		} else {
			log.Printf("Warning: AI refinement disabled: %v", err)
		}
		return nil
	}
	log.Printf("AI refinement enabled (%s, %s)", client.Backend(), client.Model())
	return refine.NewLLMClassifier(client)
}

// processCommand routes the command to the correct handler
func (a *App) processCommand(cmd ipc.Command) ipc.Response {
	switch cmd.Name {
	case ipc.CmdPing:
		return ipc.Response{Success: true, Message: "pong"}

	case ipc.CmdGetStatus:
		return ipc.Response{Success: true, Data: a.status()}

	case ipc.CmdPause:
		if a.engine.Paused() {
			return ipc.Response{Success: true, Message: "Tracking already paused"}
		}
		a.engine.Pause()
		return ipc.Response{Success: true, Message: "Tracking paused"}

	case ipc.CmdResume:
		a.engine.Resume()
		return ipc.Response{Success: true, Message: "Tracking resumed"}

	case ipc.CmdSetAFKThreshold:
		var args ipc.SetAFKThresholdArgs
		if err := ipc.DecodeArgs(cmd.Args, &args); err != nil {
			return ipc.Response{Success: false, Message: fmt.Sprintf("Invalid args for %s: %v", cmd.Name, err)}
		}
		d, err := time.ParseDuration(args.Duration)
		if err != nil {
			return ipc.Response{Success: false, Message: fmt.Sprintf("Invalid duration format '%s': %v", args.Duration, err)}
		}
		applied := a.engine.SetAFKThreshold(d)
		return ipc.Response{Success: true, Message: fmt.Sprintf("AFK threshold set to %s", applied)}

	default:
		return ipc.Response{Success: false, Message: fmt.Sprintf("Unknown command: %s", cmd.Name)}
	}
}

func (a *App) status() ipc.StatusData {
	st := ipc.StatusData{
		SessionID:    a.engine.SessionID(),
		Running:      a.engine.Running(),
		Paused:       a.engine.Paused(),
		AFKThreshold: a.engine.AFKThreshold().String(),
		Detector:     a.detector.State().String(),
		Segments:     len(a.engine.Segments()),
	}
	if err := a.detector.Err(); err != nil {
		st.DetectorError = err.Error()
	}
	if open, ok := a.engine.OpenSegment(); ok {
		st.SegmentSince = &open.Start
	}
	if snap, ok := a.engine.Current(); ok {
		st.Current = &snap
	}
	rs := a.refiner.Stats()
	st.Refine = ipc.RefineStatus{
		Enabled:       rs.Enabled,
		Cached:        rs.Cached,
		Queued:        rs.Queued,
		InFlight:      rs.InFlight,
		CooldownUntil: rs.CooldownUntil,
	}
	return st
}

func (a *App) Run() error {
	defer a.cleanup()

	log.Println("Starting FocusLens daemon...")

	if err := a.server.Listen(); err != nil {
		return fmt.Errorf("failed to set up socket: %w", err)
	}

	a.handleSignals()

	a.engine.OnActivityUpdate(func(snap activity.Snapshot) {
		a.hub.Broadcast(ipc.EventSnapshot, snap)
	})
	a.engine.OnIdleChange(func(idle bool) {
		if idle {
			log.Printf("User went idle (threshold %s)", a.engine.AFKThreshold())
		} else {
			log.Println("User is back")
		}
		a.hub.Broadcast(ipc.EventIdle, map[string]bool{"idle": idle})
	})
	a.cfg.Watch(func(next *config.Config) {
		applied := a.engine.SetAFKThreshold(next.AFKThreshold)
		log.Printf("AFK threshold now %s", applied)
	})

	a.engine.Start(a.ctx)

	a.wg.Go(func() { a.server.Serve(a.ctx) })
	if a.cfg.StreamAddr != "" {
		a.wg.Go(func() {
			if err := a.hub.ListenAndServe(a.ctx, a.cfg.StreamAddr); err != nil {
				log.Printf("Warning: snapshot stream disabled: %v", err)
			}
		})
	}

	log.Println("FocusLens daemon running. Send commands via focuslens-cli or socket.")
	<-a.ctx.Done()

	log.Println("Shutdown signal received, waiting for components...")
	a.persist(a.engine.Stop())

	waitChan := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(waitChan)
	}()

	select {
	case <-waitChan:
		log.Println("All application goroutines finished.")
	case <-time.After(5 * time.Second):
		log.Println("Warning: Timeout waiting for application goroutines to stop.")
	}

	log.Println("FocusLens daemon finished.")
	return nil
}

func (a *App) persist(segments []activity.Segment) {
	if len(segments) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.storage.SaveSegments(ctx, segments); err != nil {
		log.Printf("Error: failed to save %d segments: %v", len(segments), err)
		return
	}
	log.Printf("Saved %d segments", len(segments))
}

func (a *App) handleSignals() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			log.Printf("Received signal: %v. Initiating shutdown...", sig)
			a.cancel()
		case <-a.ctx.Done():
		}
		signal.Stop(sigChan)
	}()
}

// Shutdown stops a running daemon as if it had received SIGTERM.
func (a *App) Shutdown() {
	a.cancel()
}

func (a *App) cleanup() {
	log.Println("Running cleanup...")
	a.cancel()

	// Covers an early return from Run before the engine was stopped.
	a.persist(a.engine.Stop())

	if err := a.server.Close(); err != nil {
		log.Printf("Error closing socket listener: %v", err)
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			log.Printf("Error closing storage: %v", err)
		}
	}
	log.Println("Cleanup finished.")
}
