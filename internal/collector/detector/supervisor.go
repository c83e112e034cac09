// Package detector supervises the long-lived OS probe process: it checks that
// the probe can run at all, launches it, parses its output and restarts it
// once if it stops reporting.
package detector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"go.uber.org/multierr"

	"focuslens/internal/activity"
	"focuslens/internal/collector"
	"focuslens/internal/collector/protocol"
)

var _ collector.Source = (*Supervisor)(nil)

var (
	// ErrProbeFailed means the capability probe did not succeed; the
	// supervisor stays stopped and does not retry on its own.
	ErrProbeFailed = errors.New("detector: capability probe failed")
	// ErrSpawnFailed means neither inline nor file mode could start the probe.
	ErrSpawnFailed = errors.New("detector: failed to spawn probe")
	// ErrLivenessTimeout means the probe went silent again after its one
	// automatic restart.
	ErrLivenessTimeout = errors.New("detector: probe stopped reporting")
	// ErrProbeExited means the probe process ended without being asked to.
	ErrProbeExited = errors.New("detector: probe exited unexpectedly")
)

const (
	DefaultShell           = "sh"
	DefaultProbeCommand    = "echo ok"
	DefaultProbeTimeout    = 3 * time.Second
	DefaultLivenessTimeout = 25 * time.Second

	maxRestarts  = 1
	reapTimeout  = 3 * time.Second
	readBufSize  = 4096
	probeWaitMax = 500 * time.Millisecond
)

// State is the supervisor's lifecycle state.
type State int

const (
	StateStopped State = iota
	StateProbing
	StateStarting
	StateRunning
	StateRestarting
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateProbing:
		return "probing"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateRestarting:
		return "restarting"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Config describes how to run the probe.
type Config struct {
	// Shell runs both the capability probe and the probe script.
	Shell string
	// Script is the probe program, run as `Shell -c Script` or, in file
	// mode, written to a temp file and run as `Shell <file>`.
	Script          string
	ProbeCommand    string
	ProbeTimeout    time.Duration
	LivenessTimeout time.Duration
	// TempDir holds file-mode scripts; empty means os.TempDir().
	TempDir string
	Logger  *log.Logger
}

func (c *Config) setDefaults() {
	if c.Shell == "" {
		c.Shell = DefaultShell
	}
	if c.ProbeCommand == "" {
		c.ProbeCommand = DefaultProbeCommand
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = DefaultProbeTimeout
	}
	if c.LivenessTimeout <= 0 {
		c.LivenessTimeout = DefaultLivenessTimeout
	}
	if c.Logger == nil {
		c.Logger = log.Default()
	}
}

// child is one running probe process.
type child struct {
	cmd    *exec.Cmd
	script string // temp file in file mode
	done   chan struct{}
}

// Supervisor owns at most one probe process at a time.
type Supervisor struct {
	cfg    Config
	logger *log.Logger

	mu       sync.Mutex
	state    State
	gen      int // bumped whenever the current child is abandoned
	child    *child
	parser   *protocol.Parser
	watchdog *time.Timer
	restarts int
	lastErr  error
	launches int
}

// New creates a stopped supervisor.
func New(cfg Config) *Supervisor {
	cfg.setDefaults()
	return &Supervisor{
		cfg:    cfg,
		logger: cfg.Logger,
		parser: protocol.NewParser(cfg.Logger),
	}
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error that last put the supervisor into a degraded state.
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Launches returns how many probe processes have been spawned.
func (s *Supervisor) Launches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.launches
}

// Latest returns the most recent observation parsed from the probe.
func (s *Supervisor) Latest() (activity.WindowObservation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.parser.Latest()
}

// Probe runs the capability check without changing state.
func (s *Supervisor) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.cfg.Shell, "-c", s.cfg.ProbeCommand)
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.WaitDelay = probeWaitMax

	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: timed out after %s", ErrProbeFailed, s.cfg.ProbeTimeout)
		}
		return fmt.Errorf("%w: %v", ErrProbeFailed, err)
	}
	if strings.TrimSpace(string(out)) == "" {
		return fmt.Errorf("%w: no output", ErrProbeFailed)
	}
	return nil
}

// Start probes, then launches the probe process. It resets the restart
// counter. Starting a running supervisor is a no-op.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateStopped {
		s.mu.Unlock()
		return nil
	}
	s.state = StateProbing
	s.restarts = 0
	s.lastErr = nil
	gen := s.gen
	s.mu.Unlock()

	probeErr := s.Probe(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || s.state != StateProbing {
		return nil // stopped while probing
	}
	if probeErr != nil {
		s.state = StateStopped
		s.lastErr = probeErr
		s.logger.Printf("Warning: %v; activity detection disabled", probeErr)
		return probeErr
	}

	s.state = StateStarting
	if err := s.launchLocked(false); err != nil {
		s.state = StateStopped
		s.lastErr = err
		return err
	}
	s.state = StateRunning
	return nil
}

// launchLocked spawns a probe. Inline mode is tried first unless fileOnly.
func (s *Supervisor) launchLocked(fileOnly bool) error {
	var errs error
	if !fileOnly {
		c, err := s.spawnLocked(exec.Command(s.cfg.Shell, "-c", s.cfg.Script), "")
		if err == nil {
			s.child = c
			return nil
		}
		errs = multierr.Append(errs, fmt.Errorf("inline: %w", err))
		s.logger.Printf("Warning: inline probe launch failed, falling back to file mode: %v", err)
	}

	path, err := s.writeScript()
	if err != nil {
		errs = multierr.Append(errs, err)
		return fmt.Errorf("%w: %v", ErrSpawnFailed, errs)
	}
	c, err := s.spawnLocked(exec.Command(s.cfg.Shell, path), path)
	if err != nil {
		_ = os.Remove(path)
		errs = multierr.Append(errs, fmt.Errorf("file: %w", err))
		return fmt.Errorf("%w: %v", ErrSpawnFailed, errs)
	}
	s.child = c
	return nil
}

func (s *Supervisor) writeScript() (string, error) {
	f, err := os.CreateTemp(s.cfg.TempDir, "focuslens-probe-*.sh")
	if err != nil {
		return "", fmt.Errorf("create probe script: %w", err)
	}
	_, werr := f.WriteString(s.cfg.Script + "\n")
	cerr := f.Close()
	if err := multierr.Combine(werr, cerr); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("write probe script: %w", err)
	}
	if err := os.Chmod(f.Name(), 0o700); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("chmod probe script: %w", err)
	}
	return f.Name(), nil
}

func (s *Supervisor) spawnLocked(cmd *exec.Cmd, script string) (*child, error) {
	setProcessGroup(cmd)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	s.gen++
	s.launches++
	s.parser.ResetHandshake()
	c := &child{cmd: cmd, script: script, done: make(chan struct{})}
	go s.watch(s.gen, c, stdout, stderr)
	if s.restarts > 0 {
		// A restarted probe must handshake within the timeout too.
		s.armWatchdogLocked(s.gen)
	}

	mode := "inline"
	if script != "" {
		mode = "file"
	}
	s.logger.Printf("Detector started (pid %d, %s mode)", cmd.Process.Pid, mode)
	return c, nil
}

// watch drains the child's output and reaps it.
func (s *Supervisor) watch(gen int, c *child, stdout, stderr io.Reader) {
	defer close(c.done)

	var readers conc.WaitGroup
	readers.Go(func() { s.readStdout(gen, stdout) })
	readers.Go(func() { s.readStderr(gen, stderr) })
	readers.Wait()

	err := c.cmd.Wait()
	s.exited(gen, c, err)
}

func (s *Supervisor) readStdout(gen int, r io.Reader) {
	var lb protocol.LineBuffer
	buf := make([]byte, readBufSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			for _, line := range lb.Write(buf[:n]) {
				s.handleLine(gen, line)
			}
		}
		if err != nil {
			return
		}
	}
}

func (s *Supervisor) readStderr(gen int, r io.Reader) {
	var lb protocol.LineBuffer
	buf := make([]byte, readBufSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			for _, line := range lb.Write(buf[:n]) {
				if strings.TrimSpace(line) != "" {
					s.logger.Printf("Detector stderr: %s", activity.Truncate(line, 200))
				}
			}
		}
		if err != nil {
			return
		}
	}
}

func (s *Supervisor) handleLine(gen int, line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	switch s.parser.Parse(line) {
	case protocol.KindReady:
		s.armWatchdogLocked(gen)
	case protocol.KindWindow:
		if s.watchdog != nil {
			s.armWatchdogLocked(gen)
		}
	}
}

func (s *Supervisor) armWatchdogLocked(gen int) {
	if s.watchdog != nil {
		s.watchdog.Stop()
	}
	s.watchdog = time.AfterFunc(s.cfg.LivenessTimeout, func() { s.livenessExpired(gen) })
}

func (s *Supervisor) stopWatchdogLocked() {
	if s.watchdog != nil {
		s.watchdog.Stop()
		s.watchdog = nil
	}
}

// livenessExpired restarts a silent probe once in file mode; a second
// silence is terminal until the next explicit Start.
func (s *Supervisor) livenessExpired(gen int) {
	s.mu.Lock()
	if gen != s.gen || s.state != StateRunning {
		s.mu.Unlock()
		return
	}
	s.stopWatchdogLocked()

	if s.restarts >= maxRestarts {
		s.lastErr = ErrLivenessTimeout
		s.parser.SetError("activity detector stopped responding")
		s.logger.Printf("Error: %v after %d restart(s); giving up", ErrLivenessTimeout, s.restarts)
		s.state = StateStopped
		c := s.detachLocked()
		s.mu.Unlock()
		if err := s.reap(c); err != nil {
			s.logger.Printf("Warning: detector teardown: %v", err)
		}
		return
	}

	s.restarts++
	s.state = StateRestarting
	s.logger.Printf("Warning: detector silent for %s, restarting in file mode", s.cfg.LivenessTimeout)
	c := s.detachLocked()
	s.mu.Unlock()

	if err := s.reap(c); err != nil {
		s.logger.Printf("Warning: detector teardown: %v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRestarting {
		return // Stop won the race
	}
	if err := s.launchLocked(true); err != nil {
		s.state = StateStopped
		s.lastErr = err
		s.logger.Printf("Error: detector restart failed: %v", err)
		return
	}
	s.state = StateRunning
}

// detachLocked abandons the current child so its goroutines stop touching
// supervisor state.
func (s *Supervisor) detachLocked() *child {
	c := s.child
	s.child = nil
	s.gen++
	return c
}

// reap kills c's process group, waits for it to exit and removes its script.
func (s *Supervisor) reap(c *child) error {
	if c == nil {
		return nil
	}
	var errs error
	if err := killProcessGroup(c.cmd); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("kill: %w", err))
	}
	select {
	case <-c.done:
	case <-time.After(reapTimeout):
		errs = multierr.Append(errs, fmt.Errorf("pid %d did not exit within %s", c.cmd.Process.Pid, reapTimeout))
	}
	if c.script != "" {
		if err := os.Remove(c.script); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = multierr.Append(errs, fmt.Errorf("remove script: %w", err))
		}
	}
	return errs
}

// exited handles a child that ended on its own. The last sample is replaced
// by an error observation so consumers stop crediting it.
func (s *Supervisor) exited(gen int, c *child, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return // abandoned on purpose
	}
	msg := "activity detector exited"
	s.lastErr = ErrProbeExited
	if err != nil {
		msg += " (" + err.Error() + ")"
		s.lastErr = fmt.Errorf("%w: %v", ErrProbeExited, err)
	}
	s.logger.Printf("Warning: %v", s.lastErr)
	if obs, ok := s.parser.Latest(); !ok || obs.AppName != activity.ErrorAppName {
		s.parser.SetError(msg)
	}
	s.stopWatchdogLocked()
	s.child = nil
	s.gen++
	s.state = StateStopped
	if c.script != "" {
		_ = os.Remove(c.script)
	}
}

// Stop kills the probe and forgets all parsed state. It is safe to call at
// any time and more than once.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	s.stopWatchdogLocked()
	s.state = StateStopped
	c := s.detachLocked()
	s.parser.Reset()
	s.mu.Unlock()

	return s.reap(c)
}
