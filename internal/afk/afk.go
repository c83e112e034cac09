// Package afk tracks whether the user is at the keyboard based on the idle
// time reported by the probe.
package afk

import (
	"sync"
	"time"
)

const (
	DefaultThreshold = 3 * time.Minute
	MinThreshold     = 30 * time.Second
)

type State int

const (
	Active State = iota
	Idle
)

func (s State) String() string {
	if s == Idle {
		return "idle"
	}
	return "active"
}

// Machine switches between Active and Idle when the reported idle time
// crosses the threshold. Listeners hear about actual transitions only.
type Machine struct {
	mu        sync.Mutex
	threshold time.Duration
	state     State
	listeners map[int]func(idle bool)
	nextID    int
}

func NewMachine(threshold time.Duration) *Machine {
	return &Machine{
		threshold: ClampThreshold(threshold),
		state:     Active,
		listeners: make(map[int]func(bool)),
	}
}

// ClampThreshold applies the default for zero and the safe minimum otherwise.
func ClampThreshold(d time.Duration) time.Duration {
	if d == 0 {
		return DefaultThreshold
	}
	if d < MinThreshold {
		return MinThreshold
	}
	return d
}

// SetThreshold changes the threshold and returns the clamped value in effect.
// The new value applies from the next Update.
func (m *Machine) SetThreshold(d time.Duration) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threshold = ClampThreshold(d)
	return m.threshold
}

func (m *Machine) Threshold() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.threshold
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Update feeds one idle sample and reports whether the state changed. The
// returned notify func calls the listeners registered at the time of the
// transition and does nothing otherwise; callers run it once their own locks
// are released.
func (m *Machine) Update(idleMs int64) (changed bool, notify func()) {
	if idleMs < 0 {
		idleMs = 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	next := Active
	if time.Duration(idleMs)*time.Millisecond >= m.threshold {
		next = Idle
	}
	if next == m.state {
		return false, func() {}
	}
	m.state = next
	listeners := make([]func(bool), 0, len(m.listeners))
	for id := 0; id < m.nextID; id++ {
		if fn, ok := m.listeners[id]; ok {
			listeners = append(listeners, fn)
		}
	}
	idle := next == Idle
	return true, func() {
		for _, fn := range listeners {
			fn(idle)
		}
	}
}

// Reset returns to Active without notifying listeners.
func (m *Machine) Reset() {
	m.mu.Lock()
	m.state = Active
	m.mu.Unlock()
}

// OnChange registers fn for state transitions and returns its unsubscribe func.
func (m *Machine) OnChange(fn func(idle bool)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}
