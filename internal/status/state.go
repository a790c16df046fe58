package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/commdesk/commsync/internal/bus"
)

// State represents the daemon's view of gateway health.
type State string

const (
	Booting  State = "BOOTING"
	Ready    State = "READY"
	Degraded State = "DEGRADED"
	Error    State = "ERROR"
)

// degradedAfter is the number of consecutive poll failures before the
// daemon reports Degraded.
const degradedAfter = 3

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Booting:  {Ready, Degraded, Error},
	Ready:    {Degraded, Error},
	Degraded: {Ready, Error},
	Error:    {Booting},
}

// Machine tracks and enforces gateway health state transitions, driven by
// poll outcomes reported by the scheduler.
type Machine struct {
	mu          sync.RWMutex
	current     State
	consecFails int
	bus         *bus.Bus
}

// NewMachine creates a new state machine starting in Booting state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Booting,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(to)
}

func (m *Machine) transitionLocked(to State) error {
	if to == m.current {
		return nil
	}
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.KindStatusChanged,
			Timestamp: time.Now(),
			Payload: StatusChange{
				From: from,
				To:   to,
			},
		})
	}
	return nil
}

// ReportPoll records the outcome of one background poll. A run of
// failures degrades the daemon; any success restores Ready.
func (m *Machine) ReportPoll(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ok {
		m.consecFails = 0
		_ = m.transitionLocked(Ready)
		return
	}
	m.consecFails++
	if m.consecFails >= degradedAfter && m.current == Ready {
		_ = m.transitionLocked(Degraded)
	} else if m.current == Booting && m.consecFails >= degradedAfter {
		_ = m.transitionLocked(Degraded)
	}
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State `json:"from"`
	To   State `json:"to"`
}
