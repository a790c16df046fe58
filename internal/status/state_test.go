package status

import (
	"testing"
	"time"

	"github.com/commdesk/commsync/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Booting {
		t.Errorf("Current() = %q, want BOOTING", m.Current())
	}
}

func TestValidTransitionPublishes(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("session.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Ready); err != nil {
		t.Fatalf("Transition(Ready) error = %v", err)
	}

	select {
	case evt := <-ch:
		change := evt.Payload.(StatusChange)
		if change.From != Booting || change.To != Ready {
			t.Errorf("change = %+v, want BOOTING->READY", change)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for status event")
	}
}

func TestInvalidTransitionRejected(t *testing.T) {
	m := NewMachine(nil)
	_ = m.Transition(Ready)
	_ = m.Transition(Error)
	if err := m.Transition(Degraded); err == nil {
		t.Error("expected error for ERROR -> DEGRADED")
	}
}

func TestSelfTransitionIsNoop(t *testing.T) {
	m := NewMachine(nil)
	_ = m.Transition(Ready)
	if err := m.Transition(Ready); err != nil {
		t.Errorf("self transition error = %v", err)
	}
}

func TestReportPollDegradesAfterRun(t *testing.T) {
	m := NewMachine(nil)
	m.ReportPoll(true)
	if m.Current() != Ready {
		t.Fatalf("state = %q, want READY after success", m.Current())
	}

	m.ReportPoll(false)
	m.ReportPoll(false)
	if m.Current() != Ready {
		t.Errorf("state = %q, want READY (two failures are not a run)", m.Current())
	}
	m.ReportPoll(false)
	if m.Current() != Degraded {
		t.Errorf("state = %q, want DEGRADED after three failures", m.Current())
	}

	m.ReportPoll(true)
	if m.Current() != Ready {
		t.Errorf("state = %q, want READY after recovery", m.Current())
	}
}
