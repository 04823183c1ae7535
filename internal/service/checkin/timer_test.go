package checkin

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/zhouzirui/guardian/backend/internal/model/contact"
	"github.com/zhouzirui/guardian/backend/internal/service/sos"
)

type recordingTrigger struct {
	mu    sync.Mutex
	calls [][]contact.Contact
	fired chan struct{}
}

func newRecordingTrigger() *recordingTrigger {
	return &recordingTrigger{fired: make(chan struct{}, 4)}
}

func (r *recordingTrigger) Trigger(_ context.Context, contacts []contact.Contact) sos.Run {
	r.mu.Lock()
	r.calls = append(r.calls, contacts)
	r.mu.Unlock()
	r.fired <- struct{}{}
	return sos.Run{ID: "run-1", Message: "EMERGENCY"}
}

func (r *recordingTrigger) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func TestTimerExpiryTriggersSOSWithContacts(t *testing.T) {
	trigger := newRecordingTrigger()
	store := contact.NewMemoryStore([]contact.Contact{{ID: "1", Name: "Ana", Phone: "+15550001"}})
	timer := NewTimer(trigger, store, Config{})

	if _, err := timer.Start(20 * time.Millisecond); err != nil {
		t.Fatalf("Start err: %v", err)
	}
	select {
	case <-trigger.fired:
	case <-time.After(2 * time.Second):
		t.Fatal("expected SOS trigger on expiry")
	}

	trigger.mu.Lock()
	got := trigger.calls[0]
	trigger.mu.Unlock()
	if len(got) != 1 || got[0].Phone != "+15550001" {
		t.Fatalf("unexpected contacts %+v", got)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if timer.Status().LastRun != nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	st := timer.Status()
	if st.State != StateExpired || st.LastRun == nil || st.LastRun.ID != "run-1" {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestTimerConfirmPreventsTrigger(t *testing.T) {
	trigger := newRecordingTrigger()
	timer := NewTimer(trigger, nil, Config{})

	if _, err := timer.Start(40 * time.Millisecond); err != nil {
		t.Fatalf("Start err: %v", err)
	}
	st := timer.Confirm()
	if st.State != StateIdle || st.ConfirmedAt == nil {
		t.Fatalf("unexpected status after confirm %+v", st)
	}

	time.Sleep(80 * time.Millisecond)
	if trigger.count() != 0 {
		t.Fatal("confirmed timer must not trigger")
	}
}

func TestTimerRestartReplacesDeadline(t *testing.T) {
	trigger := newRecordingTrigger()
	timer := NewTimer(trigger, nil, Config{})

	if _, err := timer.Start(30 * time.Millisecond); err != nil {
		t.Fatalf("Start err: %v", err)
	}
	st, err := timer.Start(time.Hour)
	if err != nil {
		t.Fatalf("restart err: %v", err)
	}
	if st.State != StateRunning || st.Deadline == nil || time.Until(*st.Deadline) < 50*time.Minute {
		t.Fatalf("unexpected status %+v", st)
	}

	time.Sleep(70 * time.Millisecond)
	if trigger.count() != 0 {
		t.Fatal("replaced deadline must not fire")
	}
	timer.Cancel()
}

func TestTimerIdleOperationsAreNoops(t *testing.T) {
	timer := NewTimer(newRecordingTrigger(), nil, Config{})

	if st := timer.Confirm(); st.State != StateIdle || st.ConfirmedAt != nil {
		t.Fatalf("confirm when idle changed state: %+v", st)
	}
	if st := timer.Cancel(); st.State != StateIdle {
		t.Fatalf("cancel when idle changed state: %+v", st)
	}
}

func TestTimerDurationBounds(t *testing.T) {
	timer := NewTimer(newRecordingTrigger(), nil, Config{DefaultDuration: time.Hour, MaxDuration: 2 * time.Hour})

	if _, err := timer.Start(3 * time.Hour); !errors.Is(err, ErrDurationTooLong) {
		t.Fatalf("expected ErrDurationTooLong, got %v", err)
	}

	st, err := timer.Start(0)
	if err != nil {
		t.Fatalf("Start err: %v", err)
	}
	if st.Deadline.Sub(*st.StartedAt) != time.Hour {
		t.Fatalf("expected default duration, got %s", st.Deadline.Sub(*st.StartedAt))
	}
	timer.Cancel()
}
