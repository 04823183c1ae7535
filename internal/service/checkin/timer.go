// Package checkin implements the safety check-in timer: the user promises to
// confirm within a period and the SOS sequence runs if they do not.
package checkin

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/zhouzirui/guardian/backend/internal/model/contact"
	"github.com/zhouzirui/guardian/backend/internal/service/sos"
)

const (
	DefaultDuration = 30 * time.Minute
	MaxDuration     = 24 * time.Hour
)

var ErrDurationTooLong = errors.New("check-in duration exceeds the maximum")

// State is the timer phase.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StateExpired State = "expired"
)

// Trigger starts the SOS sequence.
type Trigger interface {
	Trigger(ctx context.Context, contacts []contact.Contact) sos.Run
}

// Contacts lists the people to alert on expiry.
type Contacts interface {
	List(ctx context.Context) []contact.Contact
}

// Config holds duration bounds. Zero values use the defaults.
type Config struct {
	DefaultDuration time.Duration
	MaxDuration     time.Duration
}

// Status is a snapshot of the timer.
type Status struct {
	State       State      `json:"state"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	Deadline    *time.Time `json:"deadline,omitempty"`
	Remaining   string     `json:"remaining,omitempty"`
	ConfirmedAt *time.Time `json:"confirmedAt,omitempty"`
	LastRun     *sos.Run   `json:"lastRun,omitempty"`
}

// Timer is a single check-in countdown.
type Timer struct {
	trigger  Trigger
	contacts Contacts
	cfg      Config
	now      func() time.Time

	mu          sync.Mutex
	state       State
	generation  uint64
	timer       *time.Timer
	startedAt   time.Time
	deadline    time.Time
	confirmedAt time.Time
	lastRun     *sos.Run
}

// NewTimer creates an idle timer.
func NewTimer(trigger Trigger, contacts Contacts, cfg Config) *Timer {
	if cfg.DefaultDuration <= 0 {
		cfg.DefaultDuration = DefaultDuration
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = MaxDuration
	}
	return &Timer{
		trigger:  trigger,
		contacts: contacts,
		cfg:      cfg,
		now:      time.Now,
		state:    StateIdle,
	}
}

// Start arms the timer for d, or the default duration when d is zero. Starting
// while running replaces the deadline.
func (t *Timer) Start(d time.Duration) (Status, error) {
	if d <= 0 {
		d = t.cfg.DefaultDuration
	}
	if d > t.cfg.MaxDuration {
		return Status{}, fmt.Errorf("%w: %s > %s", ErrDurationTooLong, d, t.cfg.MaxDuration)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopLocked()
	t.generation++
	gen := t.generation
	t.state = StateRunning
	t.startedAt = t.now().UTC()
	t.deadline = t.startedAt.Add(d)
	t.timer = time.AfterFunc(d, func() { t.expire(gen) })

	log.Printf("[checkin] armed for %s, deadline %s", d, t.deadline.Format(time.RFC3339))
	return t.statusLocked(), nil
}

// Confirm records that the user is safe and disarms the timer. No-op when idle.
func (t *Timer) Confirm() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateRunning {
		return t.statusLocked()
	}
	t.stopLocked()
	t.state = StateIdle
	t.confirmedAt = t.now().UTC()
	log.Printf("[checkin] confirmed safe")
	return t.statusLocked()
}

// Cancel disarms the timer without recording a confirmation. No-op when idle.
func (t *Timer) Cancel() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateRunning {
		return t.statusLocked()
	}
	t.stopLocked()
	t.state = StateIdle
	log.Printf("[checkin] cancelled")
	return t.statusLocked()
}

// Status returns the current snapshot.
func (t *Timer) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.statusLocked()
}

func (t *Timer) expire(gen uint64) {
	t.mu.Lock()
	if gen != t.generation || t.state != StateRunning {
		t.mu.Unlock()
		return
	}
	t.state = StateExpired
	t.timer = nil
	t.mu.Unlock()

	log.Printf("[checkin] deadline passed without confirmation, triggering SOS")
	ctx := context.Background()
	var contacts []contact.Contact
	if t.contacts != nil {
		contacts = t.contacts.List(ctx)
	}
	run := t.trigger.Trigger(ctx, contacts)

	t.mu.Lock()
	t.lastRun = &run
	t.mu.Unlock()
}

func (t *Timer) stopLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (t *Timer) statusLocked() Status {
	s := Status{State: t.state}
	if t.state != StateIdle {
		started, deadline := t.startedAt, t.deadline
		s.StartedAt = &started
		s.Deadline = &deadline
	}
	if t.state == StateRunning {
		remaining := t.deadline.Sub(t.now())
		if remaining < 0 {
			remaining = 0
		}
		s.Remaining = remaining.Round(time.Second).String()
	}
	if !t.confirmedAt.IsZero() {
		confirmed := t.confirmedAt
		s.ConfirmedAt = &confirmed
	}
	if t.lastRun != nil {
		run := *t.lastRun
		s.LastRun = &run
	}
	return s
}
