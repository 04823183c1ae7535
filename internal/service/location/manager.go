package location

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	locationmodel "github.com/zhouzirui/guardian/backend/internal/model/location"
	"github.com/zhouzirui/guardian/backend/internal/platform"
)

// DefaultFixTimeout bounds a single fix when the caller passes no timeout.
const DefaultFixTimeout = 10 * time.Second

// Status is the soft, user visible tracking state.
type Status string

const (
	StatusIdle     Status = "Idle"
	StatusTracking Status = "Tracking…"
)

// ErrStopped reports that tracking was stopped before the subscription finished.
var ErrStopped = errors.New("tracking stopped before it started")

// Handle identifies a continuous tracking session. The zero Handle means none.
type Handle uint64

type session struct {
	handle  Handle
	watchID platform.WatchID
}

// Manager owns the process-wide tracking session and the last accepted fix.
type Manager struct {
	geo platform.Geolocation
	now func() time.Time

	mu         sync.Mutex
	session    *session
	nextHandle Handle
	last       *locationmodel.Coordinates
	status     Status
}

// NewManager creates an idle manager. geo may be nil when the device has no
// location service; every request then fails with ErrUnavailable.
func NewManager(geo platform.Geolocation) *Manager {
	return &Manager{
		geo:    geo,
		now:    time.Now,
		status: StatusIdle,
	}
}

// RequestSingleFix asks the platform for one sample and waits at most timeout.
// A cached sample no older than maxAge is acceptable; zero forces a fresh one.
func (m *Manager) RequestSingleFix(ctx context.Context, timeout, maxAge time.Duration) (*locationmodel.Coordinates, error) {
	if m.geo == nil {
		return nil, locationmodel.ErrUnavailable
	}
	if timeout <= 0 {
		timeout = DefaultFixTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		coords locationmodel.Coordinates
		err    error
	}
	resultCh := make(chan result, 1)
	go func() {
		coords, err := m.geo.CurrentPosition(ctx, maxAge)
		resultCh <- result{coords: coords, err: err}
	}()

	select {
	case r := <-resultCh:
		if r.err != nil {
			return nil, normalizeError(ctx, r.err)
		}
		accepted := m.accept(r.coords)
		return &accepted, nil
	case <-ctx.Done():
		return nil, normalizeError(ctx, ctx.Err())
	}
}

// StartContinuous subscribes to position updates. Calling it while a session is
// active returns the existing handle and does not subscribe again.
func (m *Manager) StartContinuous(onUpdate func(locationmodel.Coordinates), onError func(error)) (Handle, error) {
	m.mu.Lock()
	if m.session != nil {
		h := m.session.handle
		m.mu.Unlock()
		return h, nil
	}
	if m.geo == nil {
		m.mu.Unlock()
		return 0, locationmodel.ErrUnavailable
	}

	m.nextHandle++
	s := &session{handle: m.nextHandle}
	m.session = s
	m.status = StatusTracking
	m.mu.Unlock()

	h := s.handle
	watchID, err := m.geo.Watch(
		func(c locationmodel.Coordinates) {
			accepted, ok := m.acceptFrom(h, c)
			if !ok {
				return
			}
			if onUpdate != nil {
				onUpdate(accepted)
			}
		},
		func(watchErr error) {
			if !m.failFrom(h, watchErr) {
				return
			}
			if onError != nil {
				onError(watchErr)
			}
		},
	)

	m.mu.Lock()
	if err != nil {
		if m.session == s {
			m.session = nil
			m.status = Status(err.Error())
		}
		m.mu.Unlock()
		return 0, normalizeError(context.Background(), err)
	}
	if m.session != s {
		// stopped while the platform was subscribing
		m.mu.Unlock()
		m.geo.ClearWatch(watchID)
		return 0, ErrStopped
	}
	s.watchID = watchID
	m.mu.Unlock()

	log.Printf("[location] tracking started handle=%d", h)
	return h, nil
}

// Stop ends the session identified by h. A zero handle stops whichever session is
// active. Stopping an idle manager or a stale handle is a no-op.
func (m *Manager) Stop(h Handle) {
	m.mu.Lock()
	if m.session == nil || (h != 0 && m.session.handle != h) {
		m.mu.Unlock()
		return
	}
	s := m.session
	m.session = nil
	m.status = StatusIdle
	m.mu.Unlock()

	if s.watchID != "" {
		m.geo.ClearWatch(s.watchID)
	}
	log.Printf("[location] tracking stopped handle=%d", s.handle)
}

// LastKnown returns the most recent accepted fix, or nil before the first one.
func (m *Manager) LastKnown() *locationmodel.Coordinates {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return nil
	}
	c := *m.last
	return &c
}

// Status returns the soft tracking status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Handle returns the active session handle, or zero when idle.
func (m *Manager) Handle() Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return 0
	}
	return m.session.handle
}

// Tracking reports whether a continuous session is active.
func (m *Manager) Tracking() bool {
	return m.Handle() != 0
}

func (m *Manager) acceptFrom(h Handle, c locationmodel.Coordinates) (locationmodel.Coordinates, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil || m.session.handle != h {
		return locationmodel.Coordinates{}, false
	}
	m.status = StatusTracking
	return m.storeLocked(c), true
}

func (m *Manager) failFrom(h Handle, err error) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil || m.session.handle != h {
		return false
	}
	m.status = Status(err.Error())
	log.Printf("[location] watch error handle=%d: %v", h, err)
	return true
}

func (m *Manager) accept(c locationmodel.Coordinates) locationmodel.Coordinates {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.storeLocked(c)
}

// storeLocked replaces the stored fix unless c is older than it.
func (m *Manager) storeLocked(c locationmodel.Coordinates) locationmodel.Coordinates {
	if c.CapturedAt.IsZero() {
		c.CapturedAt = m.now().UTC()
	}
	if m.last != nil && c.CapturedAt.Before(m.last.CapturedAt) {
		return c
	}
	stored := c
	m.last = &stored
	return c
}

func normalizeError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, locationmodel.ErrTimeout),
		errors.Is(err, locationmodel.ErrPermissionDenied),
		errors.Is(err, locationmodel.ErrUnavailable):
		return err
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return locationmodel.ErrTimeout
	case errors.Is(err, context.Canceled):
		return err
	default:
		return fmt.Errorf("%w: %v", locationmodel.ErrUnavailable, err)
	}
}
