package device

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zhouzirui/guardian/backend/internal/analysis/intent"
	"github.com/zhouzirui/guardian/backend/internal/model/location"
	"github.com/zhouzirui/guardian/backend/internal/platform"
)

// fakeDevice answers hub requests through the supplied responder.
type fakeDevice struct {
	t    *testing.T
	conn *websocket.Conn

	mu       sync.Mutex
	received []Outbound
	writeMu  sync.Mutex
}

func connectDevice(t *testing.T, hub *Hub, respond func(d *fakeDevice, msg Outbound)) (*fakeDevice, func()) {
	t.Helper()
	srv := httptest.NewServer(hub)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		srv.Close()
		t.Fatalf("dial: %v", err)
	}
	d := &fakeDevice{t: t, conn: conn}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var msg Outbound
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			d.mu.Lock()
			d.received = append(d.received, msg)
			d.mu.Unlock()
			if respond != nil {
				respond(d, msg)
			}
		}
	}()

	waitFor(t, hub.Connected)
	return d, func() {
		_ = conn.Close()
		<-done
		srv.Close()
	}
}

func (d *fakeDevice) send(msgType, requestID string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		d.t.Errorf("marshal: %v", err)
		return
	}
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	if err := d.conn.WriteJSON(Inbound{Type: msgType, RequestID: requestID, Data: raw, Timestamp: time.Now().Unix()}); err != nil {
		d.t.Errorf("write: %v", err)
	}
}

func (d *fakeDevice) count(msgType string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, m := range d.received {
		if m.Type == msgType {
			n++
		}
	}
	return n
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestHubWithoutDeviceIsUnavailable(t *testing.T) {
	hub := NewHub(Options{})
	ctx := context.Background()

	if _, err := hub.CurrentPosition(ctx, 0); !errors.Is(err, platform.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if _, err := hub.Watch(func(location.Coordinates) {}, nil); !errors.Is(err, platform.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable from Watch, got %v", err)
	}
	if err := hub.Share(ctx, platform.SharePayload{Title: "SOS", Text: "help"}); !errors.Is(err, platform.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable from Share, got %v", err)
	}
	if err := hub.Vibrate(ctx, []time.Duration{time.Second}); !errors.Is(err, platform.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable from Vibrate, got %v", err)
	}
}

func TestHubCurrentPositionRoundTrip(t *testing.T) {
	hub := NewHub(Options{})
	captured := time.Now().UTC()
	d, closeFn := connectDevice(t, hub, func(d *fakeDevice, msg Outbound) {
		if msg.Type == TypeLocate {
			d.send(TypePosition, msg.RequestID, location.Coordinates{Latitude: 12.5, Longitude: -3.25, CapturedAt: captured})
		}
	})
	defer closeFn()

	c, err := hub.CurrentPosition(context.Background(), 0)
	if err != nil {
		t.Fatalf("CurrentPosition err: %v", err)
	}
	if c.Latitude != 12.5 || c.Longitude != -3.25 {
		t.Fatalf("unexpected coordinates %+v", c)
	}

	// a fresh enough cached fix is served without asking the device
	if _, err := hub.CurrentPosition(context.Background(), time.Minute); err != nil {
		t.Fatalf("cached CurrentPosition err: %v", err)
	}
	if n := d.count(TypeLocate); n != 1 {
		t.Fatalf("expected 1 locate request, got %d", n)
	}
	if _, ok := hub.LastFix(); !ok {
		t.Fatal("expected cached fix")
	}
}

func TestHubCurrentPositionPermissionDenied(t *testing.T) {
	hub := NewHub(Options{})
	_, closeFn := connectDevice(t, hub, func(d *fakeDevice, msg Outbound) {
		if msg.Type == TypeLocate {
			d.send(TypePositionError, msg.RequestID, PositionError{Code: CodePermissionDenied})
		}
	})
	defer closeFn()

	if _, err := hub.CurrentPosition(context.Background(), 0); !errors.Is(err, location.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
}

func TestHubCurrentPositionTimesOut(t *testing.T) {
	hub := NewHub(Options{RequestTimeout: 30 * time.Millisecond})
	_, closeFn := connectDevice(t, hub, nil)
	defer closeFn()

	if _, err := hub.CurrentPosition(context.Background(), 0); !errors.Is(err, location.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestHubShareAckCodes(t *testing.T) {
	hub := NewHub(Options{})
	_, closeFn := connectDevice(t, hub, func(d *fakeDevice, msg Outbound) {
		switch msg.Type {
		case TypeShare:
			d.send(TypeAck, msg.RequestID, Ack{Code: CodeUnsupported})
		case TypeClipboard:
			d.send(TypeAck, msg.RequestID, Ack{OK: true})
		}
	})
	defer closeFn()

	ctx := context.Background()
	if err := hub.Share(ctx, platform.SharePayload{Title: "SOS", Text: "help"}); !errors.Is(err, platform.ErrShareUnsupported) {
		t.Fatalf("expected ErrShareUnsupported, got %v", err)
	}
	if err := hub.WriteText(ctx, "hello"); err != nil {
		t.Fatalf("WriteText err: %v", err)
	}
}

func TestHubWatchDeliversPositions(t *testing.T) {
	hub := NewHub(Options{})
	d, closeFn := connectDevice(t, hub, nil)
	defer closeFn()

	updates := make(chan location.Coordinates, 4)
	errs := make(chan error, 4)
	id, err := hub.Watch(func(c location.Coordinates) { updates <- c }, func(err error) { errs <- err })
	if err != nil {
		t.Fatalf("Watch err: %v", err)
	}
	waitFor(t, func() bool { return d.count(TypeWatchStart) == 1 })

	d.send(TypePosition, "", location.Coordinates{Latitude: 1, Longitude: 2})
	select {
	case c := <-updates:
		if c.Latitude != 1 || c.CapturedAt.IsZero() {
			t.Fatalf("unexpected update %+v", c)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no update delivered")
	}

	d.send(TypePositionError, "", PositionError{Code: CodeTimeout})
	select {
	case err := <-errs:
		if !errors.Is(err, location.ErrTimeout) {
			t.Fatalf("expected ErrTimeout, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no error delivered")
	}

	hub.ClearWatch(id)
	waitFor(t, func() bool { return d.count(TypeWatchStop) == 1 })
}

func TestHubDispatchAndAlerts(t *testing.T) {
	hub := NewHub(Options{})
	d, closeFn := connectDevice(t, hub, nil)
	defer closeFn()

	ctx := context.Background()
	if err := hub.Dispatch(ctx, "s1", intent.CommandSOS); err != nil {
		t.Fatalf("Dispatch err: %v", err)
	}
	if err := hub.Beep(ctx, 880, 400*time.Millisecond); err != nil {
		t.Fatalf("Beep err: %v", err)
	}
	if err := hub.Vibrate(ctx, []time.Duration{200 * time.Millisecond}); err != nil {
		t.Fatalf("Vibrate err: %v", err)
	}
	waitFor(t, func() bool {
		return d.count(TypeCommand) == 1 && d.count(TypeBeep) == 1 && d.count(TypeVibrate) == 1
	})
}

func TestHubDisconnectFailsWatchers(t *testing.T) {
	hub := NewHub(Options{})
	_, closeFn := connectDevice(t, hub, nil)

	errs := make(chan error, 1)
	if _, err := hub.Watch(func(location.Coordinates) {}, func(err error) { errs <- err }); err != nil {
		t.Fatalf("Watch err: %v", err)
	}
	closeFn()

	select {
	case err := <-errs:
		if !errors.Is(err, platform.ErrUnavailable) {
			t.Fatalf("expected ErrUnavailable, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watcher not notified of disconnect")
	}
	waitFor(t, func() bool { return !hub.Connected() })
}

func TestHubLocateAnsweredWithAckFails(t *testing.T) {
	hub := NewHub(Options{})
	_, closeFn := connectDevice(t, hub, func(d *fakeDevice, msg Outbound) {
		if msg.Type == TypeLocate {
			d.send(TypeAck, msg.RequestID, Ack{OK: true})
		}
	})
	defer closeFn()

	if _, err := hub.CurrentPosition(context.Background(), 0); !errors.Is(err, platform.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestHubShareAnsweredWithPositionFails(t *testing.T) {
	hub := NewHub(Options{})
	_, closeFn := connectDevice(t, hub, func(d *fakeDevice, msg Outbound) {
		switch msg.Type {
		case TypeShare, TypeClipboard:
			d.send(TypePosition, msg.RequestID, location.Coordinates{Latitude: 1, Longitude: 2})
		}
	})
	defer closeFn()

	ctx := context.Background()
	if err := hub.Share(ctx, platform.SharePayload{Title: "SOS", Text: "help"}); !errors.Is(err, platform.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable from Share, got %v", err)
	}
	if err := hub.WriteText(ctx, "hello"); !errors.Is(err, platform.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable from WriteText, got %v", err)
	}
}
