package location

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	locationmodel "github.com/zhouzirui/guardian/backend/internal/model/location"
	"github.com/zhouzirui/guardian/backend/internal/platform"
	locationservice "github.com/zhouzirui/guardian/backend/internal/service/location"
	"github.com/zhouzirui/guardian/backend/internal/service/sos"
)

type fakeGeo struct {
	mu       sync.Mutex
	fix      locationmodel.Coordinates
	fixErr   error
	onUpdate func(locationmodel.Coordinates)
	cleared  int
}

func (f *fakeGeo) CurrentPosition(context.Context, time.Duration) (locationmodel.Coordinates, error) {
	return f.fix, f.fixErr
}

func (f *fakeGeo) Watch(onUpdate func(locationmodel.Coordinates), _ func(error)) (platform.WatchID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onUpdate = onUpdate
	return "w1", nil
}

func (f *fakeGeo) ClearWatch(platform.WatchID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared++
}

func (f *fakeGeo) push(c locationmodel.Coordinates) {
	f.mu.Lock()
	cb := f.onUpdate
	f.mu.Unlock()
	cb(c)
}

type fakeClipboard struct {
	mu   sync.Mutex
	text string
}

func (c *fakeClipboard) WriteText(_ context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.text = text
	return nil
}

func setupRouter(geo platform.Geolocation, caps sos.Capabilities) (*chi.Mux, *locationservice.Manager) {
	manager := locationservice.NewManager(geo)
	orchestrator := sos.NewOrchestrator(manager, caps, sos.Config{})
	r := chi.NewRouter()
	New(manager, orchestrator, time.Second).RegisterRoutes(r)
	return r, manager
}

func TestFixReturnsCoordinates(t *testing.T) {
	geo := &fakeGeo{fix: locationmodel.Coordinates{Latitude: 12.345671, Longitude: -98.765432, Accuracy: locationmodel.Float(15), CapturedAt: time.Now()}}
	r, manager := setupRouter(geo, sos.Capabilities{})

	req := httptest.NewRequest(http.MethodPost, "/location/fix", strings.NewReader(`{"maxAgeMs":0}`))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var body fixResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.OK || body.Coordinates == nil {
		t.Fatalf("unexpected response %+v", body)
	}
	if !strings.Contains(body.Summary, "12.34567, -98.76543 (±15m)") {
		t.Fatalf("unexpected summary %q", body.Summary)
	}
	if manager.LastKnown() == nil {
		t.Fatal("fix not stored")
	}
}

func TestFixFailureIsSoftStatus(t *testing.T) {
	geo := &fakeGeo{fixErr: locationmodel.ErrPermissionDenied}
	r, _ := setupRouter(geo, sos.Capabilities{})

	req := httptest.NewRequest(http.MethodPost, "/location/fix", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	var body fixResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Code != http.StatusOK || body.OK || body.Code != "permission_denied" {
		t.Fatalf("unexpected response %d %+v", resp.Code, body)
	}
	if body.Summary != "Location not available yet." {
		t.Fatalf("unexpected summary %q", body.Summary)
	}
}

func TestWatchStartStop(t *testing.T) {
	geo := &fakeGeo{}
	r, manager := setupRouter(geo, sos.Capabilities{})

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/location/watch", nil)
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, req)
		if resp.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.Code)
		}
	}
	if !manager.Tracking() {
		t.Fatal("expected tracking")
	}

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodDelete, "/location/watch", nil)
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, req)
		if resp.Code != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", resp.Code)
		}
	}
	if manager.Tracking() || geo.cleared != 1 {
		t.Fatalf("expected one clear, tracking=%t cleared=%d", manager.Tracking(), geo.cleared)
	}
}

func TestWatchWithoutGeolocation(t *testing.T) {
	r, _ := setupRouter(nil, sos.Capabilities{})

	req := httptest.NewRequest(http.MethodPost, "/location/watch", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.Code)
	}
}

// stoppingGeo stops tracking while the subscription is still being set up.
type stoppingGeo struct {
	fakeGeo
	stop func()
}

func (g *stoppingGeo) Watch(onUpdate func(locationmodel.Coordinates), onError func(error)) (platform.WatchID, error) {
	g.stop()
	return g.fakeGeo.Watch(onUpdate, onError)
}

func TestWatchStoppedWhileStartingIsConflict(t *testing.T) {
	geo := &stoppingGeo{}
	r, manager := setupRouter(geo, sos.Capabilities{})
	geo.stop = func() { manager.Stop(0) }

	req := httptest.NewRequest(http.MethodPost, "/location/watch", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", resp.Code, resp.Body.String())
	}
	if manager.Tracking() {
		t.Fatal("manager must not report tracking")
	}
}

func TestStreamDeliversWatchUpdates(t *testing.T) {
	geo := &fakeGeo{}
	r, _ := setupRouter(geo, sos.Capabilities{})
	srv := httptest.NewServer(r)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/location/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	if ev := readEvent(t, reader); ev != "status" {
		t.Fatalf("expected status event first, got %q", ev)
	}

	startResp, err := http.Post(srv.URL+"/location/watch", "application/json", nil)
	if err != nil {
		t.Fatalf("start watch: %v", err)
	}
	startResp.Body.Close()

	geo.push(locationmodel.Coordinates{Latitude: 1, Longitude: 2, CapturedAt: time.Now()})
	if ev := readEvent(t, reader); ev != EventPosition {
		t.Fatalf("expected position event, got %q", ev)
	}
}

func readEvent(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read event: %v", err)
		}
		if strings.HasPrefix(line, "event: ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "event: "))
		}
	}
}

func TestShareFallsBackToClipboard(t *testing.T) {
	clip := &fakeClipboard{}
	r, _ := setupRouter(&fakeGeo{}, sos.Capabilities{Clipboard: clip})

	req := httptest.NewRequest(http.MethodPost, "/location/share", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	var body sos.ShareResult
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Method != sos.ShareClipboard || !body.OK {
		t.Fatalf("unexpected share result %+v", body)
	}
	if clip.text != "My location is not available yet." {
		t.Fatalf("unexpected clipboard %q", clip.text)
	}
}
