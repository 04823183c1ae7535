package sos

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/guardian/backend/internal/model/contact"
	"github.com/zhouzirui/guardian/backend/internal/model/location"
	"github.com/zhouzirui/guardian/backend/internal/service/sos"
)

type fixedLocator struct {
	fix *location.Coordinates
}

func (f fixedLocator) RequestSingleFix(context.Context, time.Duration, time.Duration) (*location.Coordinates, error) {
	if f.fix == nil {
		return nil, location.ErrUnavailable
	}
	c := *f.fix
	return &c, nil
}

func (f fixedLocator) LastKnown() *location.Coordinates {
	return f.fix
}

func setupRouter(locator sos.Locator, seed ...contact.Contact) *chi.Mux {
	orchestrator := sos.NewOrchestrator(locator, sos.Capabilities{}, sos.Config{ShareTimeout: 50 * time.Millisecond})
	r := chi.NewRouter()
	New(orchestrator, contact.NewMemoryStore(seed)).RegisterRoutes(r)
	return r
}

func TestTriggerReturnsRunWithLinks(t *testing.T) {
	fix := &location.Coordinates{Latitude: 12.345671, Longitude: -98.765432, CapturedAt: time.Now()}
	r := setupRouter(fixedLocator{fix: fix},
		contact.Contact{ID: "1", Name: "Ana", Phone: "+15550001"},
		contact.Contact{ID: "2", Name: "Ben", Phone: "+15550002"},
	)

	req := httptest.NewRequest(http.MethodPost, "/sos", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var run sos.Run
	if err := json.Unmarshal(resp.Body.Bytes(), &run); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if run.CallTarget != "tel:+15550001" {
		t.Fatalf("unexpected call target %q", run.CallTarget)
	}
	if !strings.HasPrefix(run.SMSTarget, "sms:+15550001,+15550002?&body=EMERGENCY") {
		t.Fatalf("unexpected sms target %q", run.SMSTarget)
	}
	if run.Shared || run.Coordinates == nil {
		t.Fatalf("unexpected run %+v", run)
	}
}

func TestTriggerWithoutContactsOrLocation(t *testing.T) {
	r := setupRouter(fixedLocator{})

	req := httptest.NewRequest(http.MethodPost, "/sos", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	var run sos.Run
	if err := json.Unmarshal(resp.Body.Bytes(), &run); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if run.CallTarget != "tel:" || run.Message != "EMERGENCY: I need help. Location not available yet." {
		t.Fatalf("unexpected run %+v", run)
	}
}

func TestCopyWithoutClipboard(t *testing.T) {
	r := setupRouter(fixedLocator{})

	req := httptest.NewRequest(http.MethodPost, "/sos/copy", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	var body struct {
		Copied bool `json:"copied"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Copied {
		t.Fatal("copy must fail without a clipboard")
	}
}
