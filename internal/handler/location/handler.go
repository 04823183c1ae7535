package location

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	locationmodel "github.com/zhouzirui/guardian/backend/internal/model/location"
	"github.com/zhouzirui/guardian/backend/internal/outbound"
	locationservice "github.com/zhouzirui/guardian/backend/internal/service/location"
	"github.com/zhouzirui/guardian/backend/internal/service/sos"
	"github.com/zhouzirui/guardian/backend/pkg/utils"
)

const heartbeatInterval = 15 * time.Second

// Event is pushed to live location subscribers.
type Event struct {
	Type        string                     `json:"type"`
	Coordinates *locationmodel.Coordinates `json:"coordinates,omitempty"`
	Summary     string                     `json:"summary,omitempty"`
	Status      locationservice.Status     `json:"status"`
	Error       string                     `json:"error,omitempty"`
}

// Event types.
const (
	EventPosition = "position"
	EventError    = "error"
	EventStopped  = "stopped"
)

// View is the live location screen state.
type View struct {
	Status      locationservice.Status     `json:"status"`
	Tracking    bool                       `json:"tracking"`
	Coordinates *locationmodel.Coordinates `json:"coordinates,omitempty"`
	Summary     string                     `json:"summary"`
	MapLink     string                     `json:"mapLink,omitempty"`
	Details     outbound.Details           `json:"details"`
}

// Handler serves location tracking, its live stream and the share button.
type Handler struct {
	manager    *locationservice.Manager
	sos        *sos.Orchestrator
	updates    *utils.Broadcaster[Event]
	fixTimeout time.Duration
}

// New creates the location handler. fixTimeout is used when a request names none.
func New(manager *locationservice.Manager, orchestrator *sos.Orchestrator, fixTimeout time.Duration) *Handler {
	if fixTimeout <= 0 {
		fixTimeout = locationservice.DefaultFixTimeout
	}
	return &Handler{
		manager:    manager,
		sos:        orchestrator,
		updates:    utils.NewBroadcaster[Event](16),
		fixTimeout: fixTimeout,
	}
}

// RegisterRoutes mounts the location routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/location", func(lr chi.Router) {
		lr.Get("/", h.handleView)
		lr.Post("/fix", h.handleFix)
		lr.Post("/watch", h.handleStartWatch)
		lr.Delete("/watch", h.handleStopWatch)
		lr.Get("/stream", h.handleStream)
		lr.Post("/share", h.handleShare)
	})
}

func (h *Handler) view() View {
	last := h.manager.LastKnown()
	return View{
		Status:      h.manager.Status(),
		Tracking:    h.manager.Tracking(),
		Coordinates: last,
		Summary:     outbound.LocationSummary(last),
		MapLink:     outbound.MapLink(last),
		Details:     outbound.Describe(last),
	}
}

func (h *Handler) handleView(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.view())
}

type fixResponse struct {
	OK          bool                       `json:"ok"`
	Status      string                     `json:"status"`
	Code        string                     `json:"code,omitempty"`
	Coordinates *locationmodel.Coordinates `json:"coordinates,omitempty"`
	Summary     string                     `json:"summary"`
	MapLink     string                     `json:"mapLink,omitempty"`
}

// handleFix requests one fix. Failures are reported as a soft status with 200
// so the screen can show them in place.
func (h *Handler) handleFix(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		TimeoutMs int64 `json:"timeoutMs"`
		MaxAgeMs  int64 `json:"maxAgeMs"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.TimeoutMs < 0 || payload.MaxAgeMs < 0 {
		utils.RespondError(w, http.StatusBadRequest, "timeoutMs and maxAgeMs must not be negative")
		return
	}

	timeout := h.fixTimeout
	if payload.TimeoutMs > 0 {
		timeout = time.Duration(payload.TimeoutMs) * time.Millisecond
	}
	maxAge := time.Duration(payload.MaxAgeMs) * time.Millisecond

	coords, err := h.manager.RequestSingleFix(r.Context(), timeout, maxAge)
	if err != nil {
		log.Printf("[location] single fix failed: %v", err)
		utils.RespondJSON(w, http.StatusOK, fixResponse{
			Status:  err.Error(),
			Code:    errorCode(err),
			Summary: outbound.LocationSummary(h.manager.LastKnown()),
		})
		return
	}

	h.updates.Publish(Event{Type: EventPosition, Coordinates: coords, Summary: outbound.LocationSummary(coords), Status: h.manager.Status()})
	utils.RespondJSON(w, http.StatusOK, fixResponse{
		OK:          true,
		Status:      "Location updated",
		Coordinates: coords,
		Summary:     outbound.LocationSummary(coords),
		MapLink:     outbound.MapLink(coords),
	})
}

func (h *Handler) handleStartWatch(w http.ResponseWriter, r *http.Request) {
	handle, err := h.manager.StartContinuous(
		func(c locationmodel.Coordinates) {
			h.updates.Publish(Event{Type: EventPosition, Coordinates: &c, Summary: outbound.LocationSummary(&c), Status: h.manager.Status()})
		},
		func(err error) {
			h.updates.Publish(Event{Type: EventError, Status: h.manager.Status(), Error: err.Error()})
		},
	)
	if err != nil {
		status := http.StatusServiceUnavailable
		switch {
		case errors.Is(err, locationmodel.ErrPermissionDenied):
			status = http.StatusForbidden
		case errors.Is(err, locationservice.ErrStopped):
			status = http.StatusConflict
		}
		utils.RespondJSON(w, status, map[string]any{
			"error":  err.Error(),
			"code":   errorCode(err),
			"status": h.manager.Status(),
		})
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"handle":   handle,
		"tracking": true,
		"status":   h.manager.Status(),
	})
}

func (h *Handler) handleStopWatch(w http.ResponseWriter, r *http.Request) {
	wasTracking := h.manager.Tracking()
	h.manager.Stop(0)
	if wasTracking {
		h.updates.Publish(Event{Type: EventStopped, Status: h.manager.Status()})
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleStream pushes position events over SSE until the client leaves.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events, leave := h.updates.Subscribe()
	defer leave()

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	utils.SendSSEEvent(w, flusher, "status", h.view())

	ctx := r.Context()
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			utils.SendSSEEvent(w, flusher, ev.Type, ev)
		case t := <-ticker.C:
			utils.SendSSEEvent(w, flusher, "heartbeat", map[string]string{"time": t.UTC().Format(time.RFC3339)})
		}
	}
}

func (h *Handler) handleShare(w http.ResponseWriter, r *http.Request) {
	if h.sos == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "sharing unavailable")
		return
	}
	utils.RespondJSON(w, http.StatusOK, h.sos.ShareLocation(r.Context()))
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, locationmodel.ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, locationmodel.ErrTimeout):
		return "timeout"
	case errors.Is(err, locationmodel.ErrUnavailable):
		return "unavailable"
	default:
		return ""
	}
}
