package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	assistantHandler "github.com/zhouzirui/guardian/backend/internal/handler/assistant"
	checkinHandler "github.com/zhouzirui/guardian/backend/internal/handler/checkin"
	"github.com/zhouzirui/guardian/backend/internal/handler/contacts"
	locationHandler "github.com/zhouzirui/guardian/backend/internal/handler/location"
	sosHandler "github.com/zhouzirui/guardian/backend/internal/handler/sos"
	middlewarePkg "github.com/zhouzirui/guardian/backend/internal/middleware"
	"github.com/zhouzirui/guardian/backend/internal/model/contact"
	"github.com/zhouzirui/guardian/backend/internal/service/assistant"
	"github.com/zhouzirui/guardian/backend/internal/service/checkin"
	locationService "github.com/zhouzirui/guardian/backend/internal/service/location"
	"github.com/zhouzirui/guardian/backend/internal/service/sos"
	"github.com/zhouzirui/guardian/backend/pkg/utils"
)

// DeviceBridge is the websocket endpoint the handheld device connects to.
type DeviceBridge interface {
	http.Handler
	Connected() bool
}

// Dependencies are the services exposed over HTTP. Device, Assistant and
// CheckIn may be nil.
type Dependencies struct {
	Contacts       contact.Store
	Location       *locationService.Manager
	SOS            *sos.Orchestrator
	Assistant      *assistant.Service
	CheckIn        *checkin.Timer
	Device         DeviceBridge
	FixTimeout     time.Duration
	AllowedOrigins []string
	Limiter        *middlewarePkg.IPLimiter
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORSWithOrigins(deps.AllowedOrigins))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status":          "ok",
			"deviceConnected": deps.Device != nil && deps.Device.Connected(),
			"tracking":        deps.Location.Tracking(),
		})
	})

	r.Route("/api", func(api chi.Router) {
		// the device socket is long lived and must not count against the limiter
		if deps.Device != nil {
			api.Handle("/device/ws", deps.Device)
		} else {
			api.Get("/device/ws", func(w http.ResponseWriter, _ *http.Request) {
				utils.RespondError(w, http.StatusNotImplemented, "device bridge not available")
			})
		}

		api.Group(func(limited chi.Router) {
			if deps.Limiter != nil {
				limited.Use(middlewarePkg.RateLimit(deps.Limiter))
			}

			contacts.New(deps.Contacts).RegisterRoutes(limited)
			locationHandler.New(deps.Location, deps.SOS, deps.FixTimeout).RegisterRoutes(limited)
			sosHandler.New(deps.SOS, deps.Contacts).RegisterRoutes(limited)

			if deps.Assistant != nil {
				assistantHandler.New(deps.Assistant).RegisterRoutes(limited)
			}
			if deps.CheckIn != nil {
				checkinHandler.New(deps.CheckIn).RegisterRoutes(limited)
			}
		})
	})

	return r
}
