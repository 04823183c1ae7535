package sos

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/guardian/backend/internal/model/contact"
	"github.com/zhouzirui/guardian/backend/internal/service/sos"
	"github.com/zhouzirui/guardian/backend/pkg/utils"
)

// Handler exposes the SOS trigger and the copy-location button.
type Handler struct {
	orchestrator *sos.Orchestrator
	contacts     contact.Store
}

// New creates the SOS handler.
func New(orchestrator *sos.Orchestrator, contacts contact.Store) *Handler {
	return &Handler{orchestrator: orchestrator, contacts: contacts}
}

// RegisterRoutes mounts the SOS routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/sos", h.handleTrigger)
	r.Post("/sos/copy", h.handleCopy)
}

// handleTrigger runs the sequence with the stored contacts. It always answers
// 200 with the run; the links stay usable when sharing failed.
func (h *Handler) handleTrigger(w http.ResponseWriter, r *http.Request) {
	run := h.orchestrator.Trigger(r.Context(), h.contacts.List(r.Context()))
	utils.RespondJSON(w, http.StatusOK, run)
}

func (h *Handler) handleCopy(w http.ResponseWriter, r *http.Request) {
	copied := h.orchestrator.CopyLocation(r.Context())
	status := "Copied location to clipboard"
	if !copied {
		status = "Clipboard unavailable"
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"copied": copied, "status": status})
}
