package contacts

import (
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/guardian/backend/internal/model/contact"
	"github.com/zhouzirui/guardian/backend/internal/outbound"
	"github.com/zhouzirui/guardian/backend/pkg/utils"
)

// Handler serves the trusted contact registry.
type Handler struct {
	store contact.Store
}

// New creates the contacts handler.
func New(store contact.Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes mounts the contact routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/contacts", func(cr chi.Router) {
		cr.Get("/", h.handleList)
		cr.Post("/", h.handleAdd)
		cr.Get("/test-sms", h.handleTestSMS)
		cr.Delete("/{id}", h.handleRemove)
	})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.store.List(r.Context()))
}

func (h *Handler) handleAdd(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name  string `json:"name"`
		Phone string `json:"phone"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	c, err := h.store.Add(r.Context(), payload.Name, payload.Phone)
	if err != nil {
		if contact.IsValidation(err) {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Printf("[contacts] add failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to save contact")
		return
	}
	utils.RespondJSON(w, http.StatusCreated, c)
}

func (h *Handler) handleRemove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.store.Remove(r.Context(), id); err != nil {
		if errors.Is(err, contact.ErrNotFound) {
			utils.RespondError(w, http.StatusNotFound, err.Error())
			return
		}
		log.Printf("[contacts] remove %s failed: %v", id, err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to remove contact")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleTestSMS returns the sms: link that asks every contact to confirm.
func (h *Handler) handleTestSMS(w http.ResponseWriter, r *http.Request) {
	list := h.store.List(r.Context())
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"target":   outbound.SMSTarget(list, outbound.TestMessage),
		"body":     outbound.TestMessage,
		"contacts": len(list),
	})
}
