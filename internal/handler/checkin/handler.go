package checkin

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/guardian/backend/internal/service/checkin"
	"github.com/zhouzirui/guardian/backend/pkg/utils"
)

// Handler serves the check-in timer.
type Handler struct {
	timer *checkin.Timer
}

// New creates the check-in handler.
func New(timer *checkin.Timer) *Handler {
	return &Handler{timer: timer}
}

// RegisterRoutes mounts the check-in routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/checkin", func(cr chi.Router) {
		cr.Get("/", h.handleStatus)
		cr.Post("/", h.handleStart)
		cr.Post("/confirm", h.handleConfirm)
		cr.Delete("/", h.handleCancel)
	})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.timer.Status())
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Minutes float64 `json:"minutes"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.Minutes < 0 {
		utils.RespondError(w, http.StatusBadRequest, "minutes must not be negative")
		return
	}

	status, err := h.timer.Start(time.Duration(payload.Minutes * float64(time.Minute)))
	if err != nil {
		if errors.Is(err, checkin.ErrDurationTooLong) {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, status)
}

func (h *Handler) handleConfirm(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.timer.Confirm())
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.timer.Cancel())
}
