package assistant

import (
	"errors"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/guardian/backend/internal/platform"
	"github.com/zhouzirui/guardian/backend/internal/service/assistant"
	chatservice "github.com/zhouzirui/guardian/backend/internal/service/chat"
	"github.com/zhouzirui/guardian/backend/pkg/utils"
)

const maxAudioBytes = 10 << 20

// Handler serves the safety assistant conversation and voice input.
type Handler struct {
	svc *assistant.Service
}

// New creates the assistant handler.
func New(svc *assistant.Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the assistant routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/assistant", func(ar chi.Router) {
		ar.Post("/sessions", h.handleStart)
		ar.Get("/sessions/{sessionID}/messages", h.handleTranscript)
		ar.Post("/messages", h.handleAsk)
		ar.Get("/voice", h.handleVoiceStatus)
		ar.Post("/voice", h.handleVoice)
	})
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	conv, err := h.svc.Start(r.Context())
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, conv)
}

func (h *Handler) handleTranscript(w http.ResponseWriter, r *http.Request) {
	messages, err := h.svc.Transcript(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, messages)
}

func (h *Handler) handleAsk(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SessionID string `json:"sessionId"`
		Text      string `json:"text"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	reply, err := h.svc.Ask(r.Context(), payload.SessionID, payload.Text)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, reply)
}

func (h *Handler) handleVoiceStatus(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.svc.Voice().Status())
}

// handleVoice accepts one recorded utterance as the multipart field "audio".
func (h *Handler) handleVoice(w http.ResponseWriter, r *http.Request) {
	if !h.svc.Voice().Available() {
		utils.RespondError(w, http.StatusServiceUnavailable, "voice input unavailable, use text")
		return
	}

	if err := r.ParseMultipartForm(maxAudioBytes); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "failed to parse multipart form: "+err.Error())
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(io.LimitReader(file, maxAudioBytes))
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "failed to read audio")
		return
	}

	format := r.FormValue("format")
	if format == "" {
		format = inferAudioFormat(header.Filename)
	}

	reply, err := h.svc.AskVoice(r.Context(), r.FormValue("sessionId"), audio, format)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, reply)
}

func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, assistant.ErrEmptyText):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, chatservice.ErrSessionNotFound):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, platform.ErrUnavailable):
		utils.RespondError(w, http.StatusServiceUnavailable, "voice input unavailable, use text")
	case errors.Is(err, assistant.ErrVoiceBusy):
		utils.RespondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, assistant.ErrNoSpeech):
		utils.RespondError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		log.Printf("[assistant] request failed: %v", err)
		utils.RespondError(w, http.StatusBadGateway, "assistant request failed")
	}
}

// inferAudioFormat 从文件名推断音频格式
func inferAudioFormat(filename string) string {
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".pcm":
		return "pcm"
	case ".mp3":
		return "mp3"
	case ".ogg", ".opus":
		return "ogg"
	default:
		return "wav"
	}
}
