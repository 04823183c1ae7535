package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/guardian/backend/internal/analysis/intent"
	"github.com/zhouzirui/guardian/backend/internal/service/assistant"
)

type stubRecognizer struct {
	text string
	err  error
}

func (s stubRecognizer) Recognize(context.Context, []byte, string, string) (string, error) {
	return s.text, s.err
}

func setupRouter(voice *assistant.Voice) *chi.Mux {
	svc := assistant.NewService(nil, nil, voice, nil)
	r := chi.NewRouter()
	New(svc).RegisterRoutes(r)
	return r
}

func TestAskClassifiesText(t *testing.T) {
	r := setupRouter(nil)

	req := httptest.NewRequest(http.MethodPost, "/assistant/messages", strings.NewReader(`{"text":"I need help now"}`))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var reply assistant.Reply
	if err := json.Unmarshal(resp.Body.Bytes(), &reply); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if reply.Intent != intent.SOS || reply.SessionID == "" {
		t.Fatalf("unexpected reply %+v", reply)
	}

	req = httptest.NewRequest(http.MethodGet, "/assistant/sessions/"+reply.SessionID+"/messages", nil)
	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for transcript, got %d", resp.Code)
	}
}

func TestAskErrors(t *testing.T) {
	r := setupRouter(nil)

	req := httptest.NewRequest(http.MethodPost, "/assistant/messages", strings.NewReader(`{"text":"   "}`))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/assistant/messages", strings.NewReader(`{"sessionId":"missing","text":"hi"}`))
	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestVoiceUnavailable(t *testing.T) {
	r := setupRouter(nil)

	req := httptest.NewRequest(http.MethodPost, "/assistant/voice", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/assistant/voice", nil)
	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	var status assistant.VoiceStatus
	if err := json.Unmarshal(resp.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.State != assistant.VoiceUnavailable {
		t.Fatalf("unexpected voice state %q", status.State)
	}
}

func voiceRequest(t *testing.T) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("audio", "clip.wav")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	part.Write([]byte{1, 2, 3, 4})
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/assistant/voice", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestVoiceTranscriptIsAnswered(t *testing.T) {
	r := setupRouter(assistant.NewVoice(stubRecognizer{text: "Is this route safe?"}, ""))

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, voiceRequest(t))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var reply assistant.VoiceReply
	if err := json.Unmarshal(resp.Body.Bytes(), &reply); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if reply.Transcript != "Is this route safe?" || reply.Intent != intent.RouteSafety {
		t.Fatalf("unexpected reply %+v", reply)
	}
}

func TestVoiceRecognitionFailure(t *testing.T) {
	r := setupRouter(assistant.NewVoice(stubRecognizer{err: errors.New("network down")}, ""))

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, voiceRequest(t))

	if resp.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.Code)
	}
}
