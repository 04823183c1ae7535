package assistant

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/zhouzirui/guardian/backend/internal/platform"
)

var (
	ErrVoiceBusy = errors.New("voice capture already in progress")
	ErrNoSpeech  = errors.New("no speech recognised")
)

// DefaultLanguage is the locale used when none is configured.
const DefaultLanguage = "en-US"

// VoiceState is the soft state of the voice input.
type VoiceState string

const (
	VoiceIdle        VoiceState = "idle"
	VoiceListening   VoiceState = "listening"
	VoiceUnavailable VoiceState = "unavailable"
)

// VoiceStatus is reported to the UI.
type VoiceStatus struct {
	State     VoiceState `json:"state"`
	Language  string     `json:"language"`
	LastError string     `json:"lastError,omitempty"`
}

// Voice turns one recorded utterance into text. It handles a single utterance
// per activation and has no interim results. Any recognition error returns it
// to idle.
type Voice struct {
	recognizer platform.Recognizer
	language   string

	mu      sync.Mutex
	state   VoiceState
	lastErr string
}

// NewVoice creates the voice input. A nil recognizer leaves it unavailable.
func NewVoice(recognizer platform.Recognizer, language string) *Voice {
	if strings.TrimSpace(language) == "" {
		language = DefaultLanguage
	}
	state := VoiceIdle
	if recognizer == nil {
		state = VoiceUnavailable
	}
	return &Voice{recognizer: recognizer, language: language, state: state}
}

// Status returns the current voice state.
func (v *Voice) Status() VoiceStatus {
	v.mu.Lock()
	defer v.mu.Unlock()
	return VoiceStatus{State: v.state, Language: v.language, LastError: v.lastErr}
}

// Available reports whether a recognizer is configured.
func (v *Voice) Available() bool {
	return v != nil && v.recognizer != nil
}

// Transcribe recognises one utterance.
func (v *Voice) Transcribe(ctx context.Context, audio []byte, format string) (string, error) {
	if !v.Available() {
		return "", platform.ErrUnavailable
	}

	v.mu.Lock()
	if v.state == VoiceListening {
		v.mu.Unlock()
		return "", ErrVoiceBusy
	}
	v.state = VoiceListening
	v.lastErr = ""
	v.mu.Unlock()

	text, err := v.recognizer.Recognize(ctx, audio, format, v.language)
	text = strings.TrimSpace(text)
	if err == nil && text == "" {
		err = ErrNoSpeech
	}

	v.mu.Lock()
	v.state = VoiceIdle
	if err != nil {
		v.lastErr = err.Error()
	}
	v.mu.Unlock()

	if err != nil {
		log.Printf("[assistant] voice recognition failed, back to text input: %v", err)
		return "", fmt.Errorf("recognize utterance: %w", err)
	}
	return text, nil
}
