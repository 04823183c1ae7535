// Package assistant runs the safety assistant conversation: rule based intent
// replies, an optional model fallback for unmatched input, voice input, and the
// command signals handed to the host.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/zhouzirui/guardian/backend/internal/analysis/intent"
	"github.com/zhouzirui/guardian/backend/internal/model/chat"
	chatservice "github.com/zhouzirui/guardian/backend/internal/service/chat"
)

// ErrEmptyText is returned when the user sends only whitespace.
var ErrEmptyText = errors.New("text is required")

// Reply source values.
const (
	SourceRules = "rules"
	SourceModel = "model"
)

// CommandSink receives the command signals produced by classification. The
// host decides what to do with them; the assistant never triggers SOS itself.
type CommandSink interface {
	Dispatch(ctx context.Context, sessionID string, cmd intent.Command) error
}

// Conversation is a freshly opened session with its greeting.
type Conversation struct {
	Session  chat.Session `json:"session"`
	Greeting chat.Message `json:"greeting"`
}

// Reply is the assistant answer to one user message.
type Reply struct {
	SessionID string           `json:"sessionId"`
	Intent    intent.Intent    `json:"intent"`
	Response  string           `json:"response"`
	Commands  []intent.Command `json:"commands,omitempty"`
	Source    string           `json:"source"`
	Message   chat.Message     `json:"message"`
}

// VoiceReply pairs the transcript of an utterance with the reply to it.
type VoiceReply struct {
	Transcript string `json:"transcript"`
	Reply
}

// Service ties transcripts, classification and the optional model together.
type Service struct {
	transcripts *chatservice.Service
	responder   *Responder
	voice       *Voice
	sink        CommandSink
}

// NewService wires the assistant. responder, voice and sink may be nil.
func NewService(transcripts *chatservice.Service, responder *Responder, voice *Voice, sink CommandSink) *Service {
	if transcripts == nil {
		transcripts = chatservice.NewService()
	}
	if voice == nil {
		voice = NewVoice(nil, "")
	}
	return &Service{transcripts: transcripts, responder: responder, voice: voice, sink: sink}
}

// Voice exposes the voice input state.
func (s *Service) Voice() *Voice {
	return s.voice
}

// Start opens a conversation and stores the greeting.
func (s *Service) Start(ctx context.Context) (Conversation, error) {
	session, err := s.transcripts.CreateSession(ctx)
	if err != nil {
		return Conversation{}, err
	}
	greeting, err := s.transcripts.SaveMessage(ctx, chat.Message{
		SessionID: session.ID,
		Sender:    chat.SenderAssistant,
		Content:   intent.Greeting,
	})
	if err != nil {
		return Conversation{}, err
	}
	return Conversation{Session: session, Greeting: greeting}, nil
}

// Transcript returns the stored messages of a session.
func (s *Service) Transcript(ctx context.Context, sessionID string) ([]chat.Message, error) {
	return s.transcripts.LoadTranscript(ctx, sessionID)
}

// Ask classifies text, answers it and dispatches any command signals. An empty
// sessionID opens a new conversation.
func (s *Service) Ask(ctx context.Context, sessionID, text string) (Reply, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Reply{}, ErrEmptyText
	}

	if sessionID == "" {
		conv, err := s.Start(ctx)
		if err != nil {
			return Reply{}, err
		}
		sessionID = conv.Session.ID
	}

	history, err := s.transcripts.LoadTranscript(ctx, sessionID)
	if err != nil {
		return Reply{}, err
	}
	if _, err := s.transcripts.SaveMessage(ctx, chat.Message{
		SessionID: sessionID,
		Sender:    chat.SenderUser,
		Content:   text,
	}); err != nil {
		return Reply{}, fmt.Errorf("save user message: %w", err)
	}

	result := intent.Classify(text)
	response, source := result.Response, SourceRules
	if result.Intent == intent.Unknown && s.responder.Enabled() {
		if generated, err := s.responder.Reply(ctx, history, text); err != nil {
			log.Printf("[assistant] model reply failed, use rule response: %v", err)
		} else {
			response, source = generated, SourceModel
		}
	}

	saved, err := s.transcripts.SaveMessage(ctx, chat.Message{
		SessionID: sessionID,
		Sender:    chat.SenderAssistant,
		Content:   response,
		Intent:    string(result.Intent),
	})
	if err != nil {
		return Reply{}, fmt.Errorf("save assistant message: %w", err)
	}

	s.dispatch(ctx, sessionID, result.Commands)

	return Reply{
		SessionID: sessionID,
		Intent:    result.Intent,
		Response:  response,
		Commands:  result.Commands,
		Source:    source,
		Message:   saved,
	}, nil
}

// AskVoice transcribes one utterance and feeds it to Ask.
func (s *Service) AskVoice(ctx context.Context, sessionID string, audio []byte, format string) (VoiceReply, error) {
	transcript, err := s.voice.Transcribe(ctx, audio, format)
	if err != nil {
		return VoiceReply{}, err
	}
	reply, err := s.Ask(ctx, sessionID, transcript)
	if err != nil {
		return VoiceReply{}, err
	}
	return VoiceReply{Transcript: transcript, Reply: reply}, nil
}

func (s *Service) dispatch(ctx context.Context, sessionID string, commands []intent.Command) {
	if s.sink == nil {
		return
	}
	for _, cmd := range commands {
		if err := s.sink.Dispatch(ctx, sessionID, cmd); err != nil {
			log.Printf("[assistant] dispatch %s for session=%s failed: %v", cmd, sessionID, err)
		}
	}
}
