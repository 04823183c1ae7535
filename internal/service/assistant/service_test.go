package assistant

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/guardian/backend/internal/analysis/intent"
	"github.com/zhouzirui/guardian/backend/internal/model/chat"
	"github.com/zhouzirui/guardian/backend/internal/platform"
	chatservice "github.com/zhouzirui/guardian/backend/internal/service/chat"
)

type fakeChatModel struct {
	reply string
	err   error
	calls int
	last  []*schema.Message
}

func (f *fakeChatModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.calls++
	f.last = input
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := f.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

type recordingSink struct {
	mu       sync.Mutex
	commands []intent.Command
}

func (r *recordingSink) Dispatch(_ context.Context, _ string, cmd intent.Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, cmd)
	return nil
}

type fakeRecognizer struct {
	text     string
	err      error
	language string
}

func (f *fakeRecognizer) Recognize(_ context.Context, _ []byte, _ string, language string) (string, error) {
	f.language = language
	return f.text, f.err
}

func TestStartStoresGreeting(t *testing.T) {
	svc := NewService(nil, nil, nil, nil)
	conv, err := svc.Start(context.Background())
	if err != nil {
		t.Fatalf("Start err: %v", err)
	}
	if conv.Greeting.Content != intent.Greeting {
		t.Fatalf("unexpected greeting %q", conv.Greeting.Content)
	}

	transcript, err := svc.Transcript(context.Background(), conv.Session.ID)
	if err != nil || len(transcript) != 1 {
		t.Fatalf("expected greeting in transcript, got %v (%v)", transcript, err)
	}
}

func TestAskUsesRulesAndDispatchesCommands(t *testing.T) {
	sink := &recordingSink{}
	svc := NewService(nil, nil, nil, sink)

	reply, err := svc.Ask(context.Background(), "", "Help! share my location")
	if err != nil {
		t.Fatalf("Ask err: %v", err)
	}
	if reply.Intent != intent.SOS || reply.Source != SourceRules {
		t.Fatalf("unexpected reply %+v", reply)
	}
	if reply.SessionID == "" {
		t.Fatal("expected a session to be opened")
	}
	if len(sink.commands) != 2 || sink.commands[0] != intent.CommandSOS || sink.commands[1] != intent.CommandShare {
		t.Fatalf("unexpected commands %v", sink.commands)
	}

	transcript, _ := svc.Transcript(context.Background(), reply.SessionID)
	if len(transcript) != 3 {
		t.Fatalf("expected greeting, user and assistant turns, got %d", len(transcript))
	}
	if transcript[2].Intent != string(intent.SOS) {
		t.Fatalf("expected intent recorded on reply, got %q", transcript[2].Intent)
	}
}

func TestAskRejectsEmptyText(t *testing.T) {
	svc := NewService(nil, nil, nil, nil)
	if _, err := svc.Ask(context.Background(), "", "   "); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("expected ErrEmptyText, got %v", err)
	}
}

func TestAskUnknownSession(t *testing.T) {
	svc := NewService(nil, nil, nil, nil)
	if _, err := svc.Ask(context.Background(), "missing", "hi"); !errors.Is(err, chatservice.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestAskModelFallbackOnlyForUnknown(t *testing.T) {
	fake := &fakeChatModel{reply: "Stay in well-lit areas."}
	responder, err := NewResponder(context.Background(), fake, ResponderConfig{Enabled: true})
	if err != nil {
		t.Fatalf("NewResponder err: %v", err)
	}
	svc := NewService(nil, responder, nil, nil)

	reply, err := svc.Ask(context.Background(), "", "xyzzy")
	if err != nil {
		t.Fatalf("Ask err: %v", err)
	}
	if reply.Source != SourceModel || reply.Response != "Stay in well-lit areas." {
		t.Fatalf("expected model reply, got %+v", reply)
	}
	if reply.Intent != intent.Unknown {
		t.Fatalf("model reply must keep the unknown intent, got %s", reply.Intent)
	}

	if _, err := svc.Ask(context.Background(), reply.SessionID, "set a timer"); err != nil {
		t.Fatalf("Ask err: %v", err)
	}
	if fake.calls != 1 {
		t.Fatalf("model must not be consulted for matched rules, calls=%d", fake.calls)
	}
}

func TestAskModelFailureFallsBackToRules(t *testing.T) {
	fake := &fakeChatModel{err: errors.New("quota exceeded")}
	responder, err := NewResponder(context.Background(), fake, ResponderConfig{Enabled: true})
	if err != nil {
		t.Fatalf("NewResponder err: %v", err)
	}
	svc := NewService(nil, responder, nil, nil)

	reply, err := svc.Ask(context.Background(), "", "xyzzy")
	if err != nil {
		t.Fatalf("Ask err: %v", err)
	}
	if reply.Source != SourceRules || reply.Response != intent.UnknownResponse {
		t.Fatalf("expected rule fallback, got %+v", reply)
	}
}

func TestResponderDisabled(t *testing.T) {
	responder, err := NewResponder(context.Background(), nil, ResponderConfig{Enabled: true})
	if err != nil {
		t.Fatalf("NewResponder err: %v", err)
	}
	if responder.Enabled() {
		t.Fatal("expected disabled responder without a model")
	}
	if _, err := responder.Reply(context.Background(), nil, "hi"); !errors.Is(err, ErrResponderDisabled) {
		t.Fatalf("expected ErrResponderDisabled, got %v", err)
	}
}

func TestFormatHistoryRespectsLimit(t *testing.T) {
	history := []chat.Message{
		{Sender: chat.SenderAssistant, Content: "greeting"},
		{Sender: chat.SenderUser, Content: "one"},
		{Sender: chat.SenderAssistant, Content: "two"},
	}
	got := formatHistory(history, 2)
	if strings.Contains(got, "greeting") || !strings.HasPrefix(got, "User: one") {
		t.Fatalf("unexpected history %q", got)
	}
	if formatHistory(nil, 3) != "(no earlier messages)" {
		t.Fatal("expected placeholder for empty history")
	}
}

func TestVoiceUnavailableKeepsTextWorking(t *testing.T) {
	svc := NewService(nil, nil, nil, nil)

	if _, err := svc.AskVoice(context.Background(), "", []byte("pcm"), "wav"); !errors.Is(err, platform.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if svc.Voice().Status().State != VoiceUnavailable {
		t.Fatalf("unexpected state %s", svc.Voice().Status().State)
	}
	if _, err := svc.Ask(context.Background(), "", "sos"); err != nil {
		t.Fatalf("text input must keep working: %v", err)
	}
}

func TestVoiceTranscriptIsClassified(t *testing.T) {
	rec := &fakeRecognizer{text: "is this route safe"}
	svc := NewService(nil, nil, NewVoice(rec, ""), nil)

	reply, err := svc.AskVoice(context.Background(), "", []byte("pcm"), "wav")
	if err != nil {
		t.Fatalf("AskVoice err: %v", err)
	}
	if reply.Transcript != "is this route safe" || reply.Intent != intent.RouteSafety {
		t.Fatalf("unexpected voice reply %+v", reply)
	}
	if rec.language != DefaultLanguage {
		t.Fatalf("expected fixed locale %s, got %s", DefaultLanguage, rec.language)
	}
}

func TestVoiceErrorDeactivates(t *testing.T) {
	rec := &fakeRecognizer{err: errors.New("microphone denied")}
	voice := NewVoice(rec, "en-GB")

	if _, err := voice.Transcribe(context.Background(), []byte("pcm"), "wav"); err == nil {
		t.Fatal("expected error")
	}
	status := voice.Status()
	if status.State != VoiceIdle || status.LastError == "" || status.Language != "en-GB" {
		t.Fatalf("unexpected status %+v", status)
	}

	rec.err = nil
	rec.text = "  "
	if _, err := voice.Transcribe(context.Background(), []byte("pcm"), "wav"); !errors.Is(err, ErrNoSpeech) {
		t.Fatalf("expected ErrNoSpeech, got %v", err)
	}
}
