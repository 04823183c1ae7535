package assistant

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/guardian/backend/internal/model/chat"
)

// ErrResponderDisabled is returned by Reply when no model is configured.
var ErrResponderDisabled = errors.New("assistant model disabled")

const maxReplyRunes = 600

// ResponderConfig controls the model-backed replies.
type ResponderConfig struct {
	Enabled      bool
	HistoryLimit int
}

// Responder asks a chat model for a safety-focused reply when no rule matched.
type Responder struct {
	enabled      bool
	chain        compose.Runnable[map[string]any, *schema.Message]
	historyLimit int
}

// NewResponder compiles the reply chain. A nil chatModel or a disabled config
// yields a Responder whose Enabled reports false.
func NewResponder(ctx context.Context, chatModel model.BaseChatModel, cfg ResponderConfig) (*Responder, error) {
	historyLimit := cfg.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = 6
	}

	r := &Responder{
		enabled:      cfg.Enabled && chatModel != nil,
		historyLimit: historyLimit,
	}
	if !r.enabled {
		return r, nil
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(responderSystemPrompt),
		schema.UserMessage(responderUserPrompt),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile assistant chain: %w", err)
	}

	r.chain = runnable
	return r, nil
}

// Enabled reports whether Reply can reach a model.
func (r *Responder) Enabled() bool {
	return r != nil && r.enabled && r.chain != nil
}

// Reply generates a short answer for userMessage given the recent history.
func (r *Responder) Reply(ctx context.Context, history []chat.Message, userMessage string) (string, error) {
	if !r.Enabled() {
		return "", ErrResponderDisabled
	}

	input := map[string]any{
		"history":      formatHistory(history, r.historyLimit),
		"user_message": strings.TrimSpace(userMessage),
	}

	msg, err := r.chain.Invoke(ctx, input)
	if err != nil {
		return "", fmt.Errorf("assistant chain invoke: %w", err)
	}
	if msg == nil {
		return "", errors.New("assistant chain returned no message")
	}

	reply := strings.TrimSpace(msg.Content)
	if reply == "" {
		return "", errors.New("assistant chain returned empty content")
	}
	if runes := []rune(reply); len(runes) > maxReplyRunes {
		reply = string(runes[:maxReplyRunes])
		log.Printf("[assistant] model reply truncated to %d runes", maxReplyRunes)
	}
	return reply, nil
}

func formatHistory(messages []chat.Message, limit int) string {
	if len(messages) == 0 {
		return "(no earlier messages)"
	}
	if limit < 1 {
		limit = 1
	}
	start := len(messages) - limit
	if start < 0 {
		start = 0
	}

	var builder strings.Builder
	for i := start; i < len(messages); i++ {
		msg := messages[i]
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			continue
		}
		role := "User"
		if strings.EqualFold(msg.Sender, chat.SenderAssistant) {
			role = "Assistant"
		}
		if builder.Len() > 0 {
			builder.WriteString("\n")
		}
		builder.WriteString(role)
		builder.WriteString(": ")
		builder.WriteString(content)
	}
	if builder.Len() == 0 {
		return "(no earlier messages)"
	}
	return builder.String()
}

const responderSystemPrompt = "You are the assistant inside a personal safety app. The app offers an SOS button that alerts trusted contacts, live location sharing, a check-in timer and incident recording. Answer in at most three short sentences. Prefer pointing the user to one of those features. If the user may be in danger, tell them to press the SOS button or call local emergency services. Never claim that you contacted anyone yourself."

const responderUserPrompt = "Recent conversation:\n{history}\n\nLatest message:\n{user_message}"
