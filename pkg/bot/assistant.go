package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	providertypes "echobot/pkg/provider/types"
)

// SessionClient is the part of a provider client the assistant needs.
type SessionClient interface {
	CreateSession(ctx context.Context, title string) (string, error)
	Prompt(ctx context.Context, sessionID string, prompt string) (providertypes.PromptResult, error)
}

// Assistant forwards message text to an LLM provider and replies with its
// answer. Each conversation gets its own provider session and prompts within a
// conversation run one at a time.
func Assistant(client SessionClient, log *slog.Logger) Handler {
	if log == nil {
		log = slog.Default()
	}

	sessions := &sessionManager{
		client:   client,
		log:      log.With("component", "bot.assistant"),
		sessions: make(map[string]*conversationSession),
	}

	return ActivityHandler{OnMessage: sessions.onMessage}
}

type sessionManager struct {
	client SessionClient
	log    *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*conversationSession
}

// conversationSession is created on first use. id stays empty until the
// provider session exists.
type conversationSession struct {
	promptMu sync.Mutex
	id       string
}

func (m *sessionManager) onMessage(ctx context.Context, turn *TurnContext) error {
	inbound := turn.Activity()
	text := strings.TrimSpace(inbound.Text)
	if text == "" {
		return nil
	}

	key := sessionKey(inbound.ChannelID, inbound.ConversationID())
	session := m.sessionFor(key)

	session.promptMu.Lock()
	defer session.promptMu.Unlock()

	if session.id == "" {
		id, err := m.client.CreateSession(ctx, "echobot:"+key)
		if err != nil {
			return fmt.Errorf("start session for %s: %w", key, err)
		}
		session.id = id
		m.log.Debug("Provider session started", "session_key", key, "session_id", id)
	}

	result, err := m.client.Prompt(ctx, session.id, text)
	if err != nil {
		return fmt.Errorf("prompt %s: %w", key, err)
	}

	attrs := []any{"session_key", key, "provider", result.Metadata.Provider, "model", result.Metadata.Model}
	if usage := result.Metadata.Usage; usage != nil {
		attrs = append(attrs, "input_tokens", usage.InputTokens, "output_tokens", usage.OutputTokens)
	}
	m.log.Debug("Assistant replied", attrs...)

	return turn.SendText(result.Text)
}

func (m *sessionManager) sessionFor(key string) *conversationSession {
	m.mu.RLock()
	session, ok := m.sessions[key]
	m.mu.RUnlock()
	if ok {
		return session
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if session, ok = m.sessions[key]; ok {
		return session
	}
	session = &conversationSession{}
	m.sessions[key] = session
	return session
}

func sessionKey(channelID string, conversationID string) string {
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		channelID = "unknown"
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		conversationID = "default"
	}

	return channelID + ":" + conversationID
}
