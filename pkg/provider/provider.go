// Package provider builds the LLM clients behind the assistant handler.
package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"echobot/pkg/config"
	providerfantasy "echobot/pkg/provider/fantasy"
	provideropenai "echobot/pkg/provider/openai"
	"echobot/pkg/provider/opencode"
	providertypes "echobot/pkg/provider/types"
)

const (
	OpenAI   = "openai"
	OpenCode = "opencode"
	Fantasy  = "fantasy"
)

// Client is a conversational LLM backend with server- or client-side sessions.
type Client interface {
	Health(ctx context.Context) error
	CreateSession(ctx context.Context, title string) (string, error)
	Prompt(ctx context.Context, sessionID string, prompt string) (providertypes.PromptResult, error)
}

// New returns the client named by assistant.Provider.
func New(assistant config.AssistantConfig, providers config.ProvidersConfig) (Client, error) {
	providerID := strings.ToLower(strings.TrimSpace(assistant.Provider))
	if providerID == "" {
		providerID = OpenAI
	}

	slog.Default().With("component", "provider.factory").Debug("Resolving provider client", "provider", providerID, "model", assistant.Model)

	switch providerID {
	case OpenAI:
		return provideropenai.New(assistant, providers.OpenAI)
	case OpenCode:
		return opencode.New(assistant, providers.OpenCode)
	case Fantasy:
		return providerfantasy.New(assistant, providers.OpenAI)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", providerID)
	}
}
