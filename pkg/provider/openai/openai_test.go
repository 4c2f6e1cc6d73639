package openai

import (
	"testing"

	"github.com/stretchr/testify/require"

	"echobot/pkg/config"
)

func TestNewRequiresAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	_, err := New(config.AssistantConfig{Model: "gpt-5.2"}, config.OpenAIProviderConfig{})
	require.Error(t, err)
}

func TestNewUsesConfiguredAPIKeyEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("TEST_OPENAI_API_KEY", "sk-test")

	client, err := New(config.AssistantConfig{Model: "openai/gpt-5.2"}, config.OpenAIProviderConfig{APIKeyEnv: "TEST_OPENAI_API_KEY"})
	require.NoError(t, err)
	require.Equal(t, "gpt-5.2", client.model)
}

func TestNewFallsBackToDefaultAPIKeyEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-default")
	t.Setenv("TEST_OPENAI_API_KEY", "")

	client, err := New(config.AssistantConfig{Model: "gpt-5.2"}, config.OpenAIProviderConfig{APIKeyEnv: "TEST_OPENAI_API_KEY"})
	require.NoError(t, err)
	require.NotNil(t, client)
}

func TestNewRejectsMissingModel(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	_, err := New(config.AssistantConfig{}, config.OpenAIProviderConfig{})
	require.ErrorContains(t, err, "assistant.model")
}

func TestBuildParamsCarriesAssistantSettings(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	client, err := New(config.AssistantConfig{
		Model:        "gpt-5.2",
		SystemPrompt: "  be brief  ",
		MaxTokens:    256,
		Temperature:  0.2,
	}, config.OpenAIProviderConfig{})
	require.NoError(t, err)

	params := client.buildParams("conv_1", "hello")
	require.Equal(t, "gpt-5.2", params.Model)
	require.Equal(t, "be brief", params.Instructions.Value)
	require.Equal(t, int64(256), params.MaxOutputTokens.Value)
	require.InDelta(t, 0.2, params.Temperature.Value, 1e-9)
	require.Equal(t, "conv_1", params.Conversation.OfConversationObject.ID)
}

func TestNormalizeModel(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "plain model", input: "gpt-5.2", want: "gpt-5.2"},
		{name: "openai prefix", input: "openai/gpt-5.2", want: "gpt-5.2"},
		{name: "other provider", input: "anthropic/claude", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := normalizeModel(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}
