package cmd

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"echobot/pkg/activity"
	"echobot/pkg/bot"
	channelpkg "echobot/pkg/channel"
	"echobot/pkg/config"
	"echobot/pkg/dispatcher"
	"echobot/pkg/emulator"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testAdapter struct{ name string }

func (a testAdapter) Name() string { return a.name }

func (a testAdapter) Run(_ context.Context, _ channelpkg.Handler) error { return nil }

func TestEnabledAdapters(t *testing.T) {
	t.Parallel()

	adapters, err := enabledAdapters(config.Default(), nil)
	require.NoError(t, err)
	require.Empty(t, adapters)

	cfg := config.Default()
	cfg.Channels.Telegram.Enabled = true
	_, err = enabledAdapters(cfg, nil)
	require.ErrorContains(t, err, "configure telegram channel")

	cfg.Channels.Telegram.Token = "123:abc"
	adapters, err = enabledAdapters(cfg, nil)
	require.NoError(t, err)
	require.Len(t, adapters, 1)
	require.Equal(t, "telegram", adapters[0].Name())
}

func TestEnabledChannelNames(t *testing.T) {
	t.Parallel()

	adapters := []channelpkg.Adapter{testAdapter{name: "telegram"}, testAdapter{name: "slack"}}
	require.Equal(t, "http,telegram,slack", enabledChannelNames(adapters))
	require.Equal(t, "http", enabledChannelNames(nil))
}

func TestBuildHandler(t *testing.T) {
	t.Parallel()

	handler, client, err := buildHandler(config.Default(), nil)
	require.NoError(t, err)
	require.Nil(t, client)

	replies, err := bot.RunTurn(context.Background(), handler, activity.Activity{Type: activity.TypeMessage, Text: "hi"})
	require.NoError(t, err)
	require.Equal(t, "You said: hi", replies[0].Text)

	cfg := config.Default()
	cfg.Bot.Handler = config.HandlerAssistant
	cfg.Assistant.Provider = "opencode"
	cfg.Assistant.Model = "openai/gpt-5.2"
	cfg.Providers.OpenCode.BaseURL = "http://127.0.0.1:4096"
	_, client, err = buildHandler(cfg, nil)
	require.NoError(t, err)
	require.NotNil(t, client)

	cfg.Assistant.Provider = "parrot"
	_, _, err = buildHandler(cfg, nil)
	require.ErrorContains(t, err, "unsupported provider")
}

func TestBuildServiceServesEcho(t *testing.T) {
	t.Parallel()

	svc, err := buildService(config.Default(), discardLogger())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/messages", bytes.NewBufferString(`{"type":"message","text":"ping"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	svc.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"type":"message","text":"You said: ping"}`, rec.Body.String())
}

func TestAuthMode(t *testing.T) {
	t.Parallel()

	require.Equal(t, "anonymous", authMode(config.AuthConfig{}))
	require.Equal(t, "bearer", authMode(config.AuthConfig{AppID: "app"}))
}

func TestResolvePrompt(t *testing.T) {
	original := promptText
	t.Cleanup(func() {
		promptText = original
	})

	promptText = " from-flag "
	require.Equal(t, "from-flag", resolvePrompt([]string{"from", "args"}))

	promptText = ""
	require.Equal(t, "hello world", resolvePrompt([]string{"hello", "world"}))
	require.Empty(t, resolvePrompt(nil))
}

func TestResolveEndpoint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		flag   string
		server config.ServerConfig
		want   string
	}{
		{name: "flag wins", flag: " http://bot.example:80 ", server: config.ServerConfig{Host: "0.0.0.0", Port: 3978}, want: "http://bot.example:80"},
		{name: "wildcard host", server: config.ServerConfig{Host: "0.0.0.0", Port: 3978}, want: "http://127.0.0.1:3978"},
		{name: "explicit host", server: config.ServerConfig{Host: "10.0.0.5", Port: 8080}, want: "http://10.0.0.5:8080"},
		{name: "ipv6 wildcard", server: config.ServerConfig{Host: "::", Port: 3978}, want: "http://127.0.0.1:3978"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, resolveEndpoint(tt.flag, tt.server))
		})
	}
}

func TestReplyLines(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{"hello"}, replyLines("hello"))
	require.Equal(t, []string{"one", "two"}, replyLines("  one\ntwo  "))
	require.Nil(t, replyLines("   "))
}

func TestPrintExchange(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	printExchange(&out, emulator.Exchange{Status: http.StatusAccepted})
	require.Equal(t, "(202, no reply)\n", out.String())

	out.Reset()
	printExchange(&out, emulator.Exchange{
		Status:  http.StatusOK,
		Replies: []activity.Activity{{Type: activity.TypeMessage, Text: "one\ntwo"}},
	})
	require.Equal(t, "bot> one\nbot> two\n", out.String())
}

func TestSendOnceAgainstEndpoint(t *testing.T) {
	t.Parallel()

	d := dispatcher.New(config.Default().Bot, bot.Echo(), nil, nil, nil)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		result := d.Handle(r.Context(), body, dispatcher.Headers{ContentType: r.Header.Get("Content-Type")})
		w.WriteHeader(result.Status)
		_, _ = w.Write(result.Body)
	}))
	defer server.Close()

	var out bytes.Buffer
	require.NoError(t, sendOnce(context.Background(), emulator.New(server.URL, ""), "hello", &out))
	require.Equal(t, "bot> You said: hello\n", out.String())
}

func TestLoadConfigUsesFlagPath(t *testing.T) {
	original := configPath
	t.Cleanup(func() {
		configPath = original
	})

	configPath = t.TempDir() + "/missing.json"
	_, err := loadConfig()
	require.Error(t, err)
}
