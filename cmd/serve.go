package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"echobot/pkg/auth"
	"echobot/pkg/bot"
	"echobot/pkg/bus"
	"echobot/pkg/channel"
	"echobot/pkg/channel/telegram"
	"echobot/pkg/config"
	"echobot/pkg/dispatcher"
	"echobot/pkg/gateway"
	"echobot/pkg/logger"
	"echobot/pkg/metrics"
	"echobot/pkg/provider"
	"echobot/pkg/telemetry"
)

const telegramChannelName = "telegram"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bot endpoint",
	Long:  "Serves POST /api/messages, /health, /readyz and /metrics and runs every enabled channel adapter until interrupted.",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	_ = args

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := logger.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	slog.SetDefault(appLogger)

	runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := buildService(cfg, appLogger)
	if err != nil {
		return err
	}

	err = svc.Run(runCtx)
	if err != nil && !errors.Is(err, context.Canceled) {
		appLogger.Error("Gateway runtime failed", "component", "cmd.serve", "error", err)
		return err
	}
	return nil
}

// buildService wires every collaborator the gateway runs.
func buildService(cfg *config.Config, appLogger *slog.Logger) (*gateway.Service, error) {
	log := appLogger.With("component", "cmd.serve")

	handler, client, err := buildHandler(cfg, appLogger)
	if err != nil {
		return nil, err
	}

	adapters, err := enabledAdapters(cfg, appLogger)
	if err != nil {
		return nil, err
	}

	events := bus.NewMessageBus()
	authenticator := auth.New(cfg.Auth, nil, appLogger)

	opts := gateway.Options{
		Config:     cfg,
		Dispatcher: dispatcher.New(cfg.Bot, handler, authenticator, events, appLogger),
		Adapters:   adapters,
		Bus:        events,
		Metrics:    metrics.NewMetrics(),
		Telemetry:  telemetry.New(cfg.Telemetry, appLogger),
		Logger:     appLogger,
	}
	if client != nil {
		opts.Provider = client
	}

	svc, err := gateway.NewService(opts)
	if err != nil {
		return nil, fmt.Errorf("initialize gateway: %w", err)
	}

	log.Info("Gateway configured",
		"address", cfg.Server.Address(),
		"handler", cfg.Bot.Handler,
		"channels", enabledChannelNames(adapters),
		"auth", authMode(cfg.Auth),
		"telemetry", opts.Telemetry.Enabled(),
	)
	return svc, nil
}

// buildHandler returns the configured turn handler and, for the assistant,
// the provider client it talks to.
func buildHandler(cfg *config.Config, appLogger *slog.Logger) (bot.Handler, provider.Client, error) {
	switch cfg.Bot.Handler {
	case config.HandlerAssistant:
		client, err := provider.New(cfg.Assistant, cfg.Providers)
		if err != nil {
			return nil, nil, fmt.Errorf("initialize provider: %w", err)
		}
		return bot.Assistant(client, appLogger), client, nil
	case config.HandlerEcho, "":
		return bot.Echo(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported handler %q", cfg.Bot.Handler)
	}
}

func enabledAdapters(cfg *config.Config, log *slog.Logger) ([]channel.Adapter, error) {
	adapters := make([]channel.Adapter, 0, 1)

	if cfg.Channels.Telegram.Enabled {
		adapter, err := telegram.NewAdapter(cfg.Channels.Telegram, log)
		if err != nil {
			return nil, fmt.Errorf("configure %s channel: %w", telegramChannelName, err)
		}
		adapters = append(adapters, adapter)
	}

	return adapters, nil
}

func enabledChannelNames(adapters []channel.Adapter) string {
	names := make([]string, 0, len(adapters)+1)
	names = append(names, "http")
	for _, adapter := range adapters {
		names = append(names, adapter.Name())
	}

	return strings.Join(names, ",")
}

func authMode(cfg config.AuthConfig) string {
	if strings.TrimSpace(cfg.AppID) == "" {
		return "anonymous"
	}
	return "bearer"
}
