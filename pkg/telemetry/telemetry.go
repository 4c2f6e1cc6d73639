// Package telemetry forwards turn events to Application Insights. Export
// problems are logged and never reach the request path.
package telemetry

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/microsoft/ApplicationInsights-Go/appinsights"

	"echobot/pkg/bus"
	"echobot/pkg/config"
)

const (
	defaultRoleName = "echobot"
	flushTimeout    = 5 * time.Second
)

type tracker interface {
	Track(item appinsights.Telemetry)
}

// Exporter converts bus events into custom events. The zero value and the
// result of New with an empty connection string are no-ops.
type Exporter struct {
	tracker tracker
	closer  func(timeout time.Duration) <-chan struct{}
	log     *slog.Logger

	// diagnostics is registered process-wide by the SDK; Close removes it.
	diagnostics appinsights.DiagnosticsMessageListener
}

// New builds an exporter for cfg. An empty or unparsable connection string
// yields a no-op exporter.
func New(cfg config.TelemetryConfig, log *slog.Logger) *Exporter {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "telemetry")

	raw := strings.TrimSpace(cfg.ConnectionString)
	if raw == "" {
		log.Debug("No connection string configured, telemetry disabled")
		return &Exporter{log: log}
	}

	conn, err := ParseConnectionString(raw)
	if err != nil {
		log.Warn("Ignoring invalid connection string, telemetry disabled", "error", err)
		return &Exporter{log: log}
	}

	telemetryConfig := appinsights.NewTelemetryConfiguration(conn.InstrumentationKey)
	telemetryConfig.EndpointUrl = conn.TrackURL()
	telemetryConfig.MaxBatchInterval = 2 * time.Second

	client := appinsights.NewTelemetryClientFromConfig(telemetryConfig)
	roleName := strings.TrimSpace(cfg.RoleName)
	if roleName == "" {
		roleName = defaultRoleName
	}
	client.Context().Tags.Cloud().SetRole(roleName)

	diagnostics := appinsights.NewDiagnosticsMessageListener(func(msg string) error {
		log.Debug("Application Insights diagnostics", "message", msg)
		return nil
	})

	log.Info("Telemetry enabled", "endpoint", telemetryConfig.EndpointUrl, "role", roleName)

	closer := func(timeout time.Duration) <-chan struct{} {
		return client.Channel().Close(timeout)
	}

	return &Exporter{tracker: client, closer: closer, log: log, diagnostics: diagnostics}
}

// Enabled reports whether events are exported.
func (e *Exporter) Enabled() bool {
	return e != nil && e.tracker != nil
}

// Track exports one event.
func (e *Exporter) Track(event bus.Event) {
	if !e.Enabled() {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			e.log.Warn("Telemetry export failed", "event", event.Type, "panic", r)
		}
	}()

	item := appinsights.NewEventTelemetry("echobot." + string(event.Type))
	if !event.At.IsZero() {
		item.Timestamp = event.At
	}
	setProperty(item.Properties, "request_id", event.RequestID)
	setProperty(item.Properties, "channel", event.Channel)
	setProperty(item.Properties, "conversation_id", event.ConversationID)
	setProperty(item.Properties, "activity_type", event.ActivityType)
	setProperty(item.Properties, "reason", event.Reason)
	setProperty(item.Properties, "error", event.Error)
	if event.Status != 0 {
		item.Properties["status"] = strconv.Itoa(event.Status)
	}
	if event.Duration > 0 {
		item.Measurements["duration_ms"] = float64(event.Duration) / float64(time.Millisecond)
	}
	if event.Type == bus.EventTurnCompleted {
		item.Measurements["replies"] = float64(event.Replies)
	}

	e.tracker.Track(item)
}

// Run exports events until the channel closes or ctx ends, then flushes.
func (e *Exporter) Run(ctx context.Context, events <-chan bus.Event) error {
	defer e.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-events:
			if !ok {
				return nil
			}
			e.Track(event)
		}
	}
}

// Close detaches the SDK diagnostics listener and flushes buffered telemetry,
// waiting at most flushTimeout.
func (e *Exporter) Close() {
	if !e.Enabled() {
		return
	}
	if e.diagnostics != nil {
		e.diagnostics.Remove()
	}
	if e.closer == nil {
		return
	}

	select {
	case <-e.closer(flushTimeout):
	case <-time.After(flushTimeout + time.Second):
		e.log.Warn("Telemetry flush timed out")
	}
}

func setProperty(properties map[string]string, key string, value string) {
	if value != "" {
		properties[key] = value
	}
}
