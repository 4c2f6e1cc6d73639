package telemetry

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/microsoft/ApplicationInsights-Go/appinsights"
	"github.com/stretchr/testify/require"

	"echobot/pkg/bus"
	"echobot/pkg/config"
)

type recordingTracker struct {
	mu    sync.Mutex
	items []appinsights.Telemetry
}

func (r *recordingTracker) Track(item appinsights.Telemetry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, item)
}

func (r *recordingTracker) events() []*appinsights.EventTelemetry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*appinsights.EventTelemetry, 0, len(r.items))
	for _, item := range r.items {
		if event, ok := item.(*appinsights.EventTelemetry); ok {
			out = append(out, event)
		}
	}
	return out
}

func TestParseConnectionString(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantKey  string
		wantURL  string
		wantFail bool
	}{
		{
			name:    "key and endpoint",
			raw:     "InstrumentationKey=00000000-0000-0000-0000-000000000000;IngestionEndpoint=https://westeurope-5.in.applicationinsights.azure.com/;LiveEndpoint=https://live.example.test/",
			wantKey: "00000000-0000-0000-0000-000000000000",
			wantURL: "https://westeurope-5.in.applicationinsights.azure.com/v2/track",
		},
		{
			name:    "key only uses default endpoint",
			raw:     "instrumentationkey=abc",
			wantKey: "abc",
			wantURL: "https://dc.services.visualstudio.com/v2/track",
		},
		{name: "missing key", raw: "IngestionEndpoint=https://x.example.test", wantFail: true},
		{name: "segment without equals", raw: "InstrumentationKey=abc;garbage", wantFail: true},
		{name: "empty", raw: "", wantFail: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, err := ParseConnectionString(tt.raw)
			if tt.wantFail {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.wantKey, parsed.InstrumentationKey)
			require.Equal(t, tt.wantURL, parsed.TrackURL())
		})
	}
}

func TestNewWithoutConnectionStringIsNoop(t *testing.T) {
	exporter := New(config.TelemetryConfig{}, nil)
	require.False(t, exporter.Enabled())

	exporter.Track(bus.Event{Type: bus.EventTurnCompleted})
	exporter.Close()
}

func TestNewWithInvalidConnectionStringIsNoop(t *testing.T) {
	exporter := New(config.TelemetryConfig{ConnectionString: "IngestionEndpoint=https://x.example.test"}, nil)
	require.False(t, exporter.Enabled())
}

func TestNewWithConnectionStringEnablesClient(t *testing.T) {
	exporter := New(config.TelemetryConfig{ConnectionString: "InstrumentationKey=abc;IngestionEndpoint=http://127.0.0.1:1/"}, nil)
	require.True(t, exporter.Enabled())
	exporter.Close()
}

func TestTrackMapsEventFields(t *testing.T) {
	recorder := &recordingTracker{}
	exporter := &Exporter{tracker: recorder, log: New(config.TelemetryConfig{}, nil).log}

	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	exporter.Track(bus.Event{
		Type:           bus.EventTurnCompleted,
		At:             at,
		RequestID:      "req-1",
		Channel:        "emulator",
		ConversationID: "conv-1",
		ActivityType:   "message",
		Status:         200,
		Replies:        1,
		Duration:       1500 * time.Microsecond,
	})

	events := recorder.events()
	require.Len(t, events, 1)
	require.Equal(t, "echobot.turn_completed", events[0].Name)
	require.Equal(t, at, events[0].Timestamp)
	require.Equal(t, "req-1", events[0].Properties["request_id"])
	require.Equal(t, "200", events[0].Properties["status"])
	require.NotContains(t, events[0].Properties, "error")
	require.InDelta(t, 1.5, events[0].Measurements["duration_ms"], 1e-9)
	require.InDelta(t, 1, events[0].Measurements["replies"], 0)
}

type panickingTracker struct{}

func (panickingTracker) Track(appinsights.Telemetry) { panic("channel closed") }

func TestTrackSwallowsExportFailures(t *testing.T) {
	exporter := &Exporter{tracker: panickingTracker{}, log: New(config.TelemetryConfig{}, nil).log}

	require.NotPanics(t, func() {
		exporter.Track(bus.Event{Type: bus.EventTurnFailed, Error: "boom"})
	})
}

func TestRunConsumesUntilClosed(t *testing.T) {
	recorder := &recordingTracker{}
	flushed := make(chan struct{})
	exporter := &Exporter{
		tracker: recorder,
		closer: func(time.Duration) <-chan struct{} {
			close(flushed)
			done := make(chan struct{})
			close(done)
			return done
		},
		log: New(config.TelemetryConfig{}, nil).log,
	}

	events := make(chan bus.Event, 3)
	events <- bus.Event{Type: bus.EventTurnReceived}
	events <- bus.Event{Type: bus.EventTurnRejected, Reason: "unauthorized"}
	close(events)

	require.NoError(t, exporter.Run(context.Background(), events))
	require.Len(t, recorder.events(), 2)
	require.Equal(t, "unauthorized", recorder.events()[1].Properties["reason"])

	select {
	case <-flushed:
	default:
		t.Fatal("expected flush on exit")
	}
}

type countingListener struct {
	removed atomic.Int32
}

func (l *countingListener) Remove() { l.removed.Add(1) }

func TestCloseRemovesDiagnosticsListener(t *testing.T) {
	listener := &countingListener{}
	exporter := &Exporter{
		tracker:     &recordingTracker{},
		log:         New(config.TelemetryConfig{}, nil).log,
		diagnostics: listener,
	}

	exporter.Close()
	require.Equal(t, int32(1), listener.removed.Load())
}
