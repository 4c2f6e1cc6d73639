// Package metrics exposes turn counters and latencies in Prometheus format.
package metrics

import (
	"context"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"echobot/pkg/bus"
)

// Metrics owns a private registry so tests and multiple services never clash
// on the global one.
type Metrics struct {
	registry *prometheus.Registry

	TurnsTotal      *prometheus.CounterVec
	TurnDuration    *prometheus.HistogramVec
	RejectionsTotal *prometheus.CounterVec
	TurnsInFlight   prometheus.Gauge
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		TurnsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "echobot_turns_total",
				Help: "Turns that reached the handler, by outcome status",
			},
			[]string{"channel", "activity_type", "status"},
		),
		TurnDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "echobot_turn_duration_seconds",
				Help:    "Handler run time per turn in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"channel"},
		),
		RejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "echobot_turn_rejections_total",
				Help: "Requests rejected before the handler ran",
			},
			[]string{"reason"},
		),
		TurnsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "echobot_turns_in_flight",
				Help: "Turns currently running",
			},
		),
	}

	registry.MustRegister(
		m.TurnsTotal,
		m.TurnDuration,
		m.RejectionsTotal,
		m.TurnsInFlight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Observe records one turn event.
func (m *Metrics) Observe(event bus.Event) {
	channel := labelOrUnknown(event.Channel)

	switch event.Type {
	case bus.EventTurnReceived:
		m.TurnsInFlight.Inc()
	case bus.EventTurnCompleted, bus.EventTurnFailed:
		m.TurnsInFlight.Dec()
		m.TurnsTotal.WithLabelValues(channel, labelOrUnknown(event.ActivityType), strconv.Itoa(event.Status)).Inc()
		m.TurnDuration.WithLabelValues(channel).Observe(event.Duration.Seconds())
	case bus.EventTurnRejected:
		m.RejectionsTotal.WithLabelValues(labelOrUnknown(event.Reason)).Inc()
	}
}

// Consume observes events until the channel closes or ctx ends.
func (m *Metrics) Consume(ctx context.Context, events <-chan bus.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-events:
			if !ok {
				return nil
			}
			m.Observe(event)
		}
	}
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func labelOrUnknown(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
