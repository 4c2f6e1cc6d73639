// Package gateway hosts the bot: the HTTP endpoint, channel adapters and the
// event consumers that feed metrics and telemetry.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"golang.org/x/sync/errgroup"

	"echobot/pkg/activity"
	"echobot/pkg/bus"
	"echobot/pkg/channel"
	"echobot/pkg/config"
	"echobot/pkg/dispatcher"
	"echobot/pkg/metrics"
	"echobot/pkg/telemetry"
)

const (
	requestIDHeader     = "X-Request-Id"
	httpChannel         = "http"
	shutdownTimeout     = 5 * time.Second
	healthCheckInterval = 30 * time.Second
	eventBuffer         = 256
	maxRequestIDLength  = 128
)

// HealthChecker reports whether a backend the handler depends on is usable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Options are the collaborators a Service runs. Only Config and Dispatcher are
// required.
type Options struct {
	Config     *config.Config
	Dispatcher *dispatcher.Dispatcher
	Adapters   []channel.Adapter
	Bus        *bus.MessageBus
	Metrics    *metrics.Metrics
	Telemetry  *telemetry.Exporter
	Provider   HealthChecker
	Logger     *slog.Logger
}

type Service struct {
	cfg        *config.Config
	log        *slog.Logger
	dispatcher *dispatcher.Dispatcher
	channels   []channel.Adapter
	events     *bus.MessageBus
	metrics    *metrics.Metrics
	telemetry  *telemetry.Exporter
	provider   HealthChecker

	mu               sync.RWMutex
	startedAt        time.Time
	providerLastOKAt time.Time
	providerLastErr  string
	channelStates    map[string]channelState
}

type channelState struct {
	Running bool   `json:"running"`
	Error   string `json:"error,omitempty"`
}

type statusResponse struct {
	Status           string                  `json:"status"`
	UptimeSeconds    int64                   `json:"uptime_seconds"`
	ProviderLastOKAt string                  `json:"provider_last_ok_at,omitempty"`
	ProviderLastErr  string                  `json:"provider_last_error,omitempty"`
	Channels         map[string]channelState `json:"channels"`
}

func NewService(opts Options) (*Service, error) {
	if opts.Config == nil {
		return nil, errors.New("config is required")
	}
	if opts.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	channelStates := make(map[string]channelState, len(opts.Adapters)+1)
	channelStates[httpChannel] = channelState{}
	for _, adapter := range opts.Adapters {
		channelStates[adapter.Name()] = channelState{}
	}

	return &Service{
		cfg:           opts.Config,
		log:           log.With("component", "gateway.service"),
		dispatcher:    opts.Dispatcher,
		channels:      opts.Adapters,
		events:        opts.Bus,
		metrics:       opts.Metrics,
		telemetry:     opts.Telemetry,
		provider:      opts.Provider,
		channelStates: channelStates,
	}, nil
}

// Run listens on the configured address and serves until ctx ends or a
// component fails.
func (s *Service) Run(ctx context.Context) error {
	addr := s.cfg.Server.Address()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	return s.Serve(ctx, listener)
}

// Serve runs every component on listener under one errgroup. It returns nil on
// a clean shutdown.
func (s *Service) Serve(ctx context.Context, listener net.Listener) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()

	if s.provider != nil {
		if err := s.checkProviderHealth(ctx); err != nil {
			_ = listener.Close()
			return err
		}
	}

	group, groupCtx := errgroup.WithContext(ctx)

	// Requests outlive groupCtx so Shutdown can drain in-flight turns.
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(groupCtx) },
	}

	s.startConsumers(groupCtx, group)

	group.Go(func() error {
		s.setChannelState(httpChannel, channelState{Running: true})
		s.log.Info("Bot endpoint started", "address", listener.Addr().String())

		err := server.Serve(listener)
		s.setChannelState(httpChannel, channelState{Running: false})
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(groupCtx), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("HTTP shutdown did not drain", "error", err)
		}
		return nil
	})

	for _, adapter := range s.channels {
		group.Go(func() error {
			s.setChannelState(adapter.Name(), channelState{Running: true})
			err := adapter.Run(groupCtx, s.handleChannelActivity)
			s.setChannelState(adapter.Name(), channelState{Running: false, Error: errorString(err)})
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("run %s channel: %w", adapter.Name(), err)
			}
			return nil
		})
	}

	if s.provider != nil {
		group.Go(func() error {
			ticker := time.NewTicker(healthCheckInterval)
			defer ticker.Stop()
			for {
				select {
				case <-groupCtx.Done():
					return nil
				case <-ticker.C:
					if err := s.checkProviderHealth(groupCtx); err != nil {
						s.log.Warn("Provider health check failed", "error", err)
					}
				}
			}
		})
	}

	err := group.Wait()
	s.log.Info("Gateway stopped")
	return err
}

func (s *Service) startConsumers(ctx context.Context, group *errgroup.Group) {
	if s.events == nil {
		return
	}

	if s.metrics != nil {
		events, unsubscribe := s.events.SubscribeEvents(ctx, eventBuffer)
		group.Go(func() error {
			defer unsubscribe()
			return s.metrics.Consume(ctx, events)
		})
	}

	if s.telemetry.Enabled() {
		events, unsubscribe := s.events.SubscribeEvents(ctx, eventBuffer)
		group.Go(func() error {
			defer unsubscribe()
			return s.telemetry.Run(ctx, events)
		})
	}
}

// Handler is the HTTP surface of the service.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("POST /api/messages", s.handleMessages)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	return mux
}

func (s *Service) handleMessages(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFromHeader(r.Header.Get(requestIDHeader))
	w.Header().Set(requestIDHeader, requestID)

	ctx := dispatcher.WithRequestID(r.Context(), requestID)
	headers := dispatcher.Headers{
		ContentType:   r.Header.Get("Content-Type"),
		Authorization: r.Header.Get("Authorization"),
	}

	// The body is only read once the content type is known to be JSON.
	if err := dispatcher.ValidateMediaType(headers.ContentType); err != nil {
		s.writeResult(w, s.dispatcher.Handle(ctx, nil, headers))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes()))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			detail := fmt.Sprintf("body exceeds %d bytes", tooLarge.Limit)
			s.writeResult(w, s.dispatcher.Reject(ctx, &dispatcher.Error{Kind: dispatcher.KindMalformedActivity, Detail: detail}))
			return
		}
		s.writeResult(w, s.dispatcher.Reject(ctx, &dispatcher.Error{Kind: dispatcher.KindMalformedActivity, Detail: "body could not be read", Err: err}))
		return
	}

	s.writeResult(w, s.dispatcher.Handle(ctx, body, headers))
}

func (s *Service) writeResult(w http.ResponseWriter, result dispatcher.Result) {
	if len(result.Body) == 0 {
		w.WriteHeader(result.Status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(result.Status)
	if _, err := w.Write(result.Body); err != nil {
		s.log.Debug("Failed to write response", "error", err)
	}
}

// handleChannelActivity runs a turn for an adapter that has already
// authenticated its sender.
func (s *Service) handleChannelActivity(ctx context.Context, inbound activity.Activity) ([]activity.Activity, error) {
	ctx = dispatcher.WithRequestID(ctx, newRequestID())

	outcome, err := s.dispatcher.RunActivity(ctx, inbound)
	if err != nil {
		return nil, err
	}
	return outcome.Replies, nil
}

func (s *Service) maxBodyBytes() int64 {
	if s.cfg.Server.MaxBodyBytes > 0 {
		return s.cfg.Server.MaxBodyBytes
	}
	return config.Default().Server.MaxBodyBytes
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, `{"status":"healthy"}`)
}

func (s *Service) handleReady(w http.ResponseWriter, _ *http.Request) {
	statusCode := http.StatusOK
	status := "ready"
	if !s.isReady() {
		statusCode = http.StatusServiceUnavailable
		status = "not_ready"
	}

	payload := s.currentStatus(status)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("Failed to write status response", "error", err)
	}
}

func (s *Service) currentStatus(status string) statusResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	uptime := int64(0)
	if !s.startedAt.IsZero() {
		uptime = int64(time.Since(s.startedAt).Seconds())
	}

	channels := make(map[string]channelState, len(s.channelStates))
	for name, state := range s.channelStates {
		channels[name] = state
	}

	providerLastOK := ""
	if !s.providerLastOKAt.IsZero() {
		providerLastOK = s.providerLastOKAt.Format(time.RFC3339)
	}

	return statusResponse{
		Status:           status,
		UptimeSeconds:    uptime,
		ProviderLastOKAt: providerLastOK,
		ProviderLastErr:  s.providerLastErr,
		Channels:         channels,
	}
}

// isReady requires every channel to be running and, when a provider is
// attached, its last health check to have passed.
func (s *Service) isReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.channelStates) == 0 {
		return false
	}
	for _, state := range s.channelStates {
		if !state.Running {
			return false
		}
	}

	if s.provider != nil && (s.providerLastOKAt.IsZero() || s.providerLastErr != "") {
		return false
	}

	return true
}

func (s *Service) checkProviderHealth(ctx context.Context) error {
	if err := s.provider.Health(ctx); err != nil {
		s.mu.Lock()
		s.providerLastErr = err.Error()
		s.mu.Unlock()
		return fmt.Errorf("provider health check failed: %w", err)
	}

	s.mu.Lock()
	s.providerLastErr = ""
	s.providerLastOKAt = time.Now().UTC()
	s.mu.Unlock()

	return nil
}

func (s *Service) setChannelState(name string, state channelState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channelStates[name] = state
}

// requestIDFromHeader keeps a caller id that is short and made of safe
// characters; anything else is replaced with a fresh id.
func requestIDFromHeader(value string) string {
	value = strings.TrimSpace(value)
	if value == "" || len(value) > maxRequestIDLength {
		return newRequestID()
	}
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.', r == ':':
		default:
			return newRequestID()
		}
	}

	return value
}

func newRequestID() string {
	id, err := gonanoid.New()
	if err != nil {
		return fmt.Sprintf("req-%d", time.Now().UnixNano())
	}
	return id
}

func errorString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
