// Package dispatcher turns one raw channel request into a turn and maps the
// outcome to an HTTP status and body.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"echobot/pkg/activity"
	"echobot/pkg/auth"
	"echobot/pkg/bot"
	"echobot/pkg/bus"
	"echobot/pkg/config"
)

const genericFailure = "internal server error"

// Headers are the request headers the pipeline reads.
type Headers struct {
	ContentType   string
	Authorization string
}

// Result is the response for one request. Body is nil for 202.
type Result struct {
	Status int
	Body   []byte
}

// Outcome is a completed turn.
type Outcome struct {
	Activity activity.Activity
	Replies  []activity.Activity
}

// Status is 200 when the turn replied and 202 otherwise.
func (o Outcome) Status() int {
	if len(o.Replies) == 0 {
		return http.StatusAccepted
	}
	return http.StatusOK
}

// Dispatcher runs the validate, parse, authenticate, invoke pipeline. It holds
// only read-only state and is safe for concurrent use.
type Dispatcher struct {
	handler       bot.Handler
	authenticator auth.Authenticator
	events        *bus.MessageBus
	turnTimeout   time.Duration
	exposeErrors  bool
	log           *slog.Logger
}

// New builds a dispatcher. A nil authenticator allows every request and a nil
// bus disables events.
func New(cfg config.BotConfig, handler bot.Handler, authenticator auth.Authenticator, events *bus.MessageBus, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	if authenticator == nil {
		authenticator = auth.Anonymous()
	}

	return &Dispatcher{
		handler:       handler,
		authenticator: authenticator,
		events:        events,
		turnTimeout:   cfg.TurnTimeout.Duration(),
		exposeErrors:  cfg.ExposeErrors,
		log:           log.With("component", "dispatcher"),
	}
}

// Handle processes one request and never fails: every error becomes a status
// code and a JSON error body.
func (d *Dispatcher) Handle(ctx context.Context, rawBody []byte, headers Headers) Result {
	outcome, err := d.Process(ctx, rawBody, headers)
	if err != nil {
		return d.errorResult(ctx, err)
	}

	if len(outcome.Replies) == 0 {
		return Result{Status: http.StatusAccepted}
	}

	body, err := json.Marshal(outcome.Replies[len(outcome.Replies)-1])
	if err != nil {
		return d.errorResult(ctx, &Error{Kind: KindHandlerFailure, Detail: "encode reply", Err: err})
	}

	return Result{Status: http.StatusOK, Body: body}
}

// Process validates the request and runs the turn. Failures are *Error values.
func (d *Dispatcher) Process(ctx context.Context, rawBody []byte, headers Headers) (Outcome, error) {
	if err := ValidateMediaType(headers.ContentType); err != nil {
		d.reject(ctx, activity.Activity{}, err)
		return Outcome{}, err
	}

	inbound, err := activity.Parse(rawBody)
	if err != nil {
		dispatchErr := &Error{Kind: KindMalformedActivity, Err: err}
		d.reject(ctx, activity.Activity{}, dispatchErr)
		return Outcome{}, dispatchErr
	}

	authReq := auth.Request{ServiceURL: inbound.ServiceURL, ChannelID: inbound.ChannelID}
	if err := d.authenticator.Authenticate(ctx, headers.Authorization, authReq); err != nil {
		dispatchErr := &Error{Kind: KindUnauthorized, Err: err}
		d.reject(ctx, inbound, dispatchErr)
		return Outcome{}, dispatchErr
	}

	return d.RunActivity(ctx, inbound)
}

// RunActivity runs the handler for an already accepted activity under the
// turn deadline. Channels that authenticate on their own call it directly.
func (d *Dispatcher) RunActivity(ctx context.Context, inbound activity.Activity) (Outcome, error) {
	if d.turnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.turnTimeout)
		defer cancel()
	}

	startedAt := time.Now()
	event := d.turnEvent(ctx, inbound)

	received := event
	received.Type = bus.EventTurnReceived
	d.events.PublishEvent(context.WithoutCancel(ctx), received)

	replies, err := bot.RunTurn(ctx, d.handler, inbound)
	event.Duration = time.Since(startedAt)

	if err != nil {
		event.Type = bus.EventTurnFailed
		event.Status = http.StatusInternalServerError
		event.Error = err.Error()
		d.events.PublishEvent(context.WithoutCancel(ctx), event)
		return Outcome{}, &Error{Kind: KindHandlerFailure, Err: err}
	}

	outcome := Outcome{Activity: inbound, Replies: replies}
	event.Type = bus.EventTurnCompleted
	event.Status = outcome.Status()
	event.Replies = len(replies)
	d.events.PublishEvent(context.WithoutCancel(ctx), event)

	d.log.Debug("Turn completed",
		"request_id", event.RequestID,
		"activity", inbound.String(),
		"replies", len(replies),
		"duration_ms", event.Duration.Milliseconds(),
	)

	return outcome, nil
}

// Reject maps a failure found before Process could run, such as an oversized
// body, through the same status mapping as Handle.
func (d *Dispatcher) Reject(ctx context.Context, err error) Result {
	if KindOf(err) != KindHandlerFailure {
		d.reject(ctx, activity.Activity{}, err)
	}
	return d.errorResult(ctx, err)
}

func (d *Dispatcher) errorResult(ctx context.Context, err error) Result {
	kind := KindOf(err)
	status := kind.Status()

	message := clientMessage(err, kind)
	if kind == KindHandlerFailure {
		attrs := []any{"request_id", RequestIDFromContext(ctx), "error", err}
		var panicErr *bot.PanicError
		if errors.As(err, &panicErr) {
			attrs = append(attrs, "stack", string(panicErr.Stack))
		}
		d.log.Error("Turn failed", attrs...)

		if d.exposeErrors {
			message = err.Error()
		}
	}

	body, _ := json.Marshal(map[string]string{"error": message})
	return Result{Status: status, Body: body}
}

func clientMessage(err error, kind Kind) string {
	var dispatchErr *Error
	switch kind {
	case KindUnsupportedMediaType:
		if errors.As(err, &dispatchErr) && dispatchErr.Detail != "" {
			return "unsupported media type: " + dispatchErr.Detail
		}
		return "unsupported media type"
	case KindMalformedActivity:
		if errors.As(err, &dispatchErr) {
			if dispatchErr.Err != nil {
				return dispatchErr.Err.Error()
			}
			if dispatchErr.Detail != "" {
				return "malformed activity: " + dispatchErr.Detail
			}
		}
		return "malformed activity"
	case KindUnauthorized:
		return "unauthorized"
	default:
		return genericFailure
	}
}

// reject logs and publishes a request that never reached the handler. These
// are client mistakes, so they are not logged as errors.
func (d *Dispatcher) reject(ctx context.Context, inbound activity.Activity, err error) {
	kind := KindOf(err)
	d.log.Info("Request rejected",
		"request_id", RequestIDFromContext(ctx),
		"reason", string(kind),
		"status", kind.Status(),
	)

	event := d.turnEvent(ctx, inbound)
	event.Type = bus.EventTurnRejected
	event.Status = kind.Status()
	event.Reason = string(kind)
	d.events.PublishEvent(context.WithoutCancel(ctx), event)
}

func (d *Dispatcher) turnEvent(ctx context.Context, inbound activity.Activity) bus.Event {
	return bus.Event{
		RequestID:      RequestIDFromContext(ctx),
		Channel:        inbound.ChannelID,
		ConversationID: inbound.ConversationID(),
		ActivityType:   string(inbound.Type),
	}
}
