package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"echobot/pkg/activity"
	"echobot/pkg/auth"
	"echobot/pkg/bot"
	"echobot/pkg/bus"
	"echobot/pkg/config"
)

var jsonHeaders = Headers{ContentType: "application/json; charset=utf-8", Authorization: "Bearer token"}

type countingAuthenticator struct {
	calls atomic.Int32
	deny  bool
	last  auth.Request
	mu    sync.Mutex
}

func (a *countingAuthenticator) Authenticate(_ context.Context, _ string, req auth.Request) error {
	a.calls.Add(1)
	a.mu.Lock()
	a.last = req
	a.mu.Unlock()
	if a.deny {
		return fmt.Errorf("%w: bad token", auth.ErrUnauthorized)
	}
	return nil
}

type countingHandler struct {
	calls atomic.Int32
	inner bot.Handler
}

func (h *countingHandler) OnTurn(ctx context.Context, turn *bot.TurnContext) error {
	h.calls.Add(1)
	return h.inner.OnTurn(ctx, turn)
}

func newEchoDispatcher(t *testing.T, cfg config.BotConfig) (*Dispatcher, *countingAuthenticator, *countingHandler) {
	t.Helper()

	authenticator := &countingAuthenticator{}
	handler := &countingHandler{inner: bot.Echo()}
	return New(cfg, handler, authenticator, nil, nil), authenticator, handler
}

func TestHandleScenarios(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		body       string
		headers    Headers
		wantStatus int
		wantBody   string
	}{
		{
			name:       "message echoes text",
			body:       `{"type":"message","text":"hello"}`,
			headers:    jsonHeaders,
			wantStatus: http.StatusOK,
			wantBody:   `{"type":"message","text":"You said: hello"}`,
		},
		{
			name:       "message without text",
			body:       `{"type":"message"}`,
			headers:    jsonHeaders,
			wantStatus: http.StatusOK,
			wantBody:   `{"type":"message","text":"You said: "}`,
		},
		{
			name:       "typing is accepted without reply",
			body:       `{"type":"typing"}`,
			headers:    jsonHeaders,
			wantStatus: http.StatusAccepted,
		},
		{
			name:       "plain text content type",
			body:       `{"type":"message","text":"hello"}`,
			headers:    Headers{ContentType: "text/plain"},
			wantStatus: http.StatusUnsupportedMediaType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			d, _, _ := newEchoDispatcher(t, config.BotConfig{})
			result := d.Handle(context.Background(), []byte(tt.body), tt.headers)

			require.Equal(t, tt.wantStatus, result.Status)
			switch {
			case tt.wantBody != "":
				require.JSONEq(t, tt.wantBody, string(result.Body))
			case tt.wantStatus == http.StatusAccepted:
				require.Empty(t, result.Body)
			}
		})
	}
}

func TestReplyCopiesCorrelationFields(t *testing.T) {
	t.Parallel()

	d, _, _ := newEchoDispatcher(t, config.BotConfig{})
	body := `{
		"type": "message",
		"id": "a1",
		"text": "hi",
		"channelId": "msteams",
		"serviceUrl": "https://smba.example.test/",
		"from": {"id": "u1"},
		"recipient": {"id": "b1"},
		"conversation": {"id": "c1"}
	}`

	result := d.Handle(context.Background(), []byte(body), jsonHeaders)
	require.Equal(t, http.StatusOK, result.Status)

	reply, err := activity.Parse(result.Body)
	require.NoError(t, err)
	require.Equal(t, "You said: hi", reply.Text)
	require.Equal(t, "msteams", reply.ChannelID)
	require.Equal(t, "c1", reply.ConversationID())
	require.Equal(t, "b1", reply.From.ID)
	require.Equal(t, "u1", reply.Recipient.ID)
	require.Equal(t, "a1", reply.ReplyToID)
}

func TestReplyPassesIdentifiersThroughVerbatim(t *testing.T) {
	t.Parallel()

	d, _, _ := newEchoDispatcher(t, config.BotConfig{})
	body := `{"type":"message","id":7,"text":"hi","channelId":"msteams","serviceUrl":"https://smba.example.test/",` +
		`"conversationId":"c9",` +
		`"from":{"id":"u1","aadObjectId":"x","name":"Ada"},` +
		`"recipient":{"id":42,"role":"bot"},` +
		`"conversation":{"id":"c1","conversationType":"personal","tenantId":"t1"}}`

	result := d.Handle(context.Background(), []byte(body), jsonHeaders)
	require.Equal(t, http.StatusOK, result.Status, string(result.Body))

	var reply map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(result.Body, &reply))

	require.Equal(t, `{"id":"u1","aadObjectId":"x","name":"Ada"}`, string(reply["recipient"]))
	require.Equal(t, `{"id":42,"role":"bot"}`, string(reply["from"]))
	require.Equal(t, `{"id":"c1","conversationType":"personal","tenantId":"t1"}`, string(reply["conversation"]))
	require.Equal(t, `"c9"`, string(reply["conversationId"]))
	require.Equal(t, `"msteams"`, string(reply["channelId"]))
	require.Equal(t, `"https://smba.example.test/"`, string(reply["serviceUrl"]))
	require.Equal(t, `7`, string(reply["replyToId"]))
	require.Equal(t, `"You said: hi"`, string(reply["text"]))
}

func TestFlatConversationIDIsCopiedToReply(t *testing.T) {
	t.Parallel()

	d, _, _ := newEchoDispatcher(t, config.BotConfig{})
	result := d.Handle(context.Background(), []byte(`{"type":"message","text":"x","conversationId":"c9"}`), jsonHeaders)
	require.Equal(t, http.StatusOK, result.Status)
	require.JSONEq(t, `{"type":"message","text":"You said: x","conversationId":"c9"}`, string(result.Body))
}

func TestNonMessageTypesProduceNoReplies(t *testing.T) {
	t.Parallel()

	d, _, handler := newEchoDispatcher(t, config.BotConfig{})
	for _, typ := range []string{"typing", "conversationUpdate", "event", "invoke", "endOfConversation", "somethingNew"} {
		result := d.Handle(context.Background(), []byte(`{"type":"`+typ+`"}`), jsonHeaders)
		require.Equal(t, http.StatusAccepted, result.Status, typ)
		require.Nil(t, result.Body, typ)
	}
	require.Equal(t, int32(6), handler.calls.Load())
}

func TestContentTypeCheckedBeforeAnythingElse(t *testing.T) {
	t.Parallel()

	for _, contentType := range []string{"", "text/plain", "application/xml", "not a media type;;", "multipart/form-data; boundary=x"} {
		d, authenticator, handler := newEchoDispatcher(t, config.BotConfig{})

		result := d.Handle(context.Background(), []byte(`not even json`), Headers{ContentType: contentType, Authorization: "Bearer x"})
		require.Equal(t, http.StatusUnsupportedMediaType, result.Status, contentType)
		require.Zero(t, authenticator.calls.Load(), contentType)
		require.Zero(t, handler.calls.Load(), contentType)
	}
}

func TestMalformedBodiesReturnBadRequest(t *testing.T) {
	t.Parallel()

	for _, body := range []string{``, `{`, `[]`, `{"text":"no type"}`, `{"type":""}`, `{"type":7}`} {
		d, authenticator, handler := newEchoDispatcher(t, config.BotConfig{})

		result := d.Handle(context.Background(), []byte(body), jsonHeaders)
		require.Equal(t, http.StatusBadRequest, result.Status, body)
		require.Contains(t, string(result.Body), "malformed activity", body)
		require.Zero(t, handler.calls.Load(), body)
		require.Zero(t, authenticator.calls.Load(), body)
	}
}

func TestUnauthorizedNeverReachesHandler(t *testing.T) {
	t.Parallel()

	d, authenticator, handler := newEchoDispatcher(t, config.BotConfig{})
	authenticator.deny = true

	body := `{"type":"message","text":"hi","serviceUrl":"https://svc.example.test","channelId":"webchat"}`
	result := d.Handle(context.Background(), []byte(body), jsonHeaders)

	require.Equal(t, http.StatusUnauthorized, result.Status)
	require.JSONEq(t, `{"error":"unauthorized"}`, string(result.Body))
	require.Zero(t, handler.calls.Load())
	require.Equal(t, auth.Request{ServiceURL: "https://svc.example.test", ChannelID: "webchat"}, authenticator.last)
}

func TestHandlerFailureIsOpaqueByDefault(t *testing.T) {
	t.Parallel()

	failing := bot.HandlerFunc(func(context.Context, *bot.TurnContext) error {
		return errors.New("database password is hunter2")
	})

	d := New(config.BotConfig{}, failing, nil, nil, nil)
	result := d.Handle(context.Background(), []byte(`{"type":"message"}`), jsonHeaders)
	require.Equal(t, http.StatusInternalServerError, result.Status)
	require.JSONEq(t, `{"error":"internal server error"}`, string(result.Body))

	exposed := New(config.BotConfig{ExposeErrors: true}, failing, nil, nil, nil)
	result = exposed.Handle(context.Background(), []byte(`{"type":"message"}`), jsonHeaders)
	require.Equal(t, http.StatusInternalServerError, result.Status)
	require.Contains(t, string(result.Body), "hunter2")
}

func TestHandlerPanicBecomesInternalError(t *testing.T) {
	t.Parallel()

	panicking := bot.HandlerFunc(func(context.Context, *bot.TurnContext) error {
		panic("nil map write")
	})

	d := New(config.BotConfig{}, panicking, nil, nil, nil)
	_, err := d.Process(context.Background(), []byte(`{"type":"message"}`), jsonHeaders)

	var panicErr *bot.PanicError
	require.ErrorAs(t, err, &panicErr)
	require.ErrorIs(t, err, ErrHandlerFailure)

	result := d.Handle(context.Background(), []byte(`{"type":"message"}`), jsonHeaders)
	require.Equal(t, http.StatusInternalServerError, result.Status)
}

func TestTurnTimeout(t *testing.T) {
	t.Parallel()

	slow := bot.HandlerFunc(func(ctx context.Context, turn *bot.TurnContext) error {
		<-ctx.Done()
		time.Sleep(5 * time.Millisecond)
		return turn.SendText("late")
	})

	d := New(config.BotConfig{TurnTimeout: config.Duration(20 * time.Millisecond)}, slow, nil, nil, nil)
	_, err := d.Process(context.Background(), []byte(`{"type":"message"}`), jsonHeaders)
	require.ErrorIs(t, err, bot.ErrTurnTimeout)
	require.Equal(t, KindHandlerFailure, KindOf(err))
}

func TestSamePayloadTwiceGivesIndependentIdenticalReplies(t *testing.T) {
	t.Parallel()

	d, _, handler := newEchoDispatcher(t, config.BotConfig{})
	body := []byte(`{"type":"message","text":"again"}`)

	first := d.Handle(context.Background(), body, jsonHeaders)
	second := d.Handle(context.Background(), body, jsonHeaders)

	require.Equal(t, http.StatusOK, first.Status)
	require.Equal(t, first, second)
	require.Equal(t, int32(2), handler.calls.Load())
}

func TestConcurrentRequests(t *testing.T) {
	t.Parallel()

	d, _, handler := newEchoDispatcher(t, config.BotConfig{TurnTimeout: config.Duration(time.Second)})

	var wg sync.WaitGroup
	for i := range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			text := fmt.Sprintf("msg-%d", i)
			result := d.Handle(context.Background(), []byte(`{"type":"message","text":"`+text+`"}`), jsonHeaders)
			assert.Equal(t, http.StatusOK, result.Status)
			assert.JSONEq(t, `{"type":"message","text":"You said: `+text+`"}`, string(result.Body))
		}()
	}
	wg.Wait()

	require.Equal(t, int32(32), handler.calls.Load())
}

func TestMultipleRepliesReturnLast(t *testing.T) {
	t.Parallel()

	handler := bot.HandlerFunc(func(_ context.Context, turn *bot.TurnContext) error {
		if err := turn.SendText("first"); err != nil {
			return err
		}
		return turn.SendText("second")
	})

	d := New(config.BotConfig{}, handler, nil, nil, nil)
	outcome, err := d.Process(context.Background(), []byte(`{"type":"message"}`), jsonHeaders)
	require.NoError(t, err)
	require.Len(t, outcome.Replies, 2)

	result := d.Handle(context.Background(), []byte(`{"type":"message"}`), jsonHeaders)
	require.JSONEq(t, `{"type":"message","text":"second"}`, string(result.Body))
}

func TestEventsArePublished(t *testing.T) {
	t.Parallel()

	messageBus := bus.NewMessageBus()
	defer messageBus.Close()

	events, unsubscribe := messageBus.SubscribeEvents(context.Background(), 16)
	defer unsubscribe()

	authenticator := &countingAuthenticator{}
	d := New(config.BotConfig{}, bot.Echo(), authenticator, messageBus, nil)
	ctx := WithRequestID(context.Background(), "req-1")

	d.Handle(ctx, []byte(`{"type":"message","text":"x","channelId":"emulator","conversation":{"id":"c1"}}`), jsonHeaders)
	d.Handle(ctx, []byte(`{}`), Headers{ContentType: "text/plain"})

	received := <-events
	require.Equal(t, bus.EventTurnReceived, received.Type)
	require.Equal(t, "req-1", received.RequestID)
	require.Equal(t, "emulator", received.Channel)
	require.Equal(t, "c1", received.ConversationID)

	completed := <-events
	require.Equal(t, bus.EventTurnCompleted, completed.Type)
	require.Equal(t, http.StatusOK, completed.Status)
	require.Equal(t, 1, completed.Replies)
	require.Equal(t, "message", completed.ActivityType)

	rejected := <-events
	require.Equal(t, bus.EventTurnRejected, rejected.Type)
	require.Equal(t, http.StatusUnsupportedMediaType, rejected.Status)
	require.Equal(t, string(KindUnsupportedMediaType), rejected.Reason)
}

func TestRunActivitySkipsAuthentication(t *testing.T) {
	t.Parallel()

	d, authenticator, _ := newEchoDispatcher(t, config.BotConfig{})
	authenticator.deny = true

	outcome, err := d.RunActivity(context.Background(), activity.Activity{Type: activity.TypeMessage, Text: "telegram"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, outcome.Status())
	require.Equal(t, "You said: telegram", outcome.Replies[0].Text)
	require.Zero(t, authenticator.calls.Load())
}

func TestErrorKinds(t *testing.T) {
	t.Parallel()

	err := &Error{Kind: KindUnauthorized, Err: auth.ErrUnauthorized}
	require.ErrorIs(t, err, ErrUnauthorized)
	require.ErrorIs(t, err, auth.ErrUnauthorized)
	require.Equal(t, http.StatusUnauthorized, KindOf(fmt.Errorf("wrapped: %w", err)).Status())
	require.Equal(t, KindHandlerFailure, KindOf(errors.New("plain")))

	require.Equal(t, http.StatusUnsupportedMediaType, KindUnsupportedMediaType.Status())
	require.Equal(t, http.StatusBadRequest, KindMalformedActivity.Status())
	require.Equal(t, http.StatusInternalServerError, KindHandlerFailure.Status())
}

func TestValidateMediaType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		contentType string
		ok          bool
	}{
		{contentType: "application/json", ok: true},
		{contentType: "Application/JSON; charset=utf-8", ok: true},
		{contentType: "application/vnd.api+json", ok: true},
		{contentType: "", ok: false},
		{contentType: "text/json", ok: false},
		{contentType: "text/plain", ok: false},
		{contentType: "application/jsonx", ok: false},
		{contentType: ";", ok: false},
	}

	for _, tt := range tests {
		err := ValidateMediaType(tt.contentType)
		if tt.ok {
			require.NoError(t, err, tt.contentType)
			continue
		}
		require.ErrorIs(t, err, ErrUnsupportedMediaType, tt.contentType)
	}
}

func TestRejectUsesSameMapping(t *testing.T) {
	t.Parallel()

	d, _, _ := newEchoDispatcher(t, config.BotConfig{})

	result := d.Reject(context.Background(), &Error{Kind: KindMalformedActivity, Detail: "body exceeds 10 bytes"})
	require.Equal(t, http.StatusBadRequest, result.Status)
	require.JSONEq(t, `{"error":"malformed activity: body exceeds 10 bytes"}`, string(result.Body))

	result = d.Reject(context.Background(), errors.New("read failed"))
	require.Equal(t, http.StatusInternalServerError, result.Status)
	require.JSONEq(t, `{"error":"internal server error"}`, string(result.Body))
}
