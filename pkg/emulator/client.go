// Package emulator talks to a running bot endpoint the way a channel would.
package emulator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"echobot/pkg/activity"
)

const (
	messagesPath   = "/api/messages"
	healthPath     = "/health"
	emulatorID     = "emulator"
	defaultTimeout = 30 * time.Second
)

// Exchange is the endpoint's answer to one posted activity.
type Exchange struct {
	Status  int
	Replies []activity.Activity
}

// Text joins the text of every reply.
func (e Exchange) Text() string {
	parts := make([]string, 0, len(e.Replies))
	for _, reply := range e.Replies {
		if reply.Text != "" {
			parts = append(parts, reply.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// StatusError is returned when the endpoint answers with anything other than
// 200 or 202.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("endpoint returned %d", e.Status)
	}
	return fmt.Sprintf("endpoint returned %d: %s", e.Status, e.Body)
}

type Client struct {
	baseURL        string
	token          string
	conversationID string
	user           activity.ChannelAccount
	httpClient     *http.Client
}

// New returns a client for the endpoint at baseURL. A non-empty token is sent
// as a Bearer authorization header. Every Send shares one conversation id.
func New(baseURL string, token string) *Client {
	return &Client{
		baseURL:        strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:          strings.TrimSpace(token),
		conversationID: uuid.NewString(),
		user:           activity.ChannelAccount{ID: "user-" + uuid.NewString()[:8], Name: "User", Role: "user"},
		httpClient:     &http.Client{Timeout: defaultTimeout},
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) ConversationID() string {
	return c.conversationID
}

func (c *Client) Send(ctx context.Context, text string) (Exchange, error) {
	outbound := activity.Activity{
		Type:         activity.TypeMessage,
		ID:           uuid.NewString(),
		Timestamp:    time.Now().UTC().Format(time.RFC3339Nano),
		ChannelID:    emulatorID,
		ServiceURL:   c.baseURL,
		From:         &c.user,
		Recipient:    &activity.ChannelAccount{ID: "bot", Role: "bot"},
		Conversation: &activity.ConversationAccount{ID: c.conversationID},
		Text:         text,
	}

	payload, err := json.Marshal(outbound)
	if err != nil {
		return Exchange{}, fmt.Errorf("encode activity: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+messagesPath, bytes.NewReader(payload))
	if err != nil {
		return Exchange{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Exchange{}, fmt.Errorf("post activity: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Exchange{Status: resp.StatusCode}, fmt.Errorf("read response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusAccepted:
		return Exchange{Status: resp.StatusCode}, nil
	case http.StatusOK:
		reply, err := activity.Parse(body)
		if err != nil {
			return Exchange{Status: resp.StatusCode}, fmt.Errorf("decode reply: %w", err)
		}
		return Exchange{Status: resp.StatusCode, Replies: []activity.Activity{reply}}, nil
	default:
		return Exchange{Status: resp.StatusCode}, &StatusError{Status: resp.StatusCode, Body: errorMessage(body)}
	}
}

// Health reports whether the endpoint answers GET /health.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+healthPath, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &StatusError{Status: resp.StatusCode}
	}
	return nil
}

func errorMessage(body []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(body))
}

// IsStatus reports whether err is a StatusError carrying status.
func IsStatus(err error, status int) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.Status == status
}
