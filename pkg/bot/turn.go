// Package bot runs one conversational turn: it wraps an inbound activity in a
// TurnContext, invokes a Handler and collects the replies it sends.
package bot

import (
	"errors"
	"sync"

	"echobot/pkg/activity"
)

// ErrTurnCompleted is returned when a handler sends after its turn ended.
var ErrTurnCompleted = errors.New("turn already completed")

// TurnContext is owned by a single turn. Handlers read the inbound activity
// and queue replies; the dispatcher reads the replies once the handler returns.
type TurnContext struct {
	activity activity.Activity

	mu      sync.Mutex
	replies []activity.Activity
	sealed  bool
}

// NewTurnContext wraps an inbound activity.
func NewTurnContext(inbound activity.Activity) *TurnContext {
	return &TurnContext{activity: inbound}
}

// Activity returns the inbound activity.
func (t *TurnContext) Activity() activity.Activity {
	return t.activity
}

// SendActivity queues an outbound activity. A reply without a type is sent as
// a message.
func (t *TurnContext) SendActivity(reply activity.Activity) error {
	if reply.Type == "" {
		reply.Type = activity.TypeMessage
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.sealed {
		return ErrTurnCompleted
	}
	t.replies = append(t.replies, reply)
	return nil
}

// SendText queues a message reply addressed back to the sender.
func (t *TurnContext) SendText(text string) error {
	return t.SendActivity(activity.NewReply(t.activity, text))
}

// Replies returns a copy of the queued replies in send order.
func (t *TurnContext) Replies() []activity.Activity {
	t.mu.Lock()
	defer t.mu.Unlock()

	replies := make([]activity.Activity, len(t.replies))
	copy(replies, t.replies)
	return replies
}

// seal stops further sends and returns the final replies.
func (t *TurnContext) seal() []activity.Activity {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.sealed = true
	replies := make([]activity.Activity, len(t.replies))
	copy(replies, t.replies)
	return replies
}
