package bot

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"echobot/pkg/activity"
)

// ErrTurnTimeout is returned when the turn context ends before the handler.
var ErrTurnTimeout = errors.New("turn deadline exceeded")

// PanicError is a handler panic converted into an error.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler panic: %v", e.Value)
}

type turnOutcome struct {
	err error
}

// RunTurn invokes handler once for inbound and waits for it to finish or for
// ctx to end. Replies sent after RunTurn returns are rejected.
func RunTurn(ctx context.Context, handler Handler, inbound activity.Activity) ([]activity.Activity, error) {
	if handler == nil {
		return nil, errors.New("handler is required")
	}

	turn := NewTurnContext(inbound)
	done := make(chan turnOutcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- turnOutcome{err: &PanicError{Value: r, Stack: debug.Stack()}}
			}
		}()
		done <- turnOutcome{err: handler.OnTurn(ctx, turn)}
	}()

	select {
	case outcome := <-done:
		replies := turn.seal()
		if outcome.err != nil {
			return nil, outcome.err
		}
		return replies, nil
	case <-ctx.Done():
		turn.seal()
		return nil, fmt.Errorf("%w: %v", ErrTurnTimeout, ctx.Err())
	}
}
