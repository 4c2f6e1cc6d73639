package bot

import (
	"context"

	"echobot/pkg/activity"
)

// Handler processes one turn.
type Handler interface {
	OnTurn(ctx context.Context, turn *TurnContext) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, turn *TurnContext) error

// OnTurn calls f.
func (f HandlerFunc) OnTurn(ctx context.Context, turn *TurnContext) error {
	return f(ctx, turn)
}

// ActivityHandler routes a turn by activity type. Nil routes are no-ops.
type ActivityHandler struct {
	OnMessage            HandlerFunc
	OnConversationUpdate HandlerFunc
	OnEvent              HandlerFunc
	OnOther              HandlerFunc
}

// OnTurn dispatches to the route matching the inbound activity type.
func (h ActivityHandler) OnTurn(ctx context.Context, turn *TurnContext) error {
	var route HandlerFunc
	switch turn.Activity().Type {
	case activity.TypeMessage:
		route = h.OnMessage
	case activity.TypeConversationUpdate:
		route = h.OnConversationUpdate
	case activity.TypeEvent:
		route = h.OnEvent
	default:
		route = h.OnOther
	}

	if route == nil {
		return nil
	}

	return route(ctx, turn)
}
