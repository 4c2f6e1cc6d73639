// Package channel defines transports that feed activities to the bot outside
// the HTTP endpoint.
package channel

import (
	"context"

	"echobot/pkg/activity"
)

// Handler runs one turn for an inbound activity and returns its replies.
type Handler func(context.Context, activity.Activity) ([]activity.Activity, error)

// Adapter bridges one external transport (for example Telegram) into the bot.
type Adapter interface {
	Name() string
	Run(context.Context, Handler) error
}
