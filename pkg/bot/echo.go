package bot

import "context"

// EchoPrefix is prepended to the user's text by the echo handler.
const EchoPrefix = "You said: "

// Echo replies to every message with EchoPrefix followed by the message text
// and ignores every other activity type.
func Echo() Handler {
	return ActivityHandler{
		OnMessage: func(_ context.Context, turn *TurnContext) error {
			return turn.SendText(EchoPrefix + turn.Activity().Text)
		},
	}
}
