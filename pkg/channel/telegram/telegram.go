package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"echobot/pkg/activity"
	"echobot/pkg/channel"
	"echobot/pkg/config"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

const (
	channelName           = "telegram"
	messagePreviewLimit   = 240
	typingRefreshInterval = 4 * time.Second
	failureReply          = "Sorry, something went wrong while handling your message."
)

// sender is the part of the Telegram Bot API the adapter calls.
type sender interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
	SendChatAction(ctx context.Context, params *telego.SendChatActionParams) error
}

// Adapter turns Telegram text messages into message activities and sends each
// reply back to the originating chat.
type Adapter struct {
	cfg       config.TelegramConfig
	allowFrom map[string]struct{}
	log       *slog.Logger
}

// NewAdapter validates Telegram configuration and constructs an adapter instance.
func NewAdapter(cfg config.TelegramConfig, log *slog.Logger) (*Adapter, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("channels.telegram.token is required")
	}

	if log == nil {
		log = slog.Default()
	}

	return &Adapter{
		cfg:       cfg,
		allowFrom: allowFromSet(cfg.AllowFrom),
		log:       log.With("component", "channel.telegram"),
	}, nil
}

func (a *Adapter) Name() string {
	return channelName
}

// Run long-polls Telegram until ctx ends.
func (a *Adapter) Run(ctx context.Context, handler channel.Handler) error {
	if handler == nil {
		return errors.New("handler is required")
	}

	bot, err := telego.NewBot(strings.TrimSpace(a.cfg.Token))
	if err != nil {
		return fmt.Errorf("initialize telegram bot: %w", err)
	}

	me, err := bot.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("get bot identity: %w", err)
	}

	updates, err := bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("start long polling: %w", err)
	}

	a.log.Info("Telegram channel started", "bot_username", me.Username)

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				if err := ctx.Err(); err != nil {
					return nil
				}
				return errors.New("telegram updates channel closed")
			}

			a.handleUpdate(ctx, bot, me, update, handler)
		}
	}
}

func (a *Adapter) handleUpdate(ctx context.Context, api sender, me *telego.User, update telego.Update, handler channel.Handler) {
	message := update.Message
	if message == nil || strings.TrimSpace(message.Text) == "" {
		return
	}
	if message.From == nil {
		a.log.Debug("Ignoring message without sender")
		return
	}

	senderID := strconv.FormatInt(message.From.ID, 10)
	if !a.senderAllowed(senderID) {
		a.log.Debug("Ignoring message from unauthorized sender", "sender_id", senderID)
		return
	}

	inbound := toActivity(update, me)
	a.log.Info("Received message", "chat_id", message.Chat.ID, "sender_id", senderID, "content", previewText(inbound.Text))

	stopTyping := a.startTypingIndicator(ctx, api, message.Chat.ID)
	replies, err := handler(ctx, inbound)
	stopTyping()

	if err != nil {
		a.log.Error("Failed to process inbound message", "chat_id", message.Chat.ID, "error", err)
		replies = []activity.Activity{activity.NewReply(inbound, failureReply)}
	}

	for _, reply := range replies {
		text := strings.TrimSpace(reply.Text)
		if !reply.IsMessage() || text == "" {
			continue
		}

		a.log.Info("Sending message", "chat_id", message.Chat.ID, "content", previewText(text))
		params := tu.Message(tu.ID(message.Chat.ID), text)
		if _, err := api.SendMessage(ctx, params); err != nil {
			a.log.Error("Failed to send telegram message", "chat_id", message.Chat.ID, "error", err)
		}
	}
}

// toActivity maps a Telegram text message onto a message activity. The chat
// id becomes the conversation id.
func toActivity(update telego.Update, me *telego.User) activity.Activity {
	message := update.Message
	chatID := strconv.FormatInt(message.Chat.ID, 10)

	inbound := activity.Activity{
		Type:      activity.TypeMessage,
		ID:        strconv.Itoa(message.MessageID),
		Timestamp: time.Unix(message.Date, 0).UTC().Format(time.RFC3339),
		ChannelID: channelName,
		Conversation: &activity.ConversationAccount{
			ID:      chatID,
			Name:    message.Chat.Title,
			IsGroup: message.Chat.Type != telego.ChatTypePrivate,
		},
		Text: strings.TrimSpace(message.Text),
	}

	if message.From != nil {
		inbound.From = &activity.ChannelAccount{
			ID:   strconv.FormatInt(message.From.ID, 10),
			Name: displayName(*message.From),
			Role: "user",
		}
		inbound.Locale = message.From.LanguageCode
	}
	if me != nil {
		inbound.Recipient = &activity.ChannelAccount{
			ID:   strconv.FormatInt(me.ID, 10),
			Name: me.Username,
			Role: "bot",
		}
	}

	return inbound
}

func displayName(user telego.User) string {
	if user.Username != "" {
		return user.Username
	}
	return strings.TrimSpace(user.FirstName + " " + user.LastName)
}

// senderAllowed checks whether a sender is permitted by allow_from config.
//
// When no allow list is configured, all senders are accepted.
func (a *Adapter) senderAllowed(senderID string) bool {
	if len(a.allowFrom) == 0 {
		return true
	}

	_, ok := a.allowFrom[strings.TrimSpace(senderID)]
	return ok
}

func allowFromSet(allowFrom []string) map[string]struct{} {
	allowed := make(map[string]struct{}, len(allowFrom))
	for _, value := range allowFrom {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			allowed[trimmed] = struct{}{}
		}
	}

	if len(allowed) == 0 {
		return nil
	}

	return allowed
}

// previewText returns a bounded log-safe preview of message text.
func previewText(text string) string {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) <= messagePreviewLimit {
		return trimmed
	}

	return trimmed[:messagePreviewLimit] + "..."
}

// startTypingIndicator sends a typing action now and every
// typingRefreshInterval until the returned function is called.
func (a *Adapter) startTypingIndicator(ctx context.Context, api sender, chatID int64) context.CancelFunc {
	typingCtx, cancel := context.WithCancel(ctx)

	sendTyping := func() {
		if err := api.SendChatAction(typingCtx, tu.ChatAction(tu.ID(chatID), telego.ChatActionTyping)); err != nil && typingCtx.Err() == nil {
			a.log.Debug("Failed to send typing indicator", "chat_id", chatID, "error", err)
		}
	}

	sendTyping()

	go func() {
		ticker := time.NewTicker(typingRefreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-typingCtx.Done():
				return
			case <-ticker.C:
				sendTyping()
			}
		}
	}()

	return cancel
}
