// Package activity models the protocol envelope exchanged between a chat
// channel and the bot service.
package activity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Type is the protocol-defined kind of an activity.
type Type string

const (
	TypeMessage            Type = "message"
	TypeTyping             Type = "typing"
	TypeConversationUpdate Type = "conversationUpdate"
	TypeEvent              Type = "event"
	TypeInvoke             Type = "invoke"
	TypeEndOfConversation  Type = "endOfConversation"
)

// ChannelAccount identifies a user or bot on a channel. Accounts decoded from
// JSON are re-encoded verbatim until a field is changed.
type ChannelAccount struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
	Role string `json:"role,omitempty"`

	// Extra keeps fields this package does not model, and modeled fields
	// whose JSON type did not match.
	Extra map[string]json.RawMessage `json:"-"`

	raw json.RawMessage
}

// ConversationAccount identifies the conversation an activity belongs to.
// Like ChannelAccount it round-trips unknown fields.
type ConversationAccount struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name,omitempty"`
	IsGroup  bool   `json:"isGroup,omitempty"`
	TenantID string `json:"tenantId,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`

	raw json.RawMessage
}

// Activity is one protocol event. Identifier fields are pass-through metadata
// and are never interpreted beyond being copied into replies.
type Activity struct {
	Type         Type                 `json:"type"`
	ID           string               `json:"id,omitempty"`
	Timestamp    string               `json:"timestamp,omitempty"`
	ChannelID    string               `json:"channelId,omitempty"`
	ServiceURL   string               `json:"serviceUrl,omitempty"`
	From         *ChannelAccount      `json:"from,omitempty"`
	Recipient    *ChannelAccount      `json:"recipient,omitempty"`
	Conversation *ConversationAccount `json:"conversation,omitempty"`
	ReplyToID    string               `json:"replyToId,omitempty"`
	Text         string               `json:"text,omitempty"`
	Locale       string               `json:"locale,omitempty"`

	// Extra keeps top-level fields this package does not model (a flat
	// conversationId among them) and modeled fields whose JSON type did not
	// match.
	Extra map[string]json.RawMessage `json:"-"`
}

// wire types are the models without their JSON methods.
type (
	wire             Activity
	wireAccount      ChannelAccount
	wireConversation ConversationAccount
)

// IsMessage reports whether the activity carries user-visible text.
func (a Activity) IsMessage() bool {
	return a.Type == TypeMessage
}

// ConversationID returns the conversation identifier or an empty string. The
// conversation object wins over a flat conversationId field.
func (a Activity) ConversationID() string {
	if a.Conversation != nil {
		if a.Conversation.ID != "" {
			return a.Conversation.ID
		}
		if raw, ok := a.Conversation.Extra["id"]; ok {
			return scalarText(raw)
		}
	}
	if raw, ok := a.Extra["conversationId"]; ok {
		return scalarText(raw)
	}

	return ""
}

// UnmarshalJSON decodes the modeled fields and keeps everything else in Extra.
// A null text decodes to the empty string.
func (a *Activity) UnmarshalJSON(data []byte) error {
	var decoded Activity
	extra, err := decodeObject(data, map[string]any{
		"type":         &decoded.Type,
		"id":           &decoded.ID,
		"timestamp":    &decoded.Timestamp,
		"channelId":    &decoded.ChannelID,
		"serviceUrl":   &decoded.ServiceURL,
		"from":         &decoded.From,
		"recipient":    &decoded.Recipient,
		"conversation": &decoded.Conversation,
		"replyToId":    &decoded.ReplyToID,
		"text":         &decoded.Text,
		"locale":       &decoded.Locale,
	})
	if err != nil {
		return err
	}

	decoded.Extra = extra
	*a = decoded
	return nil
}

// MarshalJSON encodes the modeled fields; Extra fields are merged back in
// without overriding modeled ones.
func (a Activity) MarshalJSON() ([]byte, error) {
	return encodeObject(wire(a), a.Extra)
}

func (c *ChannelAccount) UnmarshalJSON(data []byte) error {
	var decoded ChannelAccount
	extra, err := decodeObject(data, map[string]any{
		"id":   &decoded.ID,
		"name": &decoded.Name,
		"role": &decoded.Role,
	})
	if err != nil {
		return err
	}

	decoded.Extra = extra
	decoded.raw = bytes.Clone(data)
	*c = decoded
	return nil
}

func (c ChannelAccount) MarshalJSON() ([]byte, error) {
	encoded, err := encodeObject(wireAccount(c), c.Extra)
	if err != nil {
		return nil, err
	}
	if c.raw != nil && sameJSON(c.raw, encoded) {
		return c.raw, nil
	}

	return encoded, nil
}

func (c *ChannelAccount) clone() *ChannelAccount {
	if c == nil {
		return nil
	}

	cloned := *c
	cloned.Extra = cloneExtra(c.Extra)
	return &cloned
}

func (c *ConversationAccount) UnmarshalJSON(data []byte) error {
	var decoded ConversationAccount
	extra, err := decodeObject(data, map[string]any{
		"id":       &decoded.ID,
		"name":     &decoded.Name,
		"isGroup":  &decoded.IsGroup,
		"tenantId": &decoded.TenantID,
	})
	if err != nil {
		return err
	}

	decoded.Extra = extra
	decoded.raw = bytes.Clone(data)
	*c = decoded
	return nil
}

func (c ConversationAccount) MarshalJSON() ([]byte, error) {
	encoded, err := encodeObject(wireConversation(c), c.Extra)
	if err != nil {
		return nil, err
	}
	if c.raw != nil && sameJSON(c.raw, encoded) {
		return c.raw, nil
	}

	return encoded, nil
}

func (c *ConversationAccount) clone() *ConversationAccount {
	if c == nil {
		return nil
	}

	cloned := *c
	cloned.Extra = cloneExtra(c.Extra)
	return &cloned
}

// String renders a short log-friendly description.
func (a Activity) String() string {
	parts := []string{"type=" + string(a.Type)}
	if a.ChannelID != "" {
		parts = append(parts, "channel="+a.ChannelID)
	}
	if id := a.ConversationID(); id != "" {
		parts = append(parts, "conversation="+id)
	}

	return fmt.Sprintf("activity(%s)", strings.Join(parts, " "))
}
