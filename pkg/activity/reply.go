package activity

import "encoding/json"

// replyPassThrough maps inbound Extra keys to the reply keys they are copied
// to. Modeled identifiers land in Extra when their JSON type did not match.
var replyPassThrough = [][2]string{
	{"channelId", "channelId"},
	{"serviceUrl", "serviceUrl"},
	{"conversationId", "conversationId"},
	{"locale", "locale"},
	{"id", "replyToId"},
}

// NewReply builds a message activity answering inbound. Correlation fields are
// copied verbatim so the channel can route the reply; sender and recipient
// swap roles.
func NewReply(inbound Activity, text string) Activity {
	reply := Activity{
		Type:         TypeMessage,
		Text:         text,
		ChannelID:    inbound.ChannelID,
		ServiceURL:   inbound.ServiceURL,
		ReplyToID:    inbound.ID,
		Locale:       inbound.Locale,
		Conversation: inbound.Conversation.clone(),
		From:         inbound.Recipient.clone(),
		Recipient:    inbound.From.clone(),
	}

	for _, keys := range replyPassThrough {
		raw, ok := inbound.Extra[keys[0]]
		if !ok {
			continue
		}
		if reply.Extra == nil {
			reply.Extra = make(map[string]json.RawMessage)
		}
		reply.Extra[keys[1]] = raw
	}

	return reply
}
