package pubsub

import (
	"fmt"
	"strings"
)

// Channel naming for the conversation delivery feed.
const (
	ChannelConversationMessages = "chat:conversation:%s:messages"
	PatternConversationMessages = "chat:conversation:*:messages"
)

// Event types carried on a conversation channel. The message events carry the
// full message row; a claim carries the conversation and its new professional.
const (
	EventMessageInserted     = "message.inserted"
	EventMessageUpdated      = "message.updated"
	EventConversationClaimed = "conversation.claimed"
)

// ConversationChannel returns the channel name for a conversation's message events.
func ConversationChannel(conversationID string) string {
	return fmt.Sprintf(ChannelConversationMessages, conversationID)
}

// ConversationIDFromChannel extracts the conversation id from a channel name.
func ConversationIDFromChannel(channel string) (string, error) {
	parts := strings.Split(channel, ":")
	if len(parts) != 4 || parts[0] != "chat" || parts[1] != "conversation" || parts[3] != "messages" || parts[2] == "" {
		return "", fmt.Errorf("invalid channel format: %s", channel)
	}
	return parts[2], nil
}
