package realtime

import (
	"github.com/MiHiii/vinaside-backend/internal/models"
	"github.com/MiHiii/vinaside-backend/pkg/errors"
)

// Inbound socket event payloads. One strongly-typed schema per event name,
// validated once at the protocol boundary; malformed events are rejected
// instead of guessed at.

// Event names pushed by the server.
const (
	EventNewMessage       = "new_message"
	EventMessageSent      = "message_sent"
	EventMessageStatus    = "message_status"
	EventMessageRead      = "message_read"
	EventConversationRead = "conversation_read"
	EventReactionUpdate   = "reaction_update"
	EventUserTyping       = "user_typing"
	EventUserOnline       = "user_online"
	EventUserOffline      = "user_offline"
	EventOnlineUsers      = "online_users"
	EventNotification     = "notification"
)

type JoinRoomPayload struct {
	UserID string `json:"userId"`
}

func (p JoinRoomPayload) Validate() error {
	if p.UserID == "" {
		return errors.Validation("userId is required")
	}
	return nil
}

type SendMessagePayload struct {
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content"`
}

func (p SendMessagePayload) Validate() error {
	if p.ReceiverID == "" {
		return errors.Validation("receiverId is required")
	}
	if p.Content == "" {
		return errors.Validation("content is required")
	}
	return nil
}

type MarkAsReadPayload struct {
	MessageID string `json:"messageId"`
}

func (p MarkAsReadPayload) Validate() error {
	if p.MessageID == "" {
		return errors.Validation("messageId is required")
	}
	return nil
}

type MarkConversationReadPayload struct {
	OtherUserID string `json:"otherUserId"`
}

func (p MarkConversationReadPayload) Validate() error {
	if p.OtherUserID == "" {
		return errors.Validation("otherUserId is required")
	}
	return nil
}

type ToggleReactionPayload struct {
	MessageID string `json:"messageId"`
	Type      string `json:"type"`
}

func (p ToggleReactionPayload) Validate() error {
	if p.MessageID == "" {
		return errors.Validation("messageId is required")
	}
	if !models.IsValidReactionType(models.ReactionType(p.Type)) {
		return errors.Validation("Invalid reaction type")
	}
	return nil
}

type TypingPayload struct {
	ReceiverID string `json:"receiverId"`
}

func (p TypingPayload) Validate() error {
	if p.ReceiverID == "" {
		return errors.Validation("receiverId is required")
	}
	return nil
}
