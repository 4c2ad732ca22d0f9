package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MessageStatus is the tri-state delivery status of a direct message.
// Transitions only ever move forward: sent -> delivered -> read.
type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

var statusRank = map[MessageStatus]int{
	StatusSent:      0,
	StatusDelivered: 1,
	StatusRead:      2,
}

// IsValidStatus checks if s is a known delivery status.
func IsValidStatus(s MessageStatus) bool {
	_, ok := statusRank[s]
	return ok
}

// StatusesBefore returns the statuses ranking strictly below s in the
// delivery ordering. Used as the guard set for conditional status writes.
func StatusesBefore(s MessageStatus) []MessageStatus {
	out := make([]MessageStatus, 0, len(statusRank))
	for st, rank := range statusRank {
		if rank < statusRank[s] {
			out = append(out, st)
		}
	}
	return out
}

// Message represents a direct message between two users.
// Immutable after creation except for Status and Reactions.
type Message struct {
	ID         string        `gorm:"primaryKey;type:text" json:"id"`
	SenderID   string        `gorm:"index;type:text;not null" json:"senderId"`
	Sender     User          `gorm:"foreignKey:SenderID" json:"sender,omitempty"`
	ReceiverID string        `gorm:"index;type:text;not null" json:"receiverId"`
	Receiver   User          `gorm:"foreignKey:ReceiverID" json:"receiver,omitempty"`
	Content    string        `gorm:"type:text;not null" json:"content"`
	SentAt     time.Time     `gorm:"index" json:"sentAt"`
	Status     MessageStatus `gorm:"type:text;default:'sent';not null" json:"status"`
	Reactions  []Reaction    `gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE" json:"reactions"`
	CreatedAt  time.Time     `json:"createdAt"`
	UpdatedAt  time.Time     `json:"updatedAt"`
}

func (m *Message) BeforeCreate(tx *gorm.DB) (err error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return
}

// IsParticipant reports whether userID is the sender or receiver.
func (m *Message) IsParticipant(userID string) bool {
	return m.SenderID == userID || m.ReceiverID == userID
}

// Counterparty returns the other participant relative to userID.
func (m *Message) Counterparty(userID string) string {
	if m.SenderID == userID {
		return m.ReceiverID
	}
	return m.SenderID
}

// ReactionType is the enumerated emoji-style reaction kind.
type ReactionType string

const (
	ReactionLike  ReactionType = "like"
	ReactionLove  ReactionType = "love"
	ReactionLaugh ReactionType = "laugh"
	ReactionWow   ReactionType = "wow"
	ReactionSad   ReactionType = "sad"
	ReactionAngry ReactionType = "angry"
)

var reactionTypes = map[ReactionType]bool{
	ReactionLike:  true,
	ReactionLove:  true,
	ReactionLaugh: true,
	ReactionWow:   true,
	ReactionSad:   true,
	ReactionAngry: true,
}

// IsValidReactionType checks if t is in the allowed reaction set.
func IsValidReactionType(t ReactionType) bool {
	return reactionTypes[t]
}

// Reaction stores a per-user reaction on a message. The unique index on
// (message_id, user_id) keeps at most one reaction per user per message;
// re-reacting replaces the row rather than appending.
type Reaction struct {
	ID        string       `gorm:"primaryKey;type:text" json:"id"`
	MessageID string       `gorm:"uniqueIndex:idx_reaction_message_user;type:text;not null" json:"messageId"`
	UserID    string       `gorm:"uniqueIndex:idx_reaction_message_user;type:text;not null" json:"userId"`
	Type      ReactionType `gorm:"type:text;not null" json:"type"`
	CreatedAt time.Time    `json:"createdAt"`

	User User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

func (r *Reaction) BeforeCreate(tx *gorm.DB) (err error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	return
}
