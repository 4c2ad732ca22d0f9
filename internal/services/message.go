package services

import (
	goerrors "errors"
	"time"

	"github.com/MiHiii/vinaside-backend/internal/models"
	"github.com/MiHiii/vinaside-backend/pkg/errors"
	"github.com/MiHiii/vinaside-backend/pkg/utils"
	"gorm.io/gorm"
)

// ReactionAdded / ReactionRemoved are the concrete outcomes a toggle
// reports back so clients can reconcile optimistic UI state.
const (
	ReactionAdded   = "added"
	ReactionRemoved = "removed"
)

// Conversation is the derived view of all messages between the queried
// user and one counterparty. Never persisted; always recomputed from the
// messages table.
type Conversation struct {
	User        models.User    `json:"user"`
	LastMessage models.Message `json:"lastMessage"`
	UnreadCount int64          `json:"unreadCount"`
}

// MessageService is the single source of truth for message content,
// delivery status and reactions.
type MessageService struct {
	db *gorm.DB
}

func NewMessageService(db *gorm.DB) *MessageService {
	return &MessageService{db: db}
}

// Create validates and persists a new message with status "sent".
// SentAt is assigned here, once, and never modified.
func (s *MessageService) Create(senderID, receiverID, content string) (*models.Message, error) {
	if receiverID == "" {
		return nil, errors.Validation("Receiver is required")
	}
	if receiverID == senderID {
		return nil, errors.Validation("Cannot send a message to yourself")
	}

	clean, err := utils.SanitizeMessageContent(content)
	if err != nil {
		return nil, err
	}

	// Receiver must be a real identity; we never create dangling conversations
	var receiver models.User
	if err := s.db.Select("id").First(&receiver, "id = ?", receiverID).Error; err != nil {
		if goerrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Validation("Receiver does not exist")
		}
		return nil, err
	}

	msg := models.Message{
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    clean,
		SentAt:     time.Now(),
		Status:     models.StatusSent,
	}

	if err := s.db.Create(&msg).Error; err != nil {
		return nil, err
	}

	// Populate relations for the caller
	if err := s.db.Preload("Sender").Preload("Receiver").First(&msg, "id = ?", msg.ID).Error; err != nil {
		return nil, err
	}

	return &msg, nil
}

// Get returns a message visible to the requester: sender, receiver or admin.
func (s *MessageService) Get(id, requesterID string, role models.Role) (*models.Message, error) {
	msg, err := s.load(id)
	if err != nil {
		return nil, err
	}

	if role != models.RoleAdmin && !msg.IsParticipant(requesterID) {
		return nil, errors.Forbidden("You can only view your own messages")
	}

	return msg, nil
}

// AdvanceStatus moves the delivery status forward. The write is a single
// conditional UPDATE guarded on the current status ranking strictly below
// the target, so two concurrent acknowledgements (a delivery ack racing a
// read ack) can never leave the row on the earlier status. Attempts to
// regress or repeat a transition are silent no-ops so retried
// acknowledgements never error.
func (s *MessageService) AdvanceStatus(id string, status models.MessageStatus) (*models.Message, error) {
	if !models.IsValidStatus(status) {
		return nil, errors.Validation("Invalid message status")
	}

	result := s.db.Model(&models.Message{}).
		Where("id = ? AND status IN ?", id, models.StatusesBefore(status)).
		Update("status", status)
	if result.Error != nil {
		return nil, result.Error
	}

	// Zero rows means the row is already at or past the target, or gone;
	// load distinguishes the two and returns the current state.
	return s.load(id)
}

// MarkAsRead advances a single message to "read". Only the receiver (or an
// admin) may acknowledge a read.
func (s *MessageService) MarkAsRead(id, requesterID string, role models.Role) (*models.Message, error) {
	msg, err := s.load(id)
	if err != nil {
		return nil, err
	}

	if role != models.RoleAdmin && msg.ReceiverID != requesterID {
		return nil, errors.Forbidden("You can only mark messages sent to you as read")
	}

	return s.AdvanceStatus(id, models.StatusRead)
}

// Delete hard-removes the message and its reactions. Sender or admin only.
func (s *MessageService) Delete(id, requesterID string, role models.Role) error {
	msg, err := s.load(id)
	if err != nil {
		return err
	}

	if role != models.RoleAdmin && msg.SenderID != requesterID {
		return errors.Forbidden("You can only delete your own messages")
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("message_id = ?", id).Delete(&models.Reaction{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Message{}, "id = ?", id).Error
	})
}

// SetReaction writes the user's reaction on a message, replacing any
// previous reaction from the same user.
func (s *MessageService) SetReaction(id, userID string, rtype models.ReactionType) (*models.Message, error) {
	if !models.IsValidReactionType(rtype) {
		return nil, errors.Validation("Invalid reaction type")
	}

	msg, err := s.load(id)
	if err != nil {
		return nil, err
	}

	if !msg.IsParticipant(userID) {
		return nil, errors.Forbidden("You can only react to your own conversations")
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("message_id = ? AND user_id = ?", id, userID).Delete(&models.Reaction{}).Error; err != nil {
			return err
		}
		return tx.Create(&models.Reaction{
			MessageID: id,
			UserID:    userID,
			Type:      rtype,
			CreatedAt: time.Now(),
		}).Error
	})
	if err != nil {
		return nil, err
	}

	return s.load(id)
}

// ClearReaction removes the user's reaction, if any.
func (s *MessageService) ClearReaction(id, userID string) (*models.Message, error) {
	msg, err := s.load(id)
	if err != nil {
		return nil, err
	}

	if !msg.IsParticipant(userID) {
		return nil, errors.Forbidden("You can only react to your own conversations")
	}

	if err := s.db.Where("message_id = ? AND user_id = ?", id, userID).Delete(&models.Reaction{}).Error; err != nil {
		return nil, err
	}

	return s.load(id)
}

// ToggleReaction flips the user's reaction: same type removes it, a
// different type replaces it, none adds it. The returned action is always
// one of ReactionAdded / ReactionRemoved.
func (s *MessageService) ToggleReaction(id, userID string, rtype models.ReactionType) (string, *models.Message, error) {
	if !models.IsValidReactionType(rtype) {
		return "", nil, errors.Validation("Invalid reaction type")
	}

	msg, err := s.load(id)
	if err != nil {
		return "", nil, err
	}

	if !msg.IsParticipant(userID) {
		return "", nil, errors.Forbidden("You can only react to your own conversations")
	}

	var existing models.Reaction
	err = s.db.Where("message_id = ? AND user_id = ?", id, userID).First(&existing).Error

	action := ReactionAdded
	switch {
	case err == nil && existing.Type == rtype:
		// Same reaction again: remove it
		if err := s.db.Delete(&models.Reaction{}, "id = ?", existing.ID).Error; err != nil {
			return "", nil, err
		}
		action = ReactionRemoved
	case err == nil:
		// Different type: replace in place
		updates := map[string]interface{}{"type": rtype, "created_at": time.Now()}
		if err := s.db.Model(&models.Reaction{}).Where("id = ?", existing.ID).Updates(updates).Error; err != nil {
			return "", nil, err
		}
	case goerrors.Is(err, gorm.ErrRecordNotFound):
		if err := s.db.Create(&models.Reaction{
			MessageID: id,
			UserID:    userID,
			Type:      rtype,
			CreatedAt: time.Now(),
		}).Error; err != nil {
			return "", nil, err
		}
	default:
		return "", nil, err
	}

	updated, err := s.load(id)
	if err != nil {
		return "", nil, err
	}
	return action, updated, nil
}

// GetConversation returns all messages between the pair in chronological
// reading order.
func (s *MessageService) GetConversation(userA, userB string) ([]models.Message, error) {
	var messages []models.Message
	err := s.db.Where(
		"(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)",
		userA, userB, userB, userA,
	).Order("sent_at asc").
		Preload("Sender").Preload("Receiver").Preload("Reactions").
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// ListConversations groups the flat message log by counterparty, keeping
// the most recent message per pair and counting unread messages addressed
// to userID. The bucket key is the unordered pair, realized by always
// bucketing on "the identity that is not me".
func (s *MessageService) ListConversations(userID string) ([]Conversation, error) {
	// ROW_NUMBER picks exactly one latest message per counterparty; the id
	// tiebreak keeps the result deterministic when two messages share a
	// sent_at.
	query := `
		WITH ranked AS (
			SELECT
				id, sender_id, receiver_id, content, sent_at, status,
				CASE WHEN sender_id = ? THEN receiver_id ELSE sender_id END AS partner_id,
				ROW_NUMBER() OVER (
					PARTITION BY CASE WHEN sender_id = ? THEN receiver_id ELSE sender_id END
					ORDER BY sent_at DESC, id DESC
				) AS rn
			FROM messages
			WHERE sender_id = ? OR receiver_id = ?
		)
		SELECT
			u.id, COALESCE(u.username, ''), COALESCE(u.name, ''), COALESCE(u.avatar, ''),
			r.id, r.sender_id, r.receiver_id, r.content, r.sent_at, r.status,
			(SELECT COUNT(*) FROM messages WHERE sender_id = u.id AND receiver_id = ? AND status <> 'read') AS unread_count
		FROM ranked r
		JOIN users u ON u.id = r.partner_id
		WHERE r.rn = 1
		ORDER BY r.sent_at DESC
	`

	rows, err := s.db.Raw(query, userID, userID, userID, userID, userID).Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	conversations := []Conversation{}
	for rows.Next() {
		var u models.User
		var m models.Message
		var status string
		var unread int64

		if err := rows.Scan(
			&u.ID, &u.Username, &u.Name, &u.Avatar,
			&m.ID, &m.SenderID, &m.ReceiverID, &m.Content, &m.SentAt, &status,
			&unread,
		); err != nil {
			return nil, err
		}
		m.Status = models.MessageStatus(status)

		conversations = append(conversations, Conversation{
			User:        u,
			LastMessage: m,
			UnreadCount: unread,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Attach reactions to each last message in one pass
	if len(conversations) > 0 {
		ids := make([]string, 0, len(conversations))
		for _, c := range conversations {
			ids = append(ids, c.LastMessage.ID)
		}
		var reactions []models.Reaction
		if err := s.db.Where("message_id IN ?", ids).Find(&reactions).Error; err != nil {
			return nil, err
		}
		byMessage := make(map[string][]models.Reaction, len(ids))
		for _, r := range reactions {
			byMessage[r.MessageID] = append(byMessage[r.MessageID], r)
		}
		for i := range conversations {
			conversations[i].LastMessage.Reactions = byMessage[conversations[i].LastMessage.ID]
		}
	}

	return conversations, nil
}

// UnreadCount counts messages addressed to userID not yet read.
func (s *MessageService) UnreadCount(userID string) (int64, error) {
	var count int64
	err := s.db.Model(&models.Message{}).
		Where("receiver_id = ? AND status <> ?", userID, models.StatusRead).
		Count(&count).Error
	return count, err
}

// MarkConversationRead bulk-advances every message from counterpartyID to
// userID to "read". Idempotent; returns the number of rows touched.
func (s *MessageService) MarkConversationRead(userID, counterpartyID string) (int64, error) {
	if counterpartyID == "" {
		return 0, errors.Validation("Counterparty is required")
	}

	result := s.db.Model(&models.Message{}).
		Where("sender_id = ? AND receiver_id = ? AND status <> ?", counterpartyID, userID, models.StatusRead).
		Update("status", models.StatusRead)
	return result.RowsAffected, result.Error
}

// ListAll returns every message, newest first. Admin listing only.
func (s *MessageService) ListAll() ([]models.Message, error) {
	var messages []models.Message
	err := s.db.Order("sent_at desc").
		Preload("Sender").Preload("Receiver").Preload("Reactions").
		Find(&messages).Error
	return messages, err
}

// ChatPartners returns the users userID has previously messaged with,
// most recent conversation first.
func (s *MessageService) ChatPartners(userID string) ([]models.User, error) {
	query := `
		SELECT u.id, u.username, u.email, u.name, u.avatar, u.role
		FROM users u
		JOIN (
			SELECT
				CASE WHEN sender_id = ? THEN receiver_id ELSE sender_id END AS partner_id,
				MAX(sent_at) AS last_msg_at
			FROM messages
			WHERE sender_id = ? OR receiver_id = ?
			GROUP BY 1
		) pl ON pl.partner_id = u.id
		ORDER BY pl.last_msg_at DESC
	`

	var users []models.User
	if err := s.db.Raw(query, userID, userID, userID).Scan(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

func (s *MessageService) load(id string) (*models.Message, error) {
	var msg models.Message
	err := s.db.Preload("Sender").Preload("Receiver").Preload("Reactions").
		First(&msg, "id = ?", id).Error
	if err != nil {
		if goerrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.NotFound("Message not found")
		}
		return nil, err
	}
	return &msg, nil
}
