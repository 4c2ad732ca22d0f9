package services

import (
	"fmt"
	"testing"
	"time"

	"github.com/MiHiii/vinaside-backend/internal/models"
	"github.com/MiHiii/vinaside-backend/pkg/errors"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// setupTestService initializes an in-memory SQLite DB seeded with the
// standard cast: alice (guest), bob (host), carol (guest), admin.
func setupTestService(t *testing.T) *MessageService {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to open test DB: %v", err)
	}

	if err := db.AutoMigrate(&models.User{}, &models.Message{}, &models.Reaction{}); err != nil {
		t.Fatalf("Failed to migrate test DB: %v", err)
	}

	users := []models.User{
		{ID: "alice", Username: "alice_" + t.Name(), Email: "alice_" + t.Name() + "@example.com", Role: models.RoleGuest},
		{ID: "bob", Username: "bob_" + t.Name(), Email: "bob_" + t.Name() + "@example.com", Role: models.RoleHost},
		{ID: "carol", Username: "carol_" + t.Name(), Email: "carol_" + t.Name() + "@example.com", Role: models.RoleGuest},
		{ID: "admin", Username: "admin_" + t.Name(), Email: "admin_" + t.Name() + "@example.com", Role: models.RoleAdmin},
	}
	for _, u := range users {
		if err := db.Create(&u).Error; err != nil {
			t.Fatalf("Failed to seed user %s: %v", u.ID, err)
		}
	}

	return NewMessageService(db)
}

func TestCreateAndGet(t *testing.T) {
	svc := setupTestService(t)

	msg, err := svc.Create("alice", "bob", "hello bob")
	assert.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, models.StatusSent, msg.Status)
	assert.False(t, msg.SentAt.IsZero())

	got, err := svc.Get(msg.ID, "alice", models.RoleGuest)
	assert.NoError(t, err)
	assert.Equal(t, "hello bob", got.Content)
	assert.Equal(t, models.StatusSent, got.Status)
}

func TestCreateValidation(t *testing.T) {
	svc := setupTestService(t)

	_, err := svc.Create("alice", "bob", "   ")
	assert.Error(t, err)

	_, err = svc.Create("alice", "alice", "talking to myself")
	assert.Error(t, err)

	_, err = svc.Create("alice", "nobody", "hello?")
	assert.Error(t, err)
	appErr, ok := err.(*errors.AppError)
	assert.True(t, ok)
	assert.Equal(t, 400, appErr.Code)
}

func TestStatusMonotonic(t *testing.T) {
	svc := setupTestService(t)

	msg, _ := svc.Create("alice", "bob", "hi")

	// Forward transitions apply
	updated, err := svc.AdvanceStatus(msg.ID, models.StatusRead)
	assert.NoError(t, err)
	assert.Equal(t, models.StatusRead, updated.Status)

	// Repeating is a no-op, not an error
	updated, err = svc.AdvanceStatus(msg.ID, models.StatusRead)
	assert.NoError(t, err)
	assert.Equal(t, models.StatusRead, updated.Status)

	// Regressing is a no-op too
	updated, err = svc.AdvanceStatus(msg.ID, models.StatusDelivered)
	assert.NoError(t, err)
	assert.Equal(t, models.StatusRead, updated.Status)

	got, _ := svc.Get(msg.ID, "bob", models.RoleHost)
	assert.Equal(t, models.StatusRead, got.Status)
}

func TestLateDeliveryAckKeepsRead(t *testing.T) {
	svc := setupTestService(t)

	// Receiver reads the message before the delivery ack lands (a fast
	// client can acknowledge a pushed message ahead of the push loop's own
	// delivered transition)
	msg, _ := svc.Create("alice", "bob", "hi")
	_, err := svc.MarkAsRead(msg.ID, "bob", models.RoleHost)
	assert.NoError(t, err)

	updated, err := svc.AdvanceStatus(msg.ID, models.StatusDelivered)
	assert.NoError(t, err)
	assert.Equal(t, models.StatusRead, updated.Status)

	// The guarded write never touched the row
	var stored models.Message
	svc.db.First(&stored, "id = ?", msg.ID)
	assert.Equal(t, models.StatusRead, stored.Status)
}

func TestMarkAsReadAuthorization(t *testing.T) {
	svc := setupTestService(t)

	msg, _ := svc.Create("alice", "bob", "hi")

	// Sender cannot acknowledge their own message as read
	_, err := svc.MarkAsRead(msg.ID, "alice", models.RoleGuest)
	assert.True(t, errors.IsForbidden(err))

	// Receiver can
	updated, err := svc.MarkAsRead(msg.ID, "bob", models.RoleHost)
	assert.NoError(t, err)
	assert.Equal(t, models.StatusRead, updated.Status)
}

func TestToggleReactionTwiceRemoves(t *testing.T) {
	svc := setupTestService(t)

	msg, _ := svc.Create("alice", "bob", "hi")

	action, updated, err := svc.ToggleReaction(msg.ID, "bob", models.ReactionLike)
	assert.NoError(t, err)
	assert.Equal(t, ReactionAdded, action)
	assert.Len(t, updated.Reactions, 1)

	action, updated, err = svc.ToggleReaction(msg.ID, "bob", models.ReactionLike)
	assert.NoError(t, err)
	assert.Equal(t, ReactionRemoved, action)
	assert.Len(t, updated.Reactions, 0)
}

func TestToggleReactionReplacesType(t *testing.T) {
	svc := setupTestService(t)

	msg, _ := svc.Create("alice", "bob", "hi")

	action, _, err := svc.ToggleReaction(msg.ID, "bob", models.ReactionLike)
	assert.NoError(t, err)
	assert.Equal(t, ReactionAdded, action)

	action, updated, err := svc.ToggleReaction(msg.ID, "bob", models.ReactionLove)
	assert.NoError(t, err)
	assert.Equal(t, ReactionAdded, action)

	// Exactly one reaction remains, of the newer type
	assert.Len(t, updated.Reactions, 1)
	assert.Equal(t, models.ReactionLove, updated.Reactions[0].Type)
	assert.Equal(t, "bob", updated.Reactions[0].UserID)
}

func TestReactionThirdPartyForbidden(t *testing.T) {
	svc := setupTestService(t)

	msg, _ := svc.Create("alice", "bob", "hi")

	_, _, err := svc.ToggleReaction(msg.ID, "carol", models.ReactionLike)
	assert.True(t, errors.IsForbidden(err))

	_, err = svc.SetReaction(msg.ID, "carol", models.ReactionLike)
	assert.True(t, errors.IsForbidden(err))
}

func TestGetAuthorization(t *testing.T) {
	svc := setupTestService(t)

	msg, _ := svc.Create("alice", "bob", "hi")

	_, err := svc.Get(msg.ID, "carol", models.RoleGuest)
	assert.True(t, errors.IsForbidden(err))

	// Admin role overrides
	got, err := svc.Get(msg.ID, "admin", models.RoleAdmin)
	assert.NoError(t, err)
	assert.Equal(t, msg.ID, got.ID)

	_, err = svc.Get("missing-id", "alice", models.RoleGuest)
	assert.True(t, errors.IsNotFound(err))
}

func TestDeleteAuthorization(t *testing.T) {
	svc := setupTestService(t)

	msg, _ := svc.Create("alice", "bob", "hi")

	// Receiver cannot delete
	err := svc.Delete(msg.ID, "bob", models.RoleHost)
	assert.True(t, errors.IsForbidden(err))

	// Third party cannot delete
	err = svc.Delete(msg.ID, "carol", models.RoleGuest)
	assert.True(t, errors.IsForbidden(err))

	// Sender can, and the removal is hard
	err = svc.Delete(msg.ID, "alice", models.RoleGuest)
	assert.NoError(t, err)

	_, err = svc.Get(msg.ID, "alice", models.RoleGuest)
	assert.True(t, errors.IsNotFound(err))
}

func TestConversationSymmetry(t *testing.T) {
	svc := setupTestService(t)

	svc.Create("alice", "bob", "first")
	time.Sleep(2 * time.Millisecond)
	last, _ := svc.Create("bob", "alice", "second")

	forAlice, err := svc.ListConversations("alice")
	assert.NoError(t, err)
	forBob, err := svc.ListConversations("bob")
	assert.NoError(t, err)

	assert.Len(t, forAlice, 1)
	assert.Len(t, forBob, 1)

	// Both sides surface the same message as lastMessage, regardless of
	// who sent it last
	assert.Equal(t, last.ID, forAlice[0].LastMessage.ID)
	assert.Equal(t, last.ID, forBob[0].LastMessage.ID)

	// Counterparty is always "the identity that is not me"
	assert.Equal(t, "bob", forAlice[0].User.ID)
	assert.Equal(t, "alice", forBob[0].User.ID)
}

func TestListConversationsOrderAndUnread(t *testing.T) {
	svc := setupTestService(t)

	svc.Create("bob", "alice", "from bob 1")
	time.Sleep(2 * time.Millisecond)
	svc.Create("bob", "alice", "from bob 2")
	time.Sleep(2 * time.Millisecond)
	svc.Create("carol", "alice", "from carol")

	conversations, err := svc.ListConversations("alice")
	assert.NoError(t, err)
	assert.Len(t, conversations, 2)

	// Most recent conversation first
	assert.Equal(t, "carol", conversations[0].User.ID)
	assert.Equal(t, "bob", conversations[1].User.ID)

	assert.Equal(t, int64(1), conversations[0].UnreadCount)
	assert.Equal(t, int64(2), conversations[1].UnreadCount)
}

func TestListConversationsTiedTimestamps(t *testing.T) {
	svc := setupTestService(t)

	// Two messages in the same pair with an identical sent_at: exactly one
	// conversation row must come back, with a deterministic lastMessage
	now := time.Now()
	m1 := models.Message{SenderID: "alice", ReceiverID: "bob", Content: "first", SentAt: now, Status: models.StatusSent}
	m2 := models.Message{SenderID: "bob", ReceiverID: "alice", Content: "second", SentAt: now, Status: models.StatusSent}
	assert.NoError(t, svc.db.Create(&m1).Error)
	assert.NoError(t, svc.db.Create(&m2).Error)

	want := m1.ID
	if m2.ID > m1.ID {
		want = m2.ID
	}

	forAlice, err := svc.ListConversations("alice")
	assert.NoError(t, err)
	assert.Len(t, forAlice, 1)
	assert.Equal(t, want, forAlice[0].LastMessage.ID)

	forBob, err := svc.ListConversations("bob")
	assert.NoError(t, err)
	assert.Len(t, forBob, 1)
	assert.Equal(t, want, forBob[0].LastMessage.ID)
}

func TestGetConversationChronological(t *testing.T) {
	svc := setupTestService(t)

	m1, _ := svc.Create("alice", "bob", "one")
	time.Sleep(2 * time.Millisecond)
	m2, _ := svc.Create("bob", "alice", "two")
	time.Sleep(2 * time.Millisecond)
	m3, _ := svc.Create("alice", "bob", "three")

	messages, err := svc.GetConversation("alice", "bob")
	assert.NoError(t, err)
	assert.Len(t, messages, 3)
	assert.Equal(t, m1.ID, messages[0].ID)
	assert.Equal(t, m2.ID, messages[1].ID)
	assert.Equal(t, m3.ID, messages[2].ID)
}

func TestMarkConversationReadIdempotent(t *testing.T) {
	svc := setupTestService(t)

	svc.Create("bob", "alice", "one")
	svc.Create("bob", "alice", "two")
	svc.Create("alice", "bob", "reply")

	count, _ := svc.UnreadCount("alice")
	assert.Equal(t, int64(2), count)

	modified, err := svc.MarkConversationRead("alice", "bob")
	assert.NoError(t, err)
	assert.Equal(t, int64(2), modified)

	count, _ = svc.UnreadCount("alice")
	assert.Equal(t, int64(0), count)

	// Second call touches nothing
	modified, err = svc.MarkConversationRead("alice", "bob")
	assert.NoError(t, err)
	assert.Equal(t, int64(0), modified)

	// Bob's own unread (the reply) is untouched
	count, _ = svc.UnreadCount("bob")
	assert.Equal(t, int64(1), count)
}

func TestChatPartners(t *testing.T) {
	svc := setupTestService(t)

	svc.Create("alice", "bob", "hi bob")
	time.Sleep(2 * time.Millisecond)
	svc.Create("carol", "alice", "hi alice")

	partners, err := svc.ChatPartners("alice")
	assert.NoError(t, err)
	assert.Len(t, partners, 2)

	// Most recent exchange first
	assert.Equal(t, "carol", partners[0].ID)
	assert.Equal(t, "bob", partners[1].ID)

	// Bob never talked to carol
	partners, _ = svc.ChatPartners("bob")
	assert.Len(t, partners, 1)
	assert.Equal(t, "alice", partners[0].ID)
}

func TestOfflineDeliveryScenario(t *testing.T) {
	svc := setupTestService(t)

	// Alice messages bob while he is offline: the message stays "sent"
	msg, err := svc.Create("alice", "bob", "hi")
	assert.NoError(t, err)
	assert.Equal(t, models.StatusSent, msg.Status)

	// Bob connects later and reads it
	_, err = svc.MarkAsRead(msg.ID, "bob", models.RoleHost)
	assert.NoError(t, err)

	count, _ := svc.UnreadCount("bob")
	assert.Equal(t, int64(0), count)

	conversations, _ := svc.ListConversations("alice")
	assert.Len(t, conversations, 1)
	assert.Equal(t, "hi", conversations[0].LastMessage.Content)
	assert.Equal(t, models.StatusRead, conversations[0].LastMessage.Status)
}
