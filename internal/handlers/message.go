package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/MiHiii/vinaside-backend/internal/database"
	"github.com/MiHiii/vinaside-backend/internal/models"
	"github.com/MiHiii/vinaside-backend/internal/realtime"
	"github.com/MiHiii/vinaside-backend/internal/services"
	"github.com/MiHiii/vinaside-backend/pkg/errors"
	"github.com/MiHiii/vinaside-backend/pkg/utils"
	"github.com/gin-gonic/gin"
)

// Wired in main (and in tests with an sqlite-backed service).
var (
	MessageSvc *services.MessageService
	MsgRouter  *realtime.Router
)

// Per-user send throttle (redis-backed, skipped when redis is down)
const (
	sendLimitPerWindow = 30
	sendLimitWindow    = time.Minute
)

func currentIdentity(c *gin.Context) (string, models.Role) {
	userID := c.MustGet("userId").(string)
	role, _ := c.Get("role")
	roleStr, _ := role.(string)
	return userID, models.Role(roleStr)
}

func respondError(c *gin.Context, err error) {
	if appErr, ok := err.(*errors.AppError); ok {
		c.JSON(appErr.Code, gin.H{"error": appErr.Message})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
}

// messageIDParam rejects malformed :id values before they reach the DB;
// message ids are always uuids.
func messageIDParam(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if !utils.IsUUID(id) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid message id"})
		return "", false
	}
	return id, true
}

func unreadCacheKey(userID string) string {
	return fmt.Sprintf("unread_count:%s", userID)
}

func invalidateUnreadCache(userID string) {
	if database.Redis != nil {
		database.CacheInvalidate(unreadCacheKey(userID))
	}
}

// SendMessage POST /messages
func SendMessage(c *gin.Context) {
	userID, _ := currentIdentity(c)

	var req struct {
		ReceiverID string `json:"receiverId" binding:"required"`
		Content    string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "receiverId and content are required"})
		return
	}

	if database.Redis != nil {
		allowed, err := database.CheckRateLimit(userID, sendLimitPerWindow, sendLimitWindow)
		if err == nil && !allowed {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many messages, slow down"})
			return
		}
	}

	msg, err := MessageSvc.Create(userID, req.ReceiverID, req.Content)
	if err != nil {
		respondError(c, err)
		return
	}

	invalidateUnreadCache(msg.ReceiverID)

	// Best-effort push; the write above has already committed
	if MsgRouter != nil {
		MsgRouter.RouteNewMessage(msg)
	}

	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

// ListAllMessages GET /messages (admin only)
func ListAllMessages(c *gin.Context) {
	messages, err := MessageSvc.ListAll()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// GetConversations GET /messages/conversations
func GetConversations(c *gin.Context) {
	userID, _ := currentIdentity(c)

	conversations, err := MessageSvc.ListConversations(userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": conversations})
}

// GetConversationMessages GET /messages/conversation?otherUserId=
func GetConversationMessages(c *gin.Context) {
	userID, _ := currentIdentity(c)
	otherUserID := c.Query("otherUserId")
	if otherUserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "otherUserId required"})
		return
	}

	messages, err := MessageSvc.GetConversation(userID, otherUserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// GetUnreadCount GET /messages/unread-count
func GetUnreadCount(c *gin.Context) {
	userID, _ := currentIdentity(c)

	if database.Redis != nil {
		var cached int64
		if err := database.CacheGet(unreadCacheKey(userID), &cached); err == nil {
			c.JSON(http.StatusOK, gin.H{"count": cached})
			return
		}
	}

	count, err := MessageSvc.UnreadCount(userID)
	if err != nil {
		respondError(c, err)
		return
	}

	if database.Redis != nil {
		database.CacheSet(unreadCacheKey(userID), count, 30*time.Second)
	}

	c.JSON(http.StatusOK, gin.H{"count": count})
}

// GetChatPartners GET /messages/partners
func GetChatPartners(c *gin.Context) {
	userID, _ := currentIdentity(c)

	partners, err := MessageSvc.ChatPartners(userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": partners})
}

// GetMessage GET /messages/:id
func GetMessage(c *gin.Context) {
	userID, role := currentIdentity(c)

	id, ok := messageIDParam(c)
	if !ok {
		return
	}

	msg, err := MessageSvc.Get(id, userID, role)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

// MarkMessageRead PATCH /messages/:id/read
func MarkMessageRead(c *gin.Context) {
	userID, role := currentIdentity(c)

	id, ok := messageIDParam(c)
	if !ok {
		return
	}

	msg, err := MessageSvc.MarkAsRead(id, userID, role)
	if err != nil {
		respondError(c, err)
		return
	}

	invalidateUnreadCache(userID)

	if MsgRouter != nil {
		MsgRouter.RouteReadReceipt(msg, userID)
	}

	c.JSON(http.StatusOK, gin.H{"message": msg})
}

// MarkConversationRead PATCH /messages/conversation/read?otherUserId=
func MarkConversationRead(c *gin.Context) {
	userID, _ := currentIdentity(c)
	otherUserID := c.Query("otherUserId")

	modified, err := MessageSvc.MarkConversationRead(userID, otherUserID)
	if err != nil {
		respondError(c, err)
		return
	}

	invalidateUnreadCache(userID)

	if MsgRouter != nil && modified > 0 {
		MsgRouter.RouteConversationRead(otherUserID, userID)
	}

	c.JSON(http.StatusOK, gin.H{"modifiedCount": modified})
}

// ToggleReaction POST /messages/:id/reactions/toggle/:type
func ToggleReaction(c *gin.Context) {
	userID, _ := currentIdentity(c)

	messageID, ok := messageIDParam(c)
	if !ok {
		return
	}
	rtype := models.ReactionType(c.Param("type"))

	action, msg, err := MessageSvc.ToggleReaction(messageID, userID, rtype)
	if err != nil {
		respondError(c, err)
		return
	}

	if MsgRouter != nil {
		MsgRouter.RouteReactionUpdate(msg, msg.Counterparty(userID))
	}

	c.JSON(http.StatusOK, gin.H{"action": action, "message": msg})
}

// AddReaction POST /messages/reactions/add
func AddReaction(c *gin.Context) {
	userID, _ := currentIdentity(c)

	var req struct {
		MessageID string `json:"messageId" binding:"required"`
		Type      string `json:"type" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "messageId and type are required"})
		return
	}

	msg, err := MessageSvc.SetReaction(req.MessageID, userID, models.ReactionType(req.Type))
	if err != nil {
		respondError(c, err)
		return
	}

	if MsgRouter != nil {
		MsgRouter.RouteReactionUpdate(msg, msg.Counterparty(userID))
	}

	c.JSON(http.StatusOK, gin.H{"message": msg})
}

// RemoveReaction POST /messages/reactions/remove
func RemoveReaction(c *gin.Context) {
	userID, _ := currentIdentity(c)

	var req struct {
		MessageID string `json:"messageId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "messageId is required"})
		return
	}

	msg, err := MessageSvc.ClearReaction(req.MessageID, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	if MsgRouter != nil {
		MsgRouter.RouteReactionUpdate(msg, msg.Counterparty(userID))
	}

	c.JSON(http.StatusOK, gin.H{"message": msg})
}

// DeleteMessage DELETE /messages/:id
func DeleteMessage(c *gin.Context) {
	userID, role := currentIdentity(c)

	id, ok := messageIDParam(c)
	if !ok {
		return
	}

	// Needed for cache invalidation and the counterparty notification,
	// before the row disappears
	msg, err := MessageSvc.Get(id, userID, role)
	if err != nil {
		respondError(c, err)
		return
	}

	if err := MessageSvc.Delete(msg.ID, userID, role); err != nil {
		respondError(c, err)
		return
	}

	invalidateUnreadCache(msg.ReceiverID)

	// Tell the other side to drop the message from their view
	if MsgRouter != nil {
		MsgRouter.NotifyUser(msg.Counterparty(userID), gin.H{
			"type":      "message_deleted",
			"messageId": msg.ID,
		})
	}

	c.Status(http.StatusNoContent)
}
