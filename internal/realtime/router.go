package realtime

import (
	"github.com/MiHiii/vinaside-backend/internal/models"
	"github.com/MiHiii/vinaside-backend/pkg/logger"
)

// ConnSink delivers one event to one live connection. The socket gateway
// provides the production implementation; tests substitute a fake.
type ConnSink interface {
	Send(connID, event string, payload interface{}) error
}

// statusStore is the slice of the message service the router needs: it
// advances delivery status after a successful push.
type statusStore interface {
	AdvanceStatus(id string, status models.MessageStatus) (*models.Message, error)
}

// Router fans persisted writes out to live connections. Routing is
// fire-and-forget: a failed push is logged and the stale connection is
// purged from the registry, but the committed write is never affected.
type Router struct {
	registry *Registry
	sink     ConnSink
	store    statusStore
}

func NewRouter(registry *Registry, sink ConnSink, store statusStore) *Router {
	return &Router{registry: registry, sink: sink, store: store}
}

// RouteNewMessage pushes a new_message event to every live connection of
// the receiver. If the receiver was reachable, the message advances to
// "delivered" and the status update is pushed back to the sender.
func (r *Router) RouteNewMessage(msg *models.Message) {
	receiverConns := r.registry.ConnectionsFor(msg.ReceiverID)
	for _, connID := range receiverConns {
		r.push(connID, EventNewMessage, msg)
	}

	if len(receiverConns) == 0 {
		return
	}

	updated, err := r.store.AdvanceStatus(msg.ID, models.StatusDelivered)
	if err != nil {
		logger.Error().Err(err).Str("message_id", msg.ID).Msg("Failed to advance status to delivered")
		return
	}

	statusUpdate := map[string]interface{}{
		"messageId": updated.ID,
		"status":    updated.Status,
	}
	for _, connID := range r.registry.ConnectionsFor(msg.SenderID) {
		r.push(connID, EventMessageStatus, statusUpdate)
	}
}

// RouteReactionUpdate pushes the message's current reaction set to the
// counterparty's connections.
func (r *Router) RouteReactionUpdate(msg *models.Message, counterpartyID string) {
	payload := map[string]interface{}{
		"messageId": msg.ID,
		"reactions": msg.Reactions,
	}
	for _, connID := range r.registry.ConnectionsFor(counterpartyID) {
		r.push(connID, EventReactionUpdate, payload)
	}
}

// RouteTyping pushes a typing signal to the receiver. Best-effort only:
// never persisted, never retried.
func (r *Router) RouteTyping(senderID, receiverID string, isTyping bool) {
	payload := map[string]interface{}{
		"userId":   senderID,
		"isTyping": isTyping,
	}
	for _, connID := range r.registry.ConnectionsFor(receiverID) {
		r.push(connID, EventUserTyping, payload)
	}
}

// RoutePresenceChange broadcasts an online/offline transition to every
// connection except the subject's own.
func (r *Router) RoutePresenceChange(userID string, online bool) {
	event := EventUserOffline
	if online {
		event = EventUserOnline
	}
	payload := map[string]interface{}{"userId": userID}
	for _, connID := range r.registry.ConnectionsExcept(userID) {
		r.push(connID, event, payload)
	}
}

// RouteReadReceipt tells the sender their message was read.
func (r *Router) RouteReadReceipt(msg *models.Message, readerID string) {
	payload := map[string]interface{}{
		"messageId": msg.ID,
		"readBy":    readerID,
	}
	for _, connID := range r.registry.ConnectionsFor(msg.SenderID) {
		r.push(connID, EventMessageRead, payload)
	}
}

// RouteConversationRead tells the counterparty their whole conversation
// with readerID was read.
func (r *Router) RouteConversationRead(counterpartyID, readerID string) {
	payload := map[string]interface{}{"readBy": readerID}
	for _, connID := range r.registry.ConnectionsFor(counterpartyID) {
		r.push(connID, EventConversationRead, payload)
	}
}

// NotifyUser pushes an arbitrary notification to all of a user's
// connections.
func (r *Router) NotifyUser(userID string, payload interface{}) {
	for _, connID := range r.registry.ConnectionsFor(userID) {
		r.push(connID, EventNotification, payload)
	}
}

func (r *Router) push(connID, event string, payload interface{}) {
	if err := r.sink.Send(connID, event, payload); err != nil {
		logger.Warn().Err(err).Str("conn_id", connID).Str("event", event).Msg("Push failed, purging connection")
		r.registry.Unregister(connID)
	}
}
