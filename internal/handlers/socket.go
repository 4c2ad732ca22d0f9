package handlers

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/MiHiii/vinaside-backend/internal/models"
	"github.com/MiHiii/vinaside-backend/internal/realtime"
	"github.com/MiHiii/vinaside-backend/internal/services"
	"github.com/MiHiii/vinaside-backend/pkg/logger"
	"github.com/MiHiii/vinaside-backend/pkg/utils"
	"github.com/gin-gonic/gin"
	socketio "github.com/googollee/go-socket.io"
	"github.com/googollee/go-socket.io/engineio"
	"github.com/googollee/go-socket.io/engineio/transport"
	"github.com/googollee/go-socket.io/engineio/transport/polling"
	"github.com/googollee/go-socket.io/engineio/transport/websocket"
)

var SocketServer *socketio.Server

// socketIdentity is the immutable identity bound to a connection at
// handshake time.
type socketIdentity struct {
	UserID string
	Role   models.Role
}

// Typing throttle: track last typing emit per user to prevent spam
var (
	lastTypingEmit         = make(map[string]time.Time) // userId -> last emit time
	lastTypingMu           sync.RWMutex
	typingThrottleDuration = 3 * time.Second
)

// socketSink adapts live socket.io connections to the router's ConnSink.
type socketSink struct {
	conns sync.Map // connID -> socketio.Conn
}

func newSocketSink() *socketSink {
	return &socketSink{}
}

func (k *socketSink) add(c socketio.Conn) {
	k.conns.Store(c.ID(), c)
}

func (k *socketSink) remove(connID string) {
	k.conns.Delete(connID)
}

func (k *socketSink) Send(connID, event string, payload interface{}) (err error) {
	v, ok := k.conns.Load(connID)
	if !ok {
		return fmt.Errorf("connection %s is gone", connID)
	}

	// Emit on a connection mid-close can panic inside the transport;
	// treat that the same as an unreachable receiver
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("emit to %s failed: %v", connID, r)
		}
	}()

	v.(socketio.Conn).Emit(event, payload)
	return nil
}

func ackOK(extra map[string]interface{}) map[string]interface{} {
	ack := map[string]interface{}{"success": true}
	for k, v := range extra {
		ack[k] = v
	}
	return ack
}

func ackErr(err error) map[string]interface{} {
	return map[string]interface{}{"success": false, "error": err.Error()}
}

func identityOf(s socketio.Conn) (socketIdentity, bool) {
	id, ok := s.Context().(socketIdentity)
	return id, ok
}

// InitSocketServer wires the realtime gateway: handshake authentication,
// presence registration, and the inbound event dispatch that calls into
// the message service and delivery router.
func InitSocketServer(svc *services.MessageService, registry *realtime.Registry) *socketio.Server {
	sink := newSocketSink()
	router := realtime.NewRouter(registry, sink, svc)

	// REST handlers push through the same router
	MsgRouter = router

	server := socketio.NewServer(&engineio.Options{
		Transports: []transport.Transport{
			&websocket.Transport{
				CheckOrigin: func(r *http.Request) bool { return true },
			},
			&polling.Transport{
				CheckOrigin: func(r *http.Request) bool { return true },
			},
		},
	})

	server.OnConnect("/", func(s socketio.Conn) error {
		url := s.URL()
		token := url.Query().Get("token")
		if token == "" {
			token = url.Query().Get("auth_token") // Fallback
		}

		if token == "" {
			logger.Warn().Str("socket_id", s.ID()).Msg("Socket connection rejected: no token")
			return fmt.Errorf("authentication required")
		}

		claims, err := utils.ValidateToken(token)
		if err != nil {
			logger.Warn().Str("socket_id", s.ID()).Msg("Socket connection rejected: invalid token")
			return fmt.Errorf("invalid token")
		}

		// Identity is fixed for the connection's lifetime
		s.SetContext(socketIdentity{UserID: claims.UserID, Role: models.Role(claims.Role)})
		sink.add(s)

		logger.Info().Str("socket_id", s.ID()).Str("user_id", claims.UserID).Msg("Socket authenticated")
		return nil
	})

	server.OnEvent("/", "join_room", func(s socketio.Conn, p realtime.JoinRoomPayload) map[string]interface{} {
		identity, ok := identityOf(s)
		if !ok {
			return ackErr(fmt.Errorf("not authenticated"))
		}
		if err := p.Validate(); err != nil {
			return ackErr(err)
		}
		if p.UserID != identity.UserID {
			return ackErr(fmt.Errorf("cannot join another user's room"))
		}

		first := registry.Register(identity.UserID, s.ID())
		if first {
			router.RoutePresenceChange(identity.UserID, true)
		}

		// Give the joining client the current presence snapshot
		s.Emit(realtime.EventOnlineUsers, registry.OnlineUsers())

		return ackOK(nil)
	})

	server.OnEvent("/", "send_message", func(s socketio.Conn, p realtime.SendMessagePayload) map[string]interface{} {
		identity, ok := identityOf(s)
		if !ok {
			return ackErr(fmt.Errorf("not authenticated"))
		}
		if err := p.Validate(); err != nil {
			return ackErr(err)
		}

		msg, err := svc.Create(identity.UserID, p.ReceiverID, p.Content)
		if err != nil {
			return ackErr(err)
		}

		invalidateUnreadCache(msg.ReceiverID)

		// Echo to the sender's own devices, then fan out to the receiver
		s.Emit(realtime.EventMessageSent, msg)
		router.RouteNewMessage(msg)

		return ackOK(map[string]interface{}{"message": msg})
	})

	server.OnEvent("/", "mark_as_read", func(s socketio.Conn, p realtime.MarkAsReadPayload) map[string]interface{} {
		identity, ok := identityOf(s)
		if !ok {
			return ackErr(fmt.Errorf("not authenticated"))
		}
		if err := p.Validate(); err != nil {
			return ackErr(err)
		}

		msg, err := svc.MarkAsRead(p.MessageID, identity.UserID, identity.Role)
		if err != nil {
			return ackErr(err)
		}

		invalidateUnreadCache(identity.UserID)
		router.RouteReadReceipt(msg, identity.UserID)

		return ackOK(nil)
	})

	server.OnEvent("/", "mark_conversation_as_read", func(s socketio.Conn, p realtime.MarkConversationReadPayload) map[string]interface{} {
		identity, ok := identityOf(s)
		if !ok {
			return ackErr(fmt.Errorf("not authenticated"))
		}
		if err := p.Validate(); err != nil {
			return ackErr(err)
		}

		modified, err := svc.MarkConversationRead(identity.UserID, p.OtherUserID)
		if err != nil {
			return ackErr(err)
		}

		invalidateUnreadCache(identity.UserID)
		if modified > 0 {
			router.RouteConversationRead(p.OtherUserID, identity.UserID)
		}

		return ackOK(map[string]interface{}{"modifiedCount": modified})
	})

	server.OnEvent("/", "toggle_reaction", func(s socketio.Conn, p realtime.ToggleReactionPayload) map[string]interface{} {
		identity, ok := identityOf(s)
		if !ok {
			return ackErr(fmt.Errorf("not authenticated"))
		}
		if err := p.Validate(); err != nil {
			return ackErr(err)
		}

		action, msg, err := svc.ToggleReaction(p.MessageID, identity.UserID, models.ReactionType(p.Type))
		if err != nil {
			return ackErr(err)
		}

		router.RouteReactionUpdate(msg, msg.Counterparty(identity.UserID))

		return ackOK(map[string]interface{}{"action": action})
	})

	server.OnEvent("/", "typing_start", func(s socketio.Conn, p realtime.TypingPayload) {
		identity, ok := identityOf(s)
		if !ok || p.Validate() != nil {
			return
		}

		// Throttle: at most one typing emit per sender per window
		lastTypingMu.RLock()
		lastTime, exists := lastTypingEmit[identity.UserID]
		lastTypingMu.RUnlock()

		if exists && time.Since(lastTime) < typingThrottleDuration {
			return
		}

		lastTypingMu.Lock()
		lastTypingEmit[identity.UserID] = time.Now()
		lastTypingMu.Unlock()

		router.RouteTyping(identity.UserID, p.ReceiverID, true)
	})

	server.OnEvent("/", "typing_stop", func(s socketio.Conn, p realtime.TypingPayload) {
		identity, ok := identityOf(s)
		if !ok || p.Validate() != nil {
			return
		}
		router.RouteTyping(identity.UserID, p.ReceiverID, false)
	})

	server.OnEvent("/", "get_online_users", func(s socketio.Conn) {
		s.Emit(realtime.EventOnlineUsers, registry.OnlineUsers())
	})

	server.OnDisconnect("/", func(s socketio.Conn, reason string) {
		sink.remove(s.ID())

		userID, last := registry.Unregister(s.ID())
		if last {
			router.RoutePresenceChange(userID, false)
		}

		logger.Info().Str("socket_id", s.ID()).Str("reason", reason).Msg("Socket closed")
	})

	server.OnError("/", func(s socketio.Conn, e error) {
		logger.Error().Err(e).Msg("Socket error")
	})

	go server.Serve()
	SocketServer = server
	return server
}

// SocketHandler wraps the socket.io server for gin
func SocketHandler(server *socketio.Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		server.ServeHTTP(c.Writer, c.Request)
	}
}
