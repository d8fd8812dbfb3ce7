package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"messaging-service/internal/auth"
	"messaging-service/internal/models"
	"messaging-service/internal/observability"
	"messaging-service/internal/presence"
	"messaging-service/internal/repositories"
)

// Client command types accepted over the socket.
const (
	cmdSendMessage = "send_message"
	cmdJoin        = "join"
	cmdLeave       = "leave"
	cmdMarkRead    = "mark_read"
	cmdOnlineUsers = "online_users"
)

type clientCommand struct {
	Type           string `json:"type"`
	ConversationID int    `json:"conversation_id"`
	Content        string `json:"content"`
}

// SessionHandler authenticates websocket connections and runs their command
// loop.
type SessionHandler struct {
	hub         *Hub
	convRepo    repositories.ConversationRepository
	messageRepo repositories.MessageRepository
	registry    *presence.Registry
	verifier    auth.TokenVerifier
}

// NewSessionHandler constructs a SessionHandler.
func NewSessionHandler(hub *Hub, convRepo repositories.ConversationRepository, messageRepo repositories.MessageRepository, registry *presence.Registry, verifier auth.TokenVerifier) *SessionHandler {
	return &SessionHandler{
		hub:         hub,
		convRepo:    convRepo,
		messageRepo: messageRepo,
		registry:    registry,
		verifier:    verifier,
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle authenticates the request, upgrades it and hands the connection to
// the session loop. Auth failures are rejected before the upgrade.
func (h *SessionHandler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("messaging-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := bearerToken(c)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}
	identity, err := h.verifier.Verify(ctx, token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      identity.UserID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	session := NewSession(conn, info)

	h.hub.AddSession(session)
	h.registry.Register(info.UserID, info.ConnID)
	h.hub.BroadcastToAll(models.ChatEvent{Type: models.EventUserOnline, UserID: info.UserID}, session)

	observability.IncWSActive()
	observability.IncWSEvent("ws_connect")
	h.publishLifecycleEvent(ctx, "ws_connect", info, "")

	go h.readLoop(ctx, session)
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
		return ""
	}
	return c.Query("token")
}

func (h *SessionHandler) readLoop(ctx context.Context, session *Session) {
	info := session.Info()
	var closeReason string
	defer func() {
		h.hub.RemoveSession(session)
		// A reconnect that registered a newer connection keeps its entry;
		// only a removal makes the user offline.
		if h.registry.UnregisterConn(info.UserID, info.ConnID) {
			h.hub.BroadcastToAll(models.ChatEvent{Type: models.EventUserOffline, UserID: info.UserID}, session)
		}
		observability.DecWSActive()
		observability.IncWSEvent("ws_disconnect")
		h.publishLifecycleEvent(ctx, "ws_disconnect", info, closeReason)
		_ = session.Close()
	}()

	for {
		_, payload, err := session.conn.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent("ws_error")
				h.publishLifecycleEvent(ctx, "ws_error", info, closeReason)
			}
			return
		}

		var cmd clientCommand
		if err := json.Unmarshal(payload, &cmd); err != nil {
			_ = session.Send(models.ChatEvent{Type: models.EventError, Error: "malformed command"})
			continue
		}
		h.dispatch(session, cmd)
	}
}

func (h *SessionHandler) dispatch(session *Session, cmd clientCommand) {
	// Store calls outlive the handshake request; disconnecting mid-send must
	// not cancel a write that is already on its way to the database.
	ctx := context.Background()

	switch cmd.Type {
	case cmdSendMessage:
		h.handleSendMessage(ctx, session, cmd)
	case cmdJoin:
		h.hub.JoinRoom(cmd.ConversationID, session)
	case cmdLeave:
		h.hub.LeaveRoom(cmd.ConversationID, session)
	case cmdMarkRead:
		h.handleMarkRead(ctx, session, cmd)
	case cmdOnlineUsers:
		_ = session.Send(models.ChatEvent{Type: models.EventOnlineUsers, UserIDs: h.registry.OnlineUserIDs()})
	default:
		_ = session.Send(models.ChatEvent{Type: models.EventError, Error: "unknown command type"})
	}
}

// handleSendMessage persists first, then fans out to every participant's live
// sessions. The stored message is authoritative; fan-out failures are handled
// per connection inside the hub.
func (h *SessionHandler) handleSendMessage(ctx context.Context, session *Session, cmd clientCommand) {
	msg, err := h.messageRepo.AppendMessage(ctx, cmd.ConversationID, session.UserID(), cmd.Content)
	if err != nil {
		_ = session.Send(models.ChatEvent{
			Type:           models.EventError,
			ConversationID: cmd.ConversationID,
			Error:          sendErrorText(err),
		})
		return
	}
	observability.IncWSEvent("message_sent")

	participantIDs, err := h.convRepo.ParticipantIDs(ctx, cmd.ConversationID)
	if err != nil {
		// The message is already committed; echo it to the sender so they
		// still see the stored copy when the lookup fails.
		log.Printf("participant lookup failed, echoing to sender: %v", err)
		participantIDs = []int{session.UserID()}
	}
	h.hub.BroadcastToUsers(participantIDs, models.ChatEvent{Type: models.EventMessage, Message: &msg})
}

// handleMarkRead is best-effort: failures are logged, never surfaced, since a
// stale unread badge self-corrects on the next list fetch.
func (h *SessionHandler) handleMarkRead(ctx context.Context, session *Session, cmd clientCommand) {
	if err := h.convRepo.MarkRead(ctx, cmd.ConversationID, session.UserID()); err != nil {
		log.Printf("mark read failed for conversation %d: %v", cmd.ConversationID, err)
		return
	}
	h.hub.BroadcastToRoom(cmd.ConversationID, models.ChatEvent{
		Type:           models.EventRead,
		ConversationID: cmd.ConversationID,
		UserID:         session.UserID(),
	}, session)
}

func sendErrorText(err error) string {
	switch {
	case errors.Is(err, repositories.ErrNotParticipant):
		return "not a participant of this conversation"
	case errors.Is(err, repositories.ErrEmptyContent):
		return "message content is empty"
	case errors.Is(err, repositories.ErrContentTooLong):
		return "message content is too long"
	default:
		return "failed to send message"
	}
}

func (h *SessionHandler) publishLifecycleEvent(ctx context.Context, event string, info ConnInfo, reason string) {
	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"event":       event,
			"conn_id":     info.ConnID,
			"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"user_id":   info.UserID,
			"device_id": info.DeviceID,
			"ip":        info.IP,
		},
	}
	headers := observability.BuildHeaders(info.RequestID, info.TraceID)
	_ = observability.PublishEvent(ctx, "ws_events.messaging", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload:   payload,
	}, headers)
}
