package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"messaging-service/internal/middleware"
	"messaging-service/internal/models"
	"messaging-service/internal/presence"
	"messaging-service/internal/repositories"
	"messaging-service/internal/telemetry"
)

// ConversationHandler serves the conversation REST surface.
type ConversationHandler struct {
	convRepo    repositories.ConversationRepository
	messageRepo repositories.MessageRepository
	users       repositories.UserDirectory
	registry    *presence.Registry
	emitter     *telemetry.AuditEmitter
}

// NewConversationHandler builds a ConversationHandler.
func NewConversationHandler(convRepo repositories.ConversationRepository, messageRepo repositories.MessageRepository, users repositories.UserDirectory, registry *presence.Registry, emitter *telemetry.AuditEmitter) *ConversationHandler {
	return &ConversationHandler{
		convRepo:    convRepo,
		messageRepo: messageRepo,
		users:       users,
		registry:    registry,
		emitter:     emitter,
	}
}

// ListConversations returns the caller's conversations with unread counts and
// online flags.
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	userID := c.GetInt(middleware.UserIDKey)

	summaries, err := h.convRepo.ListConversationsForUser(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversations"})
		return
	}

	for i := range summaries {
		summaries[i].OtherIsOnline = h.registry.IsOnline(summaries[i].OtherUserID)
	}
	if summaries == nil {
		summaries = []models.ConversationSummary{}
	}
	c.JSON(http.StatusOK, gin.H{"conversations": summaries})
}

// GetConversation returns one conversation with participants and history.
// The caller must be a participant.
func (h *ConversationHandler) GetConversation(c *gin.Context) {
	conversationID, ok := conversationIDParam(c)
	if !ok {
		return
	}
	userID := c.GetInt(middleware.UserIDKey)

	conv, err := h.convRepo.GetConversation(c.Request.Context(), conversationID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrConversationNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "conversation not found"})
		return
	}
	if !conv.HasParticipant(userID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a conversation participant"})
		return
	}

	participants, err := h.convRepo.ListParticipants(c.Request.Context(), conversationID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load participants"})
		return
	}
	messages, err := h.fullHistory(c.Request.Context(), conversationID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}

	c.JSON(http.StatusOK, gin.H{
		"conversation": conv,
		"participants": participants,
		"messages":     messages,
	})
}

// fullHistory pages backwards through the store until the whole conversation
// is loaded, returned in ascending display order.
func (h *ConversationHandler) fullHistory(ctx context.Context, conversationID int) ([]models.Message, error) {
	var history []models.Message
	beforeID := 0
	for {
		page, err := h.messageRepo.ListMessages(ctx, conversationID, beforeID, repositories.MaxPageSize)
		if err != nil {
			return nil, err
		}
		history = append(page, history...)
		if len(page) < repositories.MaxPageSize {
			return history, nil
		}
		beforeID = page[0].ID
	}
}

// CreateConversation resolves the target by email and creates or returns the
// conversation with them.
func (h *ConversationHandler) CreateConversation(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetInt(middleware.UserIDKey)
	target, err := h.users.FindByEmail(c.Request.Context(), strings.TrimSpace(req.Email))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrUserNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "user not found"})
		return
	}
	if target.ID == userID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot start a conversation with yourself"})
		return
	}

	conv, created, err := h.convRepo.CreateOrGetConversation(c.Request.Context(), userID, target.ID)
	if err != nil {
		if errors.Is(err, repositories.ErrSelfConversation) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "cannot start a conversation with yourself"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create conversation"})
		return
	}

	if created {
		h.emitter.Emit(c.Request.Context(), "INFO",
			fmt.Sprintf("conversation %d created between users %d and %d", conv.ID, conv.User1ID, conv.User2ID),
			requestIDFromContext(c), userIDFromContext(c))
	}

	c.JSON(http.StatusOK, gin.H{"conversation_id": conv.ID, "created": created})
}

// MarkRead advances the caller's read marker for the conversation.
func (h *ConversationHandler) MarkRead(c *gin.Context) {
	conversationID, ok := conversationIDParam(c)
	if !ok {
		return
	}
	userID := c.GetInt(middleware.UserIDKey)

	if err := h.convRepo.MarkRead(c.Request.Context(), conversationID, userID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrParticipantNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "could not mark conversation read"})
		return
	}
	c.Status(http.StatusNoContent)
}

// GetMessages returns a page of messages for scroll-back.
func (h *ConversationHandler) GetMessages(c *gin.Context) {
	conversationID, ok := conversationIDParam(c)
	if !ok {
		return
	}
	userID := c.GetInt(middleware.UserIDKey)

	beforeID, ok := intQuery(c, "before_message_id", 0)
	if !ok {
		return
	}
	count, ok := intQuery(c, "count", repositories.DefaultPageSize)
	if !ok {
		return
	}

	conv, err := h.convRepo.GetConversation(c.Request.Context(), conversationID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrConversationNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "conversation not found"})
		return
	}
	if !conv.HasParticipant(userID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a conversation participant"})
		return
	}

	messages, err := h.messageRepo.ListMessages(c.Request.Context(), conversationID, beforeID, count)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// SearchUsers finds conversation targets by name or email substring.
func (h *ConversationHandler) SearchUsers(c *gin.Context) {
	query := strings.TrimSpace(c.Query("query"))
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query is required"})
		return
	}
	userID := c.GetInt(middleware.UserIDKey)

	users, err := h.users.SearchUsers(c.Request.Context(), query, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to search users"})
		return
	}

	type userResponse struct {
		ID       int    `json:"id"`
		Username string `json:"username"`
		Email    string `json:"email"`
		IsOnline bool   `json:"is_online"`
	}
	responses := make([]userResponse, 0, len(users))
	for _, u := range users {
		responses = append(responses, userResponse{
			ID:       u.ID,
			Username: u.Username,
			Email:    u.Email,
			IsOnline: h.registry.IsOnline(u.ID),
		})
	}
	c.JSON(http.StatusOK, gin.H{"users": responses})
}

func conversationIDParam(c *gin.Context) (int, bool) {
	conversationID, err := strconv.Atoi(c.Param("conversation_id"))
	if err != nil || conversationID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return 0, false
	}
	return conversationID, true
}

func intQuery(c *gin.Context, name string, fallback int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return fallback, true
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return value, true
}
