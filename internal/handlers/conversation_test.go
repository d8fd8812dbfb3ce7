package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messaging-service/internal/middleware"
	"messaging-service/internal/mocks"
	"messaging-service/internal/models"
	"messaging-service/internal/presence"
	"messaging-service/internal/repositories"
)

func setupConversationRouter(handler *ConversationHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.UserIDKey, 1)
		c.Next()
	})
	r.GET("/conversations", handler.ListConversations)
	r.POST("/conversations", handler.CreateConversation)
	r.GET("/conversations/:conversation_id", handler.GetConversation)
	r.PUT("/conversations/:conversation_id/read", handler.MarkRead)
	r.GET("/conversations/:conversation_id/messages", handler.GetMessages)
	r.GET("/search-users", handler.SearchUsers)
	return r
}

func newHandler(convRepo *mocks.ConversationRepositoryMock, messageRepo *mocks.MessageRepositoryMock, users *mocks.UserDirectoryMock, registry *presence.Registry) *ConversationHandler {
	if registry == nil {
		registry = presence.NewRegistry()
	}
	return NewConversationHandler(convRepo, messageRepo, users, registry, nil)
}

func TestListConversationsAnnotatesOnlineStatus(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	registry := presence.NewRegistry()
	registry.Register(2, "c1")
	handler := newHandler(convRepo, new(mocks.MessageRepositoryMock), new(mocks.UserDirectoryMock), registry)
	router := setupConversationRouter(handler)

	convRepo.On("ListConversationsForUser", mock.Anything, 1).Return([]models.ConversationSummary{
		{ConversationID: 3, OtherUserID: 2, OtherUsername: "bob", UnreadCount: 4},
		{ConversationID: 5, OtherUserID: 9, OtherUsername: "carol"},
	}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Conversations []models.ConversationSummary `json:"conversations"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Conversations, 2)
	assert.True(t, resp.Conversations[0].OtherIsOnline)
	assert.Equal(t, 4, resp.Conversations[0].UnreadCount)
	assert.False(t, resp.Conversations[1].OtherIsOnline)
	convRepo.AssertExpectations(t)
}

func TestListConversationsRepoError(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	handler := newHandler(convRepo, new(mocks.MessageRepositoryMock), new(mocks.UserDirectoryMock), nil)
	router := setupConversationRouter(handler)

	convRepo.On("ListConversationsForUser", mock.Anything, 1).Return(([]models.ConversationSummary)(nil), assert.AnError).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	convRepo.AssertExpectations(t)
}

func TestCreateConversationSuccess(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	users := new(mocks.UserDirectoryMock)
	handler := newHandler(convRepo, new(mocks.MessageRepositoryMock), users, nil)
	router := setupConversationRouter(handler)

	users.On("FindByEmail", mock.Anything, "b@x.com").Return(models.User{ID: 2, Email: "b@x.com"}, nil).Once()
	convRepo.On("CreateOrGetConversation", mock.Anything, 1, 2).Return(models.Conversation{ID: 7, User1ID: 1, User2ID: 2}, true, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/conversations", bytes.NewBufferString(`{"email":"b@x.com"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.EqualValues(t, 7, resp["conversation_id"])
	assert.Equal(t, true, resp["created"])
	users.AssertExpectations(t)
	convRepo.AssertExpectations(t)
}

func TestCreateConversationIsIdempotent(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	users := new(mocks.UserDirectoryMock)
	handler := newHandler(convRepo, new(mocks.MessageRepositoryMock), users, nil)
	router := setupConversationRouter(handler)

	users.On("FindByEmail", mock.Anything, "b@x.com").Return(models.User{ID: 2}, nil).Twice()
	convRepo.On("CreateOrGetConversation", mock.Anything, 1, 2).Return(models.Conversation{ID: 7, User1ID: 1, User2ID: 2}, true, nil).Once()
	convRepo.On("CreateOrGetConversation", mock.Anything, 1, 2).Return(models.Conversation{ID: 7, User1ID: 1, User2ID: 2}, false, nil).Once()

	for _, wantCreated := range []bool{true, false} {
		req := httptest.NewRequest(http.MethodPost, "/conversations", bytes.NewBufferString(`{"email":"b@x.com"}`))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp map[string]any
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.EqualValues(t, 7, resp["conversation_id"])
		assert.Equal(t, wantCreated, resp["created"])
	}
	convRepo.AssertExpectations(t)
}

func TestCreateConversationUnknownEmail(t *testing.T) {
	users := new(mocks.UserDirectoryMock)
	handler := newHandler(new(mocks.ConversationRepositoryMock), new(mocks.MessageRepositoryMock), users, nil)
	router := setupConversationRouter(handler)

	users.On("FindByEmail", mock.Anything, "nobody@x.com").Return(models.User{}, repositories.ErrUserNotFound).Once()

	req := httptest.NewRequest(http.MethodPost, "/conversations", bytes.NewBufferString(`{"email":"nobody@x.com"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	users.AssertExpectations(t)
}

func TestCreateConversationWithSelf(t *testing.T) {
	users := new(mocks.UserDirectoryMock)
	handler := newHandler(new(mocks.ConversationRepositoryMock), new(mocks.MessageRepositoryMock), users, nil)
	router := setupConversationRouter(handler)

	users.On("FindByEmail", mock.Anything, "me@x.com").Return(models.User{ID: 1}, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/conversations", bytes.NewBufferString(`{"email":"me@x.com"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetConversationForbiddenForNonParticipant(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	handler := newHandler(convRepo, new(mocks.MessageRepositoryMock), new(mocks.UserDirectoryMock), nil)
	router := setupConversationRouter(handler)

	convRepo.On("GetConversation", mock.Anything, 7).Return(models.Conversation{ID: 7, User1ID: 2, User2ID: 3}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations/7", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	convRepo.AssertExpectations(t)
}

func TestGetConversationNotFound(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	handler := newHandler(convRepo, new(mocks.MessageRepositoryMock), new(mocks.UserDirectoryMock), nil)
	router := setupConversationRouter(handler)

	convRepo.On("GetConversation", mock.Anything, 99).Return(models.Conversation{}, repositories.ErrConversationNotFound).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations/99", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetConversationSuccess(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	handler := newHandler(convRepo, messageRepo, new(mocks.UserDirectoryMock), nil)
	router := setupConversationRouter(handler)

	now := time.Now()
	convRepo.On("GetConversation", mock.Anything, 7).Return(models.Conversation{ID: 7, User1ID: 1, User2ID: 2}, nil).Once()
	convRepo.On("ListParticipants", mock.Anything, 7).Return([]models.Participant{
		{ConversationID: 7, UserID: 1}, {ConversationID: 7, UserID: 2},
	}, nil).Once()
	messageRepo.On("ListMessages", mock.Anything, 7, 0, repositories.MaxPageSize).Return([]models.Message{
		{ID: 1, ConversationID: 7, SenderID: 1, Content: "hello", SentAt: now},
		{ID: 2, ConversationID: 7, SenderID: 2, Content: "hi again", SentAt: now.Add(time.Second)},
	}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations/7", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Messages []models.Message `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, "hello", resp.Messages[0].Content)
	assert.False(t, resp.Messages[1].SentAt.Before(resp.Messages[0].SentAt))
	convRepo.AssertExpectations(t)
	messageRepo.AssertExpectations(t)
}

func TestMarkReadSuccess(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	handler := newHandler(convRepo, new(mocks.MessageRepositoryMock), new(mocks.UserDirectoryMock), nil)
	router := setupConversationRouter(handler)

	convRepo.On("MarkRead", mock.Anything, 7, 1).Return(nil).Once()

	req := httptest.NewRequest(http.MethodPut, "/conversations/7/read", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	convRepo.AssertExpectations(t)
}

func TestMarkReadNotParticipant(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	handler := newHandler(convRepo, new(mocks.MessageRepositoryMock), new(mocks.UserDirectoryMock), nil)
	router := setupConversationRouter(handler)

	convRepo.On("MarkRead", mock.Anything, 7, 1).Return(repositories.ErrParticipantNotFound).Once()

	req := httptest.NewRequest(http.MethodPut, "/conversations/7/read", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetMessagesPaginated(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	handler := newHandler(convRepo, messageRepo, new(mocks.UserDirectoryMock), nil)
	router := setupConversationRouter(handler)

	convRepo.On("GetConversation", mock.Anything, 7).Return(models.Conversation{ID: 7, User1ID: 1, User2ID: 2}, nil).Once()
	messageRepo.On("ListMessages", mock.Anything, 7, 40, 20).Return([]models.Message{{ID: 39}}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations/7/messages?before_message_id=40&count=20", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	convRepo.AssertExpectations(t)
	messageRepo.AssertExpectations(t)
}

func TestGetMessagesMalformedCursor(t *testing.T) {
	handler := newHandler(new(mocks.ConversationRepositoryMock), new(mocks.MessageRepositoryMock), new(mocks.UserDirectoryMock), nil)
	router := setupConversationRouter(handler)

	req := httptest.NewRequest(http.MethodGet, "/conversations/7/messages?before_message_id=abc", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetMessagesInvalidConversationID(t *testing.T) {
	handler := newHandler(new(mocks.ConversationRepositoryMock), new(mocks.MessageRepositoryMock), new(mocks.UserDirectoryMock), nil)
	router := setupConversationRouter(handler)

	req := httptest.NewRequest(http.MethodGet, "/conversations/abc/messages", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchUsersRequiresQuery(t *testing.T) {
	handler := newHandler(new(mocks.ConversationRepositoryMock), new(mocks.MessageRepositoryMock), new(mocks.UserDirectoryMock), nil)
	router := setupConversationRouter(handler)

	req := httptest.NewRequest(http.MethodGet, "/search-users", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchUsersSuccess(t *testing.T) {
	users := new(mocks.UserDirectoryMock)
	registry := presence.NewRegistry()
	registry.Register(2, "c1")
	handler := newHandler(new(mocks.ConversationRepositoryMock), new(mocks.MessageRepositoryMock), users, registry)
	router := setupConversationRouter(handler)

	users.On("SearchUsers", mock.Anything, "bo", 1).Return([]models.User{{ID: 2, Username: "bob", Email: "b@x.com"}}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/search-users?query=bo", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Users []struct {
			ID       int    `json:"id"`
			Username string `json:"username"`
			IsOnline bool   `json:"is_online"`
		} `json:"users"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Users, 1)
	assert.True(t, resp.Users[0].IsOnline)
	users.AssertExpectations(t)
}

func TestGetConversationLoadsFullHistoryAcrossPages(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	messageRepo := new(mocks.MessageRepositoryMock)
	handler := newHandler(convRepo, messageRepo, new(mocks.UserDirectoryMock), nil)
	router := setupConversationRouter(handler)

	convRepo.On("GetConversation", mock.Anything, 7).Return(models.Conversation{ID: 7, User1ID: 1, User2ID: 2}, nil).Once()
	convRepo.On("ListParticipants", mock.Anything, 7).Return([]models.Participant{
		{ConversationID: 7, UserID: 1}, {ConversationID: 7, UserID: 2},
	}, nil).Once()

	newest := make([]models.Message, 0, repositories.MaxPageSize)
	for id := 201; id <= 200+repositories.MaxPageSize; id++ {
		newest = append(newest, models.Message{ID: id, ConversationID: 7, SenderID: 1 + id%2})
	}
	oldest := []models.Message{
		{ID: 199, ConversationID: 7, SenderID: 2, Content: "first"},
		{ID: 200, ConversationID: 7, SenderID: 1, Content: "second"},
	}
	messageRepo.On("ListMessages", mock.Anything, 7, 0, repositories.MaxPageSize).Return(newest, nil).Once()
	messageRepo.On("ListMessages", mock.Anything, 7, 201, repositories.MaxPageSize).Return(oldest, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations/7", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Messages []models.Message `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Messages, repositories.MaxPageSize+2)
	assert.Equal(t, 199, resp.Messages[0].ID)
	assert.Equal(t, 200+repositories.MaxPageSize, resp.Messages[len(resp.Messages)-1].ID)
	messageRepo.AssertExpectations(t)
}
