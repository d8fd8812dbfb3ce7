package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messaging-service/internal/auth"
	"messaging-service/internal/middleware"
	"messaging-service/internal/mocks"
	"messaging-service/internal/models"
	"messaging-service/internal/sweeper"
)

func setupAdminRouter(handler *AdminHandler, role string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.UserIDKey, 1)
		c.Set(middleware.RoleKey, role)
		c.Next()
	})
	r.POST("/admin/marathons/sweep", middleware.RequireAdmin(), handler.RunMarathonSweep)
	return r
}

func TestRunMarathonSweepSuccess(t *testing.T) {
	repo := new(mocks.MarathonRepositoryMock)
	handler := NewAdminHandler(sweeper.New(repo, 0, nil))
	router := setupAdminRouter(handler, auth.AdminRole)

	repo.On("SweepExpired", mock.Anything, mock.Anything).Return(models.SweepResult{MarathonsClosed: 2, ParticipantsCompleted: 5}, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/admin/marathons/sweep", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"marathons_closed":2`)
	repo.AssertExpectations(t)
}

func TestRunMarathonSweepError(t *testing.T) {
	repo := new(mocks.MarathonRepositoryMock)
	handler := NewAdminHandler(sweeper.New(repo, 0, nil))
	router := setupAdminRouter(handler, auth.AdminRole)

	repo.On("SweepExpired", mock.Anything, mock.Anything).Return(models.SweepResult{}, assert.AnError).Once()

	req := httptest.NewRequest(http.MethodPost, "/admin/marathons/sweep", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRunMarathonSweepForbiddenForNonAdmin(t *testing.T) {
	repo := new(mocks.MarathonRepositoryMock)
	handler := NewAdminHandler(sweeper.New(repo, 0, nil))
	router := setupAdminRouter(handler, "")

	req := httptest.NewRequest(http.MethodPost, "/admin/marathons/sweep", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	repo.AssertNotCalled(t, "SweepExpired", mock.Anything, mock.Anything)
}
