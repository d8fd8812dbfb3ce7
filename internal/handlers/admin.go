package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"messaging-service/internal/sweeper"
)

// AdminHandler exposes operational triggers for privileged callers.
type AdminHandler struct {
	sweeper *sweeper.Sweeper
}

// NewAdminHandler builds an AdminHandler.
func NewAdminHandler(s *sweeper.Sweeper) *AdminHandler {
	return &AdminHandler{sweeper: s}
}

// RunMarathonSweep executes the marathon completion sweep synchronously and
// reports the outcome.
func (h *AdminHandler) RunMarathonSweep(c *gin.Context) {
	result, err := h.sweeper.RunOnce(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sweep failed"})
		return
	}
	c.JSON(http.StatusOK, result)
}
