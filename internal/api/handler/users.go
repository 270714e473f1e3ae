package handler

import (
	"net/http"
	"strconv"

	"medchat/backend/internal/config"
	"medchat/backend/internal/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SearchUsers finds users by name or specialization, optionally filtered by role.
func (h *Handler) SearchUsers(c *gin.Context) {
	role := models.Role(c.Query("role"))
	if role != "" && !role.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid role"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(config.DefaultSearchLimit)))
	if err != nil || limit <= 0 {
		limit = config.DefaultSearchLimit
	}

	users, err := h.Storage.SearchUsers(c.Query("q"), role, limit)
	if err != nil {
		h.Logger.Error("user search failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "search failed"})
		return
	}

	out := make([]models.Participant, 0, len(users))
	for i := range users {
		out = append(out, users[i].Participant())
	}
	c.JSON(http.StatusOK, gin.H{"users": out})
}
