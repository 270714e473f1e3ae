package handler

import (
	"errors"
	"net/http"
	"strconv"

	"medchat/backend/internal/models"
	"medchat/backend/internal/storage"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ListRooms returns the caller's rooms with counterpart profile, last message and unread count.
func (h *Handler) ListRooms(c *gin.Context) {
	rooms, err := h.Storage.ListRoomSummaries(callerID(c))
	if err != nil {
		h.Logger.Error("failed to list rooms", zap.String("user_id", callerID(c)), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get rooms"})
		return
	}
	if rooms == nil {
		rooms = []models.RoomSummary{}
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

type provisionRequest struct {
	DoctorID  string `json:"doctor_id" binding:"required"`
	PatientID string `json:"patient_id" binding:"required"`
}

// ProvisionRoom creates (or returns) the room of a doctor/patient pair. Admins
// may provision any pair; a doctor or patient only pairs that include themselves.
func (h *Handler) ProvisionRoom(c *gin.Context) {
	var req provisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "doctor_id and patient_id are required"})
		return
	}

	caller := callerID(c)
	if callerRole(c) != models.RoleAdmin && caller != req.DoctorID && caller != req.PatientID {
		c.JSON(http.StatusForbidden, gin.H{"error": "not allowed to provision this room"})
		return
	}

	room, err := h.Storage.GetOrCreateRoom(req.DoctorID, req.PatientID)
	switch {
	case errors.Is(err, storage.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	case errors.Is(err, storage.ErrInvalidRoom):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		h.Logger.Error("failed to provision room", zap.String("doctor_id", req.DoctorID),
			zap.String("patient_id", req.PatientID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to provision room"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": room})
}

// GetHistory returns one page of a room's history, oldest-first. Pages walk
// backwards with before_seq.
func (h *Handler) GetHistory(c *gin.Context) {
	roomID := c.Param("id")

	beforeSeq, err := strconv.ParseInt(c.DefaultQuery("before_seq", "0"), 10, 64)
	if err != nil || beforeSeq < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid before_seq"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	limit = storage.ClampPageSize(limit)

	room, err := h.Storage.GetRoomByID(roomID)
	if errors.Is(err, storage.ErrRoomNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get room"})
		return
	}
	if !room.HasParticipant(callerID(c)) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a participant"})
		return
	}

	history, err := h.Storage.GetChatHistory(roomID, beforeSeq, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get messages"})
		return
	}

	msgs := make([]models.ChatMessage, len(history))
	for i := range history {
		msgs[i] = history[i].ToMessage()
	}
	c.JSON(http.StatusOK, gin.H{
		"messages": msgs,
		"has_more": len(history) == limit,
	})
}
