package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mossy-p/lanmesh/internal/middleware"
	"github.com/mossy-p/lanmesh/internal/models"
	"github.com/mossy-p/lanmesh/internal/store"
)

// GetRoom returns room metadata and members (public)
func (h *Hub) GetRoom(c *gin.Context) {
	name := c.Param("room")
	ctx := c.Request.Context()

	room, err := h.store.GetRoom(ctx, name)
	if errors.Is(err, store.ErrRoomNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
		return
	}
	if err != nil {
		h.log.Error("get room", zap.String("room", name), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load room"})
		return
	}

	members, err := h.store.Members(ctx, name)
	if err != nil && !errors.Is(err, store.ErrRoomNotFound) {
		h.log.Error("list members", zap.String("room", name), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load room"})
		return
	}

	c.JSON(http.StatusOK, models.RoomInfoResponse{
		RoomMetadata: *room,
		Users:        store.SortedUsers(members),
	})
}

// DeleteRoom closes a room (requires authentication and creator)
func (h *Hub) DeleteRoom(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	name := c.Param("room")
	ctx := c.Request.Context()

	room, err := h.store.GetRoom(ctx, name)
	if errors.Is(err, store.ErrRoomNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
		return
	}
	if err != nil {
		h.log.Error("get room", zap.String("room", name), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load room"})
		return
	}

	if room.CreatorUser == "" || room.CreatorUser != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only the room creator can delete the room"})
		return
	}

	if err := h.CloseRoom(ctx, name); err != nil {
		h.log.Error("close room", zap.String("room", name), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete room"})
		return
	}

	h.log.Info("room deleted", zap.String("room", name), zap.String("user", userID))
	c.JSON(http.StatusOK, gin.H{"message": "Room deleted"})
}
