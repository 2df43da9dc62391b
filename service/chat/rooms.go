package chat

import (
	"context"
	"errors"
	"net/http"

	"PPRelay/logger"
	"PPRelay/tools/errs"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type findOrCreateRoomReq struct {
	OtherUserID string `json:"otherUserId" binding:"required"`
}

// HandleFindOrCreateRoom returns the caller's room with otherUserId, creating
// it on first contact. The room id is what clients put in /ws/chatroom/{id}.
func (s *Server) HandleFindOrCreateRoom(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.conf.StoreTimeout)
	defer cancel()

	userID, err := s.handshake.Identify(ctx, c.Request.Header)
	if err != nil {
		status, _ := rejection(err)
		c.AbortWithStatusJSON(status, gin.H{"error": http.StatusText(status)})
		return
	}

	var req findOrCreateRoomReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Missing otherUserId"})
		return
	}

	room, err := s.store.FindOrCreateRoom(ctx, userID, req.OtherUserID)
	if errors.Is(err, errs.ErrArgs) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "A chat room needs two distinct users"})
		return
	}
	if err != nil {
		logger.Error("[Room] find or create failed", zap.String("user", userID),
			zap.String("other", req.OtherUserID), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to find/create chatroom"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"chatRoom": room})
}
