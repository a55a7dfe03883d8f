package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"thesis_messaging/internal/domain"
	"thesis_messaging/internal/middleware"
	"thesis_messaging/internal/service"
	apperrors "thesis_messaging/pkg/errors"
	"thesis_messaging/pkg/logger"
)

type ConversationHandler struct {
	conversationService service.ConversationService
	log                 logger.Logger
}

func NewConversationHandler(conversationService service.ConversationService, log logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		conversationService: conversationService,
		log:                 log,
	}
}

func (h *ConversationHandler) List(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	conversations, err := h.conversationService.List(c.Request.Context(), userID)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"conversations": conversations})
}

type StartConversationRequest struct {
	PeerID uuid.UUID `json:"peer_id" binding:"required"`
}

func (h *ConversationHandler) Start(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req StartConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	view, created, err := h.conversationService.Start(c.Request.Context(), userID, req.PeerID)
	if err != nil {
		abortWithError(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"conversation": view, "created": created})
}

func (h *ConversationHandler) GetMessages(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	conversationID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	limit, err := queryLimit(c)
	if err != nil {
		abortWithError(c, err)
		return
	}
	page := domain.MessagePage{Limit: limit}
	if before := c.Query("before"); before != "" {
		t, err := time.Parse(time.RFC3339Nano, before)
		if err != nil {
			abortWithError(c, apperrors.NewValidationError("before", "before must be an RFC3339 timestamp"))
			return
		}
		page.Before = t
	}

	messages, err := h.conversationService.History(c.Request.Context(), userID, conversationID, page)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

func (h *ConversationHandler) MarkRead(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	conversationID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	cleared, err := h.conversationService.MarkRead(c.Request.Context(), userID, conversationID, middleware.EndpointID(c))
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"conversation_id": conversationID, "cleared": cleared})
}
