package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"thesis_messaging/internal/service"
	"thesis_messaging/pkg/logger"
)

// UnreadHandler serves the counters the navigation badge refreshes from.
type UnreadHandler struct {
	conversationService service.ConversationService
	notificationService service.NotificationService
	log                 logger.Logger
}

func NewUnreadHandler(conversationService service.ConversationService, notificationService service.NotificationService, log logger.Logger) *UnreadHandler {
	return &UnreadHandler{
		conversationService: conversationService,
		notificationService: notificationService,
		log:                 log,
	}
}

type UnreadResponse struct {
	Messages      int `json:"messages"`
	Notifications int `json:"notifications"`
}

func (h *UnreadHandler) Get(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	messages, err := h.conversationService.UnreadTotal(c.Request.Context(), userID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	notifications, err := h.notificationService.UnreadCount(c.Request.Context(), userID)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, UnreadResponse{Messages: messages, Notifications: notifications})
}
