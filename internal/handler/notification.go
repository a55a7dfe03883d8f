package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"thesis_messaging/internal/domain"
	"thesis_messaging/internal/middleware"
	"thesis_messaging/internal/service"
	"thesis_messaging/pkg/logger"
)

type NotificationHandler struct {
	notificationService service.NotificationService
	log                 logger.Logger
}

func NewNotificationHandler(notificationService service.NotificationService, log logger.Logger) *NotificationHandler {
	return &NotificationHandler{
		notificationService: notificationService,
		log:                 log,
	}
}

func (h *NotificationHandler) List(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	limit, err := queryLimit(c)
	if err != nil {
		abortWithError(c, err)
		return
	}

	notifications, err := h.notificationService.List(c.Request.Context(), userID, limit)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"notifications": notifications})
}

func (h *NotificationHandler) MarkRead(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	notificationID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	if err := h.notificationService.MarkRead(c.Request.Context(), userID, notificationID, middleware.EndpointID(c)); err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": notificationID, "read": true})
}

func (h *NotificationHandler) ClearAll(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	cleared, err := h.notificationService.ClearAll(c.Request.Context(), userID, middleware.EndpointID(c))
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"cleared": cleared})
}

// EmitNotificationRequest is posted by other portal services, e.g. the
// thesis workflow when a submission changes state.
type EmitNotificationRequest struct {
	ID     uuid.UUID `json:"id"`
	UserID uuid.UUID `json:"user_id" binding:"required"`
	Kind   string    `json:"kind"`
	Title  string    `json:"title"`
	Body   string    `json:"body"`
	Link   *string   `json:"link,omitempty"`
}

func (h *NotificationHandler) Emit(c *gin.Context) {
	var req EmitNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	n := &domain.Notification{
		ID:     req.ID,
		UserID: req.UserID,
		Kind:   req.Kind,
		Title:  req.Title,
		Body:   req.Body,
		Link:   req.Link,
	}
	if err := h.notificationService.Publish(c.Request.Context(), n, service.NotificationSourceHTTP); err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, n)
}
