package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"thesis_messaging/internal/config"
	"thesis_messaging/internal/realtime"
)

type HealthHandler struct {
	storeDriver string
	registry    *realtime.Registry
}

func NewHealthHandler(cfg *config.Config, registry *realtime.Registry) *HealthHandler {
	return &HealthHandler{
		storeDriver: cfg.StoreDriver,
		registry:    registry,
	}
}

func (h *HealthHandler) Check(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "thesis-messaging",
	})
}

// ServerInfo возвращает информацию о сервере для клиентов
func (h *HealthHandler) ServerInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"store":            h.storeDriver,
		"active_endpoints": h.registry.Count(),
		"api_base":         "/api/v1",
		"ws_path":          "/api/v1/ws",
	})
}
