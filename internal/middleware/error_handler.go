package middleware

import (
	"github.com/gin-gonic/gin"
	"thesis_messaging/pkg/errors"
	"thesis_messaging/pkg/logger"
)

func ErrorHandler(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Проверяем есть ли ошибки
		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last()

		// Определяем статус код
		statusCode := errors.HTTPStatusFromError(err.Err)
		if statusCode >= 500 {
			log.Error("Request failed", "error", err.Err, "path", c.Request.URL.Path)
			c.JSON(statusCode, gin.H{"error": "Internal server error"})
			return
		}

		body := gin.H{"error": err.Error()}
		var vErr *errors.ValidationError
		if errors.As(err.Err, &vErr) && vErr.Field != "" {
			body["field"] = vErr.Field
		}
		c.JSON(statusCode, body)
	}
}
