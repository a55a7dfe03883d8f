package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	EndpointHeader    = "X-Endpoint-ID"
	ContextEndpointID = "endpoint_id"
)

// EndpointMiddleware picks up the X-Endpoint-ID header a browser tab sends
// with REST calls so pushes caused by the call can skip that tab. Invalid
// values are ignored.
func EndpointMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		endpointID := c.GetHeader(EndpointHeader)

		if endpointID != "" {
			if _, err := uuid.Parse(endpointID); err != nil {
				endpointID = ""
			}
		}

		c.Set(ContextEndpointID, endpointID)
		c.Next()
	}
}

func EndpointID(c *gin.Context) string {
	return c.GetString(ContextEndpointID)
}
