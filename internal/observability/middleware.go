package observability

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// unmatchedRoute labels requests no admin route claimed, so scanners
// cannot grow the route label set.
const unmatchedRoute = "unmatched"

// AdminAccess logs and counts each admin request against gatewayID.
// Server errors log at error, client errors at warn, the rest at debug.
func AdminAccess(gatewayID string, logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		took := time.Since(start)

		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		RecordHTTPRequest(gatewayID, c.Request.Method, route, status, took)

		event := logger.Debug()
		switch {
		case status >= 500:
			event = logger.Error()
		case status >= 400:
			event = logger.Warn()
		}
		event.Msgf("gateway.admin request gateway=%s method=%s route=%q path=%q status=%d bytes=%d took=%s client=%s",
			gatewayID, c.Request.Method, route, c.Request.URL.Path, status, c.Writer.Size(), took, c.ClientIP())
	}
}
