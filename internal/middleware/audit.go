package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/transport-admin-api/internal/service"
)

// AuditRecorder persists audit entries.
type AuditRecorder interface {
	Record(ctx context.Context, entry service.AuditEntry)
}

// Audit records one entry per request on the route. Rejected requests are kept as failed entries.
func Audit(recorder AuditRecorder, action, resource string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now().UTC()
		c.Next()

		if recorder == nil {
			return
		}
		status := c.Writer.Status()
		// auth failures are already captured by the auth service
		if status == http.StatusUnauthorized {
			return
		}

		entry := service.AuditEntry{
			Action:     action,
			Resource:   resource,
			ResourceID: c.Param("id"),
			NewValues: map[string]interface{}{
				"path":       c.FullPath(),
				"method":     c.Request.Method,
				"status":     status,
				"latency_ms": time.Since(start).Milliseconds(),
			},
			Failed:    status >= 400,
			IPAddress: c.ClientIP(),
			UserAgent: c.GetHeader("User-Agent"),
		}
		if claims := CurrentClaims(c); claims != nil {
			entry.UserID = claims.UserID
		}
		recorder.Record(c.Request.Context(), entry)
	}
}
