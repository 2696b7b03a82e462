package middleware

import (
	"github.com/gin-gonic/gin"

	appErrors "github.com/noah-isme/transport-admin-api/pkg/errors"
	"github.com/noah-isme/transport-admin-api/pkg/response"
)

// RequireDatabase short-circuits routes that need Postgres while the process runs without one.
func RequireDatabase(available bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !available {
			response.Error(c, appErrors.Clone(appErrors.ErrConfiguration, "database is not configured"))
			c.Abort()
			return
		}
		c.Next()
	}
}
