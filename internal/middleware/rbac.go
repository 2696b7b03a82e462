package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/transport-admin-api/internal/models"
	appErrors "github.com/noah-isme/transport-admin-api/pkg/errors"
	"github.com/noah-isme/transport-admin-api/pkg/response"
)

// guard aborts with 401 when there is no session and with denied when allow rejects it.
func guard(allow func(*models.JWTClaims) bool, denied *appErrors.Error) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := CurrentClaims(c)
		if claims == nil {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if !allow(claims) {
			response.Error(c, denied)
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireRoles admits callers holding one of roles.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make(map[models.UserRole]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return guard(func(claims *models.JWTClaims) bool {
		_, ok := allowed[claims.Role]
		return ok
	}, appErrors.ErrForbidden)
}

// RequireAdmin admits ADMIN and SUPERADMIN.
func RequireAdmin() gin.HandlerFunc {
	return guard(func(claims *models.JWTClaims) bool { return claims.Role.Staff() }, appErrors.ErrForbidden)
}

// RequireStudent admits student sessions linked to a student record.
func RequireStudent() gin.HandlerFunc {
	return guard(func(claims *models.JWTClaims) bool {
		return claims.Role == models.RoleStudent && claims.StudentID != ""
	}, appErrors.Clone(appErrors.ErrForbidden, "student session required"))
}
