package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/consentdac/backend/internal/models"
	"github.com/consentdac/backend/pkg/response"
)

// RequireRole returns a middleware that allows callers holding any of roles.
func RequireRole(roles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, ok := c.Get(ContextUserRoles)
		if !ok {
			response.Unauthorized(c, "missing user context")
			c.Abort()
			return
		}
		held, _ := v.(models.RoleSet)
		if !held.HasAny(roles...) {
			response.Forbidden(c, "insufficient permissions")
			c.Abort()
			return
		}
		c.Next()
	}
}
