package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/consentdac/backend/internal/auth"
	"github.com/consentdac/backend/internal/models"
	"github.com/consentdac/backend/pkg/response"
)

const (
	// ContextUserID is the key for the DAC user id (int64) in gin context.
	ContextUserID = "user_id"
	// ContextUserRoles is the key for the caller's models.RoleSet.
	ContextUserRoles = "user_roles"
	// ContextUserEmail is the key for user email in gin context.
	ContextUserEmail = "user_email"
)

// JWT returns a middleware that validates JWT and sets user claims in context.
func JWT(jwtService *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			response.Unauthorized(c, "invalid authorization header")
			c.Abort()
			return
		}
		claims, err := jwtService.Validate(parts[1])
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}
		c.Set(auth.ContextClaims, claims)
		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextUserRoles, claims.RoleSet())
		c.Set(ContextUserEmail, claims.Email)
		c.Next()
	}
}

// UserID returns the authenticated user id, or 0 outside JWT routes.
func UserID(c *gin.Context) int64 {
	id, _ := c.Get(ContextUserID)
	v, _ := id.(int64)
	return v
}

// Roles returns the authenticated user's roles.
func Roles(c *gin.Context) models.RoleSet {
	v, _ := c.Get(ContextUserRoles)
	set, _ := v.(models.RoleSet)
	return set
}
