package auth

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/consentdac/backend/internal/models"
	"github.com/consentdac/backend/pkg/response"
)

// ContextClaims is the gin context key holding the validated *Claims.
const ContextClaims = "auth_claims"

// UserFinder loads the current state of a DAC user.
type UserFinder interface {
	FindUserByID(ctx context.Context, id int64) (*models.User, error)
}

// TokenResponse is returned by POST /auth/refresh.
type TokenResponse struct {
	Token string      `json:"token"`
	User  models.User `json:"user"`
}

// Handler serves the authenticated user's own profile. Login happens at the
// external identity provider; this service only verifies tokens.
type Handler struct {
	users  UserFinder
	jwt    *JWTService
	logger *zap.Logger
}

// NewHandler creates an auth handler.
func NewHandler(users UserFinder, jwt *JWTService, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{users: users, jwt: jwt, logger: logger}
}

func (h *Handler) current(c *gin.Context) (*models.User, bool) {
	v, ok := c.Get(ContextClaims)
	claims, _ := v.(*Claims)
	if !ok || claims == nil {
		response.Unauthorized(c, "missing user context")
		return nil, false
	}
	user, err := h.users.FindUserByID(c.Request.Context(), claims.UserID)
	if errors.Is(err, models.ErrNotFound) {
		response.Unauthorized(c, "user no longer exists")
		return nil, false
	}
	if err != nil {
		h.logger.Error("load current user failed", zap.Error(err), zap.Int64("user_id", claims.UserID))
		response.Internal(c, "failed to load user")
		return nil, false
	}
	return user, true
}

// Me handles GET /me. Roles are read from the database, not the token.
func (h *Handler) Me(c *gin.Context) {
	user, ok := h.current(c)
	if !ok {
		return
	}
	response.OK(c, user)
}

// Refresh handles POST /auth/refresh: it reissues the token with the user's
// current roles, so a role change takes effect without a new login.
func (h *Handler) Refresh(c *gin.Context) {
	user, ok := h.current(c)
	if !ok {
		return
	}
	token, err := h.jwt.Generate(*user)
	if err != nil {
		h.logger.Error("token generation failed", zap.Error(err))
		response.Internal(c, "failed to generate token")
		return
	}
	response.OK(c, TokenResponse{Token: token, User: *user})
}
