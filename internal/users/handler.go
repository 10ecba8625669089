package users

import (
	"context"
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/consentdac/backend/internal/models"
	"github.com/consentdac/backend/internal/roles"
	"github.com/consentdac/backend/pkg/response"
)

// RoleService is the part of roles.Service the handlers drive.
type RoleService interface {
	CreateUser(ctx context.Context, u models.User) (*models.User, error)
	UpdateRoles(ctx context.Context, req roles.UpdateRequest) error
	AssignRole(ctx context.Context, userID int64, role models.Role) error
	ValidateDelegation(ctx context.Context, email string, role models.Role) (*roles.DelegationCheck, error)
}

// Handler handles /dacuser endpoints.
type Handler struct {
	repo   *Repository
	roles  RoleService
	logger *zap.Logger
}

// NewHandler creates a users handler.
func NewHandler(repo *Repository, roleService RoleService, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, roles: roleService, logger: logger}
}

// UserRequest is a DAC user as sent by the console. Roles must be present
// but may be empty, which removes every role on update.
type UserRequest struct {
	Email           string   `json:"email" binding:"required,email"`
	DisplayName     string   `json:"displayName" binding:"required,max=255"`
	AdditionalEmail string   `json:"additionalEmail" binding:"omitempty,email"`
	EmailPreference *bool    `json:"emailPreference"`
	Roles           []string `json:"roles" binding:"required,dive,dacrole"`
}

// DelegateRef names a delegate by email.
type DelegateRef struct {
	Email string `json:"email" binding:"required,email"`
}

// UpdateRequest is the body for PUT /dacuser/:id.
type UpdateRequest struct {
	UpdatedUser              UserRequest  `json:"updatedUser"`
	UserToDelegate           *DelegateRef `json:"userToDelegate"`
	AlternativeDataOwnerUser *DelegateRef `json:"alternativeDataOwnerUser"`
}

func (r UserRequest) toModel() models.User {
	u := models.User{
		Email:           r.Email,
		DisplayName:     r.DisplayName,
		AdditionalEmail: r.AdditionalEmail,
		EmailPreference: true,
	}
	if r.EmailPreference != nil {
		u.EmailPreference = *r.EmailPreference
	}
	for _, name := range r.Roles {
		// names were checked by the dacrole tag
		if role, err := models.ParseRole(name); err == nil {
			u.Roles.Add(role)
		}
	}
	return u
}

func (d *DelegateRef) toModel() *models.User {
	if d == nil {
		return nil
	}
	return &models.User{Email: d.Email}
}

// Create handles POST /dacuser.
func (h *Handler) Create(c *gin.Context) {
	var req UserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	u, err := h.roles.CreateUser(c.Request.Context(), req.toModel())
	if err != nil {
		h.logger.Warn("create user failed", zap.Error(err), zap.String("email", req.Email))
		response.Error(c, err, "failed to create user")
		return
	}
	response.Created(c, u)
}

// List handles GET /dacuser.
func (h *Handler) List(c *gin.Context) {
	list, err := h.repo.ListUsers(c.Request.Context())
	if err != nil {
		h.logger.Error("list users failed", zap.Error(err))
		response.Internal(c, "failed to list users")
		return
	}
	if list == nil {
		list = []models.User{}
	}
	response.OK(c, list)
}

// GetByEmail handles GET /dacuser/:email.
func (h *Handler) GetByEmail(c *gin.Context) {
	u, err := h.repo.FindUserByEmail(c.Request.Context(), c.Param("email"))
	if err != nil {
		response.Error(c, err, "failed to load user")
		return
	}
	response.OK(c, u)
}

func userID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.BadRequest(c, "invalid user id")
		return 0, false
	}
	return id, true
}

// Update handles PUT /dacuser/:id. Roles, delegations and profile fields
// are saved in one transaction.
func (h *Handler) Update(c *gin.Context) {
	id, ok := userID(c)
	if !ok {
		return
	}
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	updated := req.UpdatedUser.toModel()
	updated.ID = id
	ctx := c.Request.Context()
	err := h.roles.UpdateRoles(ctx, roles.UpdateRequest{
		UpdatedUser:       updated,
		DelegateMember:    req.UserToDelegate.toModel(),
		DelegateDataOwner: req.AlternativeDataOwnerUser.toModel(),
		SaveProfile:       true,
	})
	if err != nil {
		h.logger.Warn("update user failed", zap.Error(err), zap.Int64("user_id", id))
		response.Error(c, err, "failed to update user")
		return
	}
	u, err := h.repo.FindUserByID(ctx, id)
	if err != nil {
		response.Error(c, err, "failed to load user")
		return
	}
	response.OK(c, u)
}

// AssignRole handles PUT /dacuser/:id/roles/:role.
func (h *Handler) AssignRole(c *gin.Context) {
	id, ok := userID(c)
	if !ok {
		return
	}
	role, err := models.ParseRole(c.Param("role"))
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := h.roles.AssignRole(c.Request.Context(), id, role); err != nil {
		h.logger.Warn("assign role failed", zap.Error(err), zap.Int64("user_id", id), zap.Stringer("role", role))
		response.Error(c, err, "failed to assign role")
		return
	}
	response.NoContent(c)
}

// ValidateDelegation handles POST /dacuser/validateDelegation?role=.
func (h *Handler) ValidateDelegation(c *gin.Context) {
	role, err := models.ParseRole(c.Query("role"))
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	var req DelegateRef
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	check, err := h.roles.ValidateDelegation(c.Request.Context(), req.Email, role)
	if errors.Is(err, models.ErrNotFound) {
		response.NotFound(c, "user not found")
		return
	}
	if err != nil {
		response.Error(c, err, "failed to validate delegation")
		return
	}
	response.OK(c, check)
}
