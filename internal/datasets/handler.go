package datasets

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/consentdac/backend/internal/models"
	"github.com/consentdac/backend/pkg/response"
)

// RoleReader reads a user's current roles.
type RoleReader interface {
	FindRolesByUserID(ctx context.Context, userID int64) (models.RoleSet, error)
}

// Handler handles dataset ownership endpoints.
type Handler struct {
	repo   *Repository
	users  RoleReader
	logger *zap.Logger
}

// NewHandler creates a datasets handler.
func NewHandler(repo *Repository, users RoleReader, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, users: users, logger: logger}
}

// AddOwnerRequest is the body for POST /datasets/:id/owners.
type AddOwnerRequest struct {
	DACUserID int64 `json:"dacUserId" binding:"required,gt=0"`
}

func datasetID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.BadRequest(c, "invalid dataset id")
		return 0, false
	}
	return id, true
}

// Owners handles GET /datasets/:id/owners.
func (h *Handler) Owners(c *gin.Context) {
	id, ok := datasetID(c)
	if !ok {
		return
	}
	list, err := h.repo.FindOwnersByDataset(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("list dataset owners failed", zap.Error(err), zap.Int64("dataset_id", id))
		response.Internal(c, "failed to list owners")
		return
	}
	if list == nil {
		list = []models.DatasetAssociation{}
	}
	response.OK(c, list)
}

// AddOwner handles POST /datasets/:id/owners. The user must hold DataOwner.
func (h *Handler) AddOwner(c *gin.Context) {
	id, ok := datasetID(c)
	if !ok {
		return
	}
	var req AddOwnerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	ctx := c.Request.Context()
	held, err := h.users.FindRolesByUserID(ctx, req.DACUserID)
	if err != nil {
		response.Error(c, err, "failed to load user roles")
		return
	}
	if !held.Has(models.RoleDataOwner) {
		response.BadRequest(c, "user is not a DataOwner")
		return
	}
	if err := h.repo.InsertAssociations(ctx, []models.DatasetAssociation{{DatasetID: id, DACUserID: req.DACUserID}}); err != nil {
		h.logger.Error("add dataset owner failed", zap.Error(err), zap.Int64("dataset_id", id))
		response.Internal(c, "failed to add owner")
		return
	}
	h.logger.Info("dataset owner added", zap.Int64("dataset_id", id), zap.Int64("user_id", req.DACUserID))
	response.Created(c, gin.H{"datasetId": id, "dacUserId": req.DACUserID})
}
