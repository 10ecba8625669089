package elections

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/consentdac/backend/internal/models"
	"github.com/consentdac/backend/pkg/database"
	"github.com/consentdac/backend/pkg/response"
)

// VoteLister reads the votes on an election.
type VoteLister interface {
	ListByElection(ctx context.Context, electionID int64) ([]models.Vote, error)
}

// Handler handles election HTTP endpoints.
type Handler struct {
	repo    *Repository
	service *Service
	votes   VoteLister
	logger  *zap.Logger
}

// NewHandler creates an elections handler.
func NewHandler(repo *Repository, service *Service, votes VoteLister, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, service: service, votes: votes, logger: logger}
}

// CreateRequest is the body for POST /elections.
type CreateRequest struct {
	ElectionType models.ElectionType `json:"electionType" binding:"required,oneof=DataAccess TranslateDUL RP DataSet"`
	ReferenceID  string              `json:"referenceId" binding:"required"`
}

// CloseRequest is the body for PUT /elections/:id/close. A final vote moves
// the election to Final, otherwise it is Closed.
type CloseRequest struct {
	FinalVote *bool  `json:"finalVote"`
	Rationale string `json:"finalRationale" binding:"max=4000"`
}

func electionID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.BadRequest(c, "invalid election id")
		return 0, false
	}
	return id, true
}

// Create handles POST /elections.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	created, err := h.service.Create(c.Request.Context(), req.ElectionType, req.ReferenceID)
	if database.IsUniqueViolation(err) {
		response.Conflict(c, "an open election already exists for this reference")
		return
	}
	if err != nil {
		h.logger.Error("create election failed", zap.Error(err), zap.String("reference_id", req.ReferenceID))
		response.Error(c, err, "failed to create election")
		return
	}
	response.Created(c, created)
}

// List handles GET /elections?status=.
func (h *Handler) List(c *gin.Context) {
	status := models.ElectionStatus(c.Query("status"))
	list, err := h.repo.ListElections(c.Request.Context(), status)
	if err != nil {
		h.logger.Error("list elections failed", zap.Error(err))
		response.Internal(c, "failed to list elections")
		return
	}
	if list == nil {
		list = []models.Election{}
	}
	response.OK(c, list)
}

// Get handles GET /elections/:id.
func (h *Handler) Get(c *gin.Context) {
	id, ok := electionID(c)
	if !ok {
		return
	}
	e, err := h.repo.GetElection(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err, "failed to load election")
		return
	}
	response.OK(c, e)
}

// Votes handles GET /elections/:id/votes.
func (h *Handler) Votes(c *gin.Context) {
	id, ok := electionID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if _, err := h.repo.GetElection(ctx, id); err != nil {
		response.Error(c, err, "failed to load election")
		return
	}
	list, err := h.votes.ListByElection(ctx, id)
	if err != nil {
		h.logger.Error("list votes failed", zap.Error(err), zap.Int64("election_id", id))
		response.Internal(c, "failed to list votes")
		return
	}
	if list == nil {
		list = []models.Vote{}
	}
	response.OK(c, list)
}

// Close handles PUT /elections/:id/close.
func (h *Handler) Close(c *gin.Context) {
	id, ok := electionID(c)
	if !ok {
		return
	}
	var req CloseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	status := models.ElectionStatusClosed
	if req.FinalVote != nil {
		status = models.ElectionStatusFinal
	}
	ctx := c.Request.Context()
	if err := h.repo.CloseElection(ctx, id, status, req.FinalVote, req.Rationale); err != nil {
		h.logger.Warn("close election failed", zap.Error(err), zap.Int64("election_id", id))
		response.Error(c, err, "failed to close election")
		return
	}
	e, err := h.repo.GetElection(ctx, id)
	if err != nil {
		response.Error(c, err, "failed to load election")
		return
	}
	response.OK(c, e)
}
