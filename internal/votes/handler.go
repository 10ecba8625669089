package votes

import (
	"context"
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/consentdac/backend/internal/middleware"
	"github.com/consentdac/backend/internal/models"
	"github.com/consentdac/backend/pkg/response"
)

// Store is the vote persistence the handlers use. *Repository satisfies it.
type Store interface {
	GetVote(ctx context.Context, id int64) (*models.Vote, error)
	CastVote(ctx context.Context, id, userID int64, value bool, rationale string, hasConcerns bool) (*models.Vote, error)
	MarkReminderSent(ctx context.Context, id int64) error
}

// ElectionReader loads the election a vote belongs to.
type ElectionReader interface {
	GetElection(ctx context.Context, id int64) (*models.Election, error)
}

// UserReader loads the owner of a vote.
type UserReader interface {
	FindUserByID(ctx context.Context, id int64) (*models.User, error)
}

// Reminder mails a voter about a pending vote.
type Reminder interface {
	NotifyReminder(ctx context.Context, user models.User, e models.Election, v models.Vote) error
}

// Handler handles vote HTTP endpoints.
type Handler struct {
	repo      Store
	elections ElectionReader
	users     UserReader
	reminder  Reminder
	logger    *zap.Logger
}

// NewHandler creates a votes handler.
func NewHandler(repo Store, elections ElectionReader, users UserReader, reminder Reminder, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, elections: elections, users: users, reminder: reminder, logger: logger}
}

// CastRequest is the body for PUT /votes/:id.
type CastRequest struct {
	Vote        *bool  `json:"vote" binding:"required"`
	Rationale   string `json:"rationale" binding:"max=4000"`
	HasConcerns bool   `json:"hasConcerns"`
}

func voteID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.BadRequest(c, "invalid vote id")
		return 0, false
	}
	return id, true
}

// Cast handles PUT /votes/:id. Only the vote's owner may cast it, and only
// while its election is open.
func (h *Handler) Cast(c *gin.Context) {
	id, ok := voteID(c)
	if !ok {
		return
	}
	var req CastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	userID := middleware.UserID(c)
	v, err := h.repo.CastVote(c.Request.Context(), id, userID, *req.Vote, req.Rationale, req.HasConcerns)
	if errors.Is(err, models.ErrNotFound) {
		response.NotFound(c, "vote not found, not yours, or its election is closed")
		return
	}
	if err != nil {
		h.logger.Error("cast vote failed", zap.Error(err), zap.Int64("vote_id", id))
		response.Internal(c, "failed to cast vote")
		return
	}
	h.logger.Info("vote cast", zap.Int64("vote_id", id), zap.Int64("user_id", userID), zap.Bool("vote", *req.Vote))
	response.OK(c, v)
}

// Remind handles POST /votes/:id/reminder. The owner of an uncast vote on an
// open election is mailed, then the vote is flagged as reminded.
func (h *Handler) Remind(c *gin.Context) {
	id, ok := voteID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	v, err := h.repo.GetVote(ctx, id)
	if err != nil {
		response.Error(c, err, "failed to load vote")
		return
	}
	if v.Cast() {
		response.BadRequest(c, "vote already cast")
		return
	}
	e, err := h.elections.GetElection(ctx, v.ElectionID)
	if err != nil {
		response.Error(c, err, "failed to load election")
		return
	}
	if e.Status != models.ElectionStatusOpen {
		response.BadRequest(c, "election is not open")
		return
	}
	u, err := h.users.FindUserByID(ctx, v.DACUserID)
	if err != nil {
		response.Error(c, err, "failed to load voter")
		return
	}
	if err := h.reminder.NotifyReminder(ctx, *u, *e, *v); err != nil {
		h.logger.Error("send reminder failed", zap.Error(err), zap.Int64("vote_id", id))
		response.Internal(c, "failed to send reminder")
		return
	}
	if err := h.repo.MarkReminderSent(ctx, id); err != nil {
		h.logger.Error("mark reminder failed", zap.Error(err), zap.Int64("vote_id", id))
		response.Error(c, err, "failed to record reminder")
		return
	}
	v.ReminderSent = true
	h.logger.Info("vote reminder sent", zap.Int64("vote_id", id), zap.Int64("user_id", v.DACUserID))
	response.OK(c, v)
}
