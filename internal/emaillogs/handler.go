package emaillogs

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/consentdac/backend/internal/models"
	"github.com/consentdac/backend/pkg/response"
)

// Handler handles email log HTTP endpoints.
type Handler struct {
	repo *Repository
}

// NewHandler creates an email logs handler.
func NewHandler(repo *Repository) *Handler {
	return &Handler{repo: repo}
}

// ListQuery is the query string for GET /emails.
type ListQuery struct {
	DACUserID int64  `form:"user_id" binding:"omitempty,gt=0"`
	Status    string `form:"status" binding:"omitempty,oneof=pending sent failed disabled"`
	Limit     int    `form:"limit" binding:"omitempty,gt=0,lte=500"`
}

// List handles GET /emails. Admin only.
func (h *Handler) List(c *gin.Context) {
	var q ListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.BadRequest(c, "invalid query: "+err.Error())
		return
	}
	logs, err := h.repo.List(c.Request.Context(), Filter{DACUserID: q.DACUserID, Status: q.Status, Limit: q.Limit})
	if err != nil {
		response.Internal(c, "failed to load email logs")
		return
	}
	if logs == nil {
		logs = []*models.EmailLog{}
	}
	c.Header("X-Result-Count", strconv.Itoa(len(logs)))
	response.OK(c, logs)
}
