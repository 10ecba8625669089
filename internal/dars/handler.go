package dars

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/consentdac/backend/internal/middleware"
	"github.com/consentdac/backend/internal/models"
	"github.com/consentdac/backend/pkg/response"
	"github.com/consentdac/backend/pkg/storage"
)

// ElectionCanceler cancels the open elections attached to a request.
type ElectionCanceler interface {
	BulkCancelOpenElections(ctx context.Context, t models.ElectionType, referenceIDs []string) (int64, error)
}

// Requests is the DAR persistence the handlers use. *Repository satisfies it.
type Requests interface {
	Create(ctx context.Context, userID int64, payload json.RawMessage) (*models.DataAccessRequest, error)
	Get(ctx context.Context, ref uuid.UUID) (*models.DataAccessRequest, error)
	CancelDAR(ctx context.Context, referenceID string) error
}

// Recipients finds who hears about a cancelled request.
type Recipients interface {
	FindVotersOnOpenElections(ctx context.Context, referenceID string) ([]models.User, error)
	FindUsersByRole(ctx context.Context, role models.Role) ([]models.User, error)
}

// CancelNotifier mails the cancellation notice.
type CancelNotifier interface {
	NotifyDARCanceled(ctx context.Context, users []models.User, darCode string) error
}

// Presigner issues direct upload URLs. *storage.S3 satisfies it.
type Presigner interface {
	GeneratePresignedUploadURL(ctx context.Context, key, contentType string) (string, error)
	PresignExpire() time.Duration
}

// Handler handles DAR HTTP endpoints.
type Handler struct {
	repo       Requests
	elections  ElectionCanceler
	recipients Recipients
	notices    CancelNotifier
	presign    Presigner
	logger     *zap.Logger
}

// NewHandler creates a DAR handler. presign may be nil when S3 is not
// configured, notices when cancellations are not mailed.
func NewHandler(repo Requests, elections ElectionCanceler, recipients Recipients, notices CancelNotifier, presign Presigner, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, elections: elections, recipients: recipients, notices: notices, presign: presign, logger: logger}
}

// UploadURLRequest is the body for POST /dar/:id/attachments/upload-url.
type UploadURLRequest struct {
	Filename string `json:"filename" binding:"required"`
}

// Create handles POST /dar. The body is stored as the request document.
func (h *Handler) Create(c *gin.Context) {
	var payload json.RawMessage
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	d, err := h.repo.Create(c.Request.Context(), middleware.UserID(c), payload)
	if err != nil {
		h.logger.Error("create dar failed", zap.Error(err))
		response.Internal(c, "failed to create data access request")
		return
	}
	response.Created(c, d)
}

// load fetches the request named by :id and checks the caller may see it:
// its owner, or any committee role.
func (h *Handler) load(c *gin.Context) (*models.DataAccessRequest, bool) {
	ref, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid reference id")
		return nil, false
	}
	d, err := h.repo.Get(c.Request.Context(), ref)
	if err != nil {
		response.Error(c, err, "failed to load data access request")
		return nil, false
	}
	if d.UserID != middleware.UserID(c) &&
		!middleware.Roles(c).HasAny(models.RoleAdmin, models.RoleChairperson, models.RoleMember) {
		response.Forbidden(c, "not authorized to access this request")
		return nil, false
	}
	return d, true
}

// Get handles GET /dar/:id.
func (h *Handler) Get(c *gin.Context) {
	d, ok := h.load(c)
	if !ok {
		return
	}
	response.OK(c, d)
}

// Cancel handles PUT /dar/cancel/:id: open DataAccess and RP elections on
// the request are cancelled, then the request itself. The voters on those
// elections, or the admins when there were none, are told afterwards.
func (h *Handler) Cancel(c *gin.Context) {
	d, ok := h.load(c)
	if !ok {
		return
	}
	if d.UserID != middleware.UserID(c) && !middleware.Roles(c).Has(models.RoleAdmin) {
		response.Forbidden(c, "only the owner or an admin can cancel")
		return
	}
	if d.Status == models.DARStatusCanceled {
		response.OK(c, d)
		return
	}
	ctx := c.Request.Context()
	refs := []string{d.ReferenceID.String()}
	notify := h.cancelRecipients(ctx, refs[0])
	for _, t := range []models.ElectionType{models.ElectionTypeDataAccess, models.ElectionTypeRP} {
		if _, err := h.elections.BulkCancelOpenElections(ctx, t, refs); err != nil {
			h.logger.Error("cancel dar elections failed", zap.Error(err), zap.String("reference_id", refs[0]))
			response.Internal(c, "failed to cancel elections")
			return
		}
	}
	if err := h.repo.CancelDAR(ctx, refs[0]); err != nil {
		h.logger.Error("cancel dar failed", zap.Error(err), zap.String("reference_id", refs[0]))
		response.Error(c, err, "failed to cancel data access request")
		return
	}
	if h.notices != nil && len(notify) > 0 {
		if err := h.notices.NotifyDARCanceled(ctx, notify, d.DarCode); err != nil {
			h.logger.Warn("dar cancel notice failed", zap.Error(err), zap.String("reference_id", refs[0]))
		}
	}
	d, err := h.repo.Get(ctx, d.ReferenceID)
	if err != nil {
		response.Error(c, err, "failed to load data access request")
		return
	}
	response.OK(c, d)
}

// cancelRecipients must run before the elections are cancelled. Lookup
// failures only cost the notice.
func (h *Handler) cancelRecipients(ctx context.Context, ref string) []models.User {
	if h.notices == nil || h.recipients == nil {
		return nil
	}
	users, err := h.recipients.FindVotersOnOpenElections(ctx, ref)
	if err == nil && len(users) == 0 {
		users, err = h.recipients.FindUsersByRole(ctx, models.RoleAdmin)
	}
	if err != nil {
		h.logger.Warn("find dar cancel recipients failed", zap.Error(err), zap.String("reference_id", ref))
		return nil
	}
	return users
}

// UploadURL handles POST /dar/:id/attachments/upload-url. Only the owner may
// attach documents, and only while the request is open.
func (h *Handler) UploadURL(c *gin.Context) {
	if h.presign == nil {
		response.ServiceUnavailable(c, "S3 not configured")
		return
	}
	d, ok := h.load(c)
	if !ok {
		return
	}
	if d.UserID != middleware.UserID(c) {
		response.Forbidden(c, "only the owner can attach documents")
		return
	}
	if d.Status != models.DARStatusOpen {
		response.BadRequest(c, "request is not open")
		return
	}
	var req UploadURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	contentType, ok := storage.ContentTypeForFilename(req.Filename)
	if !ok {
		response.BadRequest(c, "unsupported attachment type")
		return
	}
	key := storage.AttachmentKey(d.ReferenceID.String(), req.Filename)
	url, err := h.presign.GeneratePresignedUploadURL(c.Request.Context(), key, contentType)
	if err != nil {
		h.logger.Error("presign attachment upload failed", zap.Error(err), zap.String("key", key))
		response.Internal(c, "failed to generate upload URL")
		return
	}
	response.OK(c, gin.H{
		"upload_url":   url,
		"key":          key,
		"content_type": contentType,
		"max_size":     storage.MaxAttachmentSize,
		"expires_in":   int(h.presign.PresignExpire().Seconds()),
	})
}
