package dars

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/consentdac/backend/internal/models"
	"github.com/consentdac/backend/pkg/database"
	"github.com/consentdac/backend/pkg/storage"
)

// Archiver stores snapshots of cancelled requests. *storage.S3 satisfies it.
type Archiver interface {
	Upload(ctx context.Context, key, contentType string, body io.Reader) error
}

// Repository persists data access requests as JSONB documents. It is also
// the roles package's DarCollaborator.
type Repository struct {
	db      database.DBTX
	archive Archiver
	logger  *zap.Logger
	now     func() time.Time
}

// NewRepository creates a DAR repository. archive may be nil.
func NewRepository(db database.DBTX, archive Archiver, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{db: db, archive: archive, logger: logger, now: time.Now}
}

const darColumns = `reference_id, user_id, dar_code, status, payload, create_date, update_date`

func scanDAR(row pgx.Row) (*models.DataAccessRequest, error) {
	var d models.DataAccessRequest
	err := row.Scan(&d.ReferenceID, &d.UserID, &d.DarCode, &d.Status, &d.Payload, &d.CreateDate, &d.UpdateDate)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// darCode derives the human-facing code from the reference id.
func darCode(ref uuid.UUID) string {
	return "DAR-" + strings.ToUpper(ref.String()[:8])
}

// Create stores a new Open request for userID.
func (r *Repository) Create(ctx context.Context, userID int64, payload json.RawMessage) (*models.DataAccessRequest, error) {
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	ref := uuid.New()
	return scanDAR(r.db.QueryRow(ctx, `INSERT INTO data_access_request (reference_id, user_id, dar_code, status, payload)
		VALUES ($1, $2, $3, $4, $5) RETURNING `+darColumns,
		ref, userID, darCode(ref), models.DARStatusOpen, []byte(payload)))
}

// Get returns a request by reference id, or models.ErrNotFound.
func (r *Repository) Get(ctx context.Context, ref uuid.UUID) (*models.DataAccessRequest, error) {
	return scanDAR(r.db.QueryRow(ctx, `SELECT `+darColumns+` FROM data_access_request WHERE reference_id = $1`, ref))
}

// ListByUser returns the user's requests, newest first.
func (r *Repository) ListByUser(ctx context.Context, userID int64) ([]models.DataAccessRequest, error) {
	rows, err := r.db.Query(ctx, `SELECT `+darColumns+` FROM data_access_request
		WHERE user_id = $1 ORDER BY create_date DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.DataAccessRequest
	for rows.Next() {
		d, err := scanDAR(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *d)
	}
	return list, rows.Err()
}

// ListReferenceIDsForOwner returns the reference ids of the user's open requests.
func (r *Repository) ListReferenceIDsForOwner(ctx context.Context, userID int64) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT reference_id::text FROM data_access_request
		WHERE user_id = $1 AND status = $2 ORDER BY create_date`, userID, models.DARStatusOpen)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var refs []string
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// CancelDAR marks the request Canceled and, when an archive is configured,
// stores a JSON snapshot of it. An archive failure is logged, not returned.
func (r *Repository) CancelDAR(ctx context.Context, referenceID string) error {
	ref, err := uuid.Parse(referenceID)
	if err != nil {
		return fmt.Errorf("parse reference id %q: %w", referenceID, err)
	}
	d, err := scanDAR(r.db.QueryRow(ctx, `UPDATE data_access_request SET status = $2, update_date = NOW()
		WHERE reference_id = $1 RETURNING `+darColumns, ref, models.DARStatusCanceled))
	if err != nil {
		return fmt.Errorf("cancel dar %s: %w", referenceID, err)
	}
	if r.archive == nil {
		return nil
	}
	body, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal dar %s: %w", referenceID, err)
	}
	key := storage.ArchiveKey(referenceID, r.now())
	if err := r.archive.Upload(ctx, key, "application/json", bytes.NewReader(body)); err != nil {
		r.logger.Warn("archive cancelled dar failed", zap.Error(err), zap.String("reference_id", referenceID))
	}
	return nil
}
