package emaillogs

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/consentdac/backend/internal/models"
	"github.com/consentdac/backend/pkg/database"
)

// Repository handles email_logs persistence.
type Repository struct {
	db database.DBTX
}

// NewRepository creates an email logs repository.
func NewRepository(db database.DBTX) *Repository {
	return &Repository{db: db}
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	DACUserID int64
	Status    string
	Limit     int
}

// Insert stores a new log row; ID and CreatedAt are filled in when unset.
func (r *Repository) Insert(ctx context.Context, el *models.EmailLog) error {
	if el.ID == uuid.Nil {
		el.ID = uuid.New()
	}
	if el.Status == "" {
		el.Status = models.EmailLogStatusPending
	}
	const q = `INSERT INTO email_logs (id, dacuserid, election_id, email_type, recipient_email, subject, status)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7) RETURNING created_at`
	return r.db.QueryRow(ctx, q, el.ID, el.DACUserID, el.ElectionID, el.EmailType, el.RecipientEmail, el.Subject, el.Status).
		Scan(&el.CreatedAt)
}

// UpdateStatus settles delivery. sent_at is stamped when status is sent.
func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, status, errMsg string) error {
	var sentAt *time.Time
	if status == models.EmailLogStatusSent {
		now := time.Now()
		sentAt = &now
	}
	tag, err := r.db.Exec(ctx, `UPDATE email_logs SET status = $2, error_message = NULLIF($3, ''), sent_at = COALESCE($4, sent_at)
		WHERE id = $1`, id, status, errMsg, sentAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// List returns email logs, newest first.
func (r *Repository) List(ctx context.Context, f Filter) ([]*models.EmailLog, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	const q = `SELECT id, dacuserid, election_id, email_type, recipient_email, subject, status, sent_at, error_message, created_at
		FROM email_logs
		WHERE ($1 = 0 OR dacuserid = $1) AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3`
	rows, err := r.db.Query(ctx, q, f.DACUserID, f.Status, f.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.EmailLog
	for rows.Next() {
		var el models.EmailLog
		var subject, errMsg *string
		if err := rows.Scan(&el.ID, &el.DACUserID, &el.ElectionID, &el.EmailType, &el.RecipientEmail, &subject, &el.Status, &el.SentAt, &errMsg, &el.CreatedAt); err != nil {
			return nil, err
		}
		if subject != nil {
			el.Subject = *subject
		}
		if errMsg != nil {
			el.ErrorMessage = *errMsg
		}
		list = append(list, &el)
	}
	return list, rows.Err()
}
