package datasets

import (
	"context"

	"github.com/consentdac/backend/internal/models"
	"github.com/consentdac/backend/pkg/database"
)

// Repository handles dataset_user_association persistence.
type Repository struct {
	db database.DBTX
}

// NewRepository creates a dataset association repository.
func NewRepository(db database.DBTX) *Repository {
	return &Repository{db: db}
}

func (r *Repository) query(ctx context.Context, q string, arg int64) ([]models.DatasetAssociation, error) {
	rows, err := r.db.Query(ctx, q, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.DatasetAssociation
	for rows.Next() {
		var a models.DatasetAssociation
		if err := rows.Scan(&a.DatasetID, &a.DACUserID, &a.CreateDate); err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, rows.Err()
}

// FindAssociationsByOwner lists the datasets a user owns.
func (r *Repository) FindAssociationsByOwner(ctx context.Context, userID int64) ([]models.DatasetAssociation, error) {
	return r.query(ctx, `SELECT datasetid, dacuserid, createdate FROM dataset_user_association
		WHERE dacuserid = $1 ORDER BY datasetid`, userID)
}

// FindOwnersByDataset lists the owners of a dataset.
func (r *Repository) FindOwnersByDataset(ctx context.Context, datasetID int64) ([]models.DatasetAssociation, error) {
	return r.query(ctx, `SELECT datasetid, dacuserid, createdate FROM dataset_user_association
		WHERE datasetid = $1 ORDER BY dacuserid`, datasetID)
}

// DeleteAssociationsForUser removes every association of the user.
func (r *Repository) DeleteAssociationsForUser(ctx context.Context, userID int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM dataset_user_association WHERE dacuserid = $1`, userID)
	return err
}

// InsertAssociations creates associations; existing pairs are kept as they are.
func (r *Repository) InsertAssociations(ctx context.Context, assocs []models.DatasetAssociation) error {
	if len(assocs) == 0 {
		return nil
	}
	datasetIDs := make([]int64, len(assocs))
	userIDs := make([]int64, len(assocs))
	for i, a := range assocs {
		datasetIDs[i] = a.DatasetID
		userIDs[i] = a.DACUserID
	}
	const q = `INSERT INTO dataset_user_association (datasetid, dacuserid, createdate)
		SELECT d, u, NOW() FROM unnest($1::bigint[], $2::bigint[]) AS t(d, u)
		ON CONFLICT (datasetid, dacuserid) DO NOTHING`
	_, err := r.db.Exec(ctx, q, datasetIDs, userIDs)
	return err
}
