package elections

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/consentdac/backend/internal/models"
	"github.com/consentdac/backend/pkg/database"
)

// Repository handles election and access_rp persistence.
type Repository struct {
	db database.DBTX
}

// NewRepository creates an elections repository on a pool or a transaction.
func NewRepository(db database.DBTX) *Repository {
	return &Repository{db: db}
}

const electionColumns = `electionid, electiontype, status, referenceid, finalvote, COALESCE(finalrationale, ''),
	finalvotedate, createdate, lastupdate`

func scanElection(row pgx.Row) (*models.Election, error) {
	var e models.Election
	err := row.Scan(&e.ID, &e.Type, &e.Status, &e.ReferenceID, &e.FinalVote, &e.FinalRationale,
		&e.FinalVoteDate, &e.CreateDate, &e.LastUpdate)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func collectIDs(rows pgx.Rows, err error) ([]int64, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetElection returns an election by id, or models.ErrNotFound.
func (r *Repository) GetElection(ctx context.Context, id int64) (*models.Election, error) {
	return scanElection(r.db.QueryRow(ctx, `SELECT `+electionColumns+` FROM election WHERE electionid = $1`, id))
}

// ListElections returns elections, optionally filtered by status, newest first.
func (r *Repository) ListElections(ctx context.Context, status models.ElectionStatus) ([]models.Election, error) {
	rows, err := r.db.Query(ctx, `SELECT `+electionColumns+` FROM election
		WHERE ($1 = '' OR status = $1) ORDER BY createdate DESC, electionid DESC`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Election
	for rows.Next() {
		e, err := scanElection(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *e)
	}
	return list, rows.Err()
}

// InsertElection creates an Open election. A concurrent open election on the
// same reference and type fails with a unique violation.
func (r *Repository) InsertElection(ctx context.Context, t models.ElectionType, referenceID string) (*models.Election, error) {
	const q = `INSERT INTO election (electiontype, status, referenceid, createdate)
		VALUES ($1, 'Open', $2, NOW()) RETURNING ` + electionColumns
	return scanElection(r.db.QueryRow(ctx, q, t, referenceID))
}

// InsertAccessRP pairs a DataAccess election with its RP election.
func (r *Repository) InsertAccessRP(ctx context.Context, accessID, rpID int64) error {
	_, err := r.db.Exec(ctx, `INSERT INTO access_rp (electionaccessid, electionrpid) VALUES ($1, $2)`, accessID, rpID)
	return err
}

// CloseElection records the final outcome and moves the election to status.
func (r *Repository) CloseElection(ctx context.Context, id int64, status models.ElectionStatus, finalVote *bool, rationale string) error {
	const q = `UPDATE election SET status = $2, finalvote = $3, finalrationale = NULLIF($4, ''),
		finalvotedate = CASE WHEN $3::boolean IS NULL THEN finalvotedate ELSE $5 END, lastupdate = $5
		WHERE electionid = $1 AND status = 'Open'`
	tag, err := r.db.Exec(ctx, q, id, status, finalVote, rationale, time.Now())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// CountOpenElections counts Open elections of any type.
func (r *Repository) CountOpenElections(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM election WHERE status = 'Open'`).Scan(&n)
	return n, err
}

// FindOpenElectionIDsByTypeAndUser lists open elections of type t the user holds a vote on.
func (r *Repository) FindOpenElectionIDsByTypeAndUser(ctx context.Context, t models.ElectionType, userID int64) ([]int64, error) {
	const q = `SELECT DISTINCT e.electionid FROM election e
		JOIN vote v ON v.electionid = e.electionid
		WHERE e.electiontype = $1 AND e.status = 'Open' AND v.dacuserid = $2
		ORDER BY e.electionid`
	return collectIDs(r.db.Query(ctx, q, t, userID))
}

// FindAccessRPOpenElections lists open DataAccess and RP elections the user holds a vote on.
func (r *Repository) FindAccessRPOpenElections(ctx context.Context, userID int64) ([]models.Election, error) {
	const q = `SELECT DISTINCT e.electionid, e.electiontype FROM election e
		JOIN vote v ON v.electionid = e.electionid
		WHERE e.electiontype IN ('DataAccess', 'RP') AND e.status = 'Open' AND v.dacuserid = $1
		ORDER BY e.electionid`
	rows, err := r.db.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Election
	for rows.Next() {
		var e models.Election
		if err := rows.Scan(&e.ID, &e.Type); err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, rows.Err()
}

func (r *Repository) findOne(ctx context.Context, q string, arg int64) (int64, bool, error) {
	var id int64
	err := r.db.QueryRow(ctx, q, arg).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// FindRPElectionIDByAccessID returns the RP election paired with a DataAccess election.
func (r *Repository) FindRPElectionIDByAccessID(ctx context.Context, accessID int64) (int64, bool, error) {
	return r.findOne(ctx, `SELECT electionrpid FROM access_rp WHERE electionaccessid = $1`, accessID)
}

// FindAccessElectionIDByRPID returns the DataAccess election paired with an RP election.
func (r *Repository) FindAccessElectionIDByRPID(ctx context.Context, rpID int64) (int64, bool, error) {
	return r.findOne(ctx, `SELECT electionaccessid FROM access_rp WHERE electionrpid = $1`, rpID)
}

// FindDataSetOpenElectionIDs lists open DataSet elections with a DATA_OWNER vote by the user.
func (r *Repository) FindDataSetOpenElectionIDs(ctx context.Context, userID int64) ([]int64, error) {
	const q = `SELECT DISTINCT e.electionid FROM election e
		JOIN vote v ON v.electionid = e.electionid
		WHERE e.electiontype = 'DataSet' AND e.status = 'Open' AND v.dacuserid = $1 AND v.type = 'DATA_OWNER'
		ORDER BY e.electionid`
	return collectIDs(r.db.Query(ctx, q, userID))
}

// FindElectionsByTypeAndStatus lists elections of type t in status, oldest first.
func (r *Repository) FindElectionsByTypeAndStatus(ctx context.Context, t models.ElectionType, status models.ElectionStatus) ([]models.Election, error) {
	rows, err := r.db.Query(ctx, `SELECT electionid, electiontype, status, referenceid FROM election
		WHERE electiontype = $1 AND status = $2 ORDER BY electionid`, t, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Election
	for rows.Next() {
		var e models.Election
		if err := rows.Scan(&e.ID, &e.Type, &e.Status, &e.ReferenceID); err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, rows.Err()
}

// UpdateElectionStatus sets status on every id.
func (r *Repository) UpdateElectionStatus(ctx context.Context, ids []int64, status models.ElectionStatus) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx, `UPDATE election SET status = $2, lastupdate = NOW() WHERE electionid = ANY($1)`, ids, status)
	return err
}

// BulkCancelOpenElections cancels open elections of type t on the given references.
func (r *Repository) BulkCancelOpenElections(ctx context.Context, t models.ElectionType, referenceIDs []string) (int64, error) {
	if len(referenceIDs) == 0 {
		return 0, nil
	}
	tag, err := r.db.Exec(ctx, `UPDATE election SET status = 'Canceled', lastupdate = NOW()
		WHERE electiontype = $1 AND status = 'Open' AND referenceid = ANY($2)`, t, referenceIDs)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
