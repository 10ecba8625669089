package votes

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/consentdac/backend/internal/models"
	"github.com/consentdac/backend/pkg/database"
)

// Repository handles vote persistence.
type Repository struct {
	db database.DBTX
}

// NewRepository creates a votes repository on a pool or a transaction.
func NewRepository(db database.DBTX) *Repository {
	return &Repository{db: db}
}

const voteColumns = `v.voteid, v.electionid, v.dacuserid, v.type, v.vote, COALESCE(v.rationale, ''),
	v.reminder_sent, v.has_concerns, v.createdate, v.updatedate`

func scanVote(row pgx.Row) (*models.Vote, error) {
	var v models.Vote
	err := row.Scan(&v.ID, &v.ElectionID, &v.DACUserID, &v.Type, &v.Value, &v.Rationale,
		&v.ReminderSent, &v.HasConcerns, &v.CreateDate, &v.UpdateDate)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *Repository) queryVotes(ctx context.Context, q string, args ...any) ([]models.Vote, error) {
	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Vote
	for rows.Next() {
		v, err := scanVote(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *v)
	}
	return list, rows.Err()
}

// GetVote returns a vote by id, or models.ErrNotFound.
func (r *Repository) GetVote(ctx context.Context, id int64) (*models.Vote, error) {
	return scanVote(r.db.QueryRow(ctx, `SELECT `+voteColumns+` FROM vote v WHERE v.voteid = $1`, id))
}

// ListByElection returns every vote on an election.
func (r *Repository) ListByElection(ctx context.Context, electionID int64) ([]models.Vote, error) {
	return r.queryVotes(ctx, `SELECT `+voteColumns+` FROM vote v WHERE v.electionid = $1 ORDER BY v.voteid`, electionID)
}

// CastVote records a value on an open election. It returns models.ErrNotFound
// when the vote does not exist, belongs to someone else, or its election is
// no longer open.
func (r *Repository) CastVote(ctx context.Context, id, userID int64, value bool, rationale string, hasConcerns bool) (*models.Vote, error) {
	const q = `UPDATE vote v SET vote = $3, rationale = NULLIF($4, ''), has_concerns = $5, updatedate = $6
		FROM election e
		WHERE v.voteid = $1 AND v.dacuserid = $2 AND e.electionid = v.electionid AND e.status = 'Open'
		RETURNING ` + voteColumns
	return scanVote(r.db.QueryRow(ctx, q, id, userID, value, rationale, hasConcerns, time.Now()))
}

// MarkReminderSent flags that the vote's owner was reminded to cast it.
func (r *Repository) MarkReminderSent(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `UPDATE vote SET reminder_sent = TRUE, updatedate = NOW() WHERE voteid = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// FindVotesOnOpenElections returns the user's votes on open elections, cast or not.
func (r *Repository) FindVotesOnOpenElections(ctx context.Context, userID int64) ([]models.Vote, error) {
	return r.queryVotes(ctx, `SELECT `+voteColumns+` FROM vote v
		JOIN election e ON e.electionid = v.electionid
		WHERE v.dacuserid = $1 AND e.status = 'Open' ORDER BY v.voteid`, userID)
}

// FindVotesByTypeAndElectionIDs returns votes of type t on the elections.
func (r *Repository) FindVotesByTypeAndElectionIDs(ctx context.Context, electionIDs []int64, t models.VoteType) ([]models.Vote, error) {
	return r.queryVotes(ctx, `SELECT `+voteColumns+` FROM vote v
		WHERE v.electionid = ANY($1) AND v.type = $2 ORDER BY v.voteid`, electionIDs, t)
}

// FindVotesByElectionIDsTypeAndUser returns the user's votes of type t on the elections.
func (r *Repository) FindVotesByElectionIDsTypeAndUser(ctx context.Context, electionIDs []int64, t models.VoteType, userID int64) ([]models.Vote, error) {
	return r.queryVotes(ctx, `SELECT `+voteColumns+` FROM vote v
		WHERE v.electionid = ANY($1) AND v.type = $2 AND v.dacuserid = $3 ORDER BY v.voteid`, electionIDs, t, userID)
}

// FindVotesByElectionIDsAndUser returns the user's votes on the elections.
func (r *Repository) FindVotesByElectionIDsAndUser(ctx context.Context, electionIDs []int64, userID int64) ([]models.Vote, error) {
	return r.queryVotes(ctx, `SELECT `+voteColumns+` FROM vote v
		WHERE v.electionid = ANY($1) AND v.dacuserid = $2 ORDER BY v.voteid`, electionIDs, userID)
}

// RemoveVotesByIDs deletes votes by id.
func (r *Repository) RemoveVotesByIDs(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.db.Exec(ctx, `DELETE FROM vote WHERE voteid = ANY($1)`, ids)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// RemoveVotesByElectionIDsAndUser deletes the user's votes on the elections.
func (r *Repository) RemoveVotesByElectionIDsAndUser(ctx context.Context, electionIDs []int64, userID int64) (int64, error) {
	if len(electionIDs) == 0 {
		return 0, nil
	}
	tag, err := r.db.Exec(ctx, `DELETE FROM vote WHERE electionid = ANY($1) AND dacuserid = $2`, electionIDs, userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// rebind moves from's votes matching filter to to. Votes that would collide
// with one to already holds are deleted first so the unique key holds.
func (r *Repository) rebind(ctx context.Context, from, to int64, filter string, args ...any) (int64, error) {
	base := []any{from, to}
	dropDuplicates := `DELETE FROM vote v USING vote mine
		WHERE v.dacuserid = $1 AND mine.dacuserid = $2
		AND mine.electionid = v.electionid AND mine.type = v.type AND ` + filter
	if _, err := r.db.Exec(ctx, dropDuplicates, append(base, args...)...); err != nil {
		return 0, err
	}
	move := `UPDATE vote v SET dacuserid = $2, updatedate = NOW() WHERE v.dacuserid = $1 AND ` + filter
	tag, err := r.db.Exec(ctx, move, append(base, args...)...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DelegateVotes moves from's votes on electionIDs to to.
func (r *Repository) DelegateVotes(ctx context.Context, from int64, electionIDs []int64, to int64) (int64, error) {
	if len(electionIDs) == 0 {
		return 0, nil
	}
	return r.rebind(ctx, from, to, `v.electionid = ANY($3)`, electionIDs)
}

// DelegateChairpersonVotes moves from's CHAIRPERSON and FINAL votes on open elections to to.
func (r *Repository) DelegateChairpersonVotes(ctx context.Context, from, to int64) (int64, error) {
	return r.rebind(ctx, from, to, `v.type IN ('CHAIRPERSON', 'FINAL')
		AND v.electionid IN (SELECT electionid FROM election WHERE status = 'Open')`)
}

// InsertVotes creates votes and returns them with their new ids.
func (r *Repository) InsertVotes(ctx context.Context, votes []models.Vote) ([]models.Vote, error) {
	if len(votes) == 0 {
		return nil, nil
	}
	const q = `INSERT INTO vote (electionid, dacuserid, type, vote, rationale, reminder_sent, has_concerns, createdate)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, NOW())
		RETURNING voteid, createdate`
	batch := &pgx.Batch{}
	for _, v := range votes {
		batch.Queue(q, v.ElectionID, v.DACUserID, v.Type, v.Value, v.Rationale, v.ReminderSent, v.HasConcerns)
	}
	results := r.db.SendBatch(ctx, batch)
	defer results.Close()
	out := make([]models.Vote, len(votes))
	for i, v := range votes {
		var created time.Time
		if err := results.QueryRow().Scan(&v.ID, &created); err != nil {
			return nil, err
		}
		v.CreateDate = &created
		out[i] = v
	}
	return out, results.Close()
}
