package users

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/consentdac/backend/internal/models"
	"github.com/consentdac/backend/pkg/database"
)

// Repository handles dacuser and user_role persistence.
type Repository struct {
	db database.DBTX
}

// NewRepository creates a users repository on a pool or a transaction.
func NewRepository(db database.DBTX) *Repository {
	return &Repository{db: db}
}

const selectUser = `SELECT u.dacuserid, u.email, u.displayname, COALESCE(u.additional_email, ''), u.email_preference, u.create_date,
		COALESCE(array_agg(ur.role_id ORDER BY ur.role_id) FILTER (WHERE ur.role_id IS NOT NULL), '{}')
	FROM dacuser u
	LEFT JOIN user_role ur ON ur.user_id = u.dacuserid`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	var roleIDs []int32
	if err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.AdditionalEmail, &u.EmailPreference, &u.CreateDate, &roleIDs); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	roles, err := roleSetFromIDs(roleIDs)
	if err != nil {
		return nil, err
	}
	u.Roles = roles
	return &u, nil
}

func roleSetFromIDs(ids []int32) (models.RoleSet, error) {
	var s models.RoleSet
	for _, id := range ids {
		r, err := models.RoleFromID(int(id))
		if err != nil {
			return models.RoleSet{}, err
		}
		s.Add(r)
	}
	return s, nil
}

func roleIDs(roles []models.Role) []int32 {
	out := make([]int32, len(roles))
	for i, r := range roles {
		out[i] = int32(r.ID())
	}
	return out
}

// FindUserByID returns a user with roles, or models.ErrNotFound.
func (r *Repository) FindUserByID(ctx context.Context, id int64) (*models.User, error) {
	return scanUser(r.db.QueryRow(ctx, selectUser+` WHERE u.dacuserid = $1 GROUP BY u.dacuserid`, id))
}

// FindUserByEmail matches the email case-insensitively.
func (r *Repository) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return scanUser(r.db.QueryRow(ctx, selectUser+` WHERE LOWER(u.email) = LOWER($1) GROUP BY u.dacuserid`, strings.TrimSpace(email)))
}

// ListUsers returns every user ordered by display name.
func (r *Repository) ListUsers(ctx context.Context) ([]models.User, error) {
	return r.queryUsers(ctx, selectUser+` GROUP BY u.dacuserid ORDER BY u.displayname, u.email`)
}

// FindUsersByRole returns holders of role ordered by id.
func (r *Repository) FindUsersByRole(ctx context.Context, role models.Role) ([]models.User, error) {
	return r.queryUsers(ctx, selectUser+`
		WHERE u.dacuserid IN (SELECT user_id FROM user_role WHERE role_id = $1)
		GROUP BY u.dacuserid ORDER BY u.dacuserid`, role.ID())
}

// FindVotersOnOpenElections returns users holding a vote on an open
// DataAccess or RP election on referenceID, ordered by id.
func (r *Repository) FindVotersOnOpenElections(ctx context.Context, referenceID string) ([]models.User, error) {
	return r.queryUsers(ctx, selectUser+`
		WHERE u.dacuserid IN (
			SELECT v.dacuserid FROM vote v
			JOIN election e ON e.electionid = v.electionid
			WHERE e.referenceid = $1 AND e.status = 'Open' AND e.electiontype IN ('DataAccess', 'RP'))
		GROUP BY u.dacuserid ORDER BY u.dacuserid`, referenceID)
}

// FindChairperson returns the chairperson, or models.ErrNotFound.
func (r *Repository) FindChairperson(ctx context.Context) (*models.User, error) {
	list, err := r.FindUsersByRole(ctx, models.RoleChairperson)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, models.ErrNotFound
	}
	return &list[0], nil
}

func (r *Repository) queryUsers(ctx context.Context, q string, args ...any) ([]models.User, error) {
	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *u)
	}
	return list, rows.Err()
}

// InsertUser creates the dacuser row and returns its id. Roles are not written.
func (r *Repository) InsertUser(ctx context.Context, u *models.User) (int64, error) {
	const q = `INSERT INTO dacuser (email, displayname, additional_email, email_preference)
		VALUES ($1, $2, NULLIF($3, ''), $4) RETURNING dacuserid`
	var id int64
	err := r.db.QueryRow(ctx, q, u.Email, u.DisplayName, u.AdditionalEmail, u.EmailPreference).Scan(&id)
	return id, err
}

// UpdateProfile changes the display name and notification settings.
func (r *Repository) UpdateProfile(ctx context.Context, u *models.User) error {
	const q = `UPDATE dacuser SET displayname = $2, additional_email = NULLIF($3, ''), email_preference = $4
		WHERE dacuserid = $1`
	tag, err := r.db.Exec(ctx, q, u.ID, u.DisplayName, u.AdditionalEmail, u.EmailPreference)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// FindRolesByUserID returns the roles currently held, in id order.
func (r *Repository) FindRolesByUserID(ctx context.Context, userID int64) (models.RoleSet, error) {
	rows, err := r.db.Query(ctx, `SELECT role_id FROM user_role WHERE user_id = $1 ORDER BY role_id`, userID)
	if err != nil {
		return models.RoleSet{}, err
	}
	defer rows.Close()
	var ids []int32
	for rows.Next() {
		var id int32
		if err := rows.Scan(&id); err != nil {
			return models.RoleSet{}, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return models.RoleSet{}, err
	}
	return roleSetFromIDs(ids)
}

// InsertUserRoles grants roles; roles already held are left alone.
func (r *Repository) InsertUserRoles(ctx context.Context, userID int64, roles ...models.Role) error {
	if len(roles) == 0 {
		return nil
	}
	const q = `INSERT INTO user_role (user_id, role_id)
		SELECT $1, unnest($2::int[])
		ON CONFLICT (user_id, role_id) DO NOTHING`
	_, err := r.db.Exec(ctx, q, userID, roleIDs(roles))
	return err
}

// RemoveUserRole revokes a single role.
func (r *Repository) RemoveUserRole(ctx context.Context, userID int64, role models.Role) error {
	_, err := r.db.Exec(ctx, `DELETE FROM user_role WHERE user_id = $1 AND role_id = $2`, userID, role.ID())
	return err
}

// RemoveUserRoles revokes several roles at once.
func (r *Repository) RemoveUserRoles(ctx context.Context, userID int64, roles ...models.Role) error {
	if len(roles) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx, `DELETE FROM user_role WHERE user_id = $1 AND role_id = ANY($2)`, userID, roleIDs(roles))
	return err
}

// CountUsersWithRole counts current holders of role.
func (r *Repository) CountUsersWithRole(ctx context.Context, role models.Role) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM user_role WHERE role_id = $1`, role.ID()).Scan(&n)
	return n, err
}
