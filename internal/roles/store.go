package roles

import (
	"context"

	"github.com/consentdac/backend/internal/models"
)

// Store runs fn inside a single transaction spanning roles, votes, elections
// and dataset associations. fn's error rolls everything back and is returned
// as-is.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the set of operations available inside a unit of work.
type Tx interface {
	UserStore
	ElectionStore
	VoteStore
	DatasetStore
}

// UserStore reads users and changes role assignments.
type UserStore interface {
	FindUserByID(ctx context.Context, id int64) (*models.User, error)
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	InsertUser(ctx context.Context, u *models.User) (int64, error)
	// UpdateProfile writes display name, additional email and email
	// preference. Roles are untouched.
	UpdateProfile(ctx context.Context, u *models.User) error
	FindRolesByUserID(ctx context.Context, userID int64) (models.RoleSet, error)
	// InsertUserRoles ignores roles the user already holds.
	InsertUserRoles(ctx context.Context, userID int64, roles ...models.Role) error
	RemoveUserRole(ctx context.Context, userID int64, role models.Role) error
	RemoveUserRoles(ctx context.Context, userID int64, roles ...models.Role) error
	CountUsersWithRole(ctx context.Context, role models.Role) (int, error)
	FindUsersByRole(ctx context.Context, role models.Role) ([]models.User, error)
	// FindChairperson returns models.ErrNotFound when nobody holds the role.
	FindChairperson(ctx context.Context) (*models.User, error)
}

// ElectionStore covers election lookups and status changes.
type ElectionStore interface {
	CountOpenElections(ctx context.Context) (int, error)
	// FindOpenElectionIDsByTypeAndUser lists open elections of type t on which
	// the user holds any vote.
	FindOpenElectionIDsByTypeAndUser(ctx context.Context, t models.ElectionType, userID int64) ([]int64, error)
	// FindAccessRPOpenElections lists open DataAccess and RP elections the
	// user holds a vote on. Only ID and Type are populated.
	FindAccessRPOpenElections(ctx context.Context, userID int64) ([]models.Election, error)
	FindRPElectionIDByAccessID(ctx context.Context, accessID int64) (int64, bool, error)
	FindAccessElectionIDByRPID(ctx context.Context, rpID int64) (int64, bool, error)
	// FindDataSetOpenElectionIDs lists open DataSet elections the user holds a
	// DATA_OWNER vote on.
	FindDataSetOpenElectionIDs(ctx context.Context, userID int64) ([]int64, error)
	// FindElectionsByTypeAndStatus lists elections of type t in status, oldest
	// first. Only ID, Type, Status and ReferenceID are populated.
	FindElectionsByTypeAndStatus(ctx context.Context, t models.ElectionType, status models.ElectionStatus) ([]models.Election, error)
	// UpdateElectionStatus fails when opening an election would give its
	// reference two Open elections of the same type.
	UpdateElectionStatus(ctx context.Context, ids []int64, status models.ElectionStatus) error
	BulkCancelOpenElections(ctx context.Context, t models.ElectionType, referenceIDs []string) (int64, error)
}

// VoteStore covers vote lookups, removal and reassignment.
type VoteStore interface {
	FindVotesOnOpenElections(ctx context.Context, userID int64) ([]models.Vote, error)
	FindVotesByTypeAndElectionIDs(ctx context.Context, electionIDs []int64, t models.VoteType) ([]models.Vote, error)
	FindVotesByElectionIDsTypeAndUser(ctx context.Context, electionIDs []int64, t models.VoteType, userID int64) ([]models.Vote, error)
	FindVotesByElectionIDsAndUser(ctx context.Context, electionIDs []int64, userID int64) ([]models.Vote, error)
	RemoveVotesByIDs(ctx context.Context, ids []int64) (int64, error)
	RemoveVotesByElectionIDsAndUser(ctx context.Context, electionIDs []int64, userID int64) (int64, error)
	// DelegateVotes rebinds from's votes on electionIDs to to. Votes that would
	// duplicate one to already holds are dropped.
	DelegateVotes(ctx context.Context, from int64, electionIDs []int64, to int64) (int64, error)
	// DelegateChairpersonVotes rebinds from's CHAIRPERSON and FINAL votes on
	// open elections to to.
	DelegateChairpersonVotes(ctx context.Context, from, to int64) (int64, error)
	InsertVotes(ctx context.Context, votes []models.Vote) ([]models.Vote, error)
}

// DatasetStore covers DataOwner dataset associations.
type DatasetStore interface {
	FindAssociationsByOwner(ctx context.Context, userID int64) ([]models.DatasetAssociation, error)
	DeleteAssociationsForUser(ctx context.Context, userID int64) error
	InsertAssociations(ctx context.Context, assocs []models.DatasetAssociation) error
}

// DarCollaborator manages data access requests owned by researchers.
type DarCollaborator interface {
	ListReferenceIDsForOwner(ctx context.Context, userID int64) ([]string, error)
	CancelDAR(ctx context.Context, referenceID string) error
}

// NotificationSink tells a user they inherited votes or duties from another
// user. Failures are logged by the caller and never abort a role change.
type NotificationSink interface {
	NotifyDelegatedResponsibilities(ctx context.Context, user models.User, previousUserID int64, role models.Role, votes []models.Vote) error
}
