package roles

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/consentdac/backend/internal/models"
)

// CreateUser inserts u with its roles. A Chairperson role replaces any
// existing chairperson.
func (s *Service) CreateUser(ctx context.Context, u models.User) (*models.User, error) {
	u.Email = strings.TrimSpace(u.Email)
	if u.Email == "" {
		return nil, validationf("email is required")
	}
	if err := checkCompatible(u.Roles); err != nil {
		return nil, err
	}
	var created *models.User
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		_, err := tx.FindUserByEmail(ctx, u.Email)
		switch {
		case err == nil:
			return validationf("a user with email %s already exists", u.Email)
		case !errors.Is(err, models.ErrNotFound):
			return err
		}
		id, err := tx.InsertUser(ctx, &u)
		if err != nil {
			return err
		}
		plain := u.Roles.Minus(models.NewRoleSet(models.RoleChairperson))
		if plain.Len() > 0 {
			if err := tx.InsertUserRoles(ctx, id, plain.Slice()...); err != nil {
				return err
			}
		}
		if u.Roles.Has(models.RoleChairperson) {
			if err := s.promoteChairperson(ctx, tx, id); err != nil {
				return err
			}
		}
		if created, err = tx.FindUserByID(ctx, id); err != nil {
			return err
		}
		created.Roles, err = tx.FindRolesByUserID(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("user created", zap.Int64("user_id", created.ID), zap.Strings("roles", created.Roles.Names()))
	return created, nil
}

// AssignRole grants role to a user. Granting a role the user already holds
// is a no-op.
func (s *Service) AssignRole(ctx context.Context, userID int64, role models.Role) error {
	if !role.Valid() {
		return validationf("unknown role %d", role.ID())
	}
	return s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.FindUserByID(ctx, userID); err != nil {
			return err
		}
		current, err := tx.FindRolesByUserID(ctx, userID)
		if err != nil {
			return err
		}
		if err := checkCompatible(current.Union(models.NewRoleSet(role))); err != nil {
			return err
		}
		if role == models.RoleChairperson {
			return s.promoteChairperson(ctx, tx, userID)
		}
		return assignRole(ctx, tx, userID, role)
	})
}

// DelegationCheck tells the caller whether removing a role from a user needs
// someone to take over, and who could.
type DelegationCheck struct {
	NeedsDelegation bool          `json:"needsDelegation"`
	Candidates      []models.User `json:"delegateCandidates"`
}

// ValidateDelegation reports whether removing role from the user with email
// leaves open-election work behind, and lists users who could take it.
// Chairperson work goes to Members, Member work to Alumni and DataOwner work
// to other DataOwners.
func (s *Service) ValidateDelegation(ctx context.Context, email string, role models.Role) (*DelegationCheck, error) {
	check := &DelegationCheck{Candidates: []models.User{}}
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		user, err := tx.FindUserByEmail(ctx, strings.TrimSpace(email))
		if err != nil {
			return err
		}
		var candidateRole models.Role
		switch role {
		case models.RoleChairperson:
			votes, err := tx.FindVotesOnOpenElections(ctx, user.ID)
			if err != nil {
				return err
			}
			check.NeedsDelegation = len(votes) > 0
			candidateRole = models.RoleMember
		case models.RoleMember:
			dul, err := tx.FindOpenElectionIDsByTypeAndUser(ctx, models.ElectionTypeTranslateDUL, user.ID)
			if err != nil {
				return err
			}
			accessRP, err := tx.FindAccessRPOpenElections(ctx, user.ID)
			if err != nil {
				return err
			}
			check.NeedsDelegation = len(dul) > 0 || len(accessRP) > 0
			candidateRole = models.RoleAlumni
		case models.RoleDataOwner:
			ids, err := tx.FindDataSetOpenElectionIDs(ctx, user.ID)
			if err != nil {
				return err
			}
			assocs, err := tx.FindAssociationsByOwner(ctx, user.ID)
			if err != nil {
				return err
			}
			check.NeedsDelegation = len(ids) > 0 || len(assocs) > 0
			candidateRole = models.RoleDataOwner
		default:
			return nil
		}
		if !check.NeedsDelegation {
			return nil
		}
		users, err := tx.FindUsersByRole(ctx, candidateRole)
		if err != nil {
			return err
		}
		for _, u := range users {
			if u.ID != user.ID {
				check.Candidates = append(check.Candidates, u)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return check, nil
}
