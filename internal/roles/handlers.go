package roles

import (
	"context"

	"go.uber.org/zap"

	"github.com/consentdac/backend/internal/models"
)

func (s *Service) removePlain(role models.Role) func(context.Context, *transition) error {
	return func(ctx context.Context, t *transition) error {
		return t.tx.RemoveUserRole(ctx, t.user.ID, role)
	}
}

func (s *Service) addPlain(role models.Role) func(context.Context, *transition) error {
	return func(ctx context.Context, t *transition) error {
		return assignRole(ctx, t.tx, t.user.ID, role)
	}
}

// assignRole inserts role unless a fresh read shows the user already has it.
func assignRole(ctx context.Context, tx Tx, userID int64, role models.Role) error {
	current, err := tx.FindRolesByUserID(ctx, userID)
	if err != nil {
		return err
	}
	if current.Has(role) {
		return nil
	}
	return tx.InsertUserRoles(ctx, userID, role)
}

// stripRoles removes whichever of roles the user currently holds.
func stripRoles(ctx context.Context, tx Tx, userID int64, roles ...models.Role) error {
	current, err := tx.FindRolesByUserID(ctx, userID)
	if err != nil {
		return err
	}
	held := current.Intersect(models.NewRoleSet(roles...))
	if held.Len() == 0 {
		return nil
	}
	return tx.RemoveUserRoles(ctx, userID, held.Slice()...)
}

func (s *Service) checkAdminFloor(ctx context.Context, tx Tx) error {
	admins, err := tx.CountUsersWithRole(ctx, models.RoleAdmin)
	if err != nil {
		return err
	}
	if admins <= s.opts.MinAdmins {
		return constraintf("at least %d users with the Admin role must remain", s.opts.MinAdmins)
	}
	return nil
}

func (s *Service) removeAdmin(ctx context.Context, t *transition) error {
	if err := s.checkAdminFloor(ctx, t.tx); err != nil {
		return err
	}
	return t.tx.RemoveUserRole(ctx, t.user.ID, models.RoleAdmin)
}

func (s *Service) addChairperson(ctx context.Context, t *transition) error {
	return s.promoteChairperson(ctx, t.tx, t.user.ID)
}

// promoteChairperson makes userID the only chairperson. Any other chairperson
// becomes Alumni and hands over their CHAIRPERSON and FINAL votes on open
// elections.
func (s *Service) promoteChairperson(ctx context.Context, tx Tx, userID int64) error {
	chairs, err := tx.FindUsersByRole(ctx, models.RoleChairperson)
	if err != nil {
		return err
	}
	for _, c := range chairs {
		if c.ID == userID {
			continue
		}
		if err := tx.RemoveUserRole(ctx, c.ID, models.RoleChairperson); err != nil {
			return err
		}
		if err := tx.InsertUserRoles(ctx, c.ID, models.RoleAlumni); err != nil {
			return err
		}
		moved, err := tx.DelegateChairpersonVotes(ctx, c.ID, userID)
		if err != nil {
			return err
		}
		s.metrics.VotesDelegated.Add(float64(moved))
		s.logger.Info("chairperson replaced",
			zap.Int64("previous_user_id", c.ID),
			zap.Int64("user_id", userID),
			zap.Int64("votes_moved", moved),
		)
	}
	return assignRole(ctx, tx, userID, models.RoleChairperson)
}

// removeChairperson drops the role. With a delegate, the outgoing chair's
// votes on open elections are re-created for the delegate, who becomes the
// new chairperson, and settled DataAccess elections are reopened. Without a
// delegate the votes are left untouched.
func (s *Service) removeChairperson(ctx context.Context, t *transition) error {
	uid := t.user.ID
	if err := t.tx.RemoveUserRole(ctx, uid, models.RoleChairperson); err != nil {
		return err
	}
	d := t.memberDelegate
	if d == nil {
		return nil
	}

	votes, err := t.tx.FindVotesOnOpenElections(ctx, uid)
	if err != nil {
		return err
	}
	if len(votes) > 0 {
		removed, err := t.tx.RemoveVotesByIDs(ctx, voteIDs(votes))
		if err != nil {
			return err
		}
		s.metrics.VotesRemoved.Add(float64(removed))

		held, err := t.tx.FindVotesByElectionIDsAndUser(ctx, electionIDsOf(votes), d.ID)
		if err != nil {
			return err
		}
		inserted, err := t.tx.InsertVotes(ctx, inheritVotes(votes, held, d.ID))
		if err != nil {
			return err
		}
		s.metrics.VotesDelegated.Add(float64(len(inserted)))
		t.notify(*d, uid, models.RoleChairperson, inserted)
	}

	if err := stripRoles(ctx, t.tx, d.ID, models.RoleAlumni, models.RoleMember); err != nil {
		return err
	}
	if err := s.promoteChairperson(ctx, t.tx, d.ID); err != nil {
		return err
	}
	return s.reopenFinalAccessElections(ctx, t.tx)
}

// inheritVotes re-binds votes to userID with cleared values. A vote is
// skipped when userID already holds one of the same type on that election,
// so a member promoted to chair keeps their own DAC vote.
func inheritVotes(votes, held []models.Vote, userID int64) []models.Vote {
	type key struct {
		election int64
		t        models.VoteType
	}
	taken := make(map[key]bool, len(held))
	for _, v := range held {
		taken[key{v.ElectionID, v.Type}] = true
	}
	out := make([]models.Vote, 0, len(votes))
	for _, v := range votes {
		k := key{v.ElectionID, v.Type}
		if taken[k] {
			continue
		}
		taken[k] = true
		out = append(out, v.ReassignedTo(userID))
	}
	return out
}

// removeMember drops the role and settles the member's votes on open
// TranslateDUL, DataAccess and RP elections. Elections whose DAC panel is
// complete pass to the delegate; the member's votes elsewhere are deleted.
func (s *Service) removeMember(ctx context.Context, t *transition) error {
	uid := t.user.ID
	if err := t.tx.RemoveUserRole(ctx, uid, models.RoleMember); err != nil {
		return err
	}
	dul, err := t.tx.FindOpenElectionIDsByTypeAndUser(ctx, models.ElectionTypeTranslateDUL, uid)
	if err != nil {
		return err
	}
	accessRP, err := t.tx.FindAccessRPOpenElections(ctx, uid)
	if err != nil {
		return err
	}

	d := t.memberDelegate
	if d == nil {
		all := append(append([]int64{}, dul...), electionIDsOfElections(accessRP)...)
		return s.removeVotes(ctx, t.tx, uid, uniqueIDs(all))
	}

	accessPlan, err := s.planAccessRP(ctx, t.tx, accessRP)
	if err != nil {
		return err
	}
	dulPlan, err := s.planByQuorum(ctx, t.tx, dul, models.VoteTypeDAC, s.opts.DACQuorum)
	if err != nil {
		return err
	}
	plan := accessPlan.merge(dulPlan)
	if err := s.removeVotes(ctx, t.tx, uid, plan.remove); err != nil {
		return err
	}
	if err := s.delegateVotes(ctx, t.tx, uid, plan.delegate, d.ID); err != nil {
		return err
	}
	if err := assignRole(ctx, t.tx, d.ID, models.RoleMember); err != nil {
		return err
	}
	if err := stripRoles(ctx, t.tx, d.ID, models.RoleAlumni, models.RoleChairperson); err != nil {
		return err
	}
	if len(dul) > 0 || len(accessRP) > 0 {
		votes, err := t.tx.FindVotesByElectionIDsAndUser(ctx, plan.delegate, d.ID)
		if err != nil {
			return err
		}
		t.notify(*d, uid, models.RoleMember, votes)
	}
	return nil
}

// removeDataOwner drops the role and settles DATA_OWNER votes on open
// DataSet elections. With a delegate, dataset ownership moves too; without
// one the user's dataset associations are deleted.
func (s *Service) removeDataOwner(ctx context.Context, t *transition) error {
	uid := t.user.ID
	if err := t.tx.RemoveUserRole(ctx, uid, models.RoleDataOwner); err != nil {
		return err
	}
	ids, err := t.tx.FindDataSetOpenElectionIDs(ctx, uid)
	if err != nil {
		return err
	}

	d := t.dataOwnerDelegate
	if d == nil {
		if err := s.removeVotes(ctx, t.tx, uid, ids); err != nil {
			return err
		}
		return t.tx.DeleteAssociationsForUser(ctx, uid)
	}

	if err := assignRole(ctx, t.tx, d.ID, models.RoleDataOwner); err != nil {
		return err
	}
	plan, err := s.planByQuorum(ctx, t.tx, ids, models.VoteTypeDataOwner, s.opts.DataOwnerQuorum)
	if err != nil {
		return err
	}
	if err := s.removeVotes(ctx, t.tx, uid, plan.remove); err != nil {
		return err
	}
	if err := s.delegateVotes(ctx, t.tx, uid, plan.delegate, d.ID); err != nil {
		return err
	}
	moved, err := transferDatasets(ctx, t.tx, uid, d.ID)
	if err != nil {
		return err
	}
	if len(ids) > 0 || moved > 0 {
		votes, err := t.tx.FindVotesByElectionIDsAndUser(ctx, plan.delegate, d.ID)
		if err != nil {
			return err
		}
		t.notify(*d, uid, models.RoleDataOwner, votes)
	}
	return nil
}

// transferDatasets moves from's dataset associations to to, skipping
// datasets to already owns. It returns the number of associations created.
func transferDatasets(ctx context.Context, tx Tx, from, to int64) (int, error) {
	outgoing, err := tx.FindAssociationsByOwner(ctx, from)
	if err != nil {
		return 0, err
	}
	owned, err := tx.FindAssociationsByOwner(ctx, to)
	if err != nil {
		return 0, err
	}
	have := make(map[int64]bool, len(owned))
	for _, a := range owned {
		have[a.DatasetID] = true
	}
	var moved []models.DatasetAssociation
	for _, a := range outgoing {
		if have[a.DatasetID] {
			continue
		}
		moved = append(moved, models.DatasetAssociation{DatasetID: a.DatasetID, DACUserID: to})
	}
	if err := tx.DeleteAssociationsForUser(ctx, from); err != nil {
		return 0, err
	}
	if len(moved) == 0 {
		return 0, nil
	}
	return len(moved), tx.InsertAssociations(ctx, moved)
}

// removeResearcher cancels every open DataAccess and RP election on the
// researcher's requests, cancels the requests, then drops the role.
// Requests are cancelled one by one through the DAR collaborator, outside
// this transaction, so a failure part way leaves earlier requests cancelled.
func (s *Service) removeResearcher(ctx context.Context, t *transition) error {
	uid := t.user.ID
	refs, err := s.dars.ListReferenceIDsForOwner(ctx, uid)
	if err != nil {
		return err
	}
	if len(refs) > 0 {
		for _, et := range []models.ElectionType{models.ElectionTypeDataAccess, models.ElectionTypeRP} {
			n, err := t.tx.BulkCancelOpenElections(ctx, et, refs)
			if err != nil {
				return err
			}
			if n > 0 {
				s.logger.Info("elections canceled for researcher",
					zap.Int64("user_id", uid),
					zap.String("election_type", string(et)),
					zap.Int64("count", n),
				)
			}
		}
	}
	for _, ref := range refs {
		if err := s.dars.CancelDAR(ctx, ref); err != nil {
			return err
		}
	}
	return t.tx.RemoveUserRole(ctx, uid, models.RoleResearcher)
}

func (t *transition) notify(user models.User, previousUserID int64, role models.Role, votes []models.Vote) {
	t.pending = append(t.pending, notification{user: user, previousUserID: previousUserID, role: role, votes: votes})
}

func voteIDs(votes []models.Vote) []int64 {
	out := make([]int64, len(votes))
	for i, v := range votes {
		out[i] = v.ID
	}
	return out
}

func electionIDsOf(votes []models.Vote) []int64 {
	ids := make([]int64, 0, len(votes))
	for _, v := range votes {
		ids = append(ids, v.ElectionID)
	}
	return uniqueIDs(ids)
}

func electionIDsOfElections(es []models.Election) []int64 {
	ids := make([]int64, len(es))
	for i, e := range es {
		ids[i] = e.ID
	}
	return ids
}

// uniqueIDs removes duplicates keeping first-seen order.
func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
