package roles

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/consentdac/backend/internal/models"
	"github.com/consentdac/backend/pkg/metrics"
)

type fixture struct {
	store *memStore
	sink  *recordingSink
	dars  *fakeDars
	svc   *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: newMemStore(),
		sink:  &recordingSink{},
		dars:  &fakeDars{refs: map[int64][]string{}},
	}
	f.svc = NewService(f.store, f.dars, f.sink, DefaultOptions(), metrics.Nop(), zap.NewNop())
	return f
}

func (f *fixture) update(ctx context.Context, userID int64, desired models.RoleSet, member, owner string) error {
	req := UpdateRequest{UpdatedUser: models.User{ID: userID, Roles: desired}}
	if member != "" {
		req.DelegateMember = &models.User{Email: member}
	}
	if owner != "" {
		req.DelegateDataOwner = &models.User{Email: owner}
	}
	return f.svc.UpdateRoles(ctx, req)
}

func roleSet(roles ...models.Role) models.RoleSet { return models.NewRoleSet(roles...) }

func electionIDs(votes []models.Vote) []int64 {
	out := make([]int64, len(votes))
	for i, v := range votes {
		out[i] = v.ElectionID
	}
	return out
}

func TestComputeDiff_ExactAndDisjoint(t *testing.T) {
	subsets := make([]models.RoleSet, 0, 1<<len(models.AllRoles))
	for mask := 0; mask < 1<<len(models.AllRoles); mask++ {
		var s models.RoleSet
		for i, r := range models.AllRoles {
			if mask&(1<<i) != 0 {
				s.Add(r)
			}
		}
		subsets = append(subsets, s)
	}
	for _, current := range subsets {
		for _, desired := range subsets {
			d := ComputeDiff(current, desired)
			assert.True(t, d.Remove.Union(desired).Equal(current.Union(d.Add)),
				"current=%v desired=%v", current.Names(), desired.Names())
			assert.Zero(t, d.Remove.Intersect(d.Add).Len())
		}
	}
}

func TestUpdateRoles_UserNotFound(t *testing.T) {
	f := newFixture(t)
	err := f.update(context.Background(), 42, roleSet(models.RoleMember), "", "")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestUpdateRoles_NoChangeIsNoop(t *testing.T) {
	f := newFixture(t)
	u := f.store.addUser("u@example.org", models.RoleMember)
	f.store.addElection(models.ElectionTypeTranslateDUL, models.ElectionStatusOpen, "c1")

	require.NoError(t, f.update(context.Background(), u, roleSet(models.RoleMember), "", ""))
	assert.True(t, f.store.rolesOf(u).Equal(roleSet(models.RoleMember)))
	assert.Empty(t, f.sink.calls)
}

// Chairperson removed with a delegate: the delegate becomes chair, inherits
// pending votes and settled access elections reopen.
func TestUpdateRoles_ChairpersonSuccession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	u := f.store.addUser("chair@example.org", models.RoleChairperson)
	d := f.store.addUser("member@example.org", models.RoleMember)
	e1 := f.store.addElection(models.ElectionTypeDataAccess, models.ElectionStatusFinal, "dar-1")
	e0 := f.store.addElection(models.ElectionTypeDataAccess, models.ElectionStatusOpen, "dar-0")
	f.store.addVote(e0, u, models.VoteTypeDAC)
	f.store.addVote(e0, u, models.VoteTypeChairperson)
	f.store.addVote(e0, u, models.VoteTypeFinal)
	f.store.addVote(e0, d, models.VoteTypeDAC)

	require.NoError(t, f.update(ctx, u, roleSet(models.RoleAlumni), "member@example.org", ""))

	assert.True(t, f.store.rolesOf(u).Equal(roleSet(models.RoleAlumni)))
	assert.True(t, f.store.rolesOf(d).Equal(roleSet(models.RoleChairperson)))
	assert.Equal(t, models.ElectionStatusOpen, f.store.st.elections[e1].Status)
	assert.Empty(t, f.store.votesOf(u))

	var types []models.VoteType
	for _, v := range f.store.votesOf(d) {
		assert.Equal(t, e0, v.ElectionID)
		assert.Nil(t, v.Value)
		types = append(types, v.Type)
	}
	assert.ElementsMatch(t, []models.VoteType{models.VoteTypeDAC, models.VoteTypeChairperson, models.VoteTypeFinal}, types)

	require.Len(t, f.sink.calls, 1)
	call := f.sink.calls[0]
	assert.Equal(t, d, call.user.ID)
	assert.Equal(t, u, call.previousUserID)
	assert.Equal(t, models.RoleChairperson, call.role)
	assert.Len(t, call.votes, 2)
}

func TestUpdateRoles_ChairpersonSuccessionWithoutVotes(t *testing.T) {
	f := newFixture(t)
	u := f.store.addUser("chair@example.org", models.RoleChairperson)
	d := f.store.addUser("alum@example.org", models.RoleAlumni)
	e1 := f.store.addElection(models.ElectionTypeDataAccess, models.ElectionStatusFinal, "dar-1")

	require.NoError(t, f.update(context.Background(), u, roleSet(), "alum@example.org", ""))

	assert.Zero(t, f.store.rolesOf(u).Len())
	assert.True(t, f.store.rolesOf(d).Equal(roleSet(models.RoleChairperson)))
	assert.Equal(t, models.ElectionStatusOpen, f.store.st.elections[e1].Status)
	assert.Empty(t, f.sink.calls)
}

func TestUpdateRoles_ChairpersonSuccessionSkipsFinalWithOpenSibling(t *testing.T) {
	f := newFixture(t)
	u := f.store.addUser("chair@example.org", models.RoleChairperson)
	f.store.addUser("member@example.org", models.RoleMember)
	settled := f.store.addElection(models.ElectionTypeDataAccess, models.ElectionStatusFinal, "dar-1")
	older := f.store.addElection(models.ElectionTypeDataAccess, models.ElectionStatusFinal, "dar-2")
	newer := f.store.addElection(models.ElectionTypeDataAccess, models.ElectionStatusFinal, "dar-2")
	reopened := f.store.addElection(models.ElectionTypeDataAccess, models.ElectionStatusOpen, "dar-1")
	lone := f.store.addElection(models.ElectionTypeDataAccess, models.ElectionStatusFinal, "dar-3")
	f.store.addVote(reopened, u, models.VoteTypeChairperson)

	require.NoError(t, f.update(context.Background(), u, roleSet(models.RoleAlumni), "member@example.org", ""))

	status := func(id int64) models.ElectionStatus { return f.store.st.elections[id].Status }
	assert.Equal(t, models.ElectionStatusFinal, status(settled))
	assert.Equal(t, models.ElectionStatusOpen, status(reopened))
	assert.Equal(t, models.ElectionStatusFinal, status(older))
	assert.Equal(t, models.ElectionStatusOpen, status(newer))
	assert.Equal(t, models.ElectionStatusOpen, status(lone))
}

func TestUpdateRoles_ChairpersonRemovedWithoutDelegateKeepsVotes(t *testing.T) {
	f := newFixture(t)
	u := f.store.addUser("chair@example.org", models.RoleChairperson)
	e0 := f.store.addElection(models.ElectionTypeDataAccess, models.ElectionStatusOpen, "dar-0")
	e1 := f.store.addElection(models.ElectionTypeDataAccess, models.ElectionStatusFinal, "dar-1")
	f.store.addVote(e0, u, models.VoteTypeChairperson)

	require.NoError(t, f.update(context.Background(), u, roleSet(models.RoleAlumni), "", ""))

	assert.True(t, f.store.rolesOf(u).Equal(roleSet(models.RoleAlumni)))
	assert.Len(t, f.store.votesOf(u), 1)
	assert.Equal(t, models.ElectionStatusFinal, f.store.st.elections[e1].Status)
}

// Member removed without delegate: pending votes are deleted, nobody gains
// a role.
func TestUpdateRoles_MemberRemovedWithoutDelegate(t *testing.T) {
	f := newFixture(t)
	u := f.store.addUser("member@example.org", models.RoleMember)
	other := f.store.addUser("other@example.org", models.RoleMember)
	e2 := f.store.addElection(models.ElectionTypeTranslateDUL, models.ElectionStatusOpen, "consent-2")
	f.store.addVote(e2, u, models.VoteTypeDAC)
	otherVote := f.store.addVote(e2, other, models.VoteTypeDAC)

	require.NoError(t, f.update(context.Background(), u, roleSet(), "", ""))

	assert.Empty(t, f.store.votesOf(u))
	assert.Zero(t, f.store.rolesOf(u).Len())
	assert.True(t, f.store.rolesOf(other).Equal(roleSet(models.RoleMember)))
	require.Len(t, f.store.votesOn(e2), 1)
	assert.Equal(t, otherVote, f.store.votesOn(e2)[0].ID)
	assert.Empty(t, f.sink.calls)
}

func TestUpdateRoles_MemberRemovedWithoutDelegateDropsAccessVotes(t *testing.T) {
	f := newFixture(t)
	u := f.store.addUser("member@example.org", models.RoleMember)
	others := []int64{
		f.store.addUser("a@example.org", models.RoleMember),
		f.store.addUser("b@example.org", models.RoleMember),
		f.store.addUser("c@example.org", models.RoleChairperson),
	}
	access := f.store.addElection(models.ElectionTypeDataAccess, models.ElectionStatusOpen, "dar-1")
	rp := f.store.addElection(models.ElectionTypeRP, models.ElectionStatusOpen, "dar-1")
	dul := f.store.addElection(models.ElectionTypeTranslateDUL, models.ElectionStatusOpen, "consent-1")
	f.store.pair(access, rp)
	for _, e := range []int64{access, rp, dul} {
		f.store.addVote(e, u, models.VoteTypeDAC)
		for _, o := range others {
			f.store.addVote(e, o, models.VoteTypeDAC)
		}
	}

	require.NoError(t, f.update(context.Background(), u, roleSet(), "", ""))

	assert.Empty(t, f.store.votesOf(u))
	for _, o := range others {
		assert.Len(t, f.store.votesOf(o), 3)
	}
}

// Member with a delegate: every election whose panel is complete passes to
// the delegate, who becomes a Member and stops being Alumni.
func TestUpdateRoles_MemberDelegationConservesVotes(t *testing.T) {
	f := newFixture(t)
	u := f.store.addUser("member@example.org", models.RoleMember)
	d := f.store.addUser("alum@example.org", models.RoleAlumni)
	others := []int64{
		f.store.addUser("a@example.org", models.RoleMember),
		f.store.addUser("b@example.org", models.RoleMember),
		f.store.addUser("c@example.org", models.RoleChairperson),
	}
	dul1 := f.store.addElection(models.ElectionTypeTranslateDUL, models.ElectionStatusOpen, "consent-1")
	dul2 := f.store.addElection(models.ElectionTypeTranslateDUL, models.ElectionStatusOpen, "consent-2")
	access := f.store.addElection(models.ElectionTypeDataAccess, models.ElectionStatusOpen, "dar-1")
	rp := f.store.addElection(models.ElectionTypeRP, models.ElectionStatusOpen, "dar-1")
	f.store.pair(access, rp)
	elections := []int64{dul1, dul2, access, rp}
	for _, e := range elections {
		f.store.addVote(e, u, models.VoteTypeDAC)
		for _, o := range others {
			f.store.addVote(e, o, models.VoteTypeDAC)
		}
	}

	require.NoError(t, f.update(context.Background(), u, roleSet(), "alum@example.org", ""))

	assert.Empty(t, f.store.votesOf(u))
	assert.ElementsMatch(t, elections, electionIDs(f.store.votesOf(d)))
	assert.True(t, f.store.rolesOf(d).Equal(roleSet(models.RoleMember)))
	for _, e := range elections {
		assert.Len(t, f.store.votesOn(e), 4, "election %d", e)
	}
	require.Len(t, f.sink.calls, 1)
	assert.Equal(t, models.RoleMember, f.sink.calls[0].role)
	assert.Len(t, f.sink.calls[0].votes, len(elections))
}

func TestUpdateRoles_MemberDelegationDropsIncompletePanels(t *testing.T) {
	f := newFixture(t)
	u := f.store.addUser("member@example.org", models.RoleMember)
	d := f.store.addUser("alum@example.org", models.RoleAlumni)
	o := f.store.addUser("a@example.org", models.RoleMember)
	dul := f.store.addElection(models.ElectionTypeTranslateDUL, models.ElectionStatusOpen, "consent-1")
	f.store.addVote(dul, u, models.VoteTypeDAC)
	f.store.addVote(dul, o, models.VoteTypeDAC)

	require.NoError(t, f.update(context.Background(), u, roleSet(), "alum@example.org", ""))

	assert.Empty(t, f.store.votesOf(u))
	assert.Empty(t, f.store.votesOf(d))
	assert.True(t, f.store.rolesOf(d).Has(models.RoleMember))
	require.Len(t, f.sink.calls, 1)
	assert.Empty(t, f.sink.calls[0].votes)
}

func TestUpdateRoles_MemberDelegationSkipsVotesDelegateHolds(t *testing.T) {
	f := newFixture(t)
	u := f.store.addUser("member@example.org", models.RoleMember)
	d := f.store.addUser("member2@example.org", models.RoleMember)
	o1 := f.store.addUser("a@example.org", models.RoleMember)
	o2 := f.store.addUser("b@example.org", models.RoleMember)
	dul := f.store.addElection(models.ElectionTypeTranslateDUL, models.ElectionStatusOpen, "consent-1")
	for _, id := range []int64{u, d, o1, o2} {
		f.store.addVote(dul, id, models.VoteTypeDAC)
	}

	require.NoError(t, f.update(context.Background(), u, roleSet(), "member2@example.org", ""))

	assert.Empty(t, f.store.votesOf(u))
	assert.Len(t, f.store.votesOf(d), 1)
}

// DataOwner removed with a delegate: the single owner vote and the dataset
// ownership move to the delegate.
func TestUpdateRoles_DataOwnerDelegation(t *testing.T) {
	f := newFixture(t)
	u := f.store.addUser("owner@example.org", models.RoleDataOwner, models.RoleResearcher)
	d := f.store.addUser("owner2@example.org", models.RoleResearcher)
	e3 := f.store.addElection(models.ElectionTypeDataSet, models.ElectionStatusOpen, "dataset-10")
	voteID := f.store.addVote(e3, u, models.VoteTypeDataOwner)
	f.store.addAssoc(10, u)
	f.store.addAssoc(11, u)
	f.store.addAssoc(11, d)

	require.NoError(t, f.update(context.Background(), u, roleSet(models.RoleResearcher), "", "owner2@example.org"))

	require.Len(t, f.store.votesOn(e3), 1)
	v := f.store.votesOn(e3)[0]
	assert.Equal(t, voteID, v.ID)
	assert.Equal(t, d, v.DACUserID)
	assert.Empty(t, f.store.datasetsOf(u))
	assert.Equal(t, []int64{10, 11}, f.store.datasetsOf(d))
	assert.True(t, f.store.rolesOf(d).Equal(roleSet(models.RoleResearcher, models.RoleDataOwner)))
	assert.True(t, f.store.rolesOf(u).Equal(roleSet(models.RoleResearcher)))
	require.Len(t, f.sink.calls, 1)
	assert.Equal(t, models.RoleDataOwner, f.sink.calls[0].role)
	assert.Len(t, f.sink.calls[0].votes, 1)
}

func TestUpdateRoles_DataOwnerRemovedWithoutDelegate(t *testing.T) {
	f := newFixture(t)
	u := f.store.addUser("owner@example.org", models.RoleDataOwner)
	f.store.addUser("someone@example.org", models.RoleMember)
	e := f.store.addElection(models.ElectionTypeDataSet, models.ElectionStatusOpen, "dataset-10")
	f.store.addVote(e, u, models.VoteTypeDataOwner)
	f.store.addAssoc(10, u)

	require.NoError(t, f.update(context.Background(), u, roleSet(), "", ""))

	assert.Empty(t, f.store.votesOf(u))
	assert.Empty(t, f.store.datasetsOf(u))
	assert.Empty(t, f.sink.calls)
}

func TestUpdateRoles_DataOwnerDelegationDropsSharedElections(t *testing.T) {
	f := newFixture(t)
	u := f.store.addUser("owner@example.org", models.RoleDataOwner)
	d := f.store.addUser("owner2@example.org")
	co := f.store.addUser("coowner@example.org", models.RoleDataOwner)
	e := f.store.addElection(models.ElectionTypeDataSet, models.ElectionStatusOpen, "dataset-10")
	f.store.addVote(e, u, models.VoteTypeDataOwner)
	f.store.addVote(e, co, models.VoteTypeDataOwner)

	require.NoError(t, f.update(context.Background(), u, roleSet(), "", "owner2@example.org"))

	assert.Empty(t, f.store.votesOf(u))
	assert.Empty(t, f.store.votesOf(d))
	assert.Len(t, f.store.votesOf(co), 1)
}

func TestUpdateRoles_AdminFloor(t *testing.T) {
	for _, withOpenElection := range []bool{false, true} {
		name := "no open elections"
		if withOpenElection {
			name = "open elections"
		}
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t)
			a1 := f.store.addUser("a1@example.org", models.RoleAdmin)
			a2 := f.store.addUser("a2@example.org", models.RoleAdmin, models.RoleResearcher)
			a3 := f.store.addUser("a3@example.org", models.RoleAdmin)
			if withOpenElection {
				f.store.addElection(models.ElectionTypeTranslateDUL, models.ElectionStatusOpen, "c1")
			}

			require.NoError(t, f.update(ctx, a3, roleSet(), "", ""))
			assert.Zero(t, f.store.rolesOf(a3).Len())

			err := f.update(ctx, a2, roleSet(models.RoleResearcher), "", "")
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrConstraint)
			var roleErr *Error
			require.True(t, errors.As(err, &roleErr))
			assert.Contains(t, roleErr.Msg, "Admin")
			assert.True(t, f.store.rolesOf(a2).Equal(roleSet(models.RoleAdmin, models.RoleResearcher)))
			assert.True(t, f.store.rolesOf(a1).Has(models.RoleAdmin))
		})
	}
}

func TestUpdateRoles_IncompatibleRoles(t *testing.T) {
	tests := []struct {
		name    string
		start   []models.Role
		desired models.RoleSet
		open    bool
	}{
		{"researcher added to member", []models.Role{models.RoleMember}, roleSet(models.RoleMember, models.RoleResearcher), false},
		{"alumni added to chair", []models.Role{models.RoleChairperson}, roleSet(models.RoleChairperson, models.RoleAlumni), false},
		{"both at once", nil, roleSet(models.RoleMember, models.RoleAlumni), false},
		{"chair added to alumni", []models.Role{models.RoleAlumni}, roleSet(models.RoleAlumni, models.RoleChairperson), true},
		{"member added to researcher", []models.Role{models.RoleResearcher}, roleSet(models.RoleResearcher, models.RoleMember), false},
		{"member added to alumni with open election", []models.Role{models.RoleAlumni}, roleSet(models.RoleMember, models.RoleAlumni), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			u := f.store.addUser("u@example.org", tt.start...)
			if tt.open {
				f.store.addElection(models.ElectionTypeDataAccess, models.ElectionStatusOpen, "dar-1")
			}
			err := f.update(context.Background(), u, tt.desired, "", "")
			assert.ErrorIs(t, err, ErrValidation)
			assert.True(t, f.store.rolesOf(u).Equal(roleSet(tt.start...)))
		})
	}
}

func TestUpdateRoles_DelegateValidation(t *testing.T) {
	f := newFixture(t)
	u := f.store.addUser("member@example.org", models.RoleMember)

	err := f.update(context.Background(), u, roleSet(), "nobody@example.org", "")
	assert.ErrorIs(t, err, ErrValidation)

	err = f.update(context.Background(), u, roleSet(), "member@example.org", "")
	assert.ErrorIs(t, err, ErrValidation)

	err = f.svc.UpdateRoles(context.Background(), UpdateRequest{
		UpdatedUser:    models.User{ID: u},
		DelegateMember: &models.User{},
	})
	assert.ErrorIs(t, err, ErrValidation)
	assert.True(t, f.store.rolesOf(u).Equal(roleSet(models.RoleMember)))
}

func TestUpdateRoles_DirectChairpersonAssignment(t *testing.T) {
	f := newFixture(t)
	c := f.store.addUser("chair@example.org", models.RoleChairperson)
	u := f.store.addUser("u@example.org", models.RoleMember)

	require.NoError(t, f.update(context.Background(), u, roleSet(models.RoleChairperson), "", ""))

	assert.Equal(t, []int64{u}, f.store.chairpersons())
	assert.True(t, f.store.rolesOf(c).Equal(roleSet(models.RoleAlumni)))
	assert.True(t, f.store.rolesOf(u).Equal(roleSet(models.RoleChairperson)))
}

func TestUpdateRoles_ChairpersonAdditionMovesChairVotes(t *testing.T) {
	f := newFixture(t)
	c := f.store.addUser("chair@example.org", models.RoleChairperson)
	u := f.store.addUser("u@example.org")
	e := f.store.addElection(models.ElectionTypeDataAccess, models.ElectionStatusOpen, "dar-1")
	closed := f.store.addElection(models.ElectionTypeDataAccess, models.ElectionStatusClosed, "dar-2")
	f.store.addVote(e, c, models.VoteTypeChairperson)
	f.store.addVote(e, c, models.VoteTypeFinal)
	f.store.addVote(e, c, models.VoteTypeDAC)
	f.store.addVote(closed, c, models.VoteTypeChairperson)

	require.NoError(t, f.update(context.Background(), u, roleSet(models.RoleChairperson), "", ""))

	assert.Equal(t, []int64{u}, f.store.chairpersons())
	assert.True(t, f.store.rolesOf(c).Has(models.RoleAlumni))
	assert.Len(t, f.store.votesOf(u), 2)
	var kept []models.VoteType
	for _, v := range f.store.votesOf(c) {
		kept = append(kept, v.Type)
	}
	assert.ElementsMatch(t, []models.VoteType{models.VoteTypeDAC, models.VoteTypeChairperson}, kept)
}

func TestUpdateRoles_SingleChairpersonAcrossSequence(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ids := []int64{
		f.store.addUser("a@example.org", models.RoleMember),
		f.store.addUser("b@example.org", models.RoleMember),
		f.store.addUser("c@example.org", models.RoleMember),
	}
	f.store.addElection(models.ElectionTypeTranslateDUL, models.ElectionStatusOpen, "c1")

	for round := 0; round < 2; round++ {
		for _, id := range ids {
			require.NoError(t, f.update(ctx, id, roleSet(models.RoleChairperson), "", ""))
			assert.Equal(t, []int64{id}, f.store.chairpersons())
		}
	}
}

func TestUpdateRoles_ResearcherRemovalCancelsRequests(t *testing.T) {
	f := newFixture(t)
	u := f.store.addUser("researcher@example.org", models.RoleResearcher)
	access := f.store.addElection(models.ElectionTypeDataAccess, models.ElectionStatusOpen, "dar-1")
	rp := f.store.addElection(models.ElectionTypeRP, models.ElectionStatusOpen, "dar-1")
	foreign := f.store.addElection(models.ElectionTypeDataAccess, models.ElectionStatusOpen, "dar-9")
	f.dars.refs[u] = []string{"dar-1", "dar-2"}

	require.NoError(t, f.update(context.Background(), u, roleSet(), "", ""))

	assert.Equal(t, models.ElectionStatusCanceled, f.store.st.elections[access].Status)
	assert.Equal(t, models.ElectionStatusCanceled, f.store.st.elections[rp].Status)
	assert.Equal(t, models.ElectionStatusOpen, f.store.st.elections[foreign].Status)
	assert.Equal(t, []string{"dar-1", "dar-2"}, f.dars.canceled)
	assert.Zero(t, f.store.rolesOf(u).Len())
}

func TestUpdateRoles_ResearcherRemovalFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	u := f.store.addUser("researcher@example.org", models.RoleResearcher)
	access := f.store.addElection(models.ElectionTypeDataAccess, models.ElectionStatusOpen, "dar-1")
	f.dars.refs[u] = []string{"dar-1"}
	boom := errors.New("dar store down")
	f.dars.err = boom

	err := f.update(context.Background(), u, roleSet(), "", "")
	assert.Equal(t, boom, err)
	assert.Equal(t, models.ElectionStatusOpen, f.store.st.elections[access].Status)
	assert.True(t, f.store.rolesOf(u).Has(models.RoleResearcher))
}

func TestUpdateRoles_StoreFailureRollsBackEverything(t *testing.T) {
	f := newFixture(t)
	u := f.store.addUser("chair@example.org", models.RoleChairperson)
	d := f.store.addUser("member@example.org", models.RoleMember)
	e0 := f.store.addElection(models.ElectionTypeDataAccess, models.ElectionStatusOpen, "dar-0")
	e1 := f.store.addElection(models.ElectionTypeDataAccess, models.ElectionStatusFinal, "dar-1")
	f.store.addVote(e0, u, models.VoteTypeChairperson)
	boom := errors.New("connection reset")
	f.store.failOn["UpdateElectionStatus"] = boom

	err := f.update(context.Background(), u, roleSet(models.RoleAlumni), "member@example.org", "")

	assert.Equal(t, boom, err)
	assert.True(t, f.store.rolesOf(u).Equal(roleSet(models.RoleChairperson)))
	assert.True(t, f.store.rolesOf(d).Equal(roleSet(models.RoleMember)))
	assert.Len(t, f.store.votesOf(u), 1)
	assert.Empty(t, f.store.votesOf(d))
	assert.Equal(t, models.ElectionStatusFinal, f.store.st.elections[e1].Status)
	assert.Empty(t, f.sink.calls)
}

func TestUpdateRoles_SavesProfileInSameTransaction(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	u := f.store.addUser("member@example.org", models.RoleMember)
	req := UpdateRequest{
		UpdatedUser: models.User{ID: u, DisplayName: "Renamed", AdditionalEmail: "alt@example.org",
			EmailPreference: true, Roles: roleSet(models.RoleAdmin)},
		SaveProfile: true,
	}

	f.store.failOn["UpdateProfile"] = errors.New("write failed")
	require.Error(t, f.svc.UpdateRoles(ctx, req))
	assert.True(t, f.store.rolesOf(u).Equal(roleSet(models.RoleMember)))
	assert.Equal(t, "member", f.store.st.users[u].DisplayName)

	delete(f.store.failOn, "UpdateProfile")
	require.NoError(t, f.svc.UpdateRoles(ctx, req))
	assert.True(t, f.store.rolesOf(u).Equal(roleSet(models.RoleAdmin)))
	assert.Equal(t, "Renamed", f.store.st.users[u].DisplayName)
	assert.Equal(t, "alt@example.org", f.store.st.users[u].AdditionalEmail)
}

func TestUpdateRoles_NotificationFailureDoesNotFail(t *testing.T) {
	f := newFixture(t)
	f.sink.err = errors.New("smtp down")
	u := f.store.addUser("chair@example.org", models.RoleChairperson)
	d := f.store.addUser("member@example.org", models.RoleMember)
	e0 := f.store.addElection(models.ElectionTypeDataAccess, models.ElectionStatusOpen, "dar-0")
	f.store.addVote(e0, u, models.VoteTypeChairperson)

	require.NoError(t, f.update(context.Background(), u, roleSet(), "member@example.org", ""))

	assert.Len(t, f.sink.calls, 1)
	assert.True(t, f.store.rolesOf(d).Has(models.RoleChairperson))
}

func TestAssignRole_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	u := f.store.addUser("u@example.org")

	require.NoError(t, f.svc.AssignRole(ctx, u, models.RoleMember))
	require.NoError(t, f.svc.AssignRole(ctx, u, models.RoleMember))

	assert.True(t, f.store.rolesOf(u).Equal(roleSet(models.RoleMember)))
	assert.Equal(t, 1, f.store.roleInserts)
}

func TestAssignRole_Rejects(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	u := f.store.addUser("u@example.org", models.RoleMember)

	assert.ErrorIs(t, f.svc.AssignRole(ctx, u, models.RoleResearcher), ErrValidation)
	assert.ErrorIs(t, f.svc.AssignRole(ctx, u, models.Role(99)), ErrValidation)
	assert.ErrorIs(t, f.svc.AssignRole(ctx, 404, models.RoleAdmin), models.ErrNotFound)
}

func TestAssignRole_IncompatibleWithHeldRoles(t *testing.T) {
	tests := []struct {
		name  string
		start []models.Role
		role  models.Role
	}{
		{"member onto alumni and researcher", []models.Role{models.RoleAlumni, models.RoleResearcher}, models.RoleMember},
		{"chair onto alumni", []models.Role{models.RoleAlumni}, models.RoleChairperson},
		{"alumni onto chair", []models.Role{models.RoleChairperson}, models.RoleAlumni},
		{"researcher onto member", []models.Role{models.RoleMember}, models.RoleResearcher},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			u := f.store.addUser("u@example.org", tt.start...)
			assert.ErrorIs(t, f.svc.AssignRole(context.Background(), u, tt.role), ErrValidation)
			assert.True(t, f.store.rolesOf(u).Equal(roleSet(tt.start...)))
		})
	}
}

func TestCreateUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.store.addUser("chair@example.org", models.RoleChairperson)

	created, err := f.svc.CreateUser(ctx, models.User{
		Email:       "new@example.org",
		DisplayName: "New Chair",
		Roles:       roleSet(models.RoleChairperson, models.RoleAdmin),
	})
	require.NoError(t, err)
	assert.True(t, created.Roles.Equal(roleSet(models.RoleChairperson, models.RoleAdmin)))
	assert.Equal(t, []int64{created.ID}, f.store.chairpersons())
	assert.True(t, f.store.rolesOf(c).Equal(roleSet(models.RoleAlumni)))

	_, err = f.svc.CreateUser(ctx, models.User{Email: "NEW@example.org"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.CreateUser(ctx, models.User{Email: "x@example.org", Roles: roleSet(models.RoleMember, models.RoleResearcher)})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.CreateUser(ctx, models.User{Email: "  "})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestValidateDelegation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	chair := f.store.addUser("chair@example.org", models.RoleChairperson)
	m1 := f.store.addUser("m1@example.org", models.RoleMember)
	f.store.addUser("alum@example.org", models.RoleAlumni)
	o1 := f.store.addUser("o1@example.org", models.RoleDataOwner)
	o2 := f.store.addUser("o2@example.org", models.RoleDataOwner)
	e := f.store.addElection(models.ElectionTypeDataAccess, models.ElectionStatusOpen, "dar-1")
	f.store.addVote(e, chair, models.VoteTypeChairperson)
	f.store.addVote(e, m1, models.VoteTypeDAC)
	f.store.addAssoc(10, o1)

	check, err := f.svc.ValidateDelegation(ctx, "chair@example.org", models.RoleChairperson)
	require.NoError(t, err)
	assert.True(t, check.NeedsDelegation)
	require.Len(t, check.Candidates, 1)
	assert.Equal(t, m1, check.Candidates[0].ID)

	check, err = f.svc.ValidateDelegation(ctx, "m1@example.org", models.RoleMember)
	require.NoError(t, err)
	assert.True(t, check.NeedsDelegation)
	require.Len(t, check.Candidates, 1)
	assert.Equal(t, "alum@example.org", check.Candidates[0].Email)

	check, err = f.svc.ValidateDelegation(ctx, "o1@example.org", models.RoleDataOwner)
	require.NoError(t, err)
	assert.True(t, check.NeedsDelegation)
	require.Len(t, check.Candidates, 1)
	assert.Equal(t, o2, check.Candidates[0].ID)

	check, err = f.svc.ValidateDelegation(ctx, "o2@example.org", models.RoleDataOwner)
	require.NoError(t, err)
	assert.False(t, check.NeedsDelegation)
	assert.Empty(t, check.Candidates)

	_, err = f.svc.ValidateDelegation(ctx, "ghost@example.org", models.RoleMember)
	assert.ErrorIs(t, err, models.ErrNotFound)
}
