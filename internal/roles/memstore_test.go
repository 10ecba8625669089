package roles

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/consentdac/backend/internal/models"
)

type assocKey struct {
	dataset int64
	user    int64
}

type memState struct {
	users     map[int64]models.User
	userRoles map[int64]map[models.Role]bool
	elections map[int64]models.Election
	accessRP  map[int64]int64
	votes     map[int64]models.Vote
	assocs    map[assocKey]bool
	nextUser  int64
	nextVote  int64
	nextElect int64
}

func newMemState() memState {
	return memState{
		users:     map[int64]models.User{},
		userRoles: map[int64]map[models.Role]bool{},
		elections: map[int64]models.Election{},
		accessRP:  map[int64]int64{},
		votes:     map[int64]models.Vote{},
		assocs:    map[assocKey]bool{},
	}
}

func (st memState) clone() memState {
	out := newMemState()
	for k, v := range st.users {
		out.users[k] = v
	}
	for k, v := range st.userRoles {
		m := make(map[models.Role]bool, len(v))
		for r, ok := range v {
			m[r] = ok
		}
		out.userRoles[k] = m
	}
	for k, v := range st.elections {
		out.elections[k] = v
	}
	for k, v := range st.accessRP {
		out.accessRP[k] = v
	}
	for k, v := range st.votes {
		out.votes[k] = v
	}
	for k, v := range st.assocs {
		out.assocs[k] = v
	}
	out.nextUser, out.nextVote, out.nextElect = st.nextUser, st.nextVote, st.nextElect
	return out
}

// memStore is an in-memory Store. Each InTx works on the live state and
// restores a snapshot when fn fails.
type memStore struct {
	mu          sync.Mutex
	st          memState
	failOn      map[string]error
	roleInserts int
}

func newMemStore() *memStore {
	return &memStore{st: newMemState(), failOn: map[string]error{}}
}

func (m *memStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := m.st.clone()
	if err := fn(ctx, &memTx{m: m}); err != nil {
		m.st = snap
		return err
	}
	return nil
}

// fixtures, used outside transactions

func (m *memStore) addUser(email string, roles ...models.Role) int64 {
	m.st.nextUser++
	id := m.st.nextUser
	m.st.users[id] = models.User{ID: id, Email: email, DisplayName: strings.Split(email, "@")[0], CreateDate: time.Now()}
	m.st.userRoles[id] = map[models.Role]bool{}
	for _, r := range roles {
		m.st.userRoles[id][r] = true
	}
	return id
}

func (m *memStore) addElection(t models.ElectionType, status models.ElectionStatus, ref string) int64 {
	m.st.nextElect++
	id := m.st.nextElect
	m.st.elections[id] = models.Election{ID: id, Type: t, Status: status, ReferenceID: ref, CreateDate: time.Now()}
	return id
}

func (m *memStore) pair(accessID, rpID int64) {
	m.st.accessRP[accessID] = rpID
}

func (m *memStore) addVote(electionID, userID int64, t models.VoteType) int64 {
	m.st.nextVote++
	id := m.st.nextVote
	m.st.votes[id] = models.Vote{ID: id, ElectionID: electionID, DACUserID: userID, Type: t}
	return id
}

func (m *memStore) addAssoc(datasetID, userID int64) {
	m.st.assocs[assocKey{datasetID, userID}] = true
}

func (m *memStore) rolesOf(userID int64) models.RoleSet {
	var s models.RoleSet
	for _, r := range models.AllRoles {
		if m.st.userRoles[userID][r] {
			s.Add(r)
		}
	}
	return s
}

func (m *memStore) votesOf(userID int64) []models.Vote {
	return m.filterVotes(func(v models.Vote) bool { return v.DACUserID == userID })
}

func (m *memStore) votesOn(electionID int64) []models.Vote {
	return m.filterVotes(func(v models.Vote) bool { return v.ElectionID == electionID })
}

func (m *memStore) datasetsOf(userID int64) []int64 {
	var out []int64
	for k := range m.st.assocs {
		if k.user == userID {
			out = append(out, k.dataset)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (m *memStore) chairpersons() []int64 {
	var out []int64
	for id, roles := range m.st.userRoles {
		if roles[models.RoleChairperson] {
			out = append(out, id)
		}
	}
	return out
}

func (m *memStore) filterVotes(keep func(models.Vote) bool) []models.Vote {
	var out []models.Vote
	for _, v := range m.st.votes {
		if keep(v) {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type memTx struct {
	m *memStore
}

func (t *memTx) st() *memState { return &t.m.st }

func (t *memTx) fail(op string) error {
	return t.m.failOn[op]
}

func contains(ids []int64, id int64) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func sortedIDs(set map[int64]bool) []int64 {
	out := make([]int64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (t *memTx) FindUserByID(_ context.Context, id int64) (*models.User, error) {
	u, ok := t.st().users[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	u.Roles = t.m.rolesOf(id)
	return &u, nil
}

func (t *memTx) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	for id, u := range t.st().users {
		if strings.EqualFold(u.Email, email) {
			return t.FindUserByID(ctx, id)
		}
	}
	return nil, models.ErrNotFound
}

func (t *memTx) InsertUser(_ context.Context, u *models.User) (int64, error) {
	if err := t.fail("InsertUser"); err != nil {
		return 0, err
	}
	st := t.st()
	st.nextUser++
	id := st.nextUser
	st.users[id] = models.User{ID: id, Email: u.Email, DisplayName: u.DisplayName, AdditionalEmail: u.AdditionalEmail, CreateDate: time.Now()}
	st.userRoles[id] = map[models.Role]bool{}
	return id, nil
}

func (t *memTx) UpdateProfile(_ context.Context, u *models.User) error {
	if err := t.fail("UpdateProfile"); err != nil {
		return err
	}
	cur, ok := t.st().users[u.ID]
	if !ok {
		return models.ErrNotFound
	}
	cur.DisplayName, cur.AdditionalEmail, cur.EmailPreference = u.DisplayName, u.AdditionalEmail, u.EmailPreference
	t.st().users[u.ID] = cur
	return nil
}

func (t *memTx) FindRolesByUserID(_ context.Context, userID int64) (models.RoleSet, error) {
	return t.m.rolesOf(userID), nil
}

func (t *memTx) InsertUserRoles(_ context.Context, userID int64, roles ...models.Role) error {
	if err := t.fail("InsertUserRoles"); err != nil {
		return err
	}
	t.m.roleInserts++
	st := t.st()
	if st.userRoles[userID] == nil {
		st.userRoles[userID] = map[models.Role]bool{}
	}
	for _, r := range roles {
		st.userRoles[userID][r] = true
	}
	return nil
}

func (t *memTx) RemoveUserRole(ctx context.Context, userID int64, role models.Role) error {
	return t.RemoveUserRoles(ctx, userID, role)
}

func (t *memTx) RemoveUserRoles(_ context.Context, userID int64, roles ...models.Role) error {
	if err := t.fail("RemoveUserRoles"); err != nil {
		return err
	}
	for _, r := range roles {
		delete(t.st().userRoles[userID], r)
	}
	return nil
}

func (t *memTx) CountUsersWithRole(_ context.Context, role models.Role) (int, error) {
	n := 0
	for _, roles := range t.st().userRoles {
		if roles[role] {
			n++
		}
	}
	return n, nil
}

func (t *memTx) FindUsersByRole(ctx context.Context, role models.Role) ([]models.User, error) {
	ids := map[int64]bool{}
	for id, roles := range t.st().userRoles {
		if roles[role] {
			ids[id] = true
		}
	}
	var out []models.User
	for _, id := range sortedIDs(ids) {
		u, _ := t.FindUserByID(ctx, id)
		out = append(out, *u)
	}
	return out, nil
}

func (t *memTx) FindChairperson(ctx context.Context) (*models.User, error) {
	users, _ := t.FindUsersByRole(ctx, models.RoleChairperson)
	if len(users) == 0 {
		return nil, models.ErrNotFound
	}
	return &users[0], nil
}

func (t *memTx) CountOpenElections(context.Context) (int, error) {
	n := 0
	for _, e := range t.st().elections {
		if e.Status == models.ElectionStatusOpen {
			n++
		}
	}
	return n, nil
}

func (t *memTx) openElectionsVotedBy(userID int64, types []models.ElectionType, voteType models.VoteType) []int64 {
	ids := map[int64]bool{}
	for _, v := range t.st().votes {
		if v.DACUserID != userID || (voteType != "" && v.Type != voteType) {
			continue
		}
		e := t.st().elections[v.ElectionID]
		if e.Status != models.ElectionStatusOpen {
			continue
		}
		for _, et := range types {
			if e.Type == et {
				ids[e.ID] = true
			}
		}
	}
	return sortedIDs(ids)
}

func (t *memTx) FindOpenElectionIDsByTypeAndUser(_ context.Context, et models.ElectionType, userID int64) ([]int64, error) {
	return t.openElectionsVotedBy(userID, []models.ElectionType{et}, ""), nil
}

func (t *memTx) FindAccessRPOpenElections(_ context.Context, userID int64) ([]models.Election, error) {
	var out []models.Election
	for _, id := range t.openElectionsVotedBy(userID, []models.ElectionType{models.ElectionTypeDataAccess, models.ElectionTypeRP}, "") {
		e := t.st().elections[id]
		out = append(out, models.Election{ID: e.ID, Type: e.Type})
	}
	return out, nil
}

func (t *memTx) FindRPElectionIDByAccessID(_ context.Context, accessID int64) (int64, bool, error) {
	rp, ok := t.st().accessRP[accessID]
	return rp, ok, nil
}

func (t *memTx) FindAccessElectionIDByRPID(_ context.Context, rpID int64) (int64, bool, error) {
	for access, rp := range t.st().accessRP {
		if rp == rpID {
			return access, true, nil
		}
	}
	return 0, false, nil
}

func (t *memTx) FindDataSetOpenElectionIDs(_ context.Context, userID int64) ([]int64, error) {
	return t.openElectionsVotedBy(userID, []models.ElectionType{models.ElectionTypeDataSet}, models.VoteTypeDataOwner), nil
}

func (t *memTx) FindElectionsByTypeAndStatus(_ context.Context, et models.ElectionType, status models.ElectionStatus) ([]models.Election, error) {
	ids := map[int64]bool{}
	for _, e := range t.st().elections {
		if e.Type == et && e.Status == status {
			ids[e.ID] = true
		}
	}
	out := make([]models.Election, 0, len(ids))
	for _, id := range sortedIDs(ids) {
		e := t.st().elections[id]
		out = append(out, models.Election{ID: e.ID, Type: e.Type, Status: e.Status, ReferenceID: e.ReferenceID})
	}
	return out, nil
}

// UpdateElectionStatus keeps at most one Open election per reference and
// type, as the active-election index does.
func (t *memTx) UpdateElectionStatus(_ context.Context, ids []int64, status models.ElectionStatus) error {
	if err := t.fail("UpdateElectionStatus"); err != nil {
		return err
	}
	for _, id := range ids {
		e := t.st().elections[id]
		if status == models.ElectionStatusOpen {
			for oid, o := range t.st().elections {
				if oid != id && o.Status == models.ElectionStatusOpen && o.Type == e.Type && o.ReferenceID == e.ReferenceID {
					return fmt.Errorf("duplicate open election on %s/%s", e.ReferenceID, e.Type)
				}
			}
		}
		e.Status = status
		t.st().elections[id] = e
	}
	return nil
}

func (t *memTx) BulkCancelOpenElections(_ context.Context, et models.ElectionType, refs []string) (int64, error) {
	var n int64
	for id, e := range t.st().elections {
		if e.Type != et || e.Status != models.ElectionStatusOpen {
			continue
		}
		for _, ref := range refs {
			if e.ReferenceID == ref {
				e.Status = models.ElectionStatusCanceled
				t.st().elections[id] = e
				n++
				break
			}
		}
	}
	return n, nil
}

func (t *memTx) FindVotesOnOpenElections(_ context.Context, userID int64) ([]models.Vote, error) {
	return t.m.filterVotes(func(v models.Vote) bool {
		return v.DACUserID == userID && t.st().elections[v.ElectionID].Status == models.ElectionStatusOpen
	}), nil
}

func (t *memTx) FindVotesByTypeAndElectionIDs(_ context.Context, electionIDs []int64, vt models.VoteType) ([]models.Vote, error) {
	return t.m.filterVotes(func(v models.Vote) bool {
		return v.Type == vt && contains(electionIDs, v.ElectionID)
	}), nil
}

func (t *memTx) FindVotesByElectionIDsTypeAndUser(_ context.Context, electionIDs []int64, vt models.VoteType, userID int64) ([]models.Vote, error) {
	return t.m.filterVotes(func(v models.Vote) bool {
		return v.Type == vt && v.DACUserID == userID && contains(electionIDs, v.ElectionID)
	}), nil
}

func (t *memTx) FindVotesByElectionIDsAndUser(_ context.Context, electionIDs []int64, userID int64) ([]models.Vote, error) {
	return t.m.filterVotes(func(v models.Vote) bool {
		return v.DACUserID == userID && contains(electionIDs, v.ElectionID)
	}), nil
}

func (t *memTx) RemoveVotesByIDs(_ context.Context, ids []int64) (int64, error) {
	var n int64
	for _, id := range ids {
		if _, ok := t.st().votes[id]; ok {
			delete(t.st().votes, id)
			n++
		}
	}
	return n, nil
}

func (t *memTx) RemoveVotesByElectionIDsAndUser(_ context.Context, electionIDs []int64, userID int64) (int64, error) {
	var n int64
	for id, v := range t.st().votes {
		if v.DACUserID == userID && contains(electionIDs, v.ElectionID) {
			delete(t.st().votes, id)
			n++
		}
	}
	return n, nil
}

func (t *memTx) rebind(from, to int64, keep func(models.Vote) bool) int64 {
	var n int64
	for _, v := range t.m.filterVotes(func(v models.Vote) bool { return v.DACUserID == from && keep(v) }) {
		dup := t.m.filterVotes(func(o models.Vote) bool {
			return o.DACUserID == to && o.ElectionID == v.ElectionID && o.Type == v.Type
		})
		if len(dup) > 0 {
			delete(t.st().votes, v.ID)
			continue
		}
		v.DACUserID = to
		t.st().votes[v.ID] = v
		n++
	}
	return n
}

func (t *memTx) DelegateVotes(_ context.Context, from int64, electionIDs []int64, to int64) (int64, error) {
	if err := t.fail("DelegateVotes"); err != nil {
		return 0, err
	}
	return t.rebind(from, to, func(v models.Vote) bool { return contains(electionIDs, v.ElectionID) }), nil
}

func (t *memTx) DelegateChairpersonVotes(_ context.Context, from, to int64) (int64, error) {
	return t.rebind(from, to, func(v models.Vote) bool {
		return (v.Type == models.VoteTypeChairperson || v.Type == models.VoteTypeFinal) &&
			t.st().elections[v.ElectionID].Status == models.ElectionStatusOpen
	}), nil
}

func (t *memTx) InsertVotes(_ context.Context, votes []models.Vote) ([]models.Vote, error) {
	if err := t.fail("InsertVotes"); err != nil {
		return nil, err
	}
	out := make([]models.Vote, 0, len(votes))
	for _, v := range votes {
		dup := t.m.filterVotes(func(o models.Vote) bool {
			return o.DACUserID == v.DACUserID && o.ElectionID == v.ElectionID && o.Type == v.Type
		})
		if len(dup) > 0 {
			return nil, fmt.Errorf("duplicate vote election=%d user=%d type=%s", v.ElectionID, v.DACUserID, v.Type)
		}
		t.st().nextVote++
		v.ID = t.st().nextVote
		t.st().votes[v.ID] = v
		out = append(out, v)
	}
	return out, nil
}

func (t *memTx) FindAssociationsByOwner(_ context.Context, userID int64) ([]models.DatasetAssociation, error) {
	var out []models.DatasetAssociation
	for _, ds := range t.m.datasetsOf(userID) {
		out = append(out, models.DatasetAssociation{DatasetID: ds, DACUserID: userID})
	}
	return out, nil
}

func (t *memTx) DeleteAssociationsForUser(_ context.Context, userID int64) error {
	for k := range t.st().assocs {
		if k.user == userID {
			delete(t.st().assocs, k)
		}
	}
	return nil
}

func (t *memTx) InsertAssociations(_ context.Context, assocs []models.DatasetAssociation) error {
	for _, a := range assocs {
		k := assocKey{a.DatasetID, a.DACUserID}
		if t.st().assocs[k] {
			return errors.New("duplicate dataset association")
		}
		t.st().assocs[k] = true
	}
	return nil
}

type notifyCall struct {
	user           models.User
	previousUserID int64
	role           models.Role
	votes          []models.Vote
}

type recordingSink struct {
	calls []notifyCall
	err   error
}

func (r *recordingSink) NotifyDelegatedResponsibilities(_ context.Context, user models.User, previousUserID int64, role models.Role, votes []models.Vote) error {
	r.calls = append(r.calls, notifyCall{user: user, previousUserID: previousUserID, role: role, votes: votes})
	return r.err
}

type fakeDars struct {
	refs     map[int64][]string
	canceled []string
	err      error
}

func (f *fakeDars) ListReferenceIDsForOwner(_ context.Context, userID int64) ([]string, error) {
	return f.refs[userID], nil
}

func (f *fakeDars) CancelDAR(_ context.Context, ref string) error {
	if f.err != nil {
		return f.err
	}
	f.canceled = append(f.canceled, ref)
	return nil
}
