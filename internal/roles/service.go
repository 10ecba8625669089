package roles

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/consentdac/backend/internal/models"
	"github.com/consentdac/backend/pkg/metrics"
)

// Default committee sizing.
const (
	DefaultDACQuorum       = 4
	DefaultDataOwnerQuorum = 1
	DefaultMinAdmins       = 2
)

// Options tunes the delegation rules.
type Options struct {
	// DACQuorum is the number of DAC vote rows an access, RP or DUL election
	// carries when its panel is complete. Elections at exactly this count are
	// handed to the delegate; others lose the outgoing member's vote.
	DACQuorum int
	// DataOwnerQuorum plays the same role for DataSet elections.
	DataOwnerQuorum int
	// MinAdmins is the admin count at or below which Admin cannot be removed.
	MinAdmins int
}

// DefaultOptions returns the stock committee sizing.
func DefaultOptions() Options {
	return Options{
		DACQuorum:       DefaultDACQuorum,
		DataOwnerQuorum: DefaultDataOwnerQuorum,
		MinAdmins:       DefaultMinAdmins,
	}
}

func (o Options) withDefaults() Options {
	if o.DACQuorum <= 0 {
		o.DACQuorum = DefaultDACQuorum
	}
	if o.DataOwnerQuorum <= 0 {
		o.DataOwnerQuorum = DefaultDataOwnerQuorum
	}
	if o.MinAdmins <= 0 {
		o.MinAdmins = DefaultMinAdmins
	}
	return o
}

// UpdateRequest is a role change for one user. UpdatedUser.Roles is the
// desired role set. Delegates are looked up by email. With SaveProfile the
// display name and notification settings of UpdatedUser are written in the
// same transaction as the roles.
type UpdateRequest struct {
	UpdatedUser       models.User
	DelegateMember    *models.User // takes over Chairperson or Member duties
	DelegateDataOwner *models.User // takes over DataOwner duties
	SaveProfile       bool
}

// Service owns every change to role assignments and keeps votes, elections
// and dataset associations consistent with them.
type Service struct {
	store    Store
	dars     DarCollaborator
	notifier NotificationSink
	opts     Options
	metrics  *metrics.Metrics
	logger   *zap.Logger
	handlers map[models.Role]roleHandler
}

type roleHandler struct {
	remove func(ctx context.Context, t *transition) error
	add    func(ctx context.Context, t *transition) error
}

// NewService wires the role controller. m may be nil.
func NewService(store Store, dars DarCollaborator, notifier NotificationSink, opts Options, m *metrics.Metrics, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.Nop()
	}
	s := &Service{
		store:    store,
		dars:     dars,
		notifier: notifier,
		opts:     opts.withDefaults(),
		metrics:  m,
		logger:   logger,
	}
	s.handlers = map[models.Role]roleHandler{
		models.RoleChairperson: {remove: s.removeChairperson, add: s.addChairperson},
		models.RoleMember:      {remove: s.removeMember, add: s.addPlain(models.RoleMember)},
		models.RoleAlumni:      {remove: s.removePlain(models.RoleAlumni), add: s.addPlain(models.RoleAlumni)},
		models.RoleAdmin:       {remove: s.removeAdmin, add: s.addPlain(models.RoleAdmin)},
		models.RoleResearcher:  {remove: s.removeResearcher, add: s.addPlain(models.RoleResearcher)},
		models.RoleDataOwner:   {remove: s.removeDataOwner, add: s.addPlain(models.RoleDataOwner)},
	}
	return s
}

// Diff splits the change from current to desired into roles to remove and
// roles to add. The two sets are disjoint.
type Diff struct {
	Remove models.RoleSet
	Add    models.RoleSet
}

// ComputeDiff returns current minus desired and desired minus current.
func ComputeDiff(current, desired models.RoleSet) Diff {
	return Diff{Remove: current.Minus(desired), Add: desired.Minus(current)}
}

// transition is the state of one UpdateRoles call.
type transition struct {
	tx                Tx
	user              models.User
	desired           models.RoleSet
	memberDelegate    *models.User
	dataOwnerDelegate *models.User
	pending           []notification
}

type notification struct {
	user           models.User
	previousUserID int64
	role           models.Role
	votes          []models.Vote
}

// UpdateRoles moves the user to the desired role set in one transaction.
// Removals run before additions. Notifications are sent after commit and
// their failures are only logged.
func (s *Service) UpdateRoles(ctx context.Context, req UpdateRequest) error {
	var pending []notification
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		t, err := s.newTransition(ctx, tx, req)
		if err != nil {
			return err
		}
		if err := s.apply(ctx, t); err != nil {
			return err
		}
		if req.SaveProfile {
			profile := req.UpdatedUser
			if err := tx.UpdateProfile(ctx, &profile); err != nil {
				return err
			}
		}
		pending = t.pending
		return nil
	})
	s.metrics.RoleTransitions.WithLabelValues(resultLabel(err)).Inc()
	if err != nil {
		return err
	}
	s.dispatch(ctx, pending)
	return nil
}

func (s *Service) newTransition(ctx context.Context, tx Tx, req UpdateRequest) (*transition, error) {
	user, err := tx.FindUserByID(ctx, req.UpdatedUser.ID)
	if err != nil {
		return nil, err
	}
	t := &transition{
		tx:      tx,
		user:    *user,
		desired: req.UpdatedUser.Roles,
	}
	if t.memberDelegate, err = s.resolveDelegate(ctx, tx, user, req.DelegateMember); err != nil {
		return nil, err
	}
	if t.dataOwnerDelegate, err = s.resolveDelegate(ctx, tx, user, req.DelegateDataOwner); err != nil {
		return nil, err
	}
	return t, nil
}

// resolveDelegate re-reads a delegate by email, with fresh roles.
func (s *Service) resolveDelegate(ctx context.Context, tx Tx, user *models.User, ref *models.User) (*models.User, error) {
	if ref == nil {
		return nil, nil
	}
	email := strings.TrimSpace(ref.Email)
	if email == "" {
		return nil, validationf("delegate email is required")
	}
	d, err := tx.FindUserByEmail(ctx, email)
	if errors.Is(err, models.ErrNotFound) {
		return nil, validationf("delegate %s does not exist", email)
	}
	if err != nil {
		return nil, err
	}
	if d.ID == user.ID {
		return nil, validationf("user %s cannot delegate to themselves", user.Email)
	}
	if d.Roles, err = tx.FindRolesByUserID(ctx, d.ID); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Service) apply(ctx context.Context, t *transition) error {
	current, err := t.tx.FindRolesByUserID(ctx, t.user.ID)
	if err != nil {
		return err
	}
	diff := ComputeDiff(current, t.desired)
	if err := checkCompatible(t.desired); err != nil {
		return err
	}
	if diff.Remove.Len() == 0 && diff.Add.Len() == 0 {
		return nil
	}

	open, err := t.tx.CountOpenElections(ctx)
	if err != nil {
		return err
	}
	if open == 0 && t.memberDelegate == nil && t.dataOwnerDelegate == nil {
		return s.applyDirect(ctx, t, diff)
	}

	for _, r := range diff.Remove.Slice() {
		if err := s.handlers[r].remove(ctx, t); err != nil {
			return err
		}
	}
	for _, r := range diff.Add.Slice() {
		if err := s.handlers[r].add(ctx, t); err != nil {
			return err
		}
	}
	s.logger.Info("roles updated",
		zap.Int64("user_id", t.user.ID),
		zap.Strings("removed", diff.Remove.Names()),
		zap.Strings("added", diff.Add.Names()),
		zap.Int("open_elections", open),
	)
	return nil
}

// applyDirect handles the case with no open elections and no delegates:
// nothing needs to be handed over, so roles change without per-role handling.
func (s *Service) applyDirect(ctx context.Context, t *transition, diff Diff) error {
	if diff.Remove.Has(models.RoleAdmin) {
		if err := s.checkAdminFloor(ctx, t.tx); err != nil {
			return err
		}
	}
	if diff.Remove.Len() > 0 {
		if err := t.tx.RemoveUserRoles(ctx, t.user.ID, diff.Remove.Slice()...); err != nil {
			return err
		}
	}
	add := diff.Add
	if add.Has(models.RoleChairperson) {
		if err := s.promoteChairperson(ctx, t.tx, t.user.ID); err != nil {
			return err
		}
		add.Remove(models.RoleChairperson)
	}
	if add.Len() > 0 {
		if err := t.tx.InsertUserRoles(ctx, t.user.ID, add.Slice()...); err != nil {
			return err
		}
	}
	s.logger.Info("roles updated without delegation",
		zap.Int64("user_id", t.user.ID),
		zap.Strings("removed", diff.Remove.Names()),
		zap.Strings("added", diff.Add.Names()),
	)
	return nil
}

// checkCompatible rejects a role set holding Member or Chairperson together
// with Alumni or Researcher.
func checkCompatible(roles models.RoleSet) error {
	committee := roles.Intersect(models.NewRoleSet(models.RoleMember, models.RoleChairperson))
	outside := roles.Intersect(models.NewRoleSet(models.RoleAlumni, models.RoleResearcher))
	if committee.Len() > 0 && outside.Len() > 0 {
		return validationf("roles %s are incompatible with %s",
			strings.Join(outside.Names(), ", "), strings.Join(committee.Names(), ", "))
	}
	return nil
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrConstraint):
		return "constraint"
	case errors.Is(err, models.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
