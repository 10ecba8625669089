package elections

import (
	"context"
	"errors"
	"strconv"

	"go.uber.org/zap"

	"github.com/consentdac/backend/internal/models"
	"github.com/consentdac/backend/internal/roles"
)

// ProvisionTx is what election creation needs inside its transaction.
type ProvisionTx interface {
	InsertElection(ctx context.Context, t models.ElectionType, referenceID string) (*models.Election, error)
	InsertAccessRP(ctx context.Context, accessID, rpID int64) error
	FindUsersByRole(ctx context.Context, role models.Role) ([]models.User, error)
	FindChairperson(ctx context.Context) (*models.User, error)
	FindOwnersByDataset(ctx context.Context, datasetID int64) ([]models.DatasetAssociation, error)
	FindUserByID(ctx context.Context, id int64) (*models.User, error)
	InsertVotes(ctx context.Context, votes []models.Vote) ([]models.Vote, error)
}

// ProvisionFunc runs fn in one transaction.
type ProvisionFunc func(ctx context.Context, fn func(ctx context.Context, tx ProvisionTx) error) error

// Created is the result of opening an election: the election, its paired RP
// election for DataAccess, and every vote provisioned on them.
type Created struct {
	Election *models.Election `json:"election"`
	RP       *models.Election `json:"rpElection,omitempty"`
	Votes    []models.Vote    `json:"votes"`
}

// CaseNotifier tells voters a new election waits for them.
type CaseNotifier interface {
	NotifyNewCase(ctx context.Context, e models.Election, voters []models.User) error
}

// Service opens elections and provisions their votes.
type Service struct {
	provision ProvisionFunc
	notifier  CaseNotifier
	logger    *zap.Logger
}

// NewService creates an election service. notifier may be nil.
func NewService(provision ProvisionFunc, notifier CaseNotifier, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{provision: provision, notifier: notifier, logger: logger}
}

func invalid(msg string) error {
	return &roles.Error{Kind: roles.ErrValidation, Msg: msg}
}

// Create opens an election of type t on referenceID. Once committed, every
// voter is mailed; mail failures are logged only.
//
// DataAccess also opens a paired RP election. Committee elections get a DAC
// vote for every Member and the Chairperson, plus a CHAIRPERSON vote for the
// Chairperson; DataAccess adds the FINAL vote. DataSet elections get one
// DATA_OWNER vote per owner of the dataset named by referenceID.
func (s *Service) Create(ctx context.Context, t models.ElectionType, referenceID string) (*Created, error) {
	if !t.Valid() {
		return nil, invalid("unknown election type " + string(t))
	}
	if referenceID == "" {
		return nil, invalid("referenceId is required")
	}
	var (
		out    *Created
		voters []models.User
	)
	err := s.provision(ctx, func(ctx context.Context, tx ProvisionTx) error {
		var err error
		if t == models.ElectionTypeDataSet {
			out, voters, err = s.createDataSet(ctx, tx, referenceID)
		} else {
			out, voters, err = s.createCommittee(ctx, tx, t, referenceID)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("election opened",
		zap.Int64("election_id", out.Election.ID),
		zap.String("type", string(t)),
		zap.String("reference_id", referenceID),
		zap.Int("votes", len(out.Votes)))
	if s.notifier != nil {
		if err := s.notifier.NotifyNewCase(ctx, *out.Election, voters); err != nil {
			s.logger.Warn("new case notification failed", zap.Error(err), zap.Int64("election_id", out.Election.ID))
		}
	}
	return out, nil
}

func (s *Service) createCommittee(ctx context.Context, tx ProvisionTx, t models.ElectionType, ref string) (*Created, []models.User, error) {
	chair, err := tx.FindChairperson(ctx)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil, invalid("no chairperson is assigned")
	}
	if err != nil {
		return nil, nil, err
	}
	members, err := tx.FindUsersByRole(ctx, models.RoleMember)
	if err != nil {
		return nil, nil, err
	}
	e, err := tx.InsertElection(ctx, t, ref)
	if err != nil {
		return nil, nil, err
	}
	out := &Created{Election: e}
	pending := committeeVotes(e, chair.ID, members)
	if t == models.ElectionTypeDataAccess {
		rp, err := tx.InsertElection(ctx, models.ElectionTypeRP, ref)
		if err != nil {
			return nil, nil, err
		}
		if err := tx.InsertAccessRP(ctx, e.ID, rp.ID); err != nil {
			return nil, nil, err
		}
		out.RP = rp
		pending = append(pending, models.Vote{ElectionID: e.ID, DACUserID: chair.ID, Type: models.VoteTypeFinal})
		pending = append(pending, committeeVotes(rp, chair.ID, members)...)
	}
	if out.Votes, err = tx.InsertVotes(ctx, pending); err != nil {
		return nil, nil, err
	}
	voters := []models.User{*chair}
	for _, m := range members {
		if m.ID != chair.ID {
			voters = append(voters, m)
		}
	}
	return out, voters, nil
}

func committeeVotes(e *models.Election, chairID int64, members []models.User) []models.Vote {
	votes := make([]models.Vote, 0, len(members)+2)
	for _, m := range members {
		if m.ID == chairID {
			continue
		}
		votes = append(votes, models.Vote{ElectionID: e.ID, DACUserID: m.ID, Type: models.VoteTypeDAC})
	}
	return append(votes,
		models.Vote{ElectionID: e.ID, DACUserID: chairID, Type: models.VoteTypeDAC},
		models.Vote{ElectionID: e.ID, DACUserID: chairID, Type: models.VoteTypeChairperson},
	)
}

func (s *Service) createDataSet(ctx context.Context, tx ProvisionTx, ref string) (*Created, []models.User, error) {
	datasetID, err := strconv.ParseInt(ref, 10, 64)
	if err != nil {
		return nil, nil, invalid("DataSet elections need a numeric dataset id as referenceId")
	}
	owners, err := tx.FindOwnersByDataset(ctx, datasetID)
	if err != nil {
		return nil, nil, err
	}
	if len(owners) == 0 {
		return nil, nil, invalid("dataset " + ref + " has no data owner")
	}
	e, err := tx.InsertElection(ctx, models.ElectionTypeDataSet, ref)
	if err != nil {
		return nil, nil, err
	}
	pending := make([]models.Vote, 0, len(owners))
	voters := make([]models.User, 0, len(owners))
	for _, o := range owners {
		pending = append(pending, models.Vote{ElectionID: e.ID, DACUserID: o.DACUserID, Type: models.VoteTypeDataOwner})
		u, err := tx.FindUserByID(ctx, o.DACUserID)
		if err != nil {
			return nil, nil, err
		}
		voters = append(voters, *u)
	}
	out := &Created{Election: e}
	if out.Votes, err = tx.InsertVotes(ctx, pending); err != nil {
		return nil, nil, err
	}
	return out, voters, nil
}
