package roles

import (
	"context"

	"go.uber.org/zap"

	"github.com/consentdac/backend/internal/models"
)

// reopenFinalAccessElections sets DataAccess elections in Final status back
// to Open. After a chairperson change their final vote is no longer settled.
// A reference keeps at most one Open DataAccess election, so a Final election
// is skipped when its reference already has an Open one, and only the newest
// Final election per reference is reopened.
func (s *Service) reopenFinalAccessElections(ctx context.Context, tx Tx) error {
	finals, err := tx.FindElectionsByTypeAndStatus(ctx, models.ElectionTypeDataAccess, models.ElectionStatusFinal)
	if err != nil {
		return err
	}
	if len(finals) == 0 {
		return nil
	}
	open, err := tx.FindElectionsByTypeAndStatus(ctx, models.ElectionTypeDataAccess, models.ElectionStatusOpen)
	if err != nil {
		return err
	}
	taken := make(map[string]bool, len(open))
	for _, e := range open {
		taken[e.ReferenceID] = true
	}

	var reopen, skipped []int64
	for i := len(finals) - 1; i >= 0; i-- {
		e := finals[i]
		if taken[e.ReferenceID] {
			skipped = append(skipped, e.ID)
			continue
		}
		taken[e.ReferenceID] = true
		reopen = append(reopen, e.ID)
	}
	if len(skipped) > 0 {
		s.logger.Info("final access elections left closed, reference already has an open election",
			zap.Int64s("election_ids", skipped))
	}
	if len(reopen) == 0 {
		return nil
	}
	if err := tx.UpdateElectionStatus(ctx, reopen, models.ElectionStatusOpen); err != nil {
		return err
	}
	s.metrics.ElectionsReopened.Add(float64(len(reopen)))
	s.logger.Info("final access elections reopened", zap.Int64s("election_ids", reopen))
	return nil
}
