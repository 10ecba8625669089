package roles

import (
	"context"

	"go.uber.org/zap"
)

// dispatch hands committed delegations to the notifier. Errors are logged
// and counted only.
func (s *Service) dispatch(ctx context.Context, pending []notification) {
	if s.notifier == nil {
		return
	}
	for _, n := range pending {
		err := s.notifier.NotifyDelegatedResponsibilities(ctx, n.user, n.previousUserID, n.role, n.votes)
		if err != nil {
			s.metrics.NotificationFailures.Inc()
			s.logger.Warn("delegation notification failed",
				zap.Int64("user_id", n.user.ID),
				zap.Int64("previous_user_id", n.previousUserID),
				zap.String("role", n.role.String()),
				zap.Error(err),
			)
			continue
		}
		s.metrics.NotificationsSent.Inc()
	}
}
