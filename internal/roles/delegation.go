package roles

import (
	"context"

	"github.com/consentdac/backend/internal/models"
)

// votePlan splits election ids into those whose votes are handed to a
// delegate and those whose votes are dropped.
type votePlan struct {
	delegate []int64
	remove   []int64
}

// merge combines two plans. An election marked for removal in either plan is
// never delegated.
func (p votePlan) merge(o votePlan) votePlan {
	remove := uniqueIDs(append(append([]int64{}, p.remove...), o.remove...))
	drop := make(map[int64]bool, len(remove))
	for _, id := range remove {
		drop[id] = true
	}
	var delegate []int64
	for _, id := range uniqueIDs(append(append([]int64{}, p.delegate...), o.delegate...)) {
		if !drop[id] {
			delegate = append(delegate, id)
		}
	}
	return votePlan{delegate: delegate, remove: remove}
}

func (p *votePlan) mark(full bool, ids ...int64) {
	if full {
		p.delegate = append(p.delegate, ids...)
	} else {
		p.remove = append(p.remove, ids...)
	}
}

// quorumComplete reports whether electionID carries exactly quorum vote rows
// of type t. Rows count whether or not they have been cast.
func (s *Service) quorumComplete(ctx context.Context, tx Tx, electionID int64, t models.VoteType, quorum int) (bool, error) {
	votes, err := tx.FindVotesByTypeAndElectionIDs(ctx, []int64{electionID}, t)
	if err != nil {
		return false, err
	}
	return len(votes) == quorum, nil
}

// planByQuorum checks each election on its own.
func (s *Service) planByQuorum(ctx context.Context, tx Tx, ids []int64, t models.VoteType, quorum int) (votePlan, error) {
	var p votePlan
	for _, id := range ids {
		full, err := s.quorumComplete(ctx, tx, id, t, quorum)
		if err != nil {
			return votePlan{}, err
		}
		p.mark(full, id)
	}
	return p.merge(votePlan{}), nil
}

// planAccessRP checks DataAccess/RP elections together with their pair. Each
// check marks both ids of the pair, so a pair is delegated or dropped as a
// unit.
func (s *Service) planAccessRP(ctx context.Context, tx Tx, elections []models.Election) (votePlan, error) {
	var p votePlan
	check := func(countOn, with int64) error {
		full, err := s.quorumComplete(ctx, tx, countOn, models.VoteTypeDAC, s.opts.DACQuorum)
		if err != nil {
			return err
		}
		p.mark(full, countOn, with)
		return nil
	}
	for _, e := range elections {
		pair, ok, err := s.pairedElection(ctx, tx, e)
		if err != nil {
			return votePlan{}, err
		}
		switch {
		case e.Type == models.ElectionTypeDataAccess:
			if ok {
				if err := check(pair, e.ID); err != nil {
					return votePlan{}, err
				}
			}
			if err := check(e.ID, e.ID); err != nil {
				return votePlan{}, err
			}
		case ok:
			if err := check(pair, e.ID); err != nil {
				return votePlan{}, err
			}
		default:
			// RP election with no DataAccess pair
			if err := check(e.ID, e.ID); err != nil {
				return votePlan{}, err
			}
		}
	}
	return p.merge(votePlan{}), nil
}

// pairedElection returns the RP election of a DataAccess election, or the
// DataAccess election of an RP election.
func (s *Service) pairedElection(ctx context.Context, tx Tx, e models.Election) (int64, bool, error) {
	if e.Type == models.ElectionTypeDataAccess {
		return tx.FindRPElectionIDByAccessID(ctx, e.ID)
	}
	return tx.FindAccessElectionIDByRPID(ctx, e.ID)
}

func (s *Service) removeVotes(ctx context.Context, tx Tx, userID int64, electionIDs []int64) error {
	if len(electionIDs) == 0 {
		return nil
	}
	n, err := tx.RemoveVotesByElectionIDsAndUser(ctx, electionIDs, userID)
	if err != nil {
		return err
	}
	s.metrics.VotesRemoved.Add(float64(n))
	return nil
}

func (s *Service) delegateVotes(ctx context.Context, tx Tx, from int64, electionIDs []int64, to int64) error {
	if len(electionIDs) == 0 {
		return nil
	}
	n, err := tx.DelegateVotes(ctx, from, electionIDs, to)
	if err != nil {
		return err
	}
	s.metrics.VotesDelegated.Add(float64(n))
	return nil
}
