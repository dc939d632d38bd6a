package core

import "fmt"

// Finalize advances the finalization of a closed bucket by at most maxSteps bids.
//
// Progress lives in the bucket (cursor and scan), so any later call, from any
// caller, resumes where this one stopped. When the walk reaches the tail the
// results are recorded and the accepted contribution is paid to the beneficiary;
// only a successful payout marks the bucket finalized. A failed payout returns
// ErrTransferFailed and the next call retries the payout without walking again.
//
// Buckets finalize strictly in order: only FinalizationTurn may be finalized.
func (s *Sale) Finalize(index BucketIndex, maxSteps int) (steps int, done bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if maxSteps <= 0 {
		return 0, false, fmt.Errorf("%w: step budget must be positive", ErrInvalidState)
	}
	if err := s.checkRange(index); err != nil {
		return 0, false, err
	}
	if s.ledger.lookup(index).Finalized {
		return 0, false, fmt.Errorf("bucket %d: %w", index, ErrAlreadyFinalized)
	}
	if !s.deps.Clock.IsWindowClosed(index) {
		return 0, false, fmt.Errorf("%w: bucket %d window still open", ErrInvalidState, index)
	}
	if index != s.turn {
		return 0, false, fmt.Errorf("%w: bucket %d requested, bucket %d is next", ErrOutOfOrder, index, s.turn)
	}

	b := s.ledger.bucket(index)
	for !b.ScanComplete {
		next := s.ledger.successor(b, b.Cursor)
		if next == TailID {
			b.ScanComplete = true
			break
		}
		if steps == maxSteps {
			return steps, false, nil
		}
		bid := &s.ledger.bids[next]
		bid.Status = b.Scan.Visit(bid)
		b.Cursor = next
		steps++
	}

	recordClearing(b)
	if !b.TotalAcceptedContribution.IsZero() {
		if err := s.deps.Custody.PayBeneficiary(&b.TotalAcceptedContribution); err != nil {
			return steps, false, fmt.Errorf("%w: beneficiary payout for bucket %d: %w", ErrTransferFailed, index, err)
		}
	}
	b.Finalized = true
	s.turn++
	return steps, true, nil
}

func recordClearing(b *Bucket) {
	b.ClearingValuation.Set(&b.Scan.Cumulative)
	b.TotalAcceptedContribution.Set(&b.Scan.Cumulative)
	b.CutoffBidID = b.Scan.CutoffBidID
	b.CutoffAcceptedContribution.Set(&b.Scan.CutoffAccepted)
}
