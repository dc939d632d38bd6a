package core

import (
	"fmt"

	"github.com/holiman/uint256"
)

// Payout computes the refund and token amounts owed for a bid of a finalized bucket.
// It is zero for both while the bid is pending.
func Payout(b *Bucket, bid *Bid) (refund, tokens uint256.Int) {
	switch bid.Status {
	case StatusRejected:
		refund.Set(&bid.Contribution)
	case StatusAccepted:
		tokens = share(&b.TokenAllotment, &bid.Contribution, &b.TotalAcceptedContribution)
	case StatusPartiallyAccepted:
		refund.Sub(&bid.Contribution, &b.CutoffAcceptedContribution)
		tokens = share(&b.TokenAllotment, &b.CutoffAcceptedContribution, &b.TotalAcceptedContribution)
	}
	return refund, tokens
}

// share returns allotment*part/total, truncated. part never exceeds total, so
// the quotient fits even when the product does not.
func share(allotment, part, total *uint256.Int) uint256.Int {
	var out uint256.Int
	if total.IsZero() {
		return out
	}
	out.MulDivOverflow(allotment, part, total)
	return out
}

// Redeem settles a bid of a finalized bucket: the unaccepted part of the
// contribution is refunded and the tokens for the accepted part are credited,
// always to the bidder, whoever the caller is.
//
// Each leg is recorded on the bid as soon as its transfer succeeds. A failed
// leg returns ErrTransferFailed with the bid still unredeemed; retrying pays only
// what is still owed, and the returned Redemption reports only what that call paid.
// Payout gives the full amounts.
func (s *Sale) Redeem(id BidID, caller string) (Redemption, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.redeemLocked(id)
}

func (s *Sale) redeemLocked(id BidID) (Redemption, error) {
	bid, ok := s.ledger.bid(id)
	if !ok {
		return Redemption{}, fmt.Errorf("%w: unknown bid %d", ErrInvalidState, id)
	}
	b := s.ledger.lookup(bid.Bucket)
	if !b.Finalized {
		return Redemption{}, fmt.Errorf("bid %d: bucket %d: %w", id, bid.Bucket, ErrNotFinalized)
	}
	if bid.Redeemed {
		return Redemption{}, fmt.Errorf("bid %d: %w", id, ErrAlreadyRedeemed)
	}

	refund, tokens := Payout(b, bid)
	r := Redemption{BidID: id, Bidder: bid.Bidder}
	if !bid.RefundPaid {
		if !refund.IsZero() {
			if err := s.deps.Custody.Refund(bid.Bidder, &refund); err != nil {
				return Redemption{}, fmt.Errorf("%w: refund of bid %d: %w", ErrTransferFailed, id, err)
			}
		}
		bid.RefundPaid = true
		r.Refund.Set(&refund)
	}
	if !bid.TokensPaid {
		if !tokens.IsZero() {
			if err := s.deps.Tokens.Credit(bid.Bidder, &tokens); err != nil {
				return Redemption{}, fmt.Errorf("%w: token credit of bid %d: %w", ErrTransferFailed, id, err)
			}
		}
		bid.TokensPaid = true
		r.Tokens.Set(&tokens)
	}
	bid.Redeemed = true
	return r, nil
}

// RedeemBidder redeems every bid of bidder whose bucket is finalized and which
// is not yet redeemed. It stops at the first transfer failure and returns the
// redemptions completed before it.
func (s *Sale) RedeemBidder(bidder string) ([]Redemption, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	redemptions := make([]Redemption, 0)
	for _, id := range s.ledger.byBidder[bidder] {
		bid := &s.ledger.bids[id]
		if bid.Redeemed || !s.ledger.lookup(bid.Bucket).Finalized {
			continue
		}
		r, err := s.redeemLocked(id)
		if err != nil {
			return redemptions, err
		}
		redemptions = append(redemptions, r)
	}
	return redemptions, nil
}
