package core

import "github.com/holiman/uint256"

// Visit classifies the next bid of the walk and folds it into the scan.
// Bids must be visited in chain order, from the head.
//
//   - uncapped, or the cap still holds after adding the full contribution: accepted
//   - first bid whose cap would be exceeded: the cutoff, accepted up to its cap
//     (partially accepted when that leaves something, rejected otherwise)
//   - every bid after the cutoff: rejected
func (sc *ClearingScan) Visit(bid *Bid) BidStatus {
	if sc.CutoffBidID != HeadID {
		return StatusRejected
	}
	if IsUncapped(&bid.MaxValuation) {
		sc.Cumulative.Add(&sc.Cumulative, &bid.Contribution)
		return StatusAccepted
	}
	next, overflow := new(uint256.Int).AddOverflow(&sc.Cumulative, &bid.Contribution)
	if !overflow && !next.Gt(&bid.MaxValuation) {
		sc.Cumulative.Set(next)
		return StatusAccepted
	}

	sc.CutoffBidID = bid.ID
	if bid.MaxValuation.Gt(&sc.Cumulative) {
		sc.CutoffAccepted.Sub(&bid.MaxValuation, &sc.Cumulative)
		sc.Cumulative.Set(&bid.MaxValuation)
		return StatusPartiallyAccepted
	}
	return StatusRejected
}

// ClearingResult describes how a bucket clears.
type ClearingResult struct {
	// Valuation is the clearing valuation, equal to the accepted contribution.
	Valuation uint256.Int
	// CutoffBidID is zero when every bid is accepted in full.
	CutoffBidID        BidID
	CutoffMaxValuation uint256.Int
	CutoffAccepted     uint256.Int
	TotalAccepted      uint256.Int
	// Statuses holds the status of each input bid, by position.
	Statuses []BidStatus
}

// Clear computes the clearing of a chain given in head-to-tail order. It runs
// the same step Finalize runs, without a budget and without mutating the bids.
func Clear(chain []Bid) ClearingResult {
	var scan ClearingScan
	result := ClearingResult{Statuses: make([]BidStatus, len(chain))}
	for i := range chain {
		result.Statuses[i] = scan.Visit(&chain[i])
		if scan.CutoffBidID == chain[i].ID && result.CutoffBidID == HeadID {
			result.CutoffBidID = chain[i].ID
			result.CutoffMaxValuation.Set(&chain[i].MaxValuation)
		}
	}
	result.Valuation.Set(&scan.Cumulative)
	result.TotalAccepted.Set(&scan.Cumulative)
	result.CutoffAccepted.Set(&scan.CutoffAccepted)
	return result
}

// AcceptedContribution returns how much of bid was accepted given the bucket's results.
func AcceptedContribution(bucket *Bucket, bid *Bid) *uint256.Int {
	switch bid.Status {
	case StatusAccepted:
		return new(uint256.Int).Set(&bid.Contribution)
	case StatusPartiallyAccepted:
		return new(uint256.Int).Set(&bucket.CutoffAcceptedContribution)
	default:
		return new(uint256.Int)
	}
}
