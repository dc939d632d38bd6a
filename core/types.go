package core

import (
	"math"

	"github.com/holiman/uint256"
)

// BidID identifies a bid across every bucket of the sale. IDs are assigned from 1
// in submission order and double as indexes into the ledger's bid table.
type BidID uint64

// BucketIndex identifies one time-boxed sub-auction.
type BucketIndex uint64

const (
	// HeadID is the head sentinel of every bucket chain (cap +inf). It is never a real bid.
	HeadID BidID = 0
	// TailID is the tail sentinel of every bucket chain. It ranks below any cap.
	TailID BidID = math.MaxUint64
)

// noCap is the MaxValuation sentinel for bids without a valuation cap.
var noCap = *new(uint256.Int).SetAllOne()

// NoCap returns the sentinel valuation meaning "no cap".
func NoCap() *uint256.Int {
	return new(uint256.Int).Set(&noCap)
}

// IsUncapped reports whether v is the no-cap sentinel.
func IsUncapped(v *uint256.Int) bool {
	return v.Eq(&noCap)
}

// BidStatus is the terminal classification assigned to a bid by finalization.
type BidStatus uint8

const (
	StatusPending BidStatus = iota
	StatusAccepted
	StatusPartiallyAccepted
	StatusRejected
)

func (s BidStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusAccepted:
		return "accepted"
	case StatusPartiallyAccepted:
		return "partially_accepted"
	case StatusRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Phase is the lifecycle state of a bucket.
type Phase uint8

const (
	// PhaseOpen covers buckets whose window has not closed yet, including future ones.
	PhaseOpen Phase = iota
	PhaseFinalizing
	PhaseFinalized
)

func (p Phase) String() string {
	switch p {
	case PhaseOpen:
		return "open"
	case PhaseFinalizing:
		return "finalizing"
	case PhaseFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// Bid is a single contribution to one bucket.
type Bid struct {
	ID           BidID
	Bucket       BucketIndex
	Bidder       string
	Contribution uint256.Int
	MaxValuation uint256.Int

	// Next is the successor in the bucket chain, TailID for the last bid.
	Next BidID

	Status   BidStatus
	Redeemed bool

	// Settlement legs already paid out. Redeemed is set once both are done.
	RefundPaid bool
	TokensPaid bool
}

// ClearingScan is the resumable state of a walk down a bucket chain from the head.
type ClearingScan struct {
	// Cumulative is the accepted contribution so far.
	Cumulative uint256.Int
	// CutoffBidID is zero until the cutoff bid has been visited.
	CutoffBidID    BidID
	CutoffAccepted uint256.Int
}

// Bucket is one sub-auction: its chain, its allotment and its finalization state.
type Bucket struct {
	Index          BucketIndex
	TokenAllotment uint256.Int

	// First is the successor of the head sentinel, TailID when the bucket is empty.
	First BidID
	// LastUncapped is the last uncapped bid of the chain, HeadID when there is none.
	LastUncapped      BidID
	BidCount          int
	TotalContribution uint256.Int

	// Cursor is the last bid visited by finalization, HeadID before the first step.
	Cursor       BidID
	Scan         ClearingScan
	ScanComplete bool
	Finalized    bool

	ClearingValuation uint256.Int
	// CutoffBidID is zero when every bid was accepted in full.
	CutoffBidID                BidID
	CutoffAcceptedContribution uint256.Int
	TotalAcceptedContribution  uint256.Int
}

// HasCutoff reports whether finalization found a cutoff bid.
func (b *Bucket) HasCutoff() bool {
	return b.CutoffBidID != HeadID
}

// Redemption is what one successful Redeem call transferred for a bid.
// A leg paid by an earlier, partially failed call reads zero.
type Redemption struct {
	BidID  BidID
	Bidder string
	Refund uint256.Int
	Tokens uint256.Int
}
