package saleapi

import (
	"github.com/holiman/uint256"

	"github.com/cloudx-io/opensale/core"
)

// Amounts in views are base-unit decimal strings. Fields ending in _display
// are the same amount in display units.

type BidView struct {
	ID           uint64 `json:"id"`
	Bucket       uint64 `json:"bucket"`
	Bidder       string `json:"bidder"`
	Contribution string `json:"contribution"`
	// MaxValuation is "uncapped" for bids without a cap.
	MaxValuation string `json:"max_valuation"`
	Status       string `json:"status"`
	Redeemed     bool   `json:"redeemed"`

	// Set once the bucket is finalized.
	Accepted string `json:"accepted,omitempty"`
	Refund   string `json:"refund,omitempty"`
	Tokens   string `json:"tokens,omitempty"`

	ContributionDisplay string `json:"contribution_display"`
}

type BucketView struct {
	Index             uint64 `json:"index"`
	Phase             string `json:"phase"`
	TokenAllotment    string `json:"token_allotment"`
	BidCount          int    `json:"bid_count"`
	TotalContribution string `json:"total_contribution"`
	Finalized         bool   `json:"finalized"`

	// Finalization results, set once Finalized.
	ClearingValuation          string `json:"clearing_valuation,omitempty"`
	CutoffBidID                uint64 `json:"cutoff_bid_id,omitempty"`
	CutoffAcceptedContribution string `json:"cutoff_accepted_contribution,omitempty"`
	TotalAcceptedContribution  string `json:"total_accepted_contribution,omitempty"`

	TotalContributionDisplay string `json:"total_contribution_display"`
	TokenAllotmentDisplay    string `json:"token_allotment_display"`
}

type ValuationView struct {
	Bucket             uint64 `json:"bucket"`
	Valuation          string `json:"valuation"`
	CutoffBidID        uint64 `json:"cutoff_bid_id,omitempty"`
	CutoffMaxValuation string `json:"cutoff_max_valuation,omitempty"`
	CutoffAccepted     string `json:"cutoff_accepted"`
	ValuationDisplay   string `json:"valuation_display"`
}

type RedemptionView struct {
	BidID  uint64 `json:"bid_id"`
	Bidder string `json:"bidder"`
	Refund string `json:"refund"`
	Tokens string `json:"tokens"`
}

// SaleView summarises the sale for the reporting API.
type SaleView struct {
	SaleID           string  `json:"sale_id"`
	Beneficiary      string  `json:"beneficiary"`
	BaseIndex        uint64  `json:"base_index"`
	NumberOfBuckets  uint64  `json:"number_of_buckets"`
	TokenAllotment   string  `json:"token_allotment"`
	CurrentBucket    *uint64 `json:"current_bucket,omitempty"`
	FinalizationTurn uint64  `json:"finalization_turn"`
	LastBidID        uint64  `json:"last_bid_id"`

	Escrow           string `json:"escrow"`
	BeneficiaryFunds string `json:"beneficiary_funds"`
	TokensRemaining  string `json:"tokens_remaining"`
}

// BidderView is everything the sale knows about one bidder.
type BidderView struct {
	Bidder            string    `json:"bidder"`
	Tier              string    `json:"tier,omitempty"`
	TotalContribution string    `json:"total_contribution"`
	Refunded          string    `json:"refunded"`
	Tokens            string    `json:"tokens"`
	Bids              []BidView `json:"bids"`
}

// Units are the display decimals of the contribution currency and of the sale token.
type Units struct {
	Currency int32
	Token    int32
}

// FormatValuation renders a cap, spelling the no-cap sentinel "uncapped".
func FormatValuation(v *uint256.Int) string {
	if core.IsUncapped(v) {
		return Uncapped
	}
	return v.Dec()
}

// NewBidView describes bid; bucket is the bucket it belongs to.
func NewBidView(bucket *core.Bucket, bid *core.Bid, units Units) BidView {
	view := BidView{
		ID:                  uint64(bid.ID),
		Bucket:              uint64(bid.Bucket),
		Bidder:              bid.Bidder,
		Contribution:        bid.Contribution.Dec(),
		MaxValuation:        FormatValuation(&bid.MaxValuation),
		Status:              bid.Status.String(),
		Redeemed:            bid.Redeemed,
		ContributionDisplay: FormatUnits(&bid.Contribution, units.Currency),
	}
	if bucket.Finalized {
		refund, tokens := core.Payout(bucket, bid)
		view.Accepted = core.AcceptedContribution(bucket, bid).Dec()
		view.Refund = refund.Dec()
		view.Tokens = tokens.Dec()
	}
	return view
}

// NewBucketView describes bucket in the given phase.
func NewBucketView(bucket *core.Bucket, phase core.Phase, units Units) BucketView {
	view := BucketView{
		Index:                    uint64(bucket.Index),
		Phase:                    phase.String(),
		TokenAllotment:           bucket.TokenAllotment.Dec(),
		BidCount:                 bucket.BidCount,
		TotalContribution:        bucket.TotalContribution.Dec(),
		Finalized:                bucket.Finalized,
		TotalContributionDisplay: FormatUnits(&bucket.TotalContribution, units.Currency),
		TokenAllotmentDisplay:    FormatUnits(&bucket.TokenAllotment, units.Token),
	}
	if bucket.Finalized {
		view.ClearingValuation = bucket.ClearingValuation.Dec()
		view.CutoffBidID = uint64(bucket.CutoffBidID)
		view.CutoffAcceptedContribution = bucket.CutoffAcceptedContribution.Dec()
		view.TotalAcceptedContribution = bucket.TotalAcceptedContribution.Dec()
	}
	return view
}

// NewValuationView describes the clearing of a bucket.
func NewValuationView(index core.BucketIndex, result *core.ClearingResult, units Units) ValuationView {
	view := ValuationView{
		Bucket:           uint64(index),
		Valuation:        result.Valuation.Dec(),
		CutoffBidID:      uint64(result.CutoffBidID),
		CutoffAccepted:   result.CutoffAccepted.Dec(),
		ValuationDisplay: FormatUnits(&result.Valuation, units.Currency),
	}
	if result.CutoffBidID != core.HeadID {
		view.CutoffMaxValuation = result.CutoffMaxValuation.Dec()
	}
	return view
}

func NewRedemptionView(r *core.Redemption) RedemptionView {
	return RedemptionView{
		BidID:  uint64(r.BidID),
		Bidder: r.Bidder,
		Refund: r.Refund.Dec(),
		Tokens: r.Tokens.Dec(),
	}
}
