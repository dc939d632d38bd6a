package main

import (
	"errors"
	"fmt"
	"log"

	"github.com/cloudx-io/opensale/core"
	"github.com/cloudx-io/opensale/saleapi"
)

func success(respType string) saleapi.Result {
	return saleapi.Result{Type: respType, Success: true}
}

func failure(respType string, err error) saleapi.Result {
	return saleapi.Result{Type: respType, Message: err.Error(), ErrorKind: core.KindOf(err)}
}

func badRequest(respType string, err error) saleapi.Result {
	return saleapi.Result{Type: respType, Message: err.Error(), ErrorKind: saleapi.ErrorKindBadRequest}
}

func (s *SaleServer) units() saleapi.Units {
	return s.cfg.Units()
}

// bidView describes a bid together with its payout once its bucket is finalized.
func (s *SaleServer) bidView(id core.BidID) (saleapi.BidView, error) {
	bid, ok := s.sale.Bid(id)
	if !ok {
		return saleapi.BidView{}, fmt.Errorf("%w: unknown bid %d", core.ErrInvalidState, id)
	}
	bucket, err := s.sale.Bucket(bid.Bucket)
	if err != nil {
		return saleapi.BidView{}, err
	}
	return saleapi.NewBidView(&bucket, &bid, s.units()), nil
}

func (s *SaleServer) bucketView(index core.BucketIndex) (saleapi.BucketView, error) {
	bucket, err := s.sale.Bucket(index)
	if err != nil {
		return saleapi.BucketView{}, err
	}
	phase, err := s.sale.Phase(index)
	if err != nil {
		return saleapi.BucketView{}, err
	}
	return saleapi.NewBucketView(&bucket, phase, s.units()), nil
}

// chainViews lists the bucket's bids in chain order.
func (s *SaleServer) chainViews(index core.BucketIndex) ([]saleapi.BidView, error) {
	bucket, err := s.sale.Bucket(index)
	if err != nil {
		return nil, err
	}
	chain, err := s.sale.Chain(index)
	if err != nil {
		return nil, err
	}
	views := make([]saleapi.BidView, len(chain))
	for i := range chain {
		views[i] = saleapi.NewBidView(&bucket, &chain[i], s.units())
	}
	return views, nil
}

// ProcessBid places a bid. Uncapped bids need no hint; a capped bid without a
// hint is positioned by a search in the same transition. A contribution escrow
// cannot hold is refused before the bid is recorded. Callers hold mutateMu.
func (s *SaleServer) ProcessBid(req saleapi.BidRequest) saleapi.BidResponse {
	resp := saleapi.BidResponse{RequestID: req.RequestID}
	if req.Bidder == "" {
		resp.Result = badRequest(saleapi.TypeBidResponse, errors.New("bidder is required"))
		return resp
	}
	contribution, err := saleapi.ParseAmount(req.Contribution)
	if err != nil {
		resp.Result = badRequest(saleapi.TypeBidResponse, fmt.Errorf("contribution: %w", err))
		return resp
	}
	maxValuation, uncapped, err := saleapi.ParseValuation(req.MaxValuation)
	if err != nil {
		resp.Result = badRequest(saleapi.TypeBidResponse, fmt.Errorf("max valuation: %w", err))
		return resp
	}

	if err := s.books.CanDeposit(contribution); err != nil {
		log.Printf("INFO: Bid from %s refused: %v", req.Bidder, err)
		resp.Result = failure(saleapi.TypeBidResponse, fmt.Errorf("%w: %w", core.ErrTransferFailed, err))
		return resp
	}

	index := core.BucketIndex(req.Bucket)
	var id core.BidID
	switch {
	case uncapped:
		id, err = s.sale.SendUncapped(index, req.Bidder, contribution)
	case req.Hint != nil:
		id, err = s.sale.Insert(index, req.Bidder, contribution, maxValuation, core.BidID(*req.Hint))
	default:
		id, err = s.sale.SearchAndInsert(index, req.Bidder, contribution, maxValuation)
	}
	if err != nil {
		log.Printf("INFO: Bid from %s in bucket %d refused: %v", req.Bidder, index, err)
		resp.Result = failure(saleapi.TypeBidResponse, err)
		return resp
	}

	if err := s.books.Deposit(contribution); err != nil {
		log.Printf("ERROR: Failed to escrow contribution of bid %d: %v", id, err)
		resp.Result = failure(saleapi.TypeBidResponse, fmt.Errorf("bid %d recorded without escrow: %w", id, err))
		resp.BidID = uint64(id)
		return resp
	}

	view, err := s.bidView(id)
	if err != nil {
		resp.Result = failure(saleapi.TypeBidResponse, err)
		return resp
	}
	log.Printf("INFO: Bid %d from %s placed in bucket %d", id, req.Bidder, index)
	resp.Result = success(saleapi.TypeBidResponse)
	resp.BidID = uint64(id)
	resp.Bid = &view
	return resp
}

// ProcessSearch returns the insertion hint for a capped bid.
func (s *SaleServer) ProcessSearch(req saleapi.SearchRequest) saleapi.SearchResponse {
	var resp saleapi.SearchResponse
	maxValuation, uncapped, err := saleapi.ParseValuation(req.MaxValuation)
	if err != nil {
		resp.Result = badRequest(saleapi.TypeSearchResponse, fmt.Errorf("max valuation: %w", err))
		return resp
	}
	if uncapped {
		maxValuation = core.NoCap()
	}
	hint, err := s.sale.Search(core.BucketIndex(req.Bucket), maxValuation)
	if err != nil {
		resp.Result = failure(saleapi.TypeSearchResponse, err)
		return resp
	}
	resp.Result = success(saleapi.TypeSearchResponse)
	resp.Hint = uint64(hint)
	return resp
}

// ProcessFinalize runs at most MaxSteps finalization steps on a bucket and
// attaches the signed receipt once the bucket is finalized. A receipt that
// fails to sign is left off; the finalization itself still succeeded and the
// receipt can be fetched later.
func (s *SaleServer) ProcessFinalize(req saleapi.FinalizeRequest) saleapi.FinalizeResponse {
	var resp saleapi.FinalizeResponse
	maxSteps := req.MaxSteps
	if maxSteps <= 0 {
		maxSteps = s.cfg.Finalizer.MaxSteps
	}

	index := core.BucketIndex(req.Bucket)
	steps, done, err := s.sale.Finalize(index, maxSteps)
	resp.Steps = steps
	if err != nil {
		log.Printf("ERROR: Finalization of bucket %d failed after %d steps: %v", index, steps, err)
		resp.Result = failure(saleapi.TypeFinalizeResponse, err)
		return resp
	}
	resp.Done = done

	view, err := s.bucketView(index)
	if err != nil {
		resp.Result = failure(saleapi.TypeFinalizeResponse, err)
		return resp
	}
	resp.Bucket = &view

	if done {
		if receipt, err := s.receipt(index); err != nil {
			log.Printf("ERROR: Failed to sign receipt for bucket %d: %v", index, err)
		} else {
			resp.ReceiptCOSEBase64 = receipt.EncodeBase64()
		}
		log.Printf("INFO: Bucket %d finalized at valuation %s", index, view.ClearingValuation)
	} else {
		log.Printf("INFO: Bucket %d finalization advanced %d steps", index, steps)
	}
	resp.Result = success(saleapi.TypeFinalizeResponse)
	return resp
}

// ProcessRedeem redeems one bid, or every redeemable bid of a bidder. A sweep
// that fails part way reports the redemptions completed before the failure.
func (s *SaleServer) ProcessRedeem(req saleapi.RedeemRequest) saleapi.RedeemResponse {
	resp := saleapi.RedeemResponse{Redemptions: []saleapi.RedemptionView{}}

	var (
		redemptions []core.Redemption
		err         error
	)
	switch {
	case req.BidID != nil:
		var r core.Redemption
		r, err = s.sale.Redeem(core.BidID(*req.BidID), req.Caller)
		if err == nil {
			redemptions = append(redemptions, r)
		}
	case req.Bidder != "":
		redemptions, err = s.sale.RedeemBidder(req.Bidder)
	default:
		resp.Result = badRequest(saleapi.TypeRedeemResponse, errors.New("bid_id or bidder is required"))
		return resp
	}

	for i := range redemptions {
		resp.Redemptions = append(resp.Redemptions, saleapi.NewRedemptionView(&redemptions[i]))
		log.Printf("INFO: Bid %d redeemed: refund %s, tokens %s",
			redemptions[i].BidID, redemptions[i].Refund.Dec(), redemptions[i].Tokens.Dec())
	}
	if err != nil {
		log.Printf("INFO: Redemption refused: %v", err)
		resp.Result = failure(saleapi.TypeRedeemResponse, err)
		return resp
	}
	resp.Result = success(saleapi.TypeRedeemResponse)
	return resp
}

func (s *SaleServer) ProcessBucket(req saleapi.BucketRequest) saleapi.BucketResponse {
	var resp saleapi.BucketResponse
	index := core.BucketIndex(req.Bucket)
	view, err := s.bucketView(index)
	if err != nil {
		resp.Result = failure(saleapi.TypeBucketResponse, err)
		return resp
	}
	resp.Bucket = &view
	if req.IncludeBids {
		if resp.Bids, err = s.chainViews(index); err != nil {
			resp.Result = failure(saleapi.TypeBucketResponse, err)
			return resp
		}
	}
	resp.Result = success(saleapi.TypeBucketResponse)
	return resp
}

func (s *SaleServer) ProcessBidInfo(req saleapi.BidInfoRequest) saleapi.BidInfoResponse {
	var resp saleapi.BidInfoResponse
	view, err := s.bidView(core.BidID(req.BidID))
	if err != nil {
		resp.Result = failure(saleapi.TypeBidInfoResponse, err)
		return resp
	}
	resp.Result = success(saleapi.TypeBidInfoResponse)
	resp.Bid = &view
	return resp
}

// ProcessValuation reports how the bucket clears with its current bids.
func (s *SaleServer) ProcessValuation(req saleapi.ValuationRequest) saleapi.ValuationResponse {
	var resp saleapi.ValuationResponse
	index := core.BucketIndex(req.Bucket)
	result, err := s.sale.ValuationAndCutoff(index)
	if err != nil {
		resp.Result = failure(saleapi.TypeValuationResponse, err)
		return resp
	}
	view := saleapi.NewValuationView(index, &result, s.units())
	resp.Result = success(saleapi.TypeValuationResponse)
	resp.Valuation = &view
	return resp
}

// saleView summarises the sale and the escrow books.
func (s *SaleServer) saleView() saleapi.SaleView {
	cfg := s.sale.Config()
	allotment := s.sale.TokenAllotment()
	balances := s.books.Balances()
	view := saleapi.SaleView{
		SaleID:           s.cfg.Sale.ID,
		Beneficiary:      s.books.Beneficiary(),
		BaseIndex:        uint64(cfg.BaseIndex),
		NumberOfBuckets:  cfg.NumberOfBuckets,
		TokenAllotment:   allotment.Dec(),
		FinalizationTurn: uint64(s.sale.FinalizationTurn()),
		LastBidID:        uint64(s.sale.LastBidID()),
		Escrow:           balances.Escrow.Dec(),
		BeneficiaryFunds: balances.Beneficiary.Dec(),
		TokensRemaining:  balances.TokenSupply.Dec(),
	}
	if current, ok := s.schedule.CurrentBucketIndex(); ok {
		index := uint64(current)
		view.CurrentBucket = &index
	}
	return view
}

// bidderView lists a bidder's bids with what has been paid out to them.
func (s *SaleServer) bidderView(bidder string) (saleapi.BidderView, error) {
	total := s.sale.TotalContribution(bidder)
	balances := s.books.Balances()
	refunded := balances.Refunds[bidder]
	tokens := balances.Tokens[bidder]

	view := saleapi.BidderView{
		Bidder:            bidder,
		TotalContribution: total.Dec(),
		Refunded:          refunded.Dec(),
		Tokens:            tokens.Dec(),
		Bids:              []saleapi.BidView{},
	}
	if s.whitelist != nil {
		view.Tier = s.whitelist.Tier(bidder)
	}
	for _, id := range s.sale.BidsOf(bidder) {
		bid, err := s.bidView(id)
		if err != nil {
			return saleapi.BidderView{}, err
		}
		view.Bids = append(view.Bids, bid)
	}
	return view, nil
}
