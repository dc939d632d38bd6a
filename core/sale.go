package core

import (
	"errors"
	"fmt"
	"sync"

	"github.com/holiman/uint256"
)

// Config describes the shape of a sale.
type Config struct {
	// BaseIndex is the index of the first bucket.
	BaseIndex       BucketIndex
	NumberOfBuckets uint64
	// TokensForSale is split evenly across buckets; the division remainder is never sold.
	TokensForSale uint256.Int
}

// Collaborators are the outside capabilities a Sale depends on.
// Admission may be nil, in which case every bid is admitted.
type Collaborators struct {
	Admission Admission
	Custody   Custody
	Tokens    TokenLedger
	Clock     Clock
}

// Sale is a bucketed, valuation-capped token sale. Every exported method is one
// atomic transition: a single writer lock serialises them, and collaborators
// are called from inside the transition, so they must not call back into the Sale.
type Sale struct {
	mu sync.Mutex

	cfg           Config
	deps          Collaborators
	ledger        *Ledger
	contributions *Contributions

	// turn is the oldest bucket not yet finalized.
	turn BucketIndex
}

// NewSale creates a sale with no bids.
func NewSale(cfg Config, deps Collaborators) (*Sale, error) {
	if cfg.NumberOfBuckets == 0 {
		return nil, errors.New("number of buckets must be positive")
	}
	if uint64(cfg.BaseIndex)+cfg.NumberOfBuckets < uint64(cfg.BaseIndex) {
		return nil, errors.New("bucket range overflows")
	}
	if deps.Custody == nil || deps.Tokens == nil || deps.Clock == nil {
		return nil, errors.New("custody, token ledger and clock are required")
	}
	if deps.Admission == nil {
		deps.Admission = AdmitAll{}
	}

	allotment := new(uint256.Int).Div(&cfg.TokensForSale, uint256.NewInt(cfg.NumberOfBuckets))
	return &Sale{
		cfg:           cfg,
		deps:          deps,
		ledger:        NewLedger(allotment),
		contributions: newContributions(),
		turn:          cfg.BaseIndex,
	}, nil
}

// Config returns the sale configuration.
func (s *Sale) Config() Config {
	return s.cfg
}

// TokenAllotment returns the tokens each bucket distributes.
func (s *Sale) TokenAllotment() uint256.Int {
	return s.ledger.allotment
}

// Contributions exposes per-bidder totals, e.g. for admission tiers.
func (s *Sale) Contributions() *Contributions {
	return s.contributions
}

func (s *Sale) inRange(index BucketIndex) bool {
	return index >= s.cfg.BaseIndex && uint64(index-s.cfg.BaseIndex) < s.cfg.NumberOfBuckets
}

func (s *Sale) checkRange(index BucketIndex) error {
	if !s.inRange(index) {
		return fmt.Errorf("%w: bucket %d is outside the sale", ErrInvalidState, index)
	}
	return nil
}

// checkOpen verifies that index is the bucket currently accepting bids.
func (s *Sale) checkOpen(index BucketIndex) error {
	if err := s.checkRange(index); err != nil {
		return err
	}
	current, ok := s.deps.Clock.CurrentBucketIndex()
	if !ok || current != index || s.deps.Clock.IsWindowClosed(index) {
		return fmt.Errorf("%w: bucket %d is not open for bids", ErrInvalidState, index)
	}
	return nil
}

func (s *Sale) insertLocked(index BucketIndex, bidder string, contribution, maxValuation *uint256.Int, hint func() BidID) (BidID, error) {
	if contribution.IsZero() {
		return 0, fmt.Errorf("%w: contribution must be positive", ErrInvalidState)
	}
	if err := s.checkOpen(index); err != nil {
		return 0, err
	}
	if !s.deps.Admission.IsAdmitted(bidder, contribution, index) {
		return 0, fmt.Errorf("%w: %s in bucket %d", ErrNotAdmitted, bidder, index)
	}
	id, err := s.ledger.Insert(index, bidder, contribution, maxValuation, hint())
	if err != nil {
		return 0, err
	}
	s.contributions.add(bidder, contribution)
	return id, nil
}

// Insert places a capped bid in the open bucket right after hint, which must be
// the predecessor Search returns for maxValuation. A stale hint fails with
// ErrMisplacedBid and changes nothing; the caller searches again and retries.
func (s *Sale) Insert(index BucketIndex, bidder string, contribution, maxValuation *uint256.Int, hint BidID) (BidID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(index, bidder, contribution, maxValuation, func() BidID { return hint })
}

// SendUncapped places an uncapped bid in the open bucket. It needs no hint.
func (s *Sale) SendUncapped(index BucketIndex, bidder string, contribution *uint256.Int) (BidID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(index, bidder, contribution, NoCap(), func() BidID { return s.ledger.uncappedHint(index) })
}

// SearchAndInsert searches for the slot and inserts in the same transition.
// Unlike Insert its cost grows with the bucket size.
func (s *Sale) SearchAndInsert(index BucketIndex, bidder string, contribution, maxValuation *uint256.Int) (BidID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(index, bidder, contribution, maxValuation, func() BidID { return s.ledger.Search(index, maxValuation) })
}

// Search returns the position hint for a bid capped at maxValuation.
func (s *Sale) Search(index BucketIndex, maxValuation *uint256.Int) (BidID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkRange(index); err != nil {
		return 0, err
	}
	return s.ledger.Search(index, maxValuation), nil
}

// Bid returns a copy of the bid with the given ID.
func (s *Sale) Bid(id BidID) (Bid, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bid, ok := s.ledger.bid(id)
	if !ok {
		return Bid{}, false
	}
	return *bid, true
}

// LastBidID returns the most recently assigned bid ID, zero before the first bid.
func (s *Sale) LastBidID() BidID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.LastID()
}

// Bucket returns a copy of the bucket at index.
func (s *Sale) Bucket(index BucketIndex) (Bucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkRange(index); err != nil {
		return Bucket{}, err
	}
	return *s.ledger.lookup(index), nil
}

// Chain returns the bucket's bids from the highest cap to the lowest.
func (s *Sale) Chain(index BucketIndex) ([]Bid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkRange(index); err != nil {
		return nil, err
	}
	return s.ledger.Chain(index), nil
}

// Phase returns the lifecycle state of the bucket at index.
func (s *Sale) Phase(index BucketIndex) (Phase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkRange(index); err != nil {
		return PhaseOpen, err
	}
	switch {
	case s.ledger.lookup(index).Finalized:
		return PhaseFinalized, nil
	case s.deps.Clock.IsWindowClosed(index):
		return PhaseFinalizing, nil
	default:
		return PhaseOpen, nil
	}
}

// FinalizationTurn returns the oldest bucket not yet finalized. Once every bucket
// is finalized it is one past the last bucket.
func (s *Sale) FinalizationTurn() BucketIndex {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turn
}

// TotalContribution returns everything bidder has contributed across buckets.
func (s *Sale) TotalContribution(bidder string) uint256.Int {
	return s.contributions.TotalContribution(bidder)
}

// BidsOf returns the IDs of bidder's bids in submission order.
func (s *Sale) BidsOf(bidder string) []BidID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.BidsOf(bidder)
}

// ValuationAndCutoff reports how the bucket would clear with its current bids.
// It is read-only and may be called at any phase.
func (s *Sale) ValuationAndCutoff(index BucketIndex) (ClearingResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkRange(index); err != nil {
		return ClearingResult{}, err
	}
	return Clear(s.ledger.Chain(index)), nil
}
