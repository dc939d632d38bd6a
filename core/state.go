package core

import (
	"errors"
	"fmt"
)

// State is a full copy of a sale's mutable data, used for persistence.
type State struct {
	// Bids are ordered by ID, starting at 1.
	Bids    []Bid
	Buckets []Bucket
	Turn    BucketIndex
}

// Snapshot returns a copy of the sale's state.
func (s *Sale) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := State{
		Bids:    make([]Bid, len(s.ledger.bids)-1),
		Buckets: make([]Bucket, 0, len(s.ledger.buckets)),
		Turn:    s.turn,
	}
	copy(st.Bids, s.ledger.bids[1:])
	for index := s.cfg.BaseIndex; s.inRange(index); index++ {
		if b, ok := s.ledger.buckets[index]; ok {
			st.Buckets = append(st.Buckets, *b)
		}
	}
	return st
}

// Restore replaces the sale's state with st. The state must come from a sale
// with the same configuration; it is checked for consistency before anything
// is replaced.
func (s *Sale) Restore(st State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.inRange(st.Turn) && uint64(st.Turn-s.cfg.BaseIndex) != s.cfg.NumberOfBuckets {
		return fmt.Errorf("finalization turn %d is outside the sale", st.Turn)
	}
	ledger := NewLedger(&s.ledger.allotment)
	for i, bid := range st.Bids {
		if bid.ID != BidID(i+1) {
			return fmt.Errorf("bid at position %d has id %d", i, bid.ID)
		}
		if !s.inRange(bid.Bucket) {
			return fmt.Errorf("bid %d references bucket %d outside the sale", bid.ID, bid.Bucket)
		}
		ledger.bids = append(ledger.bids, bid)
		ledger.byBidder[bid.Bidder] = append(ledger.byBidder[bid.Bidder], bid.ID)
	}
	for _, b := range st.Buckets {
		if !s.inRange(b.Index) {
			return fmt.Errorf("bucket %d is outside the sale", b.Index)
		}
		if !b.TokenAllotment.Eq(&ledger.allotment) {
			return fmt.Errorf("bucket %d allotment %s does not match sale allotment %s",
				b.Index, b.TokenAllotment.Dec(), ledger.allotment.Dec())
		}
		bucket := b
		ledger.buckets[b.Index] = &bucket
	}
	if err := checkChains(ledger); err != nil {
		return err
	}

	s.ledger = ledger
	s.turn = st.Turn
	s.contributions.reset()
	for i := 1; i < len(ledger.bids); i++ {
		s.contributions.add(ledger.bids[i].Bidder, &ledger.bids[i].Contribution)
	}
	return nil
}

// checkChains verifies that every bid is reachable exactly once from its bucket's
// head and that each chain respects the ordering invariant.
func checkChains(l *Ledger) error {
	seen := make([]bool, len(l.bids))
	for _, b := range l.buckets {
		count := 0
		prev := HeadID
		for cur := b.First; cur != TailID; cur = l.bids[cur].Next {
			bid, ok := l.bid(cur)
			if !ok || bid.Bucket != b.Index || seen[cur] {
				return fmt.Errorf("bucket %d chain is corrupt at bid %d", b.Index, cur)
			}
			seen[cur] = true
			if prev != HeadID && l.bids[prev].MaxValuation.Lt(&bid.MaxValuation) {
				return fmt.Errorf("bucket %d chain is out of order at bid %d", b.Index, cur)
			}
			prev = cur
			count++
		}
		if count != b.BidCount {
			return fmt.Errorf("bucket %d holds %d bids, chain has %d", b.Index, b.BidCount, count)
		}
	}
	for id := 1; id < len(seen); id++ {
		if !seen[id] {
			return errors.New("bid table holds bids outside every chain")
		}
	}
	return nil
}
