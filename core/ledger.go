package core

import (
	"fmt"

	"github.com/holiman/uint256"
)

// Ledger holds the append-only bid table and the ordered chain of every bucket.
// Chain links are BidIDs into the table; HeadID and TailID are never resolved.
//
// Ledger is not safe for concurrent use; Sale serialises access to it.
type Ledger struct {
	// bids[0] is a placeholder so that a BidID is its own index.
	bids      []Bid
	buckets   map[BucketIndex]*Bucket
	byBidder  map[string][]BidID
	allotment uint256.Int
}

// NewLedger creates an empty ledger whose buckets each receive allotment tokens.
func NewLedger(allotment *uint256.Int) *Ledger {
	l := &Ledger{
		bids:     make([]Bid, 1),
		buckets:  make(map[BucketIndex]*Bucket),
		byBidder: make(map[string][]BidID),
	}
	l.allotment.Set(allotment)
	return l
}

// pristine returns a bucket that nothing has referenced yet.
func (l *Ledger) pristine(index BucketIndex) *Bucket {
	b := &Bucket{
		Index:        index,
		First:        TailID,
		LastUncapped: HeadID,
		Cursor:       HeadID,
	}
	b.TokenAllotment.Set(&l.allotment)
	return b
}

// lookup returns the bucket at index without recording it. An unreferenced
// bucket comes back pristine and detached from the ledger.
func (l *Ledger) lookup(index BucketIndex) *Bucket {
	if b, ok := l.buckets[index]; ok {
		return b
	}
	return l.pristine(index)
}

// bucket returns the bucket at index, creating it on first reference.
// Only mutations call it.
func (l *Ledger) bucket(index BucketIndex) *Bucket {
	b, ok := l.buckets[index]
	if !ok {
		b = l.pristine(index)
		l.buckets[index] = b
	}
	return b
}

func (l *Ledger) bid(id BidID) (*Bid, bool) {
	if id == HeadID || id == TailID || uint64(id) >= uint64(len(l.bids)) {
		return nil, false
	}
	return &l.bids[id], true
}

// LastID returns the most recently assigned bid ID, zero when no bid exists.
func (l *Ledger) LastID() BidID {
	return BidID(len(l.bids) - 1)
}

// successor returns the bid following id in b's chain; id may be HeadID.
func (l *Ledger) successor(b *Bucket, id BidID) BidID {
	if id == HeadID {
		return b.First
	}
	return l.bids[id].Next
}

func (l *Ledger) link(b *Bucket, after, id BidID) {
	if after == HeadID {
		b.First = id
		return
	}
	l.bids[after].Next = id
}

// Search returns the last bid of the bucket whose cap is at least maxValuation,
// which is the predecessor Insert expects for a bid with that cap. It returns
// HeadID when no bid qualifies. Search is O(n) in the bucket size and read-only.
func (l *Ledger) Search(index BucketIndex, maxValuation *uint256.Int) BidID {
	b, ok := l.buckets[index]
	if !ok {
		return HeadID
	}
	pred := HeadID
	for cur := b.First; cur != TailID; cur = l.bids[cur].Next {
		if l.bids[cur].MaxValuation.Lt(maxValuation) {
			break
		}
		pred = cur
	}
	return pred
}

// checkHint verifies in O(1) that a bid capped at maxValuation belongs right after hint.
func (l *Ledger) checkHint(b *Bucket, hint BidID, maxValuation *uint256.Int) error {
	if hint == TailID {
		return fmt.Errorf("%w: tail sentinel cannot precede a bid", ErrMisplacedBid)
	}
	if hint != HeadID {
		pred, ok := l.bid(hint)
		if !ok || pred.Bucket != b.Index {
			return fmt.Errorf("%w: hint %d is not a bid of bucket %d", ErrMisplacedBid, hint, b.Index)
		}
		if pred.MaxValuation.Lt(maxValuation) {
			return fmt.Errorf("%w: hint %d caps below the new bid", ErrMisplacedBid, hint)
		}
	}
	if next := l.successor(b, hint); next != TailID {
		// Equal caps keep submission order, so the new bid goes after all of them.
		if !l.bids[next].MaxValuation.Lt(maxValuation) {
			return fmt.Errorf("%w: successor %d of hint %d does not cap below the new bid", ErrMisplacedBid, next, hint)
		}
	}
	return nil
}

// Insert splices a new pending bid into the bucket right after hint. A failed
// insert leaves the ledger untouched.
func (l *Ledger) Insert(index BucketIndex, bidder string, contribution, maxValuation *uint256.Int, hint BidID) (BidID, error) {
	if contribution.IsZero() {
		return 0, fmt.Errorf("%w: contribution must be positive", ErrInvalidState)
	}
	if uint64(len(l.bids)) == uint64(TailID) {
		return 0, fmt.Errorf("%w: bid table exhausted", ErrInvalidState)
	}
	b := l.lookup(index)
	if b.Finalized || b.Cursor != HeadID || b.ScanComplete {
		return 0, fmt.Errorf("%w: bucket %d is being finalized", ErrInvalidState, index)
	}
	total, overflow := new(uint256.Int).AddOverflow(&b.TotalContribution, contribution)
	if overflow {
		return 0, fmt.Errorf("%w: bucket %d contribution overflows", ErrInvalidState, index)
	}
	if err := l.checkHint(b, hint, maxValuation); err != nil {
		return 0, err
	}

	b = l.bucket(index)
	id := BidID(len(l.bids))
	bid := Bid{
		ID:     id,
		Bucket: index,
		Bidder: bidder,
		Next:   l.successor(b, hint),
		Status: StatusPending,
	}
	bid.Contribution.Set(contribution)
	bid.MaxValuation.Set(maxValuation)
	l.bids = append(l.bids, bid)
	l.link(b, hint, id)

	if IsUncapped(maxValuation) {
		b.LastUncapped = id
	}
	b.BidCount++
	b.TotalContribution.Set(total)
	l.byBidder[bidder] = append(l.byBidder[bidder], id)
	return id, nil
}

// uncappedHint is the O(1) predecessor for a new uncapped bid.
func (l *Ledger) uncappedHint(index BucketIndex) BidID {
	if b, ok := l.buckets[index]; ok {
		return b.LastUncapped
	}
	return HeadID
}

// Chain returns copies of the bucket's bids from head to tail.
func (l *Ledger) Chain(index BucketIndex) []Bid {
	b, ok := l.buckets[index]
	if !ok {
		return []Bid{}
	}
	chain := make([]Bid, 0, b.BidCount)
	for cur := b.First; cur != TailID; cur = l.bids[cur].Next {
		chain = append(chain, l.bids[cur])
	}
	return chain
}

// BidsOf returns the IDs of every bid placed by bidder, in submission order.
func (l *Ledger) BidsOf(bidder string) []BidID {
	ids := l.byBidder[bidder]
	out := make([]BidID, len(ids))
	copy(out, ids)
	return out
}
