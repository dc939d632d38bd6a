package core

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"
	"github.com/peterldowns/testy/assert"
)

// manualClock opens one bucket at a time; every bucket below open is closed.
type manualClock struct {
	open    BucketIndex
	stopped bool // no bucket open, open itself closed too
}

func (c *manualClock) CurrentBucketIndex() (BucketIndex, bool) {
	if c.stopped {
		return 0, false
	}
	return c.open, true
}

func (c *manualClock) IsWindowClosed(index BucketIndex) bool {
	if c.stopped {
		return index <= c.open
	}
	return index < c.open
}

func (c *manualClock) advance() { c.open++ }

type transfer struct {
	to     string
	amount uint256.Int
}

// recordingCustody records every payout and fails while failNext is positive.
type recordingCustody struct {
	refunds     []transfer
	beneficiary []uint256.Int
	failNext    int
}

func (c *recordingCustody) Refund(bidder string, amount *uint256.Int) error {
	if c.failNext > 0 {
		c.failNext--
		return errors.New("recipient rejected funds")
	}
	c.refunds = append(c.refunds, transfer{to: bidder, amount: *amount})
	return nil
}

func (c *recordingCustody) PayBeneficiary(amount *uint256.Int) error {
	if c.failNext > 0 {
		c.failNext--
		return errors.New("beneficiary rejected funds")
	}
	c.beneficiary = append(c.beneficiary, *amount)
	return nil
}

func (c *recordingCustody) refundedTo(bidder string) uint256.Int {
	var total uint256.Int
	for _, r := range c.refunds {
		if r.to == bidder {
			total.Add(&total, &r.amount)
		}
	}
	return total
}

type recordingTokens struct {
	credits  []transfer
	failNext int
}

func (t *recordingTokens) Credit(recipient string, amount *uint256.Int) error {
	if t.failNext > 0 {
		t.failNext--
		return errors.New("token transfer rejected")
	}
	t.credits = append(t.credits, transfer{to: recipient, amount: *amount})
	return nil
}

func (t *recordingTokens) creditedTo(recipient string) uint256.Int {
	var total uint256.Int
	for _, c := range t.credits {
		if c.to == recipient {
			total.Add(&total, &c.amount)
		}
	}
	return total
}

type denyList map[string]bool

func (d denyList) IsAdmitted(bidder string, _ *uint256.Int, _ BucketIndex) bool {
	return !d[bidder]
}

type fixture struct {
	sale    *Sale
	clock   *manualClock
	custody *recordingCustody
	tokens  *recordingTokens
}

func newFixture(t *testing.T, buckets uint64, tokensForSale uint64) *fixture {
	t.Helper()
	f := &fixture{
		clock:   &manualClock{},
		custody: &recordingCustody{},
		tokens:  &recordingTokens{},
	}
	cfg := Config{NumberOfBuckets: buckets}
	cfg.TokensForSale.SetUint64(tokensForSale)
	sale, err := NewSale(cfg, Collaborators{
		Custody: f.custody,
		Tokens:  f.tokens,
		Clock:   f.clock,
	})
	assert.NoError(t, err)
	f.sale = sale
	return f
}

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

func mustDec(s string) *uint256.Int { return uint256.MustFromDecimal(s) }

// bid places a bid at the position Search reports.
func (f *fixture) bid(t *testing.T, bidder string, contribution, maxValuation *uint256.Int) BidID {
	t.Helper()
	index := f.clock.open
	var id BidID
	var err error
	if IsUncapped(maxValuation) {
		id, err = f.sale.SendUncapped(index, bidder, contribution)
	} else {
		hint, serr := f.sale.Search(index, maxValuation)
		assert.NoError(t, serr)
		id, err = f.sale.Insert(index, bidder, contribution, maxValuation, hint)
	}
	assert.NoError(t, err)
	return id
}

// closeAll closes the open bucket without opening another one.
func (f *fixture) closeAll() { f.clock.stopped = true }

func (f *fixture) finalizeAll(t *testing.T, index BucketIndex) {
	t.Helper()
	_, done, err := f.sale.Finalize(index, 1<<30)
	assert.NoError(t, err)
	assert.True(t, done)
}

func chainCaps(chain []Bid) []string {
	caps := make([]string, len(chain))
	for i := range chain {
		caps[i] = formatCap(&chain[i])
	}
	return caps
}

func chainIDs(chain []Bid) []BidID {
	ids := make([]BidID, len(chain))
	for i := range chain {
		ids[i] = chain[i].ID
	}
	return ids
}
