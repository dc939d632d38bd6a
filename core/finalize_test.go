package core

import (
	"errors"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func fillBucket(t *testing.T, f *fixture) {
	t.Helper()
	f.bid(t, "bidder_a", u(10), NoCap())
	f.bid(t, "bidder_b", u(10), u(25))
	f.bid(t, "bidder_c", u(10), u(15))
	f.bid(t, "bidder_d", u(3), u(12))
	f.bid(t, "bidder_e", u(10), NoCap())
}

func TestFinalize_ResumableMatchesSinglePass(t *testing.T) {
	single := newFixture(t, 1, 700)
	fillBucket(t, single)
	single.closeAll()
	steps, done, err := single.sale.Finalize(0, 100)
	assert.NoError(t, err)
	check.True(t, done)
	check.Equal(t, 5, steps)

	stepped := newFixture(t, 1, 700)
	fillBucket(t, stepped)
	stepped.closeAll()
	total := 0
	for i := 0; ; i++ {
		n, done, err := stepped.sale.Finalize(0, 1)
		assert.NoError(t, err)
		total += n
		if done {
			break
		}
		assert.True(t, i < 10)
	}
	check.Equal(t, 5, total)

	check.Equal(t, single.sale.Snapshot(), stepped.sale.Snapshot())
	check.Equal(t, 1, len(stepped.custody.beneficiary))
	check.Equal(t, "25", stepped.custody.beneficiary[0].Dec())
}

// mixedBucket places n bids with repeated caps, uncapped bids and a cutoff
// that lands inside the chain.
func mixedBucket(t *testing.T, f *fixture, n int) {
	t.Helper()
	seed := uint64(11)
	for i := 0; i < n; i++ {
		seed = seed*6364136223846793005 + 1442695040888963407
		contribution := u(1 + (seed>>20)%7)
		switch capValue := (seed >> 33) % 12; capValue {
		case 0, 1:
			f.bid(t, "bidder", contribution, NoCap())
		default:
			f.bid(t, "bidder", contribution, u(capValue*15))
		}
	}
}

func TestFinalize_ResumableMatchesSinglePassForAnyBudget(t *testing.T) {
	chains := []struct {
		name string
		fill func(t *testing.T, f *fixture)
		bids int
	}{
		{name: "fixed", fill: fillBucket, bids: 5},
		{name: "mixed", fill: func(t *testing.T, f *fixture) { mixedBucket(t, f, 60) }, bids: 60},
		{name: "uncapped", fill: func(t *testing.T, f *fixture) {
			for i := 0; i < 4; i++ {
				f.bid(t, "bidder", u(3), NoCap())
			}
		}, bids: 4},
	}
	budgets := [][]int{{1}, {2}, {3}, {5, 1}, {1, 2, 3}, {7, 2, 4}, {4, 4, 1}, {59}, {60}, {61}}

	for _, chain := range chains {
		single := newFixture(t, 1, 700)
		chain.fill(t, single)
		single.closeAll()
		single.finalizeAll(t, 0)
		want := single.sale.Snapshot()

		for _, sequence := range budgets {
			stepped := newFixture(t, 1, 700)
			chain.fill(t, stepped)
			stepped.closeAll()

			total, calls := 0, 0
			for done := false; !done; calls++ {
				var n int
				var err error
				n, done, err = stepped.sale.Finalize(0, sequence[calls%len(sequence)])
				assert.NoError(t, err)
				check.True(t, n <= sequence[calls%len(sequence)])
				total += n
				assert.True(t, calls <= chain.bids+1)
			}

			check.Equal(t, chain.bids, total)
			check.Equal(t, want, stepped.sale.Snapshot())
			check.Equal(t, single.custody.beneficiary, stepped.custody.beneficiary)
		}
	}
}

func TestFinalize_RecordsResults(t *testing.T) {
	f := newFixture(t, 1, 700)
	fillBucket(t, f)
	f.closeAll()
	f.finalizeAll(t, 0)

	b, err := f.sale.Bucket(0)
	assert.NoError(t, err)
	check.True(t, b.Finalized)
	check.True(t, b.HasCutoff())
	check.Equal(t, "25", b.ClearingValuation.Dec())
	check.Equal(t, "25", b.TotalAcceptedContribution.Dec())
	check.Equal(t, BidID(2), b.CutoffBidID)
	check.Equal(t, "5", b.CutoffAcceptedContribution.Dec())

	want := map[BidID]BidStatus{
		1: StatusAccepted,
		5: StatusAccepted,
		2: StatusPartiallyAccepted,
		3: StatusRejected,
		4: StatusRejected,
	}
	for id, status := range want {
		bid, ok := f.sale.Bid(id)
		assert.True(t, ok)
		check.Equal(t, status, bid.Status)
	}

	phase, err := f.sale.Phase(0)
	assert.NoError(t, err)
	check.Equal(t, PhaseFinalized, phase)
}

func TestFinalize_StrictOrder(t *testing.T) {
	f := newFixture(t, 3, 300)
	f.bid(t, "bidder_a", u(10), NoCap())
	f.clock.advance()
	f.bid(t, "bidder_b", u(10), NoCap())
	f.clock.advance()

	_, _, err := f.sale.Finalize(1, 10)
	check.True(t, errors.Is(err, ErrOutOfOrder))
	check.Equal(t, "out_of_order", KindOf(err))

	f.finalizeAll(t, 0)
	check.Equal(t, BucketIndex(1), f.sale.FinalizationTurn())
	f.finalizeAll(t, 1)
	check.Equal(t, BucketIndex(2), f.sale.FinalizationTurn())

	_, _, err = f.sale.Finalize(0, 10)
	check.True(t, errors.Is(err, ErrAlreadyFinalized))
	check.True(t, errors.Is(err, ErrInvalidState))
	check.Equal(t, "already_finalized", KindOf(err))
}

func TestFinalize_RejectsOpenWindowAndBadBudget(t *testing.T) {
	f := newFixture(t, 2, 200)
	f.bid(t, "bidder_a", u(10), NoCap())

	_, _, err := f.sale.Finalize(0, 10)
	check.True(t, errors.Is(err, ErrInvalidState))

	f.clock.advance()
	_, _, err = f.sale.Finalize(0, 0)
	check.True(t, errors.Is(err, ErrInvalidState))
	_, _, err = f.sale.Finalize(5, 10)
	check.True(t, errors.Is(err, ErrInvalidState))

	phase, err := f.sale.Phase(0)
	assert.NoError(t, err)
	check.Equal(t, PhaseFinalizing, phase)
	phase, err = f.sale.Phase(1)
	assert.NoError(t, err)
	check.Equal(t, PhaseOpen, phase)
}

func TestFinalize_BlocksInsertsOnceStarted(t *testing.T) {
	f := newFixture(t, 1, 100)
	f.bid(t, "bidder_a", u(10), NoCap())
	f.bid(t, "bidder_b", u(10), NoCap())
	f.closeAll()

	_, done, err := f.sale.Finalize(0, 1)
	assert.NoError(t, err)
	check.False(t, done)

	_, err = f.sale.SendUncapped(0, "bidder_c", u(10))
	check.True(t, errors.Is(err, ErrInvalidState))
}

func TestFinalize_EmptyBucket(t *testing.T) {
	f := newFixture(t, 2, 200)
	f.clock.advance()

	steps, done, err := f.sale.Finalize(0, 1)
	assert.NoError(t, err)
	check.True(t, done)
	check.Equal(t, 0, steps)
	check.Equal(t, 0, len(f.custody.beneficiary))

	b, err := f.sale.Bucket(0)
	assert.NoError(t, err)
	check.True(t, b.Finalized)
	check.False(t, b.HasCutoff())
	check.Equal(t, "0", b.ClearingValuation.Dec())
}

func TestFinalize_BeneficiaryFailureRetries(t *testing.T) {
	f := newFixture(t, 1, 100)
	f.bid(t, "bidder_a", u(10), NoCap())
	f.bid(t, "bidder_b", u(10), u(15))
	f.closeAll()
	f.custody.failNext = 1

	steps, done, err := f.sale.Finalize(0, 10)
	check.True(t, errors.Is(err, ErrTransferFailed))
	check.False(t, done)
	check.Equal(t, 2, steps)
	check.Equal(t, BucketIndex(0), f.sale.FinalizationTurn())

	b, err := f.sale.Bucket(0)
	assert.NoError(t, err)
	check.False(t, b.Finalized)
	check.True(t, b.ScanComplete)

	steps, done, err = f.sale.Finalize(0, 1)
	assert.NoError(t, err)
	check.True(t, done)
	check.Equal(t, 0, steps)
	check.Equal(t, 1, len(f.custody.beneficiary))
	check.Equal(t, "15", f.custody.beneficiary[0].Dec())
}
