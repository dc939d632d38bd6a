package snapshot

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/holiman/uint256"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/opensale/core"
	"github.com/cloudx-io/opensale/custody"
)

type stepClock struct{ open core.BucketIndex }

func (c *stepClock) CurrentBucketIndex() (core.BucketIndex, bool) { return c.open, true }
func (c *stepClock) IsWindowClosed(index core.BucketIndex) bool { return index < c.open }

type fixture struct {
	clock *stepClock
	books *custody.Books
	sale  *core.Sale
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{clock: &stepClock{}}
	f.books = custody.NewBooks("beneficiary", uint256.NewInt(2000))
	cfg := core.Config{NumberOfBuckets: 2}
	cfg.TokensForSale.SetUint64(2000)
	sale, err := core.NewSale(cfg, core.Collaborators{Custody: f.books, Tokens: f.books, Clock: f.clock})
	assert.NoError(t, err)
	f.sale = sale
	return f
}

func (f *fixture) bid(t *testing.T, bidder string, contribution uint64, maxValuation *uint256.Int) {
	t.Helper()
	amount := uint256.NewInt(contribution)
	_, err := f.sale.SearchAndInsert(f.clock.open, bidder, amount, maxValuation)
	assert.NoError(t, err)
	assert.NoError(t, f.books.Deposit(amount))
}

// populated returns a sale with bucket 0 finalized and partly redeemed and a
// pending bid in bucket 1.
func populated(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t)
	f.bid(t, "bidder_a", 10, core.NoCap())
	f.bid(t, "bidder_b", 10, uint256.NewInt(15))
	f.bid(t, "bidder_c", 4, uint256.NewInt(12))

	f.clock.open = 1
	_, done, err := f.sale.Finalize(0, 2)
	assert.NoError(t, err)
	assert.False(t, done)
	_, done, err = f.sale.Finalize(0, 10)
	assert.NoError(t, err)
	assert.True(t, done)

	_, err = f.sale.Redeem(3, "anyone")
	assert.NoError(t, err)
	_, err = f.sale.Redeem(1, "anyone")
	assert.NoError(t, err)

	f.bid(t, "bidder_d", 7, uint256.NewInt(100))
	return f
}

func (f *fixture) snapshot() *Snapshot {
	return &Snapshot{
		SavedAt: time.Unix(1767225600, 0),
		Sale:    f.sale.Snapshot(),
		Books:   f.books.Balances(),
	}
}

func TestEncodeDecode_RestoresSale(t *testing.T) {
	src := populated(t)
	saved := src.snapshot()

	data, err := Encode(saved)
	assert.NoError(t, err)
	loaded, err := Decode(data)
	assert.NoError(t, err)

	check.Equal(t, saved.SavedAt.Unix(), loaded.SavedAt.Unix())
	check.Equal(t, saved.Sale, loaded.Sale)
	check.Equal(t, saved.Books, loaded.Books)

	dst := newFixture(t)
	dst.clock.open = 1
	assert.NoError(t, dst.sale.Restore(loaded.Sale))
	dst.books.Restore(loaded.Books)
	check.Equal(t, src.sale.Snapshot(), dst.sale.Snapshot())

	// The restored sale carries on where the original stopped.
	redemption, err := dst.sale.Redeem(2, "anyone")
	assert.NoError(t, err)
	check.Equal(t, "5", redemption.Refund.Dec())
	check.Equal(t, "333", redemption.Tokens.Dec())
	_, err = dst.sale.Redeem(1, "anyone")
	check.True(t, errors.Is(err, core.ErrAlreadyRedeemed))

	bal := dst.books.Balances()
	check.True(t, bal.Escrow.Eq(uint256.NewInt(7)))
	check.Equal(t, "15", bal.Beneficiary.Dec())
	check.Equal(t, "1001", bal.TokenSupply.Dec())
}

func TestEncode_Deterministic(t *testing.T) {
	saved := populated(t).snapshot()
	first, err := Encode(saved)
	assert.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := Encode(saved)
		assert.NoError(t, err)
		check.Equal(t, first, again)
	}
}

func TestDecode_Rejects(t *testing.T) {
	_, err := Decode([]byte{0xff, 0x00})
	check.Error(t, err)

	future, err := cbor.Marshal(file{Version: Version + 1})
	assert.NoError(t, err)
	_, err = Decode(future)
	check.Error(t, err)

	oversized, err := cbor.Marshal(file{
		Version: Version,
		Bids: []bidRecord{{
			ID:           1,
			Contribution: make(amount, 33),
		}},
	})
	assert.NoError(t, err)
	_, err = Decode(oversized)
	check.Error(t, err)

	badStatus, err := cbor.Marshal(file{
		Version: Version,
		Bids:    []bidRecord{{ID: 1, Status: 9}},
	})
	assert.NoError(t, err)
	_, err = Decode(badStatus)
	check.Error(t, err)

	dupBalance, err := cbor.Marshal(file{
		Version: Version,
		Books: booksRecord{Tokens: []balanceRecord{
			{Owner: "bidder_a", Amount: amount{1}},
			{Owner: "bidder_a", Amount: amount{2}},
		}},
	})
	assert.NoError(t, err)
	_, err = Decode(dupBalance)
	check.Error(t, err)
}

func TestDecode_CorruptStateFailsRestore(t *testing.T) {
	saved := populated(t).snapshot()
	saved.Sale.Bids[0].Next = 42

	data, err := Encode(saved)
	assert.NoError(t, err)
	loaded, err := Decode(data)
	assert.NoError(t, err)

	dst := newFixture(t)
	check.Error(t, dst.sale.Restore(loaded.Sale))
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sale.snapshot")

	_, err := Load(path)
	check.True(t, errors.Is(err, ErrNoSnapshot))

	saved := populated(t).snapshot()
	assert.NoError(t, Save(path, saved))
	loaded, err := Load(path)
	assert.NoError(t, err)
	check.Equal(t, saved.Sale, loaded.Sale)

	// A second save replaces the first.
	saved.Sale.Turn = 2
	assert.NoError(t, Save(path, saved))
	loaded, err = Load(path)
	assert.NoError(t, err)
	check.Equal(t, core.BucketIndex(2), loaded.Sale.Turn)

	matches, err := filepath.Glob(path + ".tmp-*")
	assert.NoError(t, err)
	check.Equal(t, 0, len(matches))
}

func TestSave_MissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "sale.snapshot")
	check.Error(t, Save(path, populated(t).snapshot()))
}
