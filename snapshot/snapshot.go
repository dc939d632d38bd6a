// Package snapshot persists the engine state and the payout books as CBOR.
package snapshot

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/holiman/uint256"

	"github.com/cloudx-io/opensale/core"
	"github.com/cloudx-io/opensale/custody"
)

// Version is the snapshot format version written by Encode.
const Version = 1

// Snapshot is everything needed to resume a sale after a restart.
type Snapshot struct {
	SavedAt time.Time
	Sale    core.State
	Books   custody.Balances
}

// Amounts are stored big-endian without leading zeros.
type amount []byte

func fromInt(v *uint256.Int) amount {
	if v.IsZero() {
		return nil
	}
	return v.Bytes()
}

func (a amount) toInt() (uint256.Int, error) {
	var v uint256.Int
	if len(a) > 32 {
		return v, fmt.Errorf("amount of %d bytes exceeds 256 bits", len(a))
	}
	v.SetBytes(a)
	return v, nil
}

type file struct {
	Version int            `cbor:"version"`
	SavedAt time.Time      `cbor:"saved_at"`
	Turn    uint64         `cbor:"turn"`
	Bids    []bidRecord    `cbor:"bids"`
	Buckets []bucketRecord `cbor:"buckets"`
	Books   booksRecord    `cbor:"books"`
}

type bidRecord struct {
	ID           uint64 `cbor:"id"`
	Bucket       uint64 `cbor:"bucket"`
	Bidder       string `cbor:"bidder"`
	Contribution amount `cbor:"contribution"`
	MaxValuation amount `cbor:"max_valuation"`
	Next         uint64 `cbor:"next"`
	Status       uint8  `cbor:"status"`
	Redeemed     bool   `cbor:"redeemed"`
	RefundPaid   bool   `cbor:"refund_paid"`
	TokensPaid   bool   `cbor:"tokens_paid"`
}

type bucketRecord struct {
	Index             uint64 `cbor:"index"`
	TokenAllotment    amount `cbor:"token_allotment"`
	First             uint64 `cbor:"first"`
	LastUncapped      uint64 `cbor:"last_uncapped"`
	BidCount          int    `cbor:"bid_count"`
	TotalContribution amount `cbor:"total_contribution"`

	Cursor             uint64 `cbor:"cursor"`
	ScanCumulative     amount `cbor:"scan_cumulative"`
	ScanCutoffBidID    uint64 `cbor:"scan_cutoff_bid_id"`
	ScanCutoffAccepted amount `cbor:"scan_cutoff_accepted"`
	ScanComplete       bool   `cbor:"scan_complete"`
	Finalized          bool   `cbor:"finalized"`

	ClearingValuation          amount `cbor:"clearing_valuation"`
	CutoffBidID                uint64 `cbor:"cutoff_bid_id"`
	CutoffAcceptedContribution amount `cbor:"cutoff_accepted_contribution"`
	TotalAcceptedContribution  amount `cbor:"total_accepted_contribution"`
}

type booksRecord struct {
	Escrow      amount          `cbor:"escrow"`
	Beneficiary amount          `cbor:"beneficiary"`
	TokenSupply amount          `cbor:"token_supply"`
	Refunds     []balanceRecord `cbor:"refunds"`
	Tokens      []balanceRecord `cbor:"tokens"`
}

type balanceRecord struct {
	Owner  string `cbor:"owner"`
	Amount amount `cbor:"amount"`
}

// Encode serializes s.
func Encode(s *Snapshot) ([]byte, error) {
	f := file{
		Version: Version,
		SavedAt: s.SavedAt,
		Turn:    uint64(s.Sale.Turn),
		Bids:    make([]bidRecord, len(s.Sale.Bids)),
		Buckets: make([]bucketRecord, len(s.Sale.Buckets)),
		Books: booksRecord{
			Escrow:      fromInt(&s.Books.Escrow),
			Beneficiary: fromInt(&s.Books.Beneficiary),
			TokenSupply: fromInt(&s.Books.TokenSupply),
			Refunds:     balanceRecords(s.Books.Refunds),
			Tokens:      balanceRecords(s.Books.Tokens),
		},
	}
	for i := range s.Sale.Bids {
		bid := &s.Sale.Bids[i]
		f.Bids[i] = bidRecord{
			ID:           uint64(bid.ID),
			Bucket:       uint64(bid.Bucket),
			Bidder:       bid.Bidder,
			Contribution: fromInt(&bid.Contribution),
			MaxValuation: fromInt(&bid.MaxValuation),
			Next:         uint64(bid.Next),
			Status:       uint8(bid.Status),
			Redeemed:     bid.Redeemed,
			RefundPaid:   bid.RefundPaid,
			TokensPaid:   bid.TokensPaid,
		}
	}
	for i := range s.Sale.Buckets {
		b := &s.Sale.Buckets[i]
		f.Buckets[i] = bucketRecord{
			Index:                      uint64(b.Index),
			TokenAllotment:             fromInt(&b.TokenAllotment),
			First:                      uint64(b.First),
			LastUncapped:               uint64(b.LastUncapped),
			BidCount:                   b.BidCount,
			TotalContribution:          fromInt(&b.TotalContribution),
			Cursor:                     uint64(b.Cursor),
			ScanCumulative:             fromInt(&b.Scan.Cumulative),
			ScanCutoffBidID:            uint64(b.Scan.CutoffBidID),
			ScanCutoffAccepted:         fromInt(&b.Scan.CutoffAccepted),
			ScanComplete:               b.ScanComplete,
			Finalized:                  b.Finalized,
			ClearingValuation:          fromInt(&b.ClearingValuation),
			CutoffBidID:                uint64(b.CutoffBidID),
			CutoffAcceptedContribution: fromInt(&b.CutoffAcceptedContribution),
			TotalAcceptedContribution:  fromInt(&b.TotalAcceptedContribution),
		}
	}
	return cbor.Marshal(f)
}

// balanceRecords flattens a balance map in owner order so that encoding is
// deterministic.
func balanceRecords(m map[string]uint256.Int) []balanceRecord {
	out := make([]balanceRecord, 0, len(m))
	for owner, v := range m {
		out = append(out, balanceRecord{Owner: owner, Amount: fromInt(&v)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Owner < out[j].Owner })
	return out
}

// Decode parses data written by Encode. The sale state is not checked for
// consistency here; core.Sale.Restore does that.
func Decode(data []byte) (*Snapshot, error) {
	var f file
	if err := cbor.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if f.Version != Version {
		return nil, fmt.Errorf("unsupported snapshot version %d", f.Version)
	}

	s := &Snapshot{
		SavedAt: f.SavedAt,
		Sale: core.State{
			Turn:    core.BucketIndex(f.Turn),
			Bids:    make([]core.Bid, len(f.Bids)),
			Buckets: make([]core.Bucket, len(f.Buckets)),
		},
	}
	for i, r := range f.Bids {
		bid := core.Bid{
			ID:         core.BidID(r.ID),
			Bucket:     core.BucketIndex(r.Bucket),
			Bidder:     r.Bidder,
			Next:       core.BidID(r.Next),
			Status:     core.BidStatus(r.Status),
			Redeemed:   r.Redeemed,
			RefundPaid: r.RefundPaid,
			TokensPaid: r.TokensPaid,
		}
		if bid.Status > core.StatusRejected {
			return nil, fmt.Errorf("bid %d: unknown status %d", r.ID, r.Status)
		}
		var err error
		if bid.Contribution, err = r.Contribution.toInt(); err != nil {
			return nil, fmt.Errorf("bid %d contribution: %w", r.ID, err)
		}
		if bid.MaxValuation, err = r.MaxValuation.toInt(); err != nil {
			return nil, fmt.Errorf("bid %d max valuation: %w", r.ID, err)
		}
		s.Sale.Bids[i] = bid
	}
	for i, r := range f.Buckets {
		b, err := r.bucket()
		if err != nil {
			return nil, fmt.Errorf("bucket %d: %w", r.Index, err)
		}
		s.Sale.Buckets[i] = b
	}

	var err error
	if s.Books, err = f.Books.balances(); err != nil {
		return nil, fmt.Errorf("books: %w", err)
	}
	return s, nil
}

func (r *bucketRecord) bucket() (core.Bucket, error) {
	b := core.Bucket{
		Index:        core.BucketIndex(r.Index),
		First:        core.BidID(r.First),
		LastUncapped: core.BidID(r.LastUncapped),
		BidCount:     r.BidCount,
		Cursor:       core.BidID(r.Cursor),
		ScanComplete: r.ScanComplete,
		Finalized:    r.Finalized,
		CutoffBidID:  core.BidID(r.CutoffBidID),
	}
	b.Scan.CutoffBidID = core.BidID(r.ScanCutoffBidID)

	fields := []struct {
		name string
		dst  *uint256.Int
		src  amount
	}{
		{"token allotment", &b.TokenAllotment, r.TokenAllotment},
		{"total contribution", &b.TotalContribution, r.TotalContribution},
		{"scan cumulative", &b.Scan.Cumulative, r.ScanCumulative},
		{"scan cutoff accepted", &b.Scan.CutoffAccepted, r.ScanCutoffAccepted},
		{"clearing valuation", &b.ClearingValuation, r.ClearingValuation},
		{"cutoff accepted contribution", &b.CutoffAcceptedContribution, r.CutoffAcceptedContribution},
		{"total accepted contribution", &b.TotalAcceptedContribution, r.TotalAcceptedContribution},
	}
	for _, field := range fields {
		v, err := field.src.toInt()
		if err != nil {
			return b, fmt.Errorf("%s: %w", field.name, err)
		}
		*field.dst = v
	}
	return b, nil
}

func (r *booksRecord) balances() (custody.Balances, error) {
	var bal custody.Balances
	var err error
	if bal.Escrow, err = r.Escrow.toInt(); err != nil {
		return bal, err
	}
	if bal.Beneficiary, err = r.Beneficiary.toInt(); err != nil {
		return bal, err
	}
	if bal.TokenSupply, err = r.TokenSupply.toInt(); err != nil {
		return bal, err
	}
	if bal.Refunds, err = balanceMap(r.Refunds); err != nil {
		return bal, fmt.Errorf("refunds: %w", err)
	}
	if bal.Tokens, err = balanceMap(r.Tokens); err != nil {
		return bal, fmt.Errorf("tokens: %w", err)
	}
	return bal, nil
}

func balanceMap(records []balanceRecord) (map[string]uint256.Int, error) {
	m := make(map[string]uint256.Int, len(records))
	for _, r := range records {
		if _, dup := m[r.Owner]; dup {
			return nil, fmt.Errorf("duplicate balance for %s", r.Owner)
		}
		v, err := r.Amount.toInt()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", r.Owner, err)
		}
		m[r.Owner] = v
	}
	return m, nil
}

// Save writes s to path. The file is written next to path and renamed into
// place, so a crash leaves either the old snapshot or the new one.
func Save(path string, s *Snapshot) error {
	data, err := Encode(s)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create snapshot file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// ErrNoSnapshot is returned by Load when path does not exist.
var ErrNoSnapshot = errors.New("no snapshot")

// Load reads the snapshot at path.
func Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w at %s", ErrNoSnapshot, path)
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return Decode(data)
}
