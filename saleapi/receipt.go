package saleapi

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/veraison/go-cose"

	"github.com/cloudx-io/opensale/core"
)

// FinalizationReceipt is the signed record of a finalized bucket. It lists
// every bid in chain order so that anyone can recompute the clearing.
type FinalizationReceipt struct {
	ReceiptID                  string       `cbor:"receipt_id" json:"receipt_id"`
	SaleID                     string       `cbor:"sale_id" json:"sale_id"`
	Bucket                     uint64       `cbor:"bucket" json:"bucket"`
	TokenAllotment             string       `cbor:"token_allotment" json:"token_allotment"`
	ClearingValuation          string       `cbor:"clearing_valuation" json:"clearing_valuation"`
	CutoffBidID                uint64       `cbor:"cutoff_bid_id" json:"cutoff_bid_id"`
	CutoffAcceptedContribution string       `cbor:"cutoff_accepted_contribution" json:"cutoff_accepted_contribution"`
	TotalAcceptedContribution  string       `cbor:"total_accepted_contribution" json:"total_accepted_contribution"`
	ChainHash                  string       `cbor:"chain_hash" json:"chain_hash"`
	Bids                       []ReceiptBid `cbor:"bids" json:"bids"`
	Timestamp                  time.Time    `cbor:"timestamp" json:"timestamp"`
}

// ReceiptBid is a bid as published in a receipt.
type ReceiptBid struct {
	ID           uint64 `cbor:"id" json:"id"`
	Bidder       string `cbor:"bidder" json:"bidder"`
	Contribution string `cbor:"contribution" json:"contribution"`
	MaxValuation string `cbor:"max_valuation" json:"max_valuation"`
	Status       string `cbor:"status" json:"status"`
	// Hash is core.ComputeBidHash of the bid.
	Hash string `cbor:"hash" json:"hash"`
}

// NewFinalizationReceipt builds the receipt of a finalized bucket.
func NewFinalizationReceipt(receiptID, saleID string, bucket *core.Bucket, chain []core.Bid, now time.Time) (*FinalizationReceipt, error) {
	if !bucket.Finalized {
		return nil, fmt.Errorf("bucket %d is not finalized", bucket.Index)
	}
	bids := make([]ReceiptBid, len(chain))
	for i := range chain {
		bid := &chain[i]
		bids[i] = ReceiptBid{
			ID:           uint64(bid.ID),
			Bidder:       bid.Bidder,
			Contribution: bid.Contribution.Dec(),
			MaxValuation: FormatValuation(&bid.MaxValuation),
			Status:       bid.Status.String(),
			Hash:         core.ComputeBidHash(bid),
		}
	}
	return &FinalizationReceipt{
		ReceiptID:                  receiptID,
		SaleID:                     saleID,
		Bucket:                     uint64(bucket.Index),
		TokenAllotment:             bucket.TokenAllotment.Dec(),
		ClearingValuation:          bucket.ClearingValuation.Dec(),
		CutoffBidID:                uint64(bucket.CutoffBidID),
		CutoffAcceptedContribution: bucket.CutoffAcceptedContribution.Dec(),
		TotalAcceptedContribution:  bucket.TotalAcceptedContribution.Dec(),
		ChainHash:                  core.ComputeChainHash(bucket.Index, chain),
		Bids:                       bids,
		Timestamp:                  now.UTC(),
	}, nil
}

// CoreBids converts the receipt bids back into engine bids. Statuses are
// reset to pending so the chain can be cleared again.
func (r *FinalizationReceipt) CoreBids() ([]core.Bid, error) {
	bids := make([]core.Bid, len(r.Bids))
	for i, rb := range r.Bids {
		contribution, err := ParseAmount(rb.Contribution)
		if err != nil {
			return nil, fmt.Errorf("bid %d: %w", rb.ID, err)
		}
		maxValuation, uncapped, err := ParseValuation(rb.MaxValuation)
		if err != nil {
			return nil, fmt.Errorf("bid %d: %w", rb.ID, err)
		}
		if uncapped {
			maxValuation = core.NoCap()
		}
		bids[i] = core.Bid{
			ID:     core.BidID(rb.ID),
			Bucket: core.BucketIndex(r.Bucket),
			Bidder: rb.Bidder,
		}
		bids[i].Contribution.Set(contribution)
		bids[i].MaxValuation.Set(maxValuation)
	}
	return bids, nil
}

// ReceiptCOSE is a tagged COSE_Sign1 message whose payload is a CBOR FinalizationReceipt
type ReceiptCOSE []byte

// ReceiptCOSEBase64 is ReceiptCOSE in standard base64, as carried in JSON
type ReceiptCOSEBase64 string

func (r ReceiptCOSE) EncodeBase64() ReceiptCOSEBase64 {
	return ReceiptCOSEBase64(base64.StdEncoding.EncodeToString(r))
}

func (s ReceiptCOSEBase64) Decode() (ReceiptCOSE, error) {
	data, err := base64.StdEncoding.DecodeString(string(s))
	if err != nil {
		return nil, fmt.Errorf("decode receipt base64: %w", err)
	}
	return ReceiptCOSE(data), nil
}

// Message decodes the COSE envelope.
func (r ReceiptCOSE) Message() (*cose.Sign1Message, error) {
	var msg cose.Sign1Message
	if err := msg.UnmarshalCBOR(r); err != nil {
		return nil, fmt.Errorf("parse COSE_Sign1: %w", err)
	}
	return &msg, nil
}

// Receipt decodes the payload without verifying the signature.
func (r ReceiptCOSE) Receipt() (*FinalizationReceipt, error) {
	msg, err := r.Message()
	if err != nil {
		return nil, err
	}
	return DecodeReceipt(msg.Payload)
}

// EncodeReceipt serialises a receipt as a COSE payload.
func EncodeReceipt(r *FinalizationReceipt) ([]byte, error) {
	data, err := cbor.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal receipt: %w", err)
	}
	return data, nil
}

func DecodeReceipt(payload []byte) (*FinalizationReceipt, error) {
	var receipt FinalizationReceipt
	if err := cbor.Unmarshal(payload, &receipt); err != nil {
		return nil, fmt.Errorf("parse receipt payload: %w", err)
	}
	return &receipt, nil
}
