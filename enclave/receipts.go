package main

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cloudx-io/opensale/core"
	"github.com/cloudx-io/opensale/saleapi"
)

// ReceiptStore keeps the signed receipt of each finalized bucket.
// Receipts are not part of the snapshot; a restarted server signs new ones
// with its new key.
type ReceiptStore struct {
	mu       sync.RWMutex
	receipts map[core.BucketIndex]saleapi.ReceiptCOSE
}

func NewReceiptStore() *ReceiptStore {
	return &ReceiptStore{receipts: make(map[core.BucketIndex]saleapi.ReceiptCOSE)}
}

func (rs *ReceiptStore) Get(index core.BucketIndex) (saleapi.ReceiptCOSE, bool) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	r, ok := rs.receipts[index]
	return r, ok
}

// Put stores r unless the bucket already has a receipt, and returns the stored one.
func (rs *ReceiptStore) Put(index core.BucketIndex, r saleapi.ReceiptCOSE) saleapi.ReceiptCOSE {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if existing, ok := rs.receipts[index]; ok {
		return existing
	}
	rs.receipts[index] = r
	return r
}

// receipt returns the signed receipt of a finalized bucket, signing it on first use.
func (s *SaleServer) receipt(index core.BucketIndex) (saleapi.ReceiptCOSE, error) {
	if r, ok := s.receipts.Get(index); ok {
		return r, nil
	}

	bucket, err := s.sale.Bucket(index)
	if err != nil {
		return nil, err
	}
	if !bucket.Finalized {
		return nil, fmt.Errorf("bucket %d: %w", index, core.ErrNotFinalized)
	}
	chain, err := s.sale.Chain(index)
	if err != nil {
		return nil, err
	}

	receipt, err := saleapi.NewFinalizationReceipt(uuid.NewString(), s.cfg.Sale.ID, &bucket, chain, time.Now())
	if err != nil {
		return nil, err
	}
	signed, err := s.keyManager.SignReceipt(receipt)
	if err != nil {
		return nil, err
	}
	return s.receipts.Put(index, signed), nil
}
