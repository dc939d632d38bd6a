package core

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// ComputeBidHash computes the hash of a finalized bid as published in receipts.
// This is used by both the enclave (to generate receipts) and validation (to verify them).
//
// Formula: SHA256(id + "|" + bucket + "|" + bidder + "|" + contribution + "|" + max_valuation + "|" + status)
//
// Amounts are formatted as base-10 integers; the no-cap sentinel is formatted as "uncapped".
func ComputeBidHash(bid *Bid) string {
	data := fmt.Sprintf("%d|%d|%s|%s|%s|%s",
		bid.ID, bid.Bucket, bid.Bidder, bid.Contribution.Dec(), formatCap(bid), bid.Status)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

// ComputeChainHash computes the hash of a bucket chain in head-to-tail order.
//
// Formula: SHA256(bucket + "|" + bid_hash_1 + "|" + bid_hash_2 + ...)
func ComputeChainHash(bucket BucketIndex, chain []Bid) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d", bucket)
	for i := range chain {
		b.WriteString("|")
		b.WriteString(ComputeBidHash(&chain[i]))
	}
	hash := sha256.Sum256([]byte(b.String()))
	return fmt.Sprintf("%x", hash)
}

func formatCap(bid *Bid) string {
	if IsUncapped(&bid.MaxValuation) {
		return "uncapped"
	}
	return bid.MaxValuation.Dec()
}
