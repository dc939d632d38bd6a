package validation

import (
	"fmt"

	"github.com/cloudx-io/opensale/core"
	"github.com/cloudx-io/opensale/saleapi"
)

// ReceiptValidationInput contains all inputs needed for receipt validation
type ReceiptValidationInput struct {
	ReceiptCOSEBase64 saleapi.ReceiptCOSEBase64 // From FinalizeResponse.ReceiptCOSEBase64
	PublicKey         string                    // PEM-encoded receipt key, checked with ValidateKeyAttestation
	SaleID            string                    // Empty skips the sale ID check
	BidID             *uint64                   // nil skips the inclusion check
}

// ValidateFinalizationReceipt verifies a finalization receipt and clears the
// published bids again to check the published results:
// - Receipt is signed by the attested receipt key
// - Bids are in chain order (cap descending, submission order for equal caps)
// - Bid hashes and the chain hash match the bids
// - Clearing valuation, cutoff and statuses match an independent clearing
// - The given bid is part of the bucket
//
// Returns:
//   - ReceiptValidationResult with detailed results (call result.IsValid() to check overall status)
//   - error if validation cannot be performed (e.g., undecodable receipt)
func ValidateFinalizationReceipt(input *ReceiptValidationInput) (*ReceiptValidationResult, error) {
	envelope, err := input.ReceiptCOSEBase64.Decode()
	if err != nil {
		return nil, err
	}
	receipt, err := envelope.Receipt()
	if err != nil {
		return nil, fmt.Errorf("decode receipt: %w", err)
	}
	bids, err := receipt.CoreBids()
	if err != nil {
		return nil, fmt.Errorf("parse receipt bids: %w", err)
	}

	result := &ReceiptValidationResult{Receipt: receipt, ValidationDetails: []string{}}

	if err := VerifyReceiptSignature(envelope, input.PublicKey); err != nil {
		result.detail(fmt.Sprintf("Signature verification failed: %v", err))
	} else {
		result.SignatureValid = true
		result.detail("Receipt signature verified")
	}

	if input.SaleID == "" || input.SaleID == receipt.SaleID {
		result.SaleIDMatch = true
	} else {
		result.detail(fmt.Sprintf("Sale ID mismatch: expected %s, receipt has %s", input.SaleID, receipt.SaleID))
	}

	result.OrderingValid = validateOrdering(bids, result)
	result.HashesValid = validateHashes(receipt, bids, result)
	result.ClearingValid = validateClearing(receipt, bids, result)

	if input.BidID != nil {
		result.BidChecked = true
		result.BidIncluded = validateInclusion(receipt, *input.BidID, result)
	}

	return result, nil
}

func validateOrdering(bids []core.Bid, result *ReceiptValidationResult) bool {
	for i := 1; i < len(bids); i++ {
		prev, cur := &bids[i-1], &bids[i]
		if prev.MaxValuation.Lt(&cur.MaxValuation) {
			result.detail(fmt.Sprintf("Bid %d ranks above bid %d with a lower cap", prev.ID, cur.ID))
			return false
		}
		if prev.MaxValuation.Eq(&cur.MaxValuation) && prev.ID >= cur.ID {
			result.detail(fmt.Sprintf("Bids %d and %d share a cap but are not in submission order", prev.ID, cur.ID))
			return false
		}
	}
	result.detail(fmt.Sprintf("Chain order valid (%d bids)", len(bids)))
	return true
}

func parseStatus(s string) (core.BidStatus, bool) {
	for _, status := range []core.BidStatus{core.StatusAccepted, core.StatusPartiallyAccepted, core.StatusRejected} {
		if status.String() == s {
			return status, true
		}
	}
	return core.StatusPending, false
}

func validateHashes(receipt *saleapi.FinalizationReceipt, bids []core.Bid, result *ReceiptValidationResult) bool {
	hashed := make([]core.Bid, len(bids))
	copy(hashed, bids)

	valid := true
	for i, rb := range receipt.Bids {
		status, ok := parseStatus(rb.Status)
		if !ok {
			result.detail(fmt.Sprintf("Bid %d has unknown status %q", rb.ID, rb.Status))
			valid = false
			continue
		}
		hashed[i].Status = status
		if computed := core.ComputeBidHash(&hashed[i]); computed != rb.Hash {
			result.detail(fmt.Sprintf("Bid %d hash mismatch. Computed: %s", rb.ID, computed))
			valid = false
		}
	}
	if !valid {
		return false
	}

	if computed := core.ComputeChainHash(core.BucketIndex(receipt.Bucket), hashed); computed != receipt.ChainHash {
		result.detail(fmt.Sprintf("Chain hash mismatch. Computed: %s", computed))
		return false
	}
	result.detail("Bid hashes and chain hash verified")
	return true
}

func validateClearing(receipt *saleapi.FinalizationReceipt, bids []core.Bid, result *ReceiptValidationResult) bool {
	clearing := core.Clear(bids)

	valid := true
	compare := func(field, published, computed string) {
		if published != computed {
			result.detail(fmt.Sprintf("%s mismatch: receipt has %s, recomputed %s", field, published, computed))
			valid = false
		}
	}
	compare("Clearing valuation", receipt.ClearingValuation, clearing.Valuation.Dec())
	compare("Cutoff bid", fmt.Sprint(receipt.CutoffBidID), fmt.Sprint(uint64(clearing.CutoffBidID)))
	compare("Cutoff accepted contribution", receipt.CutoffAcceptedContribution, clearing.CutoffAccepted.Dec())
	compare("Total accepted contribution", receipt.TotalAcceptedContribution, clearing.TotalAccepted.Dec())
	for i, rb := range receipt.Bids {
		compare(fmt.Sprintf("Bid %d status", rb.ID), rb.Status, clearing.Statuses[i].String())
	}

	if valid {
		result.detail(fmt.Sprintf("Clearing recomputed: valuation %s, cutoff bid %d",
			clearing.Valuation.Dec(), clearing.CutoffBidID))
	}
	return valid
}

func validateInclusion(receipt *saleapi.FinalizationReceipt, bidID uint64, result *ReceiptValidationResult) bool {
	for _, rb := range receipt.Bids {
		if rb.ID == bidID {
			result.detail(fmt.Sprintf("Bid %d found in receipt: %s", bidID, rb.Status))
			return true
		}
	}
	result.detail(fmt.Sprintf("Bid %d NOT found in receipt (%d bids)", bidID, len(receipt.Bids)))
	return false
}
