package validation

import "github.com/cloudx-io/opensale/saleapi"

// BaseValidationResult contains common validation results for all attestation types
type BaseValidationResult struct {
	PCRsValid         bool
	CertificateValid  bool
	SignatureValid    bool
	ValidationDetails []string
}

// KeyValidationResult contains validation results specific to key attestations
type KeyValidationResult struct {
	BaseValidationResult
	PublicKeyMatch bool
	SaleIDMatch    bool
}

// IsValid returns true if all key validation checks passed
func (r *KeyValidationResult) IsValid() bool {
	return r.PCRsValid && r.CertificateValid && r.SignatureValid && r.PublicKeyMatch && r.SaleIDMatch
}

// ReceiptValidationResult contains the results of checking a finalization receipt.
type ReceiptValidationResult struct {
	SignatureValid bool
	SaleIDMatch    bool
	// OrderingValid is true when the bids run from the highest cap to the lowest.
	OrderingValid bool
	HashesValid   bool
	// ClearingValid is true when an independent clearing of the published bids
	// reproduces the published valuation, cutoff and statuses.
	ClearingValid bool
	// BidIncluded is only checked when a bid was given.
	BidIncluded       bool
	BidChecked        bool
	ValidationDetails []string

	// Receipt is the decoded payload, whether or not it validated.
	Receipt *saleapi.FinalizationReceipt
}

// IsValid returns true if all receipt validation checks passed
func (r *ReceiptValidationResult) IsValid() bool {
	ok := r.SignatureValid && r.SaleIDMatch && r.OrderingValid && r.HashesValid && r.ClearingValid
	if r.BidChecked {
		ok = ok && r.BidIncluded
	}
	return ok
}

func (r *ReceiptValidationResult) detail(msg string) {
	r.ValidationDetails = append(r.ValidationDetails, msg)
}

// PCRSet represents a known-good set of PCR measurements
type PCRSet struct {
	PCR0       string `json:"pcr0"`
	PCR1       string `json:"pcr1"`
	PCR2       string `json:"pcr2"`
	CommitHash string `json:"commit_hash"` // opensale repo commit used to build the enclave image
}

// PCRConfig represents the PCR configuration file structure
type PCRConfig struct {
	PCRSets []PCRSet `json:"pcr_sets"`
}
