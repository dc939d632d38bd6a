package saleapi

import (
	"time"
)

// Request types understood by the sale service. Every request and response
// carries its type in the "type" field.
const (
	TypePing        = "ping"
	TypeKey         = "key_request"
	TypeBid         = "bid_request"
	TypeSearch      = "search_request"
	TypeFinalize    = "finalize_request"
	TypeRedeem      = "redeem_request"
	TypeBucket      = "bucket_request"
	TypeBidInfo     = "bid_info_request"
	TypeValuation   = "valuation_request"
	TypeError       = "error"
	TypePong        = "pong"
	TypeKeyResponse = "key_response"

	TypeBidResponse       = "bid_response"
	TypeSearchResponse    = "search_response"
	TypeFinalizeResponse  = "finalize_response"
	TypeRedeemResponse    = "redeem_response"
	TypeBucketResponse    = "bucket_response"
	TypeBidInfoResponse   = "bid_info_response"
	TypeValuationResponse = "valuation_response"
)

// ErrorKindBadRequest marks requests that could not be decoded or parsed. The
// other error kinds come from the sale engine.
const ErrorKindBadRequest = "bad_request"

// PCRs represents the Platform Configuration Registers from AWS Nitro Enclaves
type PCRs struct {
	// PCR0: Hash of the Enclave Image File (EIF)
	ImageFileHash string `json:"0"`

	// PCR1: Hash of the Linux kernel and initial RAM data (initramfs)
	KernelHash string `json:"1"`

	// PCR2: Hash of user applications, excluding the boot ramfs
	ApplicationHash string `json:"2"`

	// PCR3: Hash of the IAM role assigned to the parent instance
	IAMRoleHash string `json:"3"`

	// PCR4: Hash of the parent instance's ID
	InstanceIDHash string `json:"4"`

	// PCR8: Hash of the enclave image file's signing certificate
	SigningCertHash string `json:"8,omitempty"`
}

// AttestationDoc holds the fields of a Nitro attestation document
type AttestationDoc struct {
	ModuleID        string    `json:"module_id"`
	Timestamp       time.Time `json:"timestamp"`
	DigestAlgorithm string    `json:"digest"`
	PCRs            PCRs      `json:"pcrs"`
	Certificate     string    `json:"certificate"`
	CABundle        []string  `json:"cabundle"`
	PublicKey       string    `json:"public_key"`
	Nonce           string    `json:"nonce"`
}

// KeyAttestationDoc is an attestation binding the receipt signing key to the enclave
type KeyAttestationDoc struct {
	AttestationDoc
	UserData *KeyAttestationUserData `json:"user_data"`
}

// KeyAttestationUserData is the key metadata embedded in the key attestation
type KeyAttestationUserData struct {
	KeyAlgorithm string `json:"key_algorithm"` // e.g., "ECDSA-P256"
	PublicKey    string `json:"public_key"`    // PEM-encoded public key
	SaleID       string `json:"sale_id"`
}

// KeyResponse carries the receipt verification key and its attestation
type KeyResponse struct {
	Type                  string                `json:"type"`
	PublicKey             string                `json:"public_key"` // PEM format
	SaleID                string                `json:"sale_id"`
	AttestationCOSEBase64 AttestationCOSEBase64 `json:"attestation_cose_base64,omitempty"`
}

// Result is the status header shared by every response.
type Result struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	// ErrorKind is a stable identifier such as "misplaced_bid", empty on success.
	ErrorKind string `json:"error_kind,omitempty"`
}

// BidRequest places a bid in the open bucket.
//
// MaxValuation empty or "uncapped" places an uncapped bid. Otherwise Hint, when
// set, is the predecessor returned by a search; without a hint the service
// searches itself.
type BidRequest struct {
	Type         string  `json:"type"`
	RequestID    string  `json:"request_id,omitempty"`
	Bucket       uint64  `json:"bucket"`
	Bidder       string  `json:"bidder"`
	Contribution string  `json:"contribution"`
	MaxValuation string  `json:"max_valuation,omitempty"`
	Hint         *uint64 `json:"hint,omitempty"`
}

type BidResponse struct {
	Result
	RequestID string   `json:"request_id,omitempty"`
	BidID     uint64   `json:"bid_id,omitempty"`
	Bid       *BidView `json:"bid,omitempty"`
}

type SearchRequest struct {
	Type         string `json:"type"`
	Bucket       uint64 `json:"bucket"`
	MaxValuation string `json:"max_valuation"`
}

type SearchResponse struct {
	Result
	Hint uint64 `json:"hint"`
}

// FinalizeRequest advances finalization of a bucket by at most MaxSteps bids.
type FinalizeRequest struct {
	Type     string `json:"type"`
	Bucket   uint64 `json:"bucket"`
	MaxSteps int    `json:"max_steps"`
}

// FinalizeResponse reports progress. The signed receipt is attached once the
// bucket is finalized.
type FinalizeResponse struct {
	Result
	Steps             int               `json:"steps"`
	Done              bool              `json:"done"`
	Bucket            *BucketView       `json:"bucket,omitempty"`
	ReceiptCOSEBase64 ReceiptCOSEBase64 `json:"receipt_cose_base64,omitempty"`
}

// RedeemRequest redeems one bid when BidID is set, otherwise every redeemable
// bid of Bidder.
type RedeemRequest struct {
	Type   string  `json:"type"`
	BidID  *uint64 `json:"bid_id,omitempty"`
	Bidder string  `json:"bidder,omitempty"`
	Caller string  `json:"caller,omitempty"`
}

type RedeemResponse struct {
	Result
	Redemptions []RedemptionView `json:"redemptions"`
}

type BucketRequest struct {
	Type        string `json:"type"`
	Bucket      uint64 `json:"bucket"`
	IncludeBids bool   `json:"include_bids,omitempty"`
}

type BucketResponse struct {
	Result
	Bucket *BucketView `json:"bucket,omitempty"`
	Bids   []BidView   `json:"bids,omitempty"`
}

type BidInfoRequest struct {
	Type  string `json:"type"`
	BidID uint64 `json:"bid_id"`
}

type BidInfoResponse struct {
	Result
	Bid *BidView `json:"bid,omitempty"`
}

type ValuationRequest struct {
	Type   string `json:"type"`
	Bucket uint64 `json:"bucket"`
}

type ValuationResponse struct {
	Result
	Valuation *ValuationView `json:"valuation,omitempty"`
}
