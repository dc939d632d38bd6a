package core

import "github.com/holiman/uint256"

// Admission decides whether a bidder may place a contribution in a bucket.
type Admission interface {
	IsAdmitted(bidder string, contribution *uint256.Int, bucket BucketIndex) bool
}

// Custody holds escrowed contributions and pays them out.
// Both methods may fail; a failure surfaces as ErrTransferFailed.
type Custody interface {
	Refund(bidder string, amount *uint256.Int) error
	PayBeneficiary(amount *uint256.Int) error
}

// TokenLedger credits sale tokens to recipients.
type TokenLedger interface {
	Credit(recipient string, amount *uint256.Int) error
}

// Clock maps wall-clock time onto bucket windows.
type Clock interface {
	// CurrentBucketIndex returns the bucket accepting bids, ok is false when none is open.
	CurrentBucketIndex() (index BucketIndex, ok bool)
	IsWindowClosed(index BucketIndex) bool
}

// AdmitAll admits every bid.
type AdmitAll struct{}

func (AdmitAll) IsAdmitted(string, *uint256.Int, BucketIndex) bool { return true }
