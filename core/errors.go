package core

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidState is returned for operations attempted outside their valid window.
	ErrInvalidState = errors.New("invalid state")
	// ErrMisplacedBid is returned when a position hint does not precede the bid's slot.
	// Callers recover by searching again.
	ErrMisplacedBid = errors.New("misplaced bid")
	// ErrOutOfOrder is returned when a bucket is finalized before an older one.
	ErrOutOfOrder = errors.New("bucket finalized out of order")
	// ErrAlreadyFinalized also matches ErrInvalidState.
	ErrAlreadyFinalized = fmt.Errorf("%w: bucket already finalized", ErrInvalidState)
	ErrNotFinalized     = errors.New("bucket not finalized")
	ErrAlreadyRedeemed  = errors.New("bid already redeemed")
	ErrNotAdmitted      = errors.New("bidder not admitted")
	// ErrTransferFailed wraps a failure reported by a payout collaborator.
	ErrTransferFailed = errors.New("transfer failed")
)

// KindOf maps an engine error to a stable identifier for use on the wire.
// It returns "" for nil and "internal" for errors the engine does not define.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAlreadyFinalized):
		return "already_finalized"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrMisplacedBid):
		return "misplaced_bid"
	case errors.Is(err, ErrOutOfOrder):
		return "out_of_order"
	case errors.Is(err, ErrNotFinalized):
		return "not_finalized"
	case errors.Is(err, ErrAlreadyRedeemed):
		return "already_redeemed"
	case errors.Is(err, ErrNotAdmitted):
		return "not_admitted"
	case errors.Is(err, ErrTransferFailed):
		return "transfer_failed"
	default:
		return "internal"
	}
}
