package saleapi

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// Uncapped is the wire spelling of the no-cap valuation.
const Uncapped = "uncapped"

// FormatUnits renders a base-unit amount in display units with the given
// number of decimals, e.g. 1500000 with 6 decimals is "1.5".
func FormatUnits(amount *uint256.Int, decimals int32) string {
	return decimal.NewFromBigInt(amount.ToBig(), -decimals).String()
}

// ParseUnits converts a display-unit amount such as "1.5" into base units.
// Amounts finer than the smallest unit, negative amounts and amounts that do
// not fit in 256 bits are rejected.
func ParseUnits(s string, decimals int32) (*uint256.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("amount %q is negative", s)
	}
	base := d.Shift(decimals)
	if !base.IsInteger() {
		return nil, fmt.Errorf("amount %q has more than %d decimals", s, decimals)
	}
	v, overflow := uint256.FromBig(base.BigInt())
	if overflow {
		return nil, fmt.Errorf("amount %q overflows 256 bits", s)
	}
	return v, nil
}

// ParseAmount parses a base-unit decimal integer as used on the wire.
func ParseAmount(s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return v, nil
}

// ParseValuation parses a valuation cap; "" and "uncapped" mean no cap.
func ParseValuation(s string) (v *uint256.Int, uncapped bool, err error) {
	if s == "" || s == Uncapped {
		return nil, true, nil
	}
	v, err = ParseAmount(s)
	return v, false, err
}
