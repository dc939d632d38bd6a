// Package custody keeps the balances a sale moves: escrowed contributions,
// refunds, the beneficiary's proceeds and the sale token supply.
package custody

import (
	"errors"
	"fmt"
	"sync"

	"github.com/holiman/uint256"

	"github.com/cloudx-io/opensale/core"
)

var (
	ErrInsufficientEscrow = errors.New("insufficient escrow")
	ErrInsufficientSupply = errors.New("insufficient token supply")
	ErrEscrowOverflow     = errors.New("escrow overflows")
)

// Balances is a copy of the books, used for persistence and reporting.
type Balances struct {
	Escrow      uint256.Int
	Beneficiary uint256.Int
	TokenSupply uint256.Int
	Refunds     map[string]uint256.Int
	Tokens      map[string]uint256.Int
}

// Books implements core.Custody and core.TokenLedger in memory. Contributions
// are escrowed when a bid is accepted into the ledger and leave escrow only as
// refunds or as the beneficiary payout.
type Books struct {
	mu          sync.Mutex
	beneficiary string
	escrow      uint256.Int
	proceeds    uint256.Int
	supply      uint256.Int
	refunds     map[string]uint256.Int
	tokens      map[string]uint256.Int
}

var (
	_ core.Custody     = (*Books)(nil)
	_ core.TokenLedger = (*Books)(nil)
)

// NewBooks creates books holding supply tokens for sale.
func NewBooks(beneficiary string, supply *uint256.Int) *Books {
	b := &Books{
		beneficiary: beneficiary,
		refunds:     make(map[string]uint256.Int),
		tokens:      make(map[string]uint256.Int),
	}
	b.supply.Set(supply)
	return b
}

func (b *Books) Beneficiary() string {
	return b.beneficiary
}

// CanDeposit reports whether escrow has room for amount.
func (b *Books) CanDeposit(amount *uint256.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, overflow := new(uint256.Int).AddOverflow(&b.escrow, amount); overflow {
		return fmt.Errorf("deposit %s: %w", amount.Dec(), ErrEscrowOverflow)
	}
	return nil
}

// Deposit escrows a contribution.
func (b *Books) Deposit(amount *uint256.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, overflow := b.escrow.AddOverflow(&b.escrow, amount); overflow {
		b.escrow.Sub(&b.escrow, amount)
		return fmt.Errorf("deposit %s: %w", amount.Dec(), ErrEscrowOverflow)
	}
	return nil
}

func (b *Books) Refund(bidder string, amount *uint256.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.escrow.Lt(amount) {
		return fmt.Errorf("refund %s to %s: %w", amount.Dec(), bidder, ErrInsufficientEscrow)
	}
	b.escrow.Sub(&b.escrow, amount)
	credit(b.refunds, bidder, amount)
	return nil
}

func (b *Books) PayBeneficiary(amount *uint256.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.escrow.Lt(amount) {
		return fmt.Errorf("pay %s to beneficiary: %w", amount.Dec(), ErrInsufficientEscrow)
	}
	b.escrow.Sub(&b.escrow, amount)
	b.proceeds.Add(&b.proceeds, amount)
	return nil
}

func (b *Books) Credit(recipient string, amount *uint256.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.supply.Lt(amount) {
		return fmt.Errorf("credit %s tokens to %s: %w", amount.Dec(), recipient, ErrInsufficientSupply)
	}
	b.supply.Sub(&b.supply, amount)
	credit(b.tokens, recipient, amount)
	return nil
}

func credit(m map[string]uint256.Int, who string, amount *uint256.Int) {
	v := m[who]
	v.Add(&v, amount)
	m[who] = v
}

// Balances returns a copy of the books.
func (b *Books) Balances() Balances {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := Balances{
		Escrow:      b.escrow,
		Beneficiary: b.proceeds,
		TokenSupply: b.supply,
		Refunds:     make(map[string]uint256.Int, len(b.refunds)),
		Tokens:      make(map[string]uint256.Int, len(b.tokens)),
	}
	for k, v := range b.refunds {
		out.Refunds[k] = v
	}
	for k, v := range b.tokens {
		out.Tokens[k] = v
	}
	return out
}

// Restore replaces the books with a saved copy.
func (b *Books) Restore(bal Balances) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.escrow = bal.Escrow
	b.proceeds = bal.Beneficiary
	b.supply = bal.TokenSupply
	b.refunds = make(map[string]uint256.Int, len(bal.Refunds))
	b.tokens = make(map[string]uint256.Int, len(bal.Tokens))
	for k, v := range bal.Refunds {
		b.refunds[k] = v
	}
	for k, v := range bal.Tokens {
		b.tokens[k] = v
	}
}
