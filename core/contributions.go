package core

import (
	"sync"

	"github.com/holiman/uint256"
)

// Contributions tracks the total each bidder has contributed across all buckets.
// It has its own lock so admission collaborators may read it while a Sale
// transition is in progress.
type Contributions struct {
	mu     sync.RWMutex
	totals map[string]uint256.Int
}

func newContributions() *Contributions {
	return &Contributions{totals: make(map[string]uint256.Int)}
}

// TotalContribution returns the sum of every contribution bidder has placed.
func (c *Contributions) TotalContribution(bidder string) uint256.Int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.totals[bidder]
}

func (c *Contributions) add(bidder string, amount *uint256.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.totals[bidder]
	if _, overflow := total.AddOverflow(&total, amount); overflow {
		total.SetAllOne()
	}
	c.totals[bidder] = total
}

func (c *Contributions) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totals = make(map[string]uint256.Int)
}
