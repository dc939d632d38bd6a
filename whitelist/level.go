// Package whitelist implements a two-tier admission policy for a sale.
//
// Bidders on the base tier may contribute up to a fixed ceiling across the whole
// sale. Bidders on the reinforced tier have no ceiling. Everyone else is refused.
package whitelist

import (
	"sync"

	"github.com/holiman/uint256"

	"github.com/cloudx-io/opensale/core"
)

// ContributionSource reports what a bidder has already contributed.
// *core.Contributions satisfies it.
type ContributionSource interface {
	TotalContribution(bidder string) uint256.Int
}

// Level is a core.Admission with base and reinforced tiers.
type Level struct {
	mu         sync.RWMutex
	maxBase    uint256.Int
	base       map[string]struct{}
	reinforced map[string]struct{}
	source     ContributionSource
}

var _ core.Admission = (*Level)(nil)

// New creates an empty whitelist whose base tier is capped at maxBase.
func New(maxBase *uint256.Int) *Level {
	l := &Level{
		base:       make(map[string]struct{}),
		reinforced: make(map[string]struct{}),
	}
	l.maxBase.Set(maxBase)
	return l
}

// Attach sets where prior contributions are read from. Until a source is
// attached base-tier bidders are checked against the new contribution alone.
func (l *Level) Attach(source ContributionSource) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.source = source
}

// MaximumBaseContribution returns the base tier ceiling.
func (l *Level) MaximumBaseContribution() uint256.Int {
	return l.maxBase
}

func (l *Level) AddBase(bidders ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, b := range bidders {
		l.base[b] = struct{}{}
	}
}

func (l *Level) RemoveBase(bidders ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, b := range bidders {
		delete(l.base, b)
	}
}

func (l *Level) AddReinforced(bidders ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, b := range bidders {
		l.reinforced[b] = struct{}{}
	}
}

func (l *Level) RemoveReinforced(bidders ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, b := range bidders {
		delete(l.reinforced, b)
	}
}

// Tier returns "reinforced", "base" or "" for bidder.
func (l *Level) Tier(bidder string) string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if _, ok := l.reinforced[bidder]; ok {
		return "reinforced"
	}
	if _, ok := l.base[bidder]; ok {
		return "base"
	}
	return ""
}

// IsAdmitted admits reinforced bidders unconditionally and base bidders while
// their cumulative contribution, including this one, stays within the ceiling.
func (l *Level) IsAdmitted(bidder string, contribution *uint256.Int, _ core.BucketIndex) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if _, ok := l.reinforced[bidder]; ok {
		return true
	}
	if _, ok := l.base[bidder]; !ok {
		return false
	}
	var prior uint256.Int
	if l.source != nil {
		prior = l.source.TotalContribution(bidder)
	}
	total, overflow := new(uint256.Int).AddOverflow(&prior, contribution)
	return !overflow && !total.Gt(&l.maxBase)
}
