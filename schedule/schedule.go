// Package schedule maps wall-clock time onto the consecutive bucket windows of a sale.
package schedule

import (
	"errors"
	"time"

	"github.com/cloudx-io/opensale/core"
)

// Schedule is a core.Clock over back-to-back windows of equal duration.
// Bucket base+k is open during [start + k*duration, start + (k+1)*duration).
type Schedule struct {
	start    time.Time
	duration time.Duration
	count    uint64
	base     core.BucketIndex
	clock    func() time.Time
}

// New creates a schedule of count windows starting at start.
func New(start time.Time, duration time.Duration, count uint64, base core.BucketIndex) (*Schedule, error) {
	if duration <= 0 {
		return nil, errors.New("bucket duration must be positive")
	}
	if count == 0 {
		return nil, errors.New("number of buckets must be positive")
	}
	return &Schedule{
		start:    start,
		duration: duration,
		count:    count,
		base:     base,
		clock:    time.Now,
	}, nil
}

// WithClock overrides the time source for deterministic tests.
func (s *Schedule) WithClock(clock func() time.Time) {
	if clock == nil {
		return
	}
	s.clock = clock
}

// CurrentBucketIndex returns the bucket whose window contains the current time.
func (s *Schedule) CurrentBucketIndex() (core.BucketIndex, bool) {
	now := s.clock()
	if now.Before(s.start) {
		return 0, false
	}
	k := uint64(now.Sub(s.start) / s.duration)
	if k >= s.count {
		return 0, false
	}
	return s.base + core.BucketIndex(k), true
}

// IsWindowClosed reports whether the window of index has ended. Indexes below
// the base are always closed.
func (s *Schedule) IsWindowClosed(index core.BucketIndex) bool {
	if index < s.base {
		return true
	}
	k := uint64(index - s.base)
	if k >= s.count {
		return !s.clock().Before(s.End())
	}
	return !s.clock().Before(s.WindowEnd(index))
}

// WindowStart returns the opening time of index.
func (s *Schedule) WindowStart(index core.BucketIndex) time.Time {
	return s.start.Add(time.Duration(index-s.base) * s.duration)
}

// WindowEnd returns the closing time of index.
func (s *Schedule) WindowEnd(index core.BucketIndex) time.Time {
	return s.WindowStart(index).Add(s.duration)
}

// End returns the closing time of the last window.
func (s *Schedule) End() time.Time {
	return s.start.Add(time.Duration(s.count) * s.duration)
}
