// Copyright 2024 The sg Authors
// This file is part of the sg library.
//
// The sg library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The sg library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the sg library. If not, see <http://www.gnu.org/licenses/>.

package arena

import (
	"sync"
	"time"
)

// Now is the arena's view of the current time, overridden in tests to
// exercise the convergence/resilience window expiries deterministically
// without sleeping.
var Now = func() time.Time { return time.Now() }

// Clock is the narrow time source ExpireStale reads through. Production
// code never constructs one directly — Now above is what ExpireStale
// actually calls — but tests that want to drive several window expiries
// without racing the package-level Now var can wire a ManualClock through
// UseClock instead.
type Clock interface {
	Now() time.Time
}

// ManualClock is a Clock a test advances explicitly, standing in for
// the design note's "tests inject a manual clock" for convergence and
// resilience window expiry.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock returns a ManualClock starting at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now implements Clock.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// UseClock points the package-level Now var at clock, for the duration
// of a test. Callers restore the original with the returned func.
func UseClock(clock Clock) (restore func()) {
	prev := Now
	Now = clock.Now
	return func() { Now = prev }
}
