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

package safety

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// DefaultCanaryCount is this implementation's choice for "a configured
// canary count" (§4.E leaves the exact number unspecified beyond
// "Only after a configured canary count does it enter the recessive
// pool"); matching the shadow default keeps one constant to reason
// about.
const DefaultCanaryCount = 3

// PrequalTracker counts consecutive successes a digest needs before
// advancing a stage (shadow -> canary, or canary -> recessive). One
// tracker instance is used per stage; a single failure resets the
// streak to zero (§4.E "must succeed N consecutive runs").
type PrequalTracker struct {
	threshold int

	mu     sync.Mutex
	streak map[common.Hash]int
}

// NewPrequalTracker builds a tracker requiring threshold consecutive
// successes before Ready reports true.
func NewPrequalTracker(threshold int) *PrequalTracker {
	return &PrequalTracker{threshold: threshold, streak: map[common.Hash]int{}}
}

// Record appends one result for d and reports whether d has now
// cleared the threshold.
func (p *PrequalTracker) Record(d common.Hash, ok bool) (ready bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ok {
		p.streak[d]++
	} else {
		p.streak[d] = 0
	}
	return p.streak[d] >= p.threshold
}

// Streak returns d's current consecutive-success count.
func (p *PrequalTracker) Streak(d common.Hash) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.streak[d]
}

// Reset clears d's streak, e.g. when it is promoted past this stage
// and the tracker's bookkeeping for it is no longer needed.
func (p *PrequalTracker) Reset(d common.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.streak, d)
}
