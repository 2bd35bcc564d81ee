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

package registry

import (
	"time"

	"github.com/google/uuid"
)

// observationRingSize bounds the per-allele observation history. The spec
// calls only for "a bounded ring"; 256 is generous enough to cover the
// windows in §4.D (30s convergence / 1h resilience) at realistic
// invocation rates while keeping an allele's on-disk footprint small.
const observationRingSize = 256

// Result is the outcome of one temporal dimension of an observation.
type Result int

const (
	ResultPending Result = iota
	ResultOK
	ResultFail
)

// Observation is one invocation's temporal record (§3 FitnessRecord).
type Observation struct {
	ID          uuid.UUID `json:"id"`
	Immediate   Result    `json:"immediate"`
	Convergence Result    `json:"convergence"`
	Resilience  Result    `json:"resilience"`
	Timestamp   time.Time `json:"timestamp"`
}

// FitnessRecord aggregates an allele's invocation history (§3).
type FitnessRecord struct {
	TotalInvocations      uint64        `json:"totalInvocations"`
	SuccessfulInvocations uint64        `json:"successfulInvocations"`
	ConsecutiveFailures   uint64        `json:"consecutiveFailures"`
	Observations          []Observation `json:"observations"`
	ringHead              int
}

func (f *FitnessRecord) clone() FitnessRecord {
	cp := *f
	cp.Observations = append([]Observation(nil), f.Observations...)
	return cp
}

// push appends an observation, evicting the oldest entry once the ring is
// full. Returns the stored observation (by value) so callers can record
// its ID for later resolution.
func (f *FitnessRecord) push(o Observation) Observation {
	if len(f.Observations) < observationRingSize {
		f.Observations = append(f.Observations, o)
	} else {
		f.Observations[f.ringHead] = o
		f.ringHead = (f.ringHead + 1) % observationRingSize
	}
	return o
}

// find locates the observation by ID, returning its index or -1.
func (f *FitnessRecord) find(id uuid.UUID) int {
	for i := range f.Observations {
		if f.Observations[i].ID == id {
			return i
		}
	}
	return -1
}

// RecordImmediate appends a new observation with the given immediate
// result. Convergence and resilience start pending unless the caller
// indicates the locus declares no verification for that dimension, in
// which case it resolves immediately as ok — a locus with no `verify`/
// `feeds` block has nothing to wait for (§4.F step 4).
func (f *FitnessRecord) RecordImmediate(immediateOK, expectConvergence, expectResilience bool) Observation {
	f.TotalInvocations++
	if immediateOK {
		f.SuccessfulInvocations++
		f.ConsecutiveFailures = 0
	} else {
		f.ConsecutiveFailures++
	}

	o := Observation{
		ID:        uuid.New(),
		Timestamp: time.Now(),
	}
	if immediateOK {
		o.Immediate = ResultOK
	} else {
		o.Immediate = ResultFail
	}
	if expectConvergence {
		o.Convergence = ResultPending
	} else {
		o.Convergence = ResultOK
	}
	if expectResilience {
		o.Resilience = ResultPending
	} else {
		o.Resilience = ResultOK
	}
	return f.push(o)
}

// ResolveConvergence resolves a prior observation's convergence slot.
// Returns false if the observation is no longer present (evicted by ring
// rotation) or already resolved.
func (f *FitnessRecord) ResolveConvergence(id uuid.UUID, ok bool) bool {
	i := f.find(id)
	if i < 0 || f.Observations[i].Convergence != ResultPending {
		return false
	}
	if ok {
		f.Observations[i].Convergence = ResultOK
	} else {
		f.Observations[i].Convergence = ResultFail
	}
	return true
}

// ResolveResilience resolves a prior observation's resilience slot.
func (f *FitnessRecord) ResolveResilience(id uuid.UUID, ok bool) bool {
	i := f.find(id)
	if i < 0 || f.Observations[i].Resilience != ResultPending {
		return false
	}
	if ok {
		f.Observations[i].Resilience = ResultOK
	} else {
		f.Observations[i].Resilience = ResultFail
	}
	return true
}

// Fitness computes the derived scalar fitness in [0, 1] (§3). The
// temporal weighting applies only once at least ten observations have a
// fully-resolved record (no pending convergence or resilience slot);
// until then the signal is too thin, so fitness is simply successes
// over max(invocations, 10) — this is also why a brand-new allele's
// first successful invocation scores 1/10 rather than 1/1 (see
// end-to-end scenario 1).
func (f *FitnessRecord) Fitness() float64 {
	if f.TotalInvocations < 10 || f.fullyResolved() < 10 {
		denom := f.TotalInvocations
		if denom < 10 {
			denom = 10
		}
		return float64(f.SuccessfulInvocations) / float64(denom)
	}

	pImmediate := resolvedRate(f.Observations, func(o Observation) Result { return o.Immediate })
	pConvergence := resolvedRate(f.Observations, func(o Observation) Result { return o.Convergence })
	pResilience := resolvedRate(f.Observations, func(o Observation) Result { return o.Resilience })

	score := 0.3*pImmediate + 0.5*pConvergence + 0.2*pResilience
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score
}

// fullyResolved counts observations with no pending slot left in any
// temporal dimension.
func (f *FitnessRecord) fullyResolved() int {
	n := 0
	for _, o := range f.Observations {
		if o.Convergence != ResultPending && o.Resilience != ResultPending {
			n++
		}
	}
	return n
}

// resolvedRate computes the success rate over resolved (non-pending)
// observations for one temporal dimension. Pending observations are
// excluded from both numerator and denominator: they contribute
// nothing but do not lower the score.
func resolvedRate(obs []Observation, dim func(Observation) Result) float64 {
	var ok, resolved int
	for _, o := range obs {
		r := dim(o)
		if r == ResultPending {
			continue
		}
		resolved++
		if r == ResultOK {
			ok++
		}
	}
	if resolved == 0 {
		return 0
	}
	return float64(ok) / float64(resolved)
}
