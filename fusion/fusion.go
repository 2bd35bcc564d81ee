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

// Package fusion counts consecutive pathway successes against a stable
// allele composition and drives the fuse/decompose transitions (§4.G).
// The phenotype document remains the single authoritative store (its
// per-pathway section is what the pathway executor actually reads);
// this package additionally maintains fusion_tracker.json as a
// denormalized, read-optimized mirror of the same state (§6).
package fusion

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/EsteSystems/sg/phenotype"
)

// DefaultThreshold is the §4.G default consecutive-success count that
// triggers a fuse_request.
const DefaultThreshold = 10

// Store is the phenotype surface the tracker reads and writes through
// to. *phenotype.Phenotype satisfies this directly; tests may supply a
// lighter stub.
type Store interface {
	PathwayState(name string) phenotype.PathwayEntry
	SetFusion(name string, digest common.Hash) error
	ClearFusion(name string) error
	SetReinforcement(name string, count int, composition []common.Hash) error
}

// Requester receives fuse_request emissions (§4.G "emit fuse_request
// to (H)"); the mutation orchestrator is the production implementation.
type Requester interface {
	RequestFusion(pathwayName string, composition []common.Hash)
}

// State is the read-only snapshot of one pathway's fusion bookkeeping.
type State struct {
	Composition          []common.Hash
	ConsecutiveSuccesses int
	FusedAllele          *common.Hash
}

// Tracker is the §4.G fusion tracker.
type Tracker struct {
	store      Store
	requester  Requester
	threshold  int
	mirrorPath string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Open constructs a Tracker backed by store, rooted at projectRoot for
// its JSON mirror. requester may be nil only when the caller never
// expects a fuse threshold to be reached (e.g. isolated pathway tests
// that never run ten identical-composition successes).
func Open(projectRoot string, store Store, requester Requester, threshold int) (*Tracker, error) {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	t := &Tracker{
		store:      store,
		requester:  requester,
		threshold:  threshold,
		mirrorPath: mirrorPath(projectRoot),
		locks:      map[string]*sync.Mutex{},
	}
	return t, nil
}

func (t *Tracker) lockFor(name string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.locks[name]
	if !ok {
		m = &sync.Mutex{}
		t.locks[name] = m
	}
	return m
}

// State returns pathwayName's current fusion bookkeeping.
func (t *Tracker) State(pathwayName string) State {
	entry := t.store.PathwayState(pathwayName)
	return State{
		Composition:          entry.LastComposition,
		ConsecutiveSuccesses: entry.ReinforcementCount,
		FusedAllele:          entry.FusedAllele,
	}
}

// Observe records one pathway execution's outcome against its prior
// composition and applies the §4.G transition rules. A fuse_request, if
// one fires, is emitted after the pathway's lock is released: the
// request is fulfilled out of band (§4.G "the request is fulfilled
// asynchronously") and fulfillment calls back into InstallFused, which
// needs the same lock.
func (t *Tracker) Observe(pathwayName string, composition []common.Hash, success bool) {
	lock := t.lockFor(pathwayName)
	lock.Lock()
	fire := t.observeLocked(pathwayName, composition, success)
	lock.Unlock()

	if fire && t.requester != nil {
		t.requester.RequestFusion(pathwayName, composition)
	}
}

func (t *Tracker) observeLocked(pathwayName string, composition []common.Hash, success bool) (fire bool) {
	entry := t.store.PathwayState(pathwayName)

	if !success {
		if entry.FusedAllele != nil {
			if err := t.store.ClearFusion(pathwayName); err != nil {
				log.Error("fusion: clearing fused allele failed", "pathway", pathwayName, "err", err)
				return
			}
			fusionDecomposeTotal.Inc(1)
			log.Warn("fusion decomposed", "pathway", pathwayName, "composition", hexAll(entry.LastComposition))
		}
		if err := t.store.SetReinforcement(pathwayName, 0, nil); err != nil {
			log.Error("fusion: resetting reinforcement failed", "pathway", pathwayName, "err", err)
		}
		t.writeMirror(pathwayName)
		return
	}

	if !sameComposition(entry.LastComposition, composition) {
		if err := t.store.SetReinforcement(pathwayName, 1, composition); err != nil {
			log.Error("fusion: resetting composition failed", "pathway", pathwayName, "err", err)
		}
		t.writeMirror(pathwayName)
		return
	}

	count := entry.ReinforcementCount + 1
	if err := t.store.SetReinforcement(pathwayName, count, composition); err != nil {
		log.Error("fusion: incrementing reinforcement failed", "pathway", pathwayName, "err", err)
		return
	}
	t.writeMirror(pathwayName)

	if count >= t.threshold && entry.FusedAllele == nil {
		fusionFuseRequestsTotal.Inc(1)
		log.Info("fusion threshold reached", "pathway", pathwayName, "consecutiveSuccesses", count)
		return true
	}
	return false
}

// InstallFused installs digest as the fused allele for pathwayName,
// satisfying the §4.H "installed as the fused allele for the pathway,
// bypassing the normal phenotype entry" instruction.
func (t *Tracker) InstallFused(pathwayName string, digest common.Hash) error {
	lock := t.lockFor(pathwayName)
	lock.Lock()
	defer lock.Unlock()

	if err := t.store.SetFusion(pathwayName, digest); err != nil {
		return err
	}
	t.writeMirror(pathwayName)
	return nil
}

func sameComposition(a, b []common.Hash) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func hexAll(hashes []common.Hash) []string {
	out := make([]string, len(hashes))
	for i, h := range hashes {
		out[i] = h.Hex()
	}
	return out
}
