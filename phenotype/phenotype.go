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

// Package phenotype is the current selection state: dominant + fallback
// digest per locus, and fusion bookkeeping per pathway (§4.B). It is the
// durable document that late-binds pathway steps to loci at dispatch time
// (§9 "late binding").
//
// phenotype.toml is read/written with naoina/toml, the TOML library
// go-ethereum uses for genesis/node configuration, and rewritten
// atomically the same way the registry index is (write-to-temp, rename).
package phenotype

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/EsteSystems/sg/digest"
	"github.com/EsteSystems/sg/registry"
)

// FitnessSource supplies the fitness a living (non-deprecated) allele
// needs to be ordered in a locus's fallback stack. *registry.Registry
// satisfies this directly.
type FitnessSource interface {
	Get(d common.Hash) (*registry.Allele, error)
}

// LocusEntry is one locus's current selection (§3 Phenotype entry).
type LocusEntry struct {
	Dominant common.Hash   `toml:"dominant"`
	Fallback []common.Hash `toml:"fallback"`
}

// PathwayEntry is one pathway's fusion bookkeeping (§3, §4.G).
type PathwayEntry struct {
	FusedAllele        *common.Hash  `toml:"fused_allele,omitempty"`
	ReinforcementCount int           `toml:"reinforcement_count"`
	LastComposition    []common.Hash `toml:"last_composition"`
}

// Phenotype is the durable keyed document described in §4.B.
type Phenotype struct {
	path    string
	fitness FitnessSource

	mu   sync.Mutex
	docP atomic.Pointer[document]
}

type document struct {
	Loci     map[string]LocusEntry   `toml:"locus"`
	Pathways map[string]PathwayEntry `toml:"pathway"`
}

func emptyDocument() *document {
	return &document{Loci: map[string]LocusEntry{}, Pathways: map[string]PathwayEntry{}}
}

// Open opens (creating if absent) phenotype.toml under projectRoot.
func Open(projectRoot string, fitness FitnessSource) (*Phenotype, error) {
	path := tomlPath(projectRoot)
	doc, err := loadDocument(path)
	if err != nil {
		return nil, err
	}
	p := &Phenotype{path: path, fitness: fitness}
	p.docP.Store(doc)
	return p, nil
}

func (p *Phenotype) current() *document { return p.docP.Load() }

// Resolve returns the dominant digest for locus.
func (p *Phenotype) Resolve(locus string) (common.Hash, error) {
	entry, ok := p.current().Loci[locus]
	if !ok {
		return common.Hash{}, fmt.Errorf("phenotype: %w: %s", ErrLocusUnset, locus)
	}
	return entry.Dominant, nil
}

// ResolveWithStack returns (dominant, fallback...) for locus, the order
// the pathway executor tries alleles in (§4.F step 3).
func (p *Phenotype) ResolveWithStack(locus string) (common.Hash, []common.Hash, error) {
	entry, ok := p.current().Loci[locus]
	if !ok {
		return common.Hash{}, nil, fmt.Errorf("phenotype: %w: %s", ErrLocusUnset, locus)
	}
	return entry.Dominant, append([]common.Hash(nil), entry.Fallback...), nil
}

// Promote makes d the dominant allele for locus; the previous dominant
// (if any) is pushed into the fallback stack, and is removed from its old
// fallback position, so no digest is ever both dominant and in fallback
// (§3 invariant).
func (p *Phenotype) Promote(locus string, d common.Hash) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	cur := p.current()
	entry := cur.Loci[locus]
	if entry.Dominant == d {
		return nil
	}
	oldDominant := entry.Dominant

	fallback := removeHash(entry.Fallback, d)
	if oldDominant != (common.Hash{}) {
		fallback = p.insertSorted(fallback, oldDominant)
	}
	entry.Dominant = d
	entry.Fallback = fallback

	next := cur.clone()
	next.Loci[locus] = entry
	if err := p.commit(next); err != nil {
		return err
	}
	phenotypePromotionsTotal.Inc(1)
	log.Info("phenotype promotion", "locus", locus, "digest", digest.Hex(d), "previousDominant", digest.Hex(oldDominant))
	return nil
}

// Demote pops the current dominant to recessive and promotes the head of
// the fallback stack. If the fallback is empty, the locus is reported
// exhausted and nothing changes.
func (p *Phenotype) Demote(locus string) (newDominant common.Hash, exhausted bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cur := p.current()
	entry, ok := cur.Loci[locus]
	if !ok || entry.Dominant == (common.Hash{}) {
		phenotypeExhaustedTotal.Inc(1)
		return common.Hash{}, true, nil
	}
	if len(entry.Fallback) == 0 {
		phenotypeExhaustedTotal.Inc(1)
		return common.Hash{}, true, nil
	}

	oldDominant := entry.Dominant
	newDominant = entry.Fallback[0]
	fallback := append([]common.Hash(nil), entry.Fallback[1:]...)
	fallback = p.insertSorted(fallback, oldDominant)

	entry.Dominant = newDominant
	entry.Fallback = fallback

	next := cur.clone()
	next.Loci[locus] = entry
	if err := p.commit(next); err != nil {
		return common.Hash{}, false, err
	}
	phenotypeDemotionsTotal.Inc(1)
	log.Warn("phenotype demotion", "locus", locus, "demoted", digest.Hex(oldDominant), "newDominant", digest.Hex(newDominant))
	return newDominant, false, nil
}

// Prune removes digest from locus's fallback stack (used when an allele
// transitions to deprecated, so it stops being offered as a fallback).
func (p *Phenotype) Prune(locus string, d common.Hash) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	cur := p.current()
	entry, ok := cur.Loci[locus]
	if !ok {
		return nil
	}
	entry.Fallback = removeHash(entry.Fallback, d)
	next := cur.clone()
	next.Loci[locus] = entry
	return p.commit(next)
}

// Seed installs d as the only candidate for a locus with no existing
// entry (bootstrapping a brand-new locus from its seed allele).
func (p *Phenotype) Seed(locus string, d common.Hash) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	cur := p.current()
	if _, ok := cur.Loci[locus]; ok {
		return nil
	}
	next := cur.clone()
	next.Loci[locus] = LocusEntry{Dominant: d}
	return p.commit(next)
}

// AddFallback inserts d into locus's fallback stack without disturbing
// the current dominant, maintaining fitness order. This is how a
// recessive-bound mutation (§4.H) or a canary that has finished
// prequalification becomes reachable by the pathway executor's
// invokeWithFallback, neither of which otherwise touches the phenotype
// document at all. If locus has no entry yet, d is seeded as dominant
// instead, since a locus can never have a fallback stack without a
// dominant.
func (p *Phenotype) AddFallback(locus string, d common.Hash) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	cur := p.current()
	entry, ok := cur.Loci[locus]
	if !ok || entry.Dominant == (common.Hash{}) {
		next := cur.clone()
		next.Loci[locus] = LocusEntry{Dominant: d}
		return p.commit(next)
	}
	if entry.Dominant == d {
		return nil
	}
	entry.Fallback = p.insertSorted(entry.Fallback, d)
	next := cur.clone()
	next.Loci[locus] = entry
	return p.commit(next)
}

// PathwayState returns pathway name's fusion bookkeeping.
func (p *Phenotype) PathwayState(name string) PathwayEntry {
	return p.current().Pathways[name]
}

// Loci returns every locus name with a phenotype entry, sorted, for
// callers that need to sweep all of them (e.g. the daemon's status
// command).
func (p *Phenotype) Loci() []string {
	names := maps.Keys(p.current().Loci)
	slices.Sort(names)
	return names
}

// SetFusion installs d as the fused allele for pathway name.
func (p *Phenotype) SetFusion(name string, d common.Hash) error {
	return p.updatePathway(name, func(e *PathwayEntry) { e.FusedAllele = &d })
}

// ClearFusion removes the fused allele for pathway name (decomposition).
func (p *Phenotype) ClearFusion(name string) error {
	return p.updatePathway(name, func(e *PathwayEntry) { e.FusedAllele = nil })
}

// SetReinforcement overwrites the reinforcement counter and composition
// for pathway name.
func (p *Phenotype) SetReinforcement(name string, count int, composition []common.Hash) error {
	return p.updatePathway(name, func(e *PathwayEntry) {
		e.ReinforcementCount = count
		e.LastComposition = append([]common.Hash(nil), composition...)
	})
}

func (p *Phenotype) updatePathway(name string, mutate func(*PathwayEntry)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	cur := p.current()
	entry := cur.Pathways[name]
	mutate(&entry)
	next := cur.clone()
	next.Pathways[name] = entry
	return p.commit(next)
}

// insertSorted inserts d into fallback maintaining descending-fitness
// order, tie-broken by ascending digest (§9 open question decision).
// Alleles with no fitness record (e.g. unreachable from the registry) are
// treated as fitness 0.
func (p *Phenotype) insertSorted(fallback []common.Hash, d common.Hash) []common.Hash {
	fallback = removeHash(fallback, d)
	fallback = append(fallback, d)
	fitnessOf := func(h common.Hash) float64 {
		a, err := p.fitness.Get(h)
		if err != nil {
			return 0
		}
		return a.Fitness.Fitness()
	}
	slices.SortStableFunc(fallback, func(a, b common.Hash) int {
		fa, fb := fitnessOf(a), fitnessOf(b)
		switch {
		case fa > fb:
			return -1
		case fa < fb:
			return 1
		}
		return strings.Compare(a.Hex(), b.Hex())
	})
	return fallback
}

func removeHash(list []common.Hash, target common.Hash) []common.Hash {
	out := list[:0:0]
	for _, h := range list {
		if h != target {
			out = append(out, h)
		}
	}
	return out
}

func (d *document) clone() *document {
	next := &document{
		Loci:     make(map[string]LocusEntry, len(d.Loci)),
		Pathways: make(map[string]PathwayEntry, len(d.Pathways)),
	}
	for k, v := range d.Loci {
		next.Loci[k] = LocusEntry{Dominant: v.Dominant, Fallback: append([]common.Hash(nil), v.Fallback...)}
	}
	for k, v := range d.Pathways {
		cp := v
		if v.FusedAllele != nil {
			h := *v.FusedAllele
			cp.FusedAllele = &h
		}
		cp.LastComposition = append([]common.Hash(nil), v.LastComposition...)
		next.Pathways[k] = cp
	}
	return next
}
