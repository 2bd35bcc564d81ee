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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/ethereum/go-ethereum/log"

	"github.com/EsteSystems/sg/digest"
)

// snapshot is the immutable, atomically-swapped view readers load without
// taking the registry lock — "readers operate against a snapshot of the
// index held by reference" (§4.A).
type snapshot struct {
	alleles map[common.Hash]*Allele
	byLocus map[string]mapset.Set[common.Hash]
}

// Registry is the append-only, content-addressed allele store (§4.A).
type Registry struct {
	root string // <project root>/.sg/registry

	mu   sync.Mutex // serialises writers
	snap atomic.Pointer[snapshot]
}

// Open opens (creating if absent) the registry rooted at projectRoot,
// rebuilding its index from per-allele sidecar files if the cached index
// document is missing or corrupt.
func Open(projectRoot string) (*Registry, error) {
	root := filepath.Join(projectRoot, ".sg", "registry")
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("registry: creating root: %w", err)
	}
	r := &Registry{root: root}
	snap, rebuilt, err := loadSnapshot(root)
	if err != nil {
		return nil, err
	}
	if rebuilt {
		registryRebuildsTotal.Inc(1)
		log.Warn("registry index rebuilt from per-allele files", "root", root, "alleles", len(snap.alleles))
	}
	r.snap.Store(snap)
	return r, nil
}

func (r *Registry) current() *snapshot {
	return r.snap.Load()
}

// Put stores source under locus, returning its digest. Idempotent: a
// repeat Put of identical source returns the existing digest without
// duplicating storage (§3 invariant).
func (r *Registry) Put(source, locus string, parent *common.Hash, mutCtx MutationContext) (common.Hash, error) {
	d := digestOf(source)

	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.current()
	if existing, ok := cur.alleles[d]; ok {
		return existing.Digest, nil
	}

	generation := 0
	if parent != nil {
		if p, ok := cur.alleles[*parent]; ok {
			generation = p.Generation + 1
		}
	}

	allele := &Allele{
		Digest:     d,
		Source:     source,
		Locus:      locus,
		Generation: generation,
		Parent:     parent,
		CreatedAt:  Now(),
		Mutation:   mutCtx,
		State:      StateRecessive,
	}

	if err := writeAlleleFiles(r.root, allele); err != nil {
		return common.Hash{}, err
	}

	next := cloneSnapshot(cur)
	next.alleles[d] = allele
	locusSet, ok := next.byLocus[locus]
	if !ok {
		locusSet = mapset.NewThreadUnsafeSet[common.Hash]()
		next.byLocus[locus] = locusSet
	}
	locusSet.Add(d)

	if err := persistIndex(r.root, next); err != nil {
		return common.Hash{}, err
	}
	r.snap.Store(next)

	registryPutTotal.Inc(1)
	log.Debug("allele put", "locus", locus, "digest", d.Hex(), "generation", generation)
	return d, nil
}

// Get returns the allele for digest.
func (r *Registry) Get(d common.Hash) (*Allele, error) {
	a, ok := r.current().alleles[d]
	if !ok {
		return nil, fmt.Errorf("registry: digest %s: %w", d.Hex(), ErrNotFound)
	}
	return a.Clone(), nil
}

// List returns every digest recorded for locus (possibly empty).
func (r *Registry) List(locus string) mapset.Set[common.Hash] {
	cur := r.current()
	set, ok := cur.byLocus[locus]
	if !ok {
		return mapset.NewThreadUnsafeSet[common.Hash]()
	}
	return set.Clone()
}

// SetState transitions digest to newState. Deprecated alleles are never
// automatically resurrected (spec §9 open question, resolved: no).
func (r *Registry) SetState(d common.Hash, newState LifecycleState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.current()
	existing, ok := cur.alleles[d]
	if !ok {
		return fmt.Errorf("registry: digest %s: %w", d.Hex(), ErrNotFound)
	}

	next := cloneSnapshot(cur)
	updated := existing.Clone()
	updated.State = newState
	next.alleles[d] = updated

	if err := persistMeta(r.root, updated); err != nil {
		return err
	}
	if err := persistIndex(r.root, next); err != nil {
		return err
	}
	r.snap.Store(next)
	log.Debug("allele state transition", "digest", d.Hex(), "state", newState)
	return nil
}

// RecordObservation appends a new observation to digest's fitness record
// and returns its ID, to be resolved later via ResolveConvergence /
// ResolveResilience. This is the registry's half of "update_fitness":
// the arena decides *what* the observation means (§4.D); the registry
// owns the durable aggregate.
func (r *Registry) RecordObservation(d common.Hash, immediateOK, expectConvergence, expectResilience bool) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.current()
	existing, ok := cur.alleles[d]
	if !ok {
		return uuid.UUID{}, fmt.Errorf("registry: digest %s: %w", d.Hex(), ErrNotFound)
	}

	next := cloneSnapshot(cur)
	updated := existing.Clone()
	obs := updated.Fitness.RecordImmediate(immediateOK, expectConvergence, expectResilience)
	next.alleles[d] = updated

	if err := persistMeta(r.root, updated); err != nil {
		return uuid.UUID{}, err
	}
	if err := persistIndex(r.root, next); err != nil {
		return uuid.UUID{}, err
	}
	r.snap.Store(next)
	return obs.ID, nil
}

// ResolveConvergence resolves a pending convergence slot for digest.
func (r *Registry) ResolveConvergence(d common.Hash, obsID uuid.UUID, ok bool) error {
	return r.resolveDimension(d, func(f *FitnessRecord) bool { return f.ResolveConvergence(obsID, ok) })
}

// ResolveResilience resolves a pending resilience slot for digest.
func (r *Registry) ResolveResilience(d common.Hash, obsID uuid.UUID, ok bool) error {
	return r.resolveDimension(d, func(f *FitnessRecord) bool { return f.ResolveResilience(obsID, ok) })
}

func (r *Registry) resolveDimension(d common.Hash, apply func(*FitnessRecord) bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.current()
	existing, ok := cur.alleles[d]
	if !ok {
		return fmt.Errorf("registry: digest %s: %w", d.Hex(), ErrNotFound)
	}

	next := cloneSnapshot(cur)
	updated := existing.Clone()
	if !apply(&updated.Fitness) {
		// Nothing to resolve (already resolved or evicted); not an error,
		// mirrors the arena's window expiry racing a late callback.
		return nil
	}
	next.alleles[d] = updated

	if err := persistMeta(r.root, updated); err != nil {
		return err
	}
	if err := persistIndex(r.root, next); err != nil {
		return err
	}
	r.snap.Store(next)
	return nil
}

// Lineage returns the sequence of alleles from d back to its root
// ancestor, inclusive of d, ordered from d to the root.
func (r *Registry) Lineage(d common.Hash) ([]*Allele, error) {
	cur := r.current()
	var chain []*Allele
	seen := mapset.NewThreadUnsafeSet[common.Hash]()
	for {
		a, ok := cur.alleles[d]
		if !ok {
			return nil, fmt.Errorf("registry: digest %s: %w", d.Hex(), ErrNotFound)
		}
		if seen.Contains(d) {
			return nil, fmt.Errorf("registry: lineage cycle detected at %s", d.Hex())
		}
		seen.Add(d)
		chain = append(chain, a.Clone())
		if a.Parent == nil {
			return chain, nil
		}
		d = *a.Parent
	}
}

func cloneSnapshot(s *snapshot) *snapshot {
	next := &snapshot{
		alleles: make(map[common.Hash]*Allele, len(s.alleles)),
		byLocus: make(map[string]mapset.Set[common.Hash], len(s.byLocus)),
	}
	for k, v := range s.alleles {
		next.alleles[k] = v
	}
	for k, v := range s.byLocus {
		next.byLocus[k] = v.Clone()
	}
	return next
}

func digestOf(source string) common.Hash { return digest.Of(source) }

// Now returns the current time; a var so tests can override it for
// deterministic timestamps without threading a clock through every call.
var Now = func() time.Time { return time.Now() }

// indexEntry is the persisted shape of one registry record in
// index.json: digest → {locus, parent, state, mutation context, fitness
// summary} (§6). It doubles as the per-allele sidecar file
// (<digest>.meta.json) so a corrupt central index can be rebuilt
// without losing lifecycle state or fitness history — a rebuild from
// the .src files alone would only recover source bytes.
type indexEntry struct {
	Locus      string          `json:"locus"`
	Generation int             `json:"generation"`
	Parent     *common.Hash    `json:"parent,omitempty"`
	CreatedAt  int64           `json:"createdAt"`
	Mutation   MutationContext `json:"mutationContext"`
	State      LifecycleState  `json:"state"`
	Fitness    FitnessRecord   `json:"fitness"`
}

func entryFromAllele(a *Allele) indexEntry {
	return indexEntry{
		Locus:      a.Locus,
		Generation: a.Generation,
		Parent:     a.Parent,
		CreatedAt:  a.CreatedAt.Unix(),
		Mutation:   a.Mutation,
		State:      a.State,
		Fitness:    a.Fitness,
	}
}

func alleleFromEntry(d common.Hash, source string, e indexEntry) *Allele {
	return &Allele{
		Digest:     d,
		Source:     source,
		Locus:      e.Locus,
		Generation: e.Generation,
		Parent:     e.Parent,
		CreatedAt:  time.Unix(e.CreatedAt, 0).UTC(),
		Mutation:   e.Mutation,
		State:      e.State,
		Fitness:    e.Fitness,
	}
}

func marshalEntry(e indexEntry) ([]byte, error) {
	return json.MarshalIndent(e, "", "  ")
}
