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

// Package registry is the content-addressed allele store: immutable source
// keyed by digest, lineage, and per-allele fitness/lifecycle state (§4.A).
//
// The on-disk layout is append-only: one small file per record plus a
// single index document rewritten atomically, rebuildable from the
// per-record files if the index is ever found corrupt.
package registry

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// LifecycleState is an allele's position in the shadow → canary → recessive
// → dominant → deprecated lifecycle (§3 Lifecycles).
type LifecycleState string

const (
	StateShadow     LifecycleState = "shadow"
	StateCanary     LifecycleState = "canary"
	StateRecessive  LifecycleState = "recessive"
	StateDominant   LifecycleState = "dominant"
	StateDeprecated LifecycleState = "deprecated"
)

// MutationContext records why an allele was generated: the input that made
// its parent fail, a human-readable error summary, and a free-form
// diagnostic snapshot. All three are optional — seed alleles have none.
type MutationContext struct {
	FailingInputDigest common.Hash       `json:"failingInputDigest,omitempty"`
	ErrorSummary       string            `json:"errorSummary,omitempty"`
	Diagnostics        map[string]string `json:"diagnostics,omitempty"`
	// Composition records the exact digest sequence a fused allele
	// replaces, satisfying the fusion invariant in §4.G.
	Composition []common.Hash `json:"composition,omitempty"`
}

// Allele is one implementation of a locus (§3).
type Allele struct {
	Digest     common.Hash     `json:"digest"`
	Source     string          `json:"-"` // stored separately, in <digest>.src
	Locus      string          `json:"locus"`
	Generation int             `json:"generation"`
	Parent     *common.Hash    `json:"parent,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
	Mutation   MutationContext `json:"mutationContext"`
	State      LifecycleState  `json:"state"`
	Fitness    FitnessRecord   `json:"fitness"`
}

// Clone returns a deep copy safe for a caller to mutate without affecting
// the registry's internal state (readers operate against snapshots, §4.A).
func (a *Allele) Clone() *Allele {
	cp := *a
	if a.Parent != nil {
		p := *a.Parent
		cp.Parent = &p
	}
	cp.Mutation.Diagnostics = cloneStringMap(a.Mutation.Diagnostics)
	cp.Mutation.Composition = append([]common.Hash(nil), a.Mutation.Composition...)
	cp.Fitness = a.Fitness.clone()
	return &cp
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
