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

// Package arena is the central scoring and lifecycle authority (§4.D):
// it records observations, resolves their convergence/resilience
// slots, expires stale pending slots, and applies the promotion,
// demotion and regression rules against the phenotype.
//
// Every lifecycle decision for a locus runs under that locus's own
// mutex, so a promotion evaluation never interleaves with a demotion
// evaluation on the same locus.
package arena

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"

	"github.com/EsteSystems/sg/digest"
	"github.com/EsteSystems/sg/phenotype"
	"github.com/EsteSystems/sg/registry"
)

// Arena binds a Registry and a Phenotype under one set of lifecycle
// rules. *registry.Registry and *phenotype.Phenotype already do their
// own internal synchronization; Arena's locus locks only serialize the
// sequence of decisions (record -> evaluate promotion/demotion/
// regression) so they cannot race each other.
type Arena struct {
	reg    *registry.Registry
	pheno  *phenotype.Phenotype
	events Events
	cfg    Config

	scheduler Scheduler
	reglog    *regressionLog

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	peaksMu sync.Mutex
	peaks   map[common.Hash]float64
}

// Open constructs an Arena over reg and pheno. events may be nil, in
// which case signals are discarded via NoopEvents.
func Open(reg *registry.Registry, pheno *phenotype.Phenotype, events Events, cfg Config) (*Arena, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if events == nil {
		events = NoopEvents{}
	}
	return &Arena{
		reg:       reg,
		pheno:     pheno,
		events:    events,
		cfg:       cfg,
		scheduler: RealScheduler{},
		reglog:    openRegressionLog(cfg.Root),
		locks:     map[string]*sync.Mutex{},
		peaks:     map[common.Hash]float64{},
	}, nil
}

// SetScheduler overrides the arena's convergence-check scheduler; the
// default is RealScheduler. Tests substitute ImmediateScheduler to
// resolve convergence synchronously.
func (a *Arena) SetScheduler(s Scheduler) { a.scheduler = s }

func (a *Arena) lockFor(locus string) *sync.Mutex {
	a.locksMu.Lock()
	defer a.locksMu.Unlock()
	m, ok := a.locks[locus]
	if !ok {
		m = &sync.Mutex{}
		a.locks[locus] = m
	}
	return m
}

// Record appends an immediate-result observation for digest at locus
// and runs the promotion/demotion/regression rules that observation
// may trigger (§4.D "after every observation").
func (a *Arena) Record(locus string, d common.Hash, immediateOK, expectConvergence, expectResilience bool) (uuid.UUID, error) {
	lock := a.lockFor(locus)
	lock.Lock()
	defer lock.Unlock()

	id, err := a.reg.RecordObservation(d, immediateOK, expectConvergence, expectResilience)
	if err != nil {
		return uuid.UUID{}, err
	}
	a.evaluateLocked(locus, d)
	return id, nil
}

// ResolveConvergence resolves a prior observation's convergence slot
// and re-evaluates the locus (a failed convergence can trigger
// retroactive demotion through the recomputed fitness).
func (a *Arena) ResolveConvergence(locus string, d common.Hash, id uuid.UUID, ok bool) error {
	lock := a.lockFor(locus)
	lock.Lock()
	defer lock.Unlock()

	if err := a.reg.ResolveConvergence(d, id, ok); err != nil {
		return err
	}
	a.evaluateLocked(locus, d)
	return nil
}

// ResolveResilience resolves a prior observation's resilience slot and
// re-evaluates the locus.
func (a *Arena) ResolveResilience(locus string, d common.Hash, id uuid.UUID, ok bool) error {
	lock := a.lockFor(locus)
	lock.Lock()
	defer lock.Unlock()

	if err := a.reg.ResolveResilience(d, id, ok); err != nil {
		return err
	}
	a.evaluateLocked(locus, d)
	return nil
}

// ExpireStale defaults any convergence/resilience slot older than the
// locus's windows to failure (§4.D "default to fail to prevent
// permanent pending"), then re-evaluates the locus for every digest
// touched. The arena has no timer of its own, and nothing in this
// module calls ExpireStale on a schedule; the caller decides when.
func (a *Arena) ExpireStale(locus string) error {
	lock := a.lockFor(locus)
	lock.Lock()
	defer lock.Unlock()

	now := Now()
	var firstErr error
	for _, d := range a.reg.List(locus).ToSlice() {
		allele, err := a.reg.Get(d)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		touched := false
		for _, o := range allele.Fitness.Observations {
			if o.Convergence == registry.ResultPending && now.Sub(o.Timestamp) >= a.cfg.ConvergenceWindow {
				if err := a.reg.ResolveConvergence(d, o.ID, false); err == nil {
					arenaExpiredPendingTotal.Inc(1)
					touched = true
				}
			}
			if o.Resilience == registry.ResultPending && now.Sub(o.Timestamp) >= a.cfg.ResilienceWindow {
				if err := a.reg.ResolveResilience(d, o.ID, false); err == nil {
					arenaExpiredPendingTotal.Inc(1)
					touched = true
				}
			}
		}
		if touched {
			a.evaluateLocked(locus, d)
		}
	}
	return firstErr
}

// evaluateLocked runs the regression, demotion, and promotion rules
// for locus, in that order, with lock already held. Regression runs
// first because a severe regression is itself a demotion trigger and
// should not then also get short-circuited by a stale promotion
// decision made against pre-regression fitness.
func (a *Arena) evaluateLocked(locus string, touched common.Hash) {
	a.evaluateRegression(locus, touched)
	a.evaluateDemotion(locus)
	a.evaluatePromotion(locus)
}

func (a *Arena) evaluateDemotion(locus string) {
	dominant, err := a.pheno.Resolve(locus)
	if err != nil {
		return
	}
	allele, err := a.reg.Get(dominant)
	if err != nil {
		return
	}
	if allele.Fitness.ConsecutiveFailures < a.cfg.DemotionConsecutiveFailures {
		return
	}
	a.demote(locus, dominant, "consecutive_failures")
}

func (a *Arena) demote(locus string, dominant common.Hash, reason string) {
	newDominant, exhausted, err := a.pheno.Demote(locus)
	if err != nil {
		log.Error("arena demotion failed", "locus", locus, "err", err)
		return
	}
	arenaDemotionsTotal.Inc(1)
	if exhausted {
		log.Warn("locus exhausted", "locus", locus, "demoted", digest.Hex(dominant), "reason", reason)
		a.events.LocusExhausted(locus)
		return
	}
	a.syncStates(dominant, newDominant)
	log.Info("arena demotion", "locus", locus, "demoted", digest.Hex(dominant), "newDominant", digest.Hex(newDominant), "reason", reason)
}

// syncStates keeps the registry's lifecycle states aligned with a
// phenotype rewrite: the displaced dominant drops to recessive, the
// newly selected digest becomes dominant. The phenotype document stays
// the authority for dispatch either way.
func (a *Arena) syncStates(displaced, promoted common.Hash) {
	if displaced != (common.Hash{}) {
		if err := a.reg.SetState(displaced, registry.StateRecessive); err != nil {
			log.Error("arena: demoting displaced allele state failed", "digest", digest.Hex(displaced), "err", err)
		}
	}
	if err := a.reg.SetState(promoted, registry.StateDominant); err != nil {
		log.Error("arena: promoting allele state failed", "digest", digest.Hex(promoted), "err", err)
	}
}

func (a *Arena) evaluatePromotion(locus string) {
	dominant, _, err := a.pheno.ResolveWithStack(locus)
	if err != nil {
		// No phenotype entry at all: nothing to promote into. This is
		// the case for fused pathway alleles, whose observations are
		// recorded under the pathway name but which bypass the
		// phenotype entirely (§4.H).
		return
	}
	hasDominant := dominant != (common.Hash{})

	var domFitness float64
	if hasDominant {
		domAllele, err := a.reg.Get(dominant)
		if err != nil {
			return
		}
		domFitness = domAllele.Fitness.Fitness()
	}

	var best common.Hash
	bestFitness := -1.0
	for _, d := range a.reg.List(locus).ToSlice() {
		if hasDominant && d == dominant {
			continue
		}
		allele, err := a.reg.Get(d)
		if err != nil {
			continue
		}
		// Only the recessive pool competes for dominance: deprecated
		// alleles are never resurrected, and shadow/canary alleles have
		// not yet cleared pre-qualification (§3 lifecycle).
		switch allele.State {
		case registry.StateDeprecated, registry.StateShadow, registry.StateCanary:
			continue
		}
		fitness := allele.Fitness.Fitness()

		eligible := false
		if !hasDominant {
			eligible = fitness > 0
		} else {
			eligible = allele.Fitness.TotalInvocations >= a.cfg.PromotionMinInvocations &&
				fitness > domFitness+a.cfg.PromotionFitnessDelta
		}
		// Highest fitness wins; an exact tie breaks on the lexically
		// lowest digest so the decision is deterministic regardless of
		// set iteration order.
		if eligible && (fitness > bestFitness ||
			(fitness == bestFitness && d.Hex() < best.Hex())) {
			best = d
			bestFitness = fitness
		}
	}

	if bestFitness < 0 {
		return
	}
	if err := a.pheno.Promote(locus, best); err != nil {
		log.Error("arena promotion failed", "locus", locus, "err", err)
		return
	}
	a.syncStates(dominant, best)
	arenaPromotionsTotal.Inc(1)
}

func (a *Arena) evaluateRegression(locus string, d common.Hash) {
	allele, err := a.reg.Get(d)
	if err != nil {
		return
	}
	current := allele.Fitness.Fitness()

	a.peaksMu.Lock()
	peak, seen := a.peaks[d]
	if !seen || current > peak {
		a.peaks[d] = current
		a.peaksMu.Unlock()
		return
	}
	a.peaksMu.Unlock()

	if allele.Fitness.TotalInvocations < a.cfg.RegressionMinInvocations {
		return
	}
	drop := peak - current
	switch {
	case drop >= a.cfg.RegressionSevereDrop:
		arenaSevereRegressionsTotal.Inc(1)
		log.Warn("severe regression", "locus", locus, "digest", digest.Hex(d), "peak", peak, "current", current)
		a.logRegression(locus, d, "severe", peak, current)
		dominant, err := a.pheno.Resolve(locus)
		if err == nil && dominant == d {
			a.demote(locus, d, "severe_regression")
		}
	case drop >= a.cfg.RegressionMildDrop:
		arenaMildRegressionsTotal.Inc(1)
		log.Info("mild regression", "locus", locus, "digest", digest.Hex(d), "peak", peak, "current", current)
		a.logRegression(locus, d, "mild", peak, current)
		a.events.MildRegression(locus, d)
	}
}

// EffectiveFitness returns the §4.D distributed-fitness blend for
// digest: 0.7 local + 0.3 peer, the peer term counted only when
// peerInvocations clears PeerMinInvocations. The arena does not fetch
// peer data itself; callers supply it.
func (a *Arena) EffectiveFitness(d common.Hash, peerFitness float64, peerInvocations uint64) (float64, error) {
	allele, err := a.reg.Get(d)
	if err != nil {
		return 0, fmt.Errorf("arena: effective fitness: %w", err)
	}
	local := allele.Fitness.Fitness()
	if peerInvocations < a.cfg.PeerMinInvocations {
		return local, nil
	}
	return a.cfg.LocalWeight*local + a.cfg.PeerWeight*peerFitness, nil
}
