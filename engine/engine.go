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

// Package engine is the process-wide handle: it wires the registry,
// phenotype map, arena, safety layer, fusion tracker, mutation
// orchestrator and pathway executor together into one running system
// and owns the seams between them that none of those packages can own
// themselves (the loaded-callable cache, the shadow/canary
// pre-qualification counters, the asynchronous reaction to an arena or
// fusion signal).
//
// One Open(cfg) builds every component in dependency order and returns a
// single handle; Close releases nothing durable itself (every component's
// state already lives on disk) and exists for symmetry; the engine
// starts no background goroutines, so there is nothing for it to stop.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/singleflight"

	"github.com/EsteSystems/sg/arena"
	"github.com/EsteSystems/sg/contract"
	"github.com/EsteSystems/sg/digest"
	"github.com/EsteSystems/sg/fusion"
	"github.com/EsteSystems/sg/mutation"
	"github.com/EsteSystems/sg/pathway"
	"github.com/EsteSystems/sg/phenotype"
	"github.com/EsteSystems/sg/registry"
	"github.com/EsteSystems/sg/safety"
	"github.com/EsteSystems/sg/sandbox"
)

// Engine is the wired-together core (§2 data flow).
type Engine struct {
	cfg Config

	Registry  *registry.Registry
	Phenotype *phenotype.Phenotype
	Arena     *arena.Arena
	Fusion    *fusion.Tracker
	Mutation  *mutation.Orchestrator
	Pathway   *pathway.Executor
	Contracts *contract.Set

	liveCapability   *safety.Capability
	shadowCapability *safety.Capability

	shadowTracker *safety.PrequalTracker
	canaryTracker *safety.PrequalTracker

	cacheMu sync.RWMutex
	cache   map[common.Hash]*cachedCallable
	loading singleflight.Group

	failMu      sync.Mutex
	lastFailure map[string]failureRecord
}

// failureRecord remembers a locus's most recent failing invocation so
// that when the arena later reports the locus exhausted, the mutation
// context can carry the input and error that actually broke it (§4.H
// "context carries: failing input, offending digest, error summary").
type failureRecord struct {
	input  map[string]interface{}
	digest common.Hash
	reason string
}

// cachedCallable is one compiled allele, plus the mutex that serialises
// concurrent Execute calls against it: goja.Runtime instances are not
// safe for concurrent use, so "the loader is stateless; repeated loads
// of the same digest may reuse the compiled unit" (§4.C) requires each
// cache entry to own its own lock rather than letting two goroutines
// call Execute on the same *goja.Runtime at once.
type cachedCallable struct {
	mu       sync.Mutex
	callable *sandbox.Callable
}

// Open constructs every component over cfg, in the order each depends
// on the last: registry and phenotype have no inter-dependency beyond
// phenotype needing registry as its FitnessSource; contracts is
// populated by the caller, not by Open, since §1 treats the contract
// DSL as an external parser. The engine itself is wired last because
// it is both the arena's Events sink and the fusion tracker's
// Requester and the pathway executor's GeneInvoker — a self-reference
// arena.Open/fusion.Open/pathway.NewExecutor all need at construction
// time.
func Open(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Arena = withArenaDefaults(cfg.Arena)
	cfg.Arena.Root = cfg.Root

	reg, err := registry.Open(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("engine: opening registry: %w", err)
	}
	pheno, err := phenotype.Open(cfg.Root, reg)
	if err != nil {
		return nil, fmt.Errorf("engine: opening phenotype: %w", err)
	}

	contracts := contract.NewSet()

	var liveCap *safety.Capability
	if cfg.Capability != nil {
		liveCap = safety.NewCapability(cfg.Capability)
	} else {
		liveCap, _ = safety.NewMockCapability()
	}
	shadowCap, _ := safety.NewMockCapability()

	mutEngine := cfg.Engine
	if mutEngine == nil {
		mutEngine = mutation.NewMockEngine()
	}
	orchestrator := mutation.Open(reg, mutEngine, contracts, contracts)

	shadowCount := cfg.ShadowPrequalCount
	if shadowCount <= 0 {
		shadowCount = safety.DefaultShadowPrequalCount
	}
	canaryCount := cfg.CanaryPrequalCount
	if canaryCount <= 0 {
		canaryCount = safety.DefaultCanaryCount
	}

	e := &Engine{
		cfg:              cfg,
		Registry:         reg,
		Phenotype:        pheno,
		Mutation:         orchestrator,
		Contracts:        contracts,
		liveCapability:   liveCap,
		shadowCapability: shadowCap,
		shadowTracker:    safety.NewPrequalTracker(shadowCount),
		canaryTracker:    safety.NewPrequalTracker(canaryCount),
		cache:            map[common.Hash]*cachedCallable{},
		lastFailure:      map[string]failureRecord{},
	}

	a, err := arena.Open(reg, pheno, e, cfg.Arena)
	if err != nil {
		return nil, fmt.Errorf("engine: opening arena: %w", err)
	}
	e.Arena = a

	tracker, err := fusion.Open(cfg.Root, pheno, e, cfg.FusionThreshold)
	if err != nil {
		return nil, fmt.Errorf("engine: opening fusion tracker: %w", err)
	}
	e.Fusion = tracker

	e.Pathway = pathway.NewExecutor(pathway.Deps{
		Contracts:  contracts,
		Loci:       pheno,
		Risk:       contracts,
		Invoker:    e,
		Diagnostic: e,
		Scheduler:  a,
		Fusion:     tracker,
	})

	return e, nil
}

// Close releases the engine. None of the wired components hold an open
// file descriptor or network connection across calls (every write is
// open-write-close), so Close today only exists so a caller running a
// background loop around the engine has a single symmetric shutdown
// call to make.
func (e *Engine) Close() error { return nil }

// Run executes pathwayName against input through the pathway executor
// (§4.F). It is the entry point a front end drives for any
// pathway-kind contract; cancelling ctx stops the run at the next step
// boundary and rolls back its open transactions.
func (e *Engine) Run(ctx context.Context, pathwayName string, input map[string]interface{}) (*pathway.PathwayResult, error) {
	return e.Pathway.Run(ctx, pathwayName, input)
}

// InvokeGene runs a single gene-kind locus outside of any pathway,
// resolving its dominant allele and falling back through the stack on
// failure exactly as a pathway step would (§8 scenario 1, "single
// gene, successful run").
func (e *Engine) InvokeGene(locus string, input map[string]interface{}) (map[string]interface{}, error) {
	dominant, fallback, err := e.Phenotype.ResolveWithStack(locus)
	if err != nil {
		return nil, err
	}
	risk := e.Contracts.RiskFor(locus)

	candidates := append([]common.Hash{dominant}, fallback...)
	var lastErr error
	for _, d := range candidates {
		if d == (common.Hash{}) {
			continue
		}
		res, invokeErr := e.Invoke(locus, risk, d, input)
		if invokeErr == nil {
			if res.Tx != nil {
				res.Tx.Commit()
			}
			return res.Output, nil
		}
		lastErr = invokeErr
	}
	// The arena already scored every failure above; if the dominant's
	// streak demoted it into an empty stack, the locus_exhausted event
	// has fired and the mutation driver has been called. The walk only
	// surfaces the failure.
	return nil, &ErrLocusExhausted{Locus: locus, Cause: lastErr}
}

// Invoke implements pathway.GeneInvoker: it loads digest, wraps the
// appropriate capability per d's lifecycle state and locus' risk
// class, executes it in the sandbox, validates the output against the
// locus's gives schema, records the observation with the arena, and —
// for shadow/canary alleles — advances the pre-qualification streak
// (§4.E). A failed invocation has already rolled back any transaction
// it opened before returning.
func (e *Engine) Invoke(locus string, risk safety.RiskClass, d common.Hash, input map[string]interface{}) (*pathway.InvokeResult, error) {
	allele, err := e.Registry.Get(d)
	if err != nil {
		return nil, err
	}

	entry, err := e.loadCached(locus, d)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	policy := safety.PolicyFor(risk)
	inShadow := allele.State == registry.StateShadow

	var tx *safety.Transaction
	var capArg interface{}
	switch {
	case inShadow:
		// §4.E "executes first against a mock capability with
		// production topology replayed in memory": shadow runs are
		// always transactionally wrapped so a faulty configuration
		// gene cannot leave residue in the replayed topology between
		// consecutive qualification runs.
		tx = safety.Begin(e.shadowCapability)
		capArg = tx
	case policy.Transaction:
		tx = safety.Begin(e.liveCapability)
		capArg = tx
	default:
		capArg = e.liveCapability
	}

	inputStr, err := marshalInput(input)
	if err != nil {
		return nil, err
	}

	outputStr, execErr := entry.callable.Execute(inputStr, capArg)

	var output map[string]interface{}
	if execErr == nil {
		output, execErr = unmarshalOutput(outputStr)
	}
	if execErr == nil {
		if ct, ok := e.Contracts.Get(locus); ok {
			execErr = ct.ValidateOutput(output)
		}
	}
	if execErr == nil {
		// A schema-valid output may still declare its own failure; the
		// end-to-end convention is a boolean "success" field (§8
		// scenarios 1 and 2). Absence of the field means success.
		if flag, ok := output["success"].(bool); ok && !flag {
			execErr = &ErrGeneFailure{Locus: locus}
		}
	}
	success := execErr == nil
	if !success {
		e.noteFailure(locus, d, input, execErr)
	}

	expectConvergence := false
	expectResilience := policy.ResilienceRequired
	if ct, ok := e.Contracts.Get(locus); ok {
		expectConvergence = len(ct.Verify) > 0
	}

	obsID, recErr := e.Arena.Record(locus, d, success, expectConvergence, expectResilience)
	if recErr != nil {
		log.Error("engine: recording observation failed", "locus", locus, "digest", digest.Hex(d), "err", recErr)
	}

	if !success {
		if tx != nil {
			tx.Rollback()
		}
		e.advancePrequal(locus, d, allele.State, false)
		return nil, execErr
	}

	if inShadow {
		// Shadow runs commit against the mock topology, not live, and
		// never surface a transaction to a caller outside this
		// method: the pathway executor never dispatches to a
		// shadow-state allele through the phenotype stack (shadow
		// alleles have no phenotype entry yet), so this branch is
		// only reached via PreQualify.
		if tx != nil {
			tx.Commit()
		}
		e.advancePrequal(locus, d, allele.State, true)
		return &pathway.InvokeResult{Output: output, ObservationID: obsID}, nil
	}

	e.advancePrequal(locus, d, allele.State, true)
	return &pathway.InvokeResult{Output: output, ObservationID: obsID, Tx: tx}, nil
}

// advancePrequal drives the §4.E shadow -> canary -> recessive
// transitions: a shadow allele needs ShadowPrequalCount consecutive
// successes to become canary, a canary allele needs CanaryPrequalCount
// more to become recessive. A failure resets that stage's streak
// (handled inside PrequalTracker.Record) without demoting the allele's
// lifecycle state; it simply stays where it is until it streaks again.
func (e *Engine) advancePrequal(locus string, d common.Hash, state registry.LifecycleState, ok bool) {
	switch state {
	case registry.StateShadow:
		if e.shadowTracker.Record(d, ok) {
			if err := e.Registry.SetState(d, registry.StateCanary); err != nil {
				log.Error("engine: promoting shadow to canary failed", "digest", digest.Hex(d), "err", err)
				return
			}
			e.shadowTracker.Reset(d)
			log.Info("allele advanced shadow -> canary", "locus", locus, "digest", digest.Hex(d))
		}
	case registry.StateCanary:
		if e.canaryTracker.Record(d, ok) {
			if err := e.Registry.SetState(d, registry.StateRecessive); err != nil {
				log.Error("engine: promoting canary to recessive failed", "digest", digest.Hex(d), "err", err)
				return
			}
			if err := e.Phenotype.AddFallback(locus, d); err != nil {
				log.Error("engine: seeding recessive allele into phenotype failed", "digest", digest.Hex(d), "err", err)
				return
			}
			e.canaryTracker.Reset(d)
			log.Info("allele advanced canary -> recessive", "locus", locus, "digest", digest.Hex(d))
		}
	}
}

// PreQualify drives one shadow-kernel (or canary) run of digest against
// locus with syntheticInput, without going through the phenotype stack.
// It exists because shadow alleles have no phenotype entry — nothing in
// the normal pathway/gene dispatch path ever reaches them — so an
// external driver (whatever invokes the mutation trigger's caller, or a
// test) must pump qualifying runs explicitly (§1 "timers are driven
// externally", generalised here to "pre-qualification runs are driven
// externally").
func (e *Engine) PreQualify(locus string, d common.Hash, syntheticInput map[string]interface{}) error {
	risk := e.Contracts.RiskFor(locus)
	res, err := e.Invoke(locus, risk, d, syntheticInput)
	if err != nil {
		return err
	}
	if res.Tx != nil {
		res.Tx.Commit()
	}
	return nil
}

// InvokeDiagnostic implements pathway.DiagnosticInvoker: it resolves a
// read-only diagnostic locus's dominant allele and runs it with no
// transactional wrapping (§4.F step 4 "diagnostics never open a
// transaction").
func (e *Engine) InvokeDiagnostic(locus string, input map[string]interface{}) (map[string]interface{}, error) {
	d, err := e.Phenotype.Resolve(locus)
	if err != nil {
		return nil, err
	}
	entry, err := e.loadCached(locus, d)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	inputStr, err := marshalInput(input)
	if err != nil {
		return nil, err
	}
	outputStr, execErr := entry.callable.Execute(inputStr, e.liveCapability)
	success := execErr == nil
	var output map[string]interface{}
	if success {
		output, execErr = unmarshalOutput(outputStr)
		success = execErr == nil
	}
	if _, err := e.Arena.Record(locus, d, success, false, false); err != nil {
		log.Error("engine: recording diagnostic observation failed", "locus", locus, "err", err)
	}
	if !success {
		return nil, execErr
	}
	return output, nil
}

// noteFailure remembers locus's latest failing invocation for the
// mutation context a later exhaustion will want.
func (e *Engine) noteFailure(locus string, d common.Hash, input map[string]interface{}, cause error) {
	e.failMu.Lock()
	defer e.failMu.Unlock()
	rec := failureRecord{input: input, digest: d}
	if cause != nil {
		rec.reason = cause.Error()
	}
	e.lastFailure[locus] = rec
}

// LocusExhausted implements arena.Events (§4.D "emit locus_exhausted to
// the mutation driver", §4.F "hands off to (H)"): a demotion has
// emptied locus's fallback stack, so the engine requests a reactive
// mutation carrying the failing invocation's context and installs the
// result per risk policy.
func (e *Engine) LocusExhausted(locus string) {
	log.Warn("engine: locus exhausted, requesting mutation", "locus", locus)

	e.failMu.Lock()
	last := e.lastFailure[locus]
	e.failMu.Unlock()

	ctx := mutation.Context{
		OffendingDigest: last.digest,
		FailingInput:    last.input,
		ErrorSummary:    last.reason,
	}
	if ctx.ErrorSummary == "" {
		ctx.ErrorSummary = "every allele for locus exhausted its fallback stack"
	}
	d, err := e.Mutation.Mutate(locus, mutation.TriggerExhausted, ctx)
	if err != nil {
		log.Error("engine: reactive mutation failed", "locus", locus, "err", err)
		return
	}
	e.installMutant(locus, d)
}

// MildRegression implements arena.Events (§4.D "emit mild_regression
// (triggers proactive mutation in H)").
func (e *Engine) MildRegression(locus string, d common.Hash) {
	log.Info("engine: mild regression, requesting proactive mutation", "locus", locus, "digest", digest.Hex(d))
	ctx := mutation.Context{OffendingDigest: d, ErrorSummary: "fitness dropped mildly below its recorded peak"}
	mutant, err := e.Mutation.Mutate(locus, mutation.TriggerRegression, ctx)
	if err != nil {
		log.Error("engine: proactive mutation failed", "locus", locus, "err", err)
		return
	}
	e.installMutant(locus, mutant)
}

// installMutant makes a freshly generated allele reachable: a recessive
// one joins locus's phenotype fallback stack immediately (§4.F
// "installs it as recessive"); a shadow-born one stays out of the
// phenotype entirely until pre-qualification advances it (§4.E), which
// advancePrequal handles on the canary -> recessive transition.
func (e *Engine) installMutant(locus string, d common.Hash) {
	allele, err := e.Registry.Get(d)
	if err != nil {
		log.Error("engine: looking up freshly mutated allele failed", "locus", locus, "digest", digest.Hex(d), "err", err)
		return
	}
	if allele.State != registry.StateRecessive {
		return
	}
	if err := e.Phenotype.AddFallback(locus, d); err != nil {
		log.Error("engine: installing mutated allele into phenotype failed", "locus", locus, "digest", digest.Hex(d), "err", err)
	}
}

// RequestFusion implements fusion.Requester (§4.G "emit fuse_request to
// (H)"): it asks the mutation orchestrator to synthesize a merged
// allele and installs the result as pathwayName's fused allele,
// bypassing the normal phenotype entry (§4.H).
func (e *Engine) RequestFusion(pathwayName string, composition []common.Hash) {
	sources := make([]string, 0, len(composition))
	for _, d := range composition {
		if allele, err := e.Registry.Get(d); err == nil {
			sources = append(sources, allele.Source)
		}
	}
	ctx := mutation.Context{Composition: composition, Sources: sources}
	d, err := e.Mutation.Mutate(pathwayName, mutation.TriggerFusion, ctx)
	if err != nil {
		log.Error("engine: fusion mutation failed", "pathway", pathwayName, "err", err)
		return
	}
	if err := e.Fusion.InstallFused(pathwayName, d); err != nil {
		log.Error("engine: installing fused allele failed", "pathway", pathwayName, "err", err)
	}
}

// loadCached resolves digest to a compiled callable, compiling it at
// most once even under concurrent callers for the same digest
// (golang.org/x/sync/singleflight collapses the compilation itself;
// the returned cachedCallable's own mutex then serialises concurrent
// Execute calls against the one *goja.Runtime it owns).
func (e *Engine) loadCached(locus string, d common.Hash) (*cachedCallable, error) {
	e.cacheMu.RLock()
	entry, ok := e.cache[d]
	e.cacheMu.RUnlock()
	if ok {
		return entry, nil
	}

	key := digest.Hex(d)
	v, err, _ := e.loading.Do(key, func() (interface{}, error) {
		e.cacheMu.RLock()
		if existing, ok := e.cache[d]; ok {
			e.cacheMu.RUnlock()
			return existing, nil
		}
		e.cacheMu.RUnlock()

		allele, err := e.Registry.Get(d)
		if err != nil {
			return nil, err
		}
		deadline := e.cfg.SandboxDeadline
		if ct, ok := e.Contracts.Get(locus); ok && ct.Timeout > 0 {
			deadline = ct.Timeout
		}
		callable, err := sandbox.Load(d, allele.Source, deadline)
		if err != nil {
			return nil, err
		}
		entry := &cachedCallable{callable: callable}
		e.cacheMu.Lock()
		e.cache[d] = entry
		e.cacheMu.Unlock()
		return entry, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*cachedCallable), nil
}

func marshalInput(input map[string]interface{}) (string, error) {
	data, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("engine: marshalling input: %w", err)
	}
	return string(data), nil
}

func unmarshalOutput(raw string) (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("engine: unmarshalling output: %w", err)
	}
	return out, nil
}
