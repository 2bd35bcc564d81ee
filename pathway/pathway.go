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

package pathway

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/errgroup"

	"github.com/EsteSystems/sg/contract"
	"github.com/EsteSystems/sg/safety"
)

// runState is the mutable scratchpad one Run call accumulates into.
// env is replaced wholesale (never mutated in place) on every step
// completion so concurrent siblings within the same topological layer
// never race on it.
type runState struct {
	mu      sync.Mutex
	env     map[string]interface{}
	results []StepResult
	deps    [][]int
	// compositions holds each step's digests by step index, flattened
	// in declaration order once the run completes, so the reported
	// composition is deterministic even when a layer executed its steps
	// concurrently.
	compositions [][]common.Hash
	pendingTx    []*safety.Transaction
}

func (s *runState) composition() []common.Hash {
	var out []common.Hash
	for _, ds := range s.compositions {
		out = append(out, ds...)
	}
	return out
}

func (s *runState) recordResultLocked(idx int, step contract.Step, result StepResult) {
	s.results[idx] = result
	if result.Status != StepOK {
		return
	}
	s.env = withLocal(s.env, stepKey(idx), result.Output)
	if step.Name != "" {
		s.env = withLocal(s.env, step.Name, result.Output)
	}
	if result.Digest != (common.Hash{}) {
		s.compositions[idx] = []common.Hash{result.Digest}
	}
	if result.tx != nil {
		s.pendingTx = append(s.pendingTx, result.tx)
	}
}

// Run executes pathwayName against input and returns its outcome
// (§4.F). The run is cancellable at step-layer boundaries: once ctx is
// done, no further step starts, every still-open transaction rolls
// back, and ctx's error is surfaced to the caller.
func (e *Executor) Run(ctx context.Context, pathwayName string, input map[string]interface{}) (*PathwayResult, error) {
	ct, ok := e.deps.Contracts.Get(pathwayName)
	if !ok || !ct.IsPathway() {
		return nil, &ErrUnknownPathway{Name: pathwayName}
	}

	if handled, result, err := e.tryFused(pathwayName, input); handled {
		return result, err
	}

	layers, deps, err := topoLayers(ct.Steps)
	if err != nil {
		return nil, err
	}

	state := &runState{
		env:          cloneEnv(input),
		results:      make([]StepResult, len(ct.Steps)),
		deps:         deps,
		compositions: make([][]common.Hash, len(ct.Steps)),
	}

	rollbackAll := ct.OnFailure == contract.PolicyRollbackAll
	overallOK := true

outer:
	for _, layer := range layers {
		if err := ctx.Err(); err != nil {
			for i := len(state.pendingTx) - 1; i >= 0; i-- {
				state.pendingTx[i].Rollback()
			}
			pathwayRollbacksTotal.Inc(1)
			return nil, err
		}
		if e.layerIsParallelSafe(ct.Steps, layer) {
			g := new(errgroup.Group)
			for _, idx := range layer {
				idx := idx
				g.Go(func() error { return e.runStep(ctx, ct, idx, state) })
			}
			if gerr := g.Wait(); gerr != nil {
				return nil, gerr
			}
		} else {
			for _, idx := range layer {
				if err := e.runStep(ctx, ct, idx, state); err != nil {
					return nil, err
				}
			}
		}

		failedThisLayer := false
		for _, idx := range layer {
			if state.results[idx].Status == StepFailed {
				overallOK = false
				failedThisLayer = true
			}
		}
		if failedThisLayer && rollbackAll {
			break outer
		}
	}

	if !overallOK && rollbackAll {
		for i := len(state.pendingTx) - 1; i >= 0; i-- {
			state.pendingTx[i].Rollback()
		}
		pathwayRollbacksTotal.Inc(1)
	} else {
		for _, tx := range state.pendingTx {
			tx.Commit()
		}
	}

	composition := state.composition()
	result := &PathwayResult{
		Name:        pathwayName,
		Success:     overallOK,
		Steps:       state.results,
		Composition: composition,
	}

	e.deps.Fusion.Observe(pathwayName, composition, overallOK)
	if overallOK {
		e.scheduleVerification(ct, state)
	}

	pathwayRunsTotal.Inc(1)
	if !overallOK {
		pathwayFailuresTotal.Inc(1)
	}
	return result, nil
}

// tryFused attempts the pathway's fused allele, if one is installed
// (§4.F step 1). handled reports whether the fused path was taken at
// all; when it returns false, the caller falls through to the normal
// per-step execution.
func (e *Executor) tryFused(pathwayName string, input map[string]interface{}) (handled bool, result *PathwayResult, err error) {
	state := e.deps.Fusion.State(pathwayName)
	if state.FusedAllele == nil {
		return false, nil, nil
	}
	pathwayFusedRunsTotal.Inc(1)

	d := *state.FusedAllele
	risk := e.deps.Risk.RiskFor(pathwayName)
	res, invokeErr := e.deps.Invoker.Invoke(pathwayName, risk, d, input)
	if invokeErr == nil {
		if res.Tx != nil {
			res.Tx.Commit()
		}
		e.deps.Fusion.Observe(pathwayName, state.Composition, true)
		return true, &PathwayResult{
			Name:        pathwayName,
			Success:     true,
			Fused:       true,
			Composition: state.Composition,
			Steps: []StepResult{{
				Name:          pathwayName,
				Status:        StepOK,
				Digest:        d,
				Output:        res.Output,
				ObservationID: res.ObservationID,
			}},
		}, nil
	}

	log.Warn("pathway: fused allele failed, decomposing", "pathway", pathwayName, "err", invokeErr)
	e.deps.Fusion.Observe(pathwayName, state.Composition, false)
	return false, nil, nil
}

func (e *Executor) layerIsParallelSafe(steps []contract.Step, layer []int) bool {
	if len(layer) < 2 {
		return false
	}
	for _, idx := range layer {
		step := steps[idx]
		if step.Kind == contract.StepSubPathway || step.Iteration != "" {
			return false
		}
		if safety.PolicyFor(e.deps.Risk.RiskFor(step.Locus)).Transaction {
			return false
		}
	}
	return true
}

func (e *Executor) runStep(ctx context.Context, ct *contract.Contract, idx int, state *runState) error {
	step := ct.Steps[idx]

	state.mu.Lock()
	for _, d := range state.deps[idx] {
		if state.results[d].Status != StepOK {
			state.results[idx] = StepResult{Name: step.Name, Status: StepSkipped}
			state.mu.Unlock()
			return nil
		}
	}
	env := state.env
	state.mu.Unlock()

	if step.Guard != "" {
		ok, err := evaluateGuard(step.Guard, env)
		if err != nil {
			return err
		}
		if !ok {
			state.mu.Lock()
			state.results[idx] = StepResult{Name: step.Name, Status: StepSkipped}
			state.mu.Unlock()
			return nil
		}
	}

	if step.Kind == contract.StepSubPathway {
		return e.runSubPathwayStep(ctx, ct, idx, state, env)
	}
	if step.Iteration != "" {
		return e.runIterationStep(ctx, ct, idx, state, env)
	}

	boundInput, err := bind(step.Bindings, env)
	if err != nil {
		return err
	}

	result := e.invokeWithFallback(step.Locus, boundInput)
	result.Name = step.Name
	state.mu.Lock()
	state.recordResultLocked(idx, step, result)
	state.mu.Unlock()
	return nil
}

func (e *Executor) runSubPathwayStep(ctx context.Context, ct *contract.Contract, idx int, state *runState, env map[string]interface{}) error {
	step := ct.Steps[idx]
	boundInput, err := bind(step.Bindings, env)
	if err != nil {
		return err
	}

	sub, err := e.Run(ctx, step.Locus, boundInput)
	if err != nil {
		return err
	}

	status := StepOK
	if !sub.Success {
		status = StepFailed
	}
	result := StepResult{Name: step.Name, Status: status, Output: map[string]interface{}{"success": sub.Success}}

	state.mu.Lock()
	state.recordResultLocked(idx, step, result)
	state.compositions[idx] = sub.Composition
	state.mu.Unlock()
	return nil
}

func (e *Executor) runIterationStep(ctx context.Context, ct *contract.Contract, idx int, state *runState, env map[string]interface{}) error {
	step := ct.Steps[idx]
	seq, err := resolveSequence(step.Iteration, env)
	if err != nil {
		return err
	}

	var outputs []map[string]interface{}
	var digests []common.Hash
	var txs []*safety.Transaction
	for _, elem := range seq {
		if err := ctx.Err(); err != nil {
			for i := len(txs) - 1; i >= 0; i-- {
				txs[i].Rollback()
			}
			return err
		}
		elemEnv := withLocal(env, step.IterVar, elem)
		boundInput, err := bind(step.Bindings, elemEnv)
		if err != nil {
			return err
		}
		result := e.invokeWithFallback(step.Locus, boundInput)
		if result.Status != StepOK {
			state.mu.Lock()
			state.results[idx] = StepResult{Name: step.Name, Status: StepFailed, Err: result.Err}
			state.mu.Unlock()
			return nil
		}
		outputs = append(outputs, result.Output)
		if result.Digest != (common.Hash{}) {
			digests = append(digests, result.Digest)
		}
		if result.tx != nil {
			txs = append(txs, result.tx)
		}
	}

	items := make([]interface{}, len(outputs))
	for i, o := range outputs {
		items[i] = o
	}
	envelope := map[string]interface{}{"items": items}

	state.mu.Lock()
	state.results[idx] = StepResult{Name: step.Name, Status: StepOK, Iterations: outputs}
	state.env = withLocal(state.env, stepKey(idx), envelope)
	if step.Name != "" {
		state.env = withLocal(state.env, step.Name, envelope)
	}
	state.compositions[idx] = digests
	state.pendingTx = append(state.pendingTx, txs...)
	state.mu.Unlock()
	return nil
}

// invokeWithFallback tries locus's dominant allele, then its fallback
// stack in order, until one succeeds or the stack is exhausted
// (§4.F step 3).
func (e *Executor) invokeWithFallback(locus string, input map[string]interface{}) StepResult {
	dominant, fallback, err := e.deps.Loci.ResolveWithStack(locus)
	if err != nil {
		return StepResult{Status: StepFailed, Err: err}
	}
	risk := e.deps.Risk.RiskFor(locus)
	candidates := append([]common.Hash{dominant}, fallback...)

	var lastErr error
	for _, d := range candidates {
		if d == (common.Hash{}) {
			continue
		}
		res, invokeErr := e.deps.Invoker.Invoke(locus, risk, d, input)
		if invokeErr == nil {
			return StepResult{Status: StepOK, Digest: d, Output: res.Output, ObservationID: res.ObservationID, tx: res.Tx}
		}
		lastErr = invokeErr
	}

	// Every candidate failed. The arena has already scored each failure
	// and, if the dominant's consecutive-failure streak demoted it into
	// an empty stack, emitted locus_exhausted to the mutation driver —
	// the walk itself does not re-trigger mutation, so a transiently
	// failing stack is not mutated on every unlucky run.
	return StepResult{Status: StepFailed, Err: &ErrLocusExhausted{Locus: locus, Cause: lastErr}}
}

// scheduleVerification schedules the verify block declared by every
// successfully-invoked configuration gene's own contract (§4.F step 4).
func (e *Executor) scheduleVerification(ct *contract.Contract, state *runState) {
	for idx, step := range ct.Steps {
		if step.Kind != contract.StepGene {
			continue
		}
		result := state.results[idx]
		if result.Status != StepOK {
			continue
		}
		stepContract, ok := e.deps.Contracts.Get(step.Locus)
		if !ok || len(stepContract.Verify) == 0 {
			continue
		}
		locus, d, obsID := step.Locus, result.Digest, result.ObservationID
		for _, v := range stepContract.Verify {
			diagnostic, within := v.Diagnostic, v.Within
			e.deps.Scheduler.ScheduleConvergenceCheck(locus, d, obsID, within, func() bool {
				out, err := e.deps.Diagnostic.InvokeDiagnostic(diagnostic, map[string]interface{}{"locus": locus})
				if err != nil {
					return false
				}
				ok, _ := out["success"].(bool)
				return ok
			})
		}
	}
}
