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

// Package pathway sequences contract steps into one multi-step operation
// (§4.F): it resolves each step's locus late through the phenotype map,
// binds inputs from pathway inputs and prior step outputs, evaluates
// iteration and guards, retries the phenotype's fallback stack on
// failure, and rolls back or reports partial failure per the pathway's
// declared policy. It delegates fusion bookkeeping to the fusion
// tracker through the narrow interfaces below — it never constructs
// those components itself — and makes no mutation requests of its own.
package pathway

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/EsteSystems/sg/contract"
	"github.com/EsteSystems/sg/fusion"
	"github.com/EsteSystems/sg/safety"
)

// ContractSource looks up a named contract, gene or pathway, by name.
// A locus's own contract is how a step's gene invocation learns its
// verify/feeds obligations after it succeeds.
type ContractSource interface {
	Get(name string) (*contract.Contract, bool)
}

// LocusResolver is the phenotype map's read surface the executor needs
// (§4.B "resolve_with_stack").
type LocusResolver interface {
	ResolveWithStack(locus string) (dominant common.Hash, fallback []common.Hash, err error)
}

// RiskResolver looks up a locus's declared risk class, which selects
// transactional wrapping and shadow pre-qualification (§4.E).
type RiskResolver interface {
	RiskFor(locus string) safety.RiskClass
}

// InvokeResult is what a successful gene invocation hands back to the
// executor: the decoded output, the observation this invocation was
// recorded under, and — for risk classes that open one — the
// still-uncommitted transaction, left open so the executor can decide
// whether to commit or roll it back once the whole pathway's fate is
// known (§4.F step 3, reconciled against §4.E's "commits on success").
type InvokeResult struct {
	Output        map[string]interface{}
	ObservationID uuid.UUID
	Tx            *safety.Transaction
}

// GeneInvoker executes one candidate allele for a locus and scores the
// result. A failed invocation returns a non-nil error and has already
// rolled back any transaction it opened; the executor never sees a
// failed invocation's transaction.
type GeneInvoker interface {
	Invoke(locus string, risk safety.RiskClass, digest common.Hash, input map[string]interface{}) (*InvokeResult, error)
}

// DiagnosticInvoker runs a read-only diagnostic locus for verification
// (§4.F step 4); diagnostics never open a transaction.
type DiagnosticInvoker interface {
	InvokeDiagnostic(locus string, input map[string]interface{}) (map[string]interface{}, error)
}

// ConvergenceScheduler is the §9 "core exposes schedule_convergence...
// and does not own the timer" hook: check runs (synchronously or on a
// caller-chosen timer) within the given window, and its boolean result
// resolves the named observation's convergence slot.
type ConvergenceScheduler interface {
	ScheduleConvergenceCheck(locus string, digest common.Hash, observation uuid.UUID, within time.Duration, check func() bool)
}

// Deps bundles everything the executor needs to resolve, invoke,
// schedule and report around, in one wiring struct rather than a long
// positional constructor.
type Deps struct {
	Contracts  ContractSource
	Loci       LocusResolver
	Risk       RiskResolver
	Invoker    GeneInvoker
	Diagnostic DiagnosticInvoker
	Scheduler  ConvergenceScheduler
	Fusion     *fusion.Tracker
}

// Executor runs named pathways against deps.
type Executor struct {
	deps Deps
}

// NewExecutor builds an Executor over deps.
func NewExecutor(deps Deps) *Executor {
	return &Executor{deps: deps}
}
