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

// Package mutation orchestrates calls to the external mutation engine
// (§4.H): it assembles a prompt document from the triggering context,
// delegates source generation to the opaque Engine, validates the
// result loads, stores it via the registry, and installs it per risk
// policy. A fusion result is only stored: installing it as a pathway's
// fused allele, bypassing the phenotype entirely, is left to the caller.
//
// Every call, successful or not, is appended to an in-memory attempt
// ledger so operators can inspect what was tried and why.
package mutation

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/EsteSystems/sg/digest"
	"github.com/EsteSystems/sg/registry"
	"github.com/EsteSystems/sg/safety"
	"github.com/EsteSystems/sg/sandbox"
)

// Trigger is why a mutation was requested (§4.H contract).
type Trigger string

const (
	TriggerExhausted  Trigger = "exhausted"
	TriggerRegression Trigger = "regression"
	TriggerFusion     Trigger = "fusion"
	TriggerProactive  Trigger = "proactive"
)

// Context carries everything the prompt document may need, per
// trigger kind. Not every field is populated for every trigger: only
// FailingInput applies to "exhausted", only Composition/Sources to
// "fusion".
type Context struct {
	OffendingDigest common.Hash
	FailingInput    map[string]interface{}
	ErrorSummary    string
	Diagnostics     map[string]string
	Composition     []common.Hash
	Sources         []string
}

// Document is the opaque prompt handed to the external engine. Its
// shape is deliberately flat and serialisable: the engine is free to
// render it however it generates source from it.
type Document struct {
	Locus        string                 `json:"locus"`
	Trigger      Trigger                `json:"trigger"`
	ContractText string                 `json:"contractText,omitempty"`
	FailingInput map[string]interface{} `json:"failingInput,omitempty"`
	ErrorSummary string                 `json:"errorSummary,omitempty"`
	Diagnostics  map[string]string      `json:"diagnostics,omitempty"`
	Sources      []string               `json:"sources,omitempty"`
}

// Engine is the opaque mutation engine (§4.H: "the core treats it as
// an opaque producer generate(context) -> new source").
type Engine interface {
	Generate(doc Document) (string, error)
}

// ContractText supplies the locus's contract source text for the
// prompt document, when available.
type ContractText interface {
	ContractText(locus string) (string, bool)
}

// RiskResolver reports a locus's declared risk class, used to decide
// whether a freshly mutated allele starts in shadow or recessive.
type RiskResolver interface {
	RiskFor(locus string) safety.RiskClass
}

// needsShadow reports whether risk's policy requires shadow
// pre-qualification before an allele may reach live traffic (§4.E).
func needsShadow(risk safety.RiskClass) bool {
	return safety.PolicyFor(risk).ShadowPrequal
}

// Attempt is one recorded call to the engine, successful or not.
type Attempt struct {
	Locus   string
	Trigger Trigger
	At      time.Time
	Digest  common.Hash
	Err     error
}

// Orchestrator is the §4.H mutate() entry point.
type Orchestrator struct {
	reg      *registry.Registry
	engine   Engine
	contract ContractText
	risk     RiskResolver

	mu       sync.Mutex
	attempts []Attempt
}

// Open constructs an Orchestrator. contract may be nil if locus
// contract text is unavailable to the caller; the prompt document then
// omits ContractText.
func Open(reg *registry.Registry, engine Engine, contract ContractText, risk RiskResolver) *Orchestrator {
	return &Orchestrator{reg: reg, engine: engine, contract: contract, risk: risk}
}

// Mutate builds a prompt document for locus, calls the engine, and on
// success stores and installs the resulting allele (§4.H). When trigger
// is TriggerFusion (the call originates from a fuse_request) no
// lifecycle state is set: the caller is responsible for installing the
// returned digest as the pathway's fused allele (via
// fusion.Tracker.InstallFused) instead of through the normal phenotype
// stack.
func (o *Orchestrator) Mutate(locus string, trigger Trigger, ctx Context) (common.Hash, error) {
	doc := Document{
		Locus:        locus,
		Trigger:      trigger,
		FailingInput: ctx.FailingInput,
		ErrorSummary: ctx.ErrorSummary,
		Diagnostics:  ctx.Diagnostics,
		Sources:      ctx.Sources,
	}
	if o.contract != nil {
		if text, ok := o.contract.ContractText(locus); ok {
			doc.ContractText = text
		}
	}

	source, err := o.engine.Generate(doc)
	if err != nil {
		o.record(locus, trigger, common.Hash{}, err)
		mutationEngineFailuresTotal.Inc(1)
		log.Error("mutation: engine failed", "locus", locus, "trigger", trigger, "err", err)
		return common.Hash{}, &ErrEngineFailure{Locus: locus, Cause: err}
	}

	d := digest.Of(source)
	if _, loadErr := sandbox.Load(d, source, sandbox.DefaultDeadline); loadErr != nil {
		o.record(locus, trigger, common.Hash{}, loadErr)
		mutationEngineFailuresTotal.Inc(1)
		log.Error("mutation: generated source does not load", "locus", locus, "trigger", trigger, "err", loadErr)
		return common.Hash{}, &ErrEngineFailure{Locus: locus, Cause: loadErr}
	}

	mutCtx := registry.MutationContext{
		ErrorSummary: ctx.ErrorSummary,
		Diagnostics:  ctx.Diagnostics,
		Composition:  ctx.Composition,
	}
	if ctx.FailingInput != nil {
		if raw, err := json.Marshal(ctx.FailingInput); err == nil {
			mutCtx.FailingInputDigest = digest.Of(string(raw))
		}
	}
	var parent *common.Hash
	if ctx.OffendingDigest != (common.Hash{}) {
		p := ctx.OffendingDigest
		parent = &p
	}
	stored, err := o.reg.Put(source, locus, parent, mutCtx)
	if err != nil {
		o.record(locus, trigger, common.Hash{}, err)
		return common.Hash{}, err
	}

	if trigger != TriggerFusion {
		state := registry.StateRecessive
		if o.risk != nil && needsShadow(o.risk.RiskFor(locus)) {
			state = registry.StateShadow
		}
		if err := o.reg.SetState(stored, state); err != nil {
			o.record(locus, trigger, stored, err)
			return stored, err
		}
	}

	o.record(locus, trigger, stored, nil)
	mutationsAppliedTotal.Inc(1)
	log.Info("mutation applied", "locus", locus, "trigger", trigger, "digest", digest.Hex(stored))
	return stored, nil
}

func (o *Orchestrator) record(locus string, trigger Trigger, d common.Hash, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.attempts = append(o.attempts, Attempt{Locus: locus, Trigger: trigger, At: time.Now(), Digest: d, Err: err})
}

// Attempts returns every recorded attempt so far, oldest first.
func (o *Orchestrator) Attempts() []Attempt {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Attempt, len(o.attempts))
	copy(out, o.attempts)
	return out
}
