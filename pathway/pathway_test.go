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
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/EsteSystems/sg/contract"
	"github.com/EsteSystems/sg/fusion"
	"github.com/EsteSystems/sg/phenotype"
	"github.com/EsteSystems/sg/safety"
)

type stubContracts struct {
	byName map[string]*contract.Contract
}

func (s *stubContracts) Get(name string) (*contract.Contract, bool) {
	c, ok := s.byName[name]
	return c, ok
}

type stubLoci struct {
	dominant map[string]common.Hash
	fallback map[string][]common.Hash
}

func (s *stubLoci) ResolveWithStack(locus string) (common.Hash, []common.Hash, error) {
	return s.dominant[locus], s.fallback[locus], nil
}

type stubRisk struct{ risk map[string]safety.RiskClass }

func (s *stubRisk) RiskFor(locus string) safety.RiskClass { return s.risk[locus] }

type stubInvoker struct {
	fail map[common.Hash]bool
}

func (s *stubInvoker) Invoke(locus string, risk safety.RiskClass, d common.Hash, input map[string]interface{}) (*InvokeResult, error) {
	if s.fail[d] {
		return nil, &ErrLocusExhausted{Locus: locus}
	}
	out := map[string]interface{}{"value": d.Hex()[:6]}
	for k, v := range input {
		out[k] = v
	}
	return &InvokeResult{Output: out, ObservationID: uuid.New()}, nil
}

type stubDiagnostic struct{}

func (stubDiagnostic) InvokeDiagnostic(string, map[string]interface{}) (map[string]interface{}, error) {
	return map[string]interface{}{"success": true}, nil
}

type stubScheduler struct{ calls int }

func (s *stubScheduler) ScheduleConvergenceCheck(string, common.Hash, uuid.UUID, time.Duration, func() bool) {
	s.calls++
}

type stubFusionStore struct {
	entries map[string]phenotype.PathwayEntry
}

func newStubFusionStore() *stubFusionStore {
	return &stubFusionStore{entries: map[string]phenotype.PathwayEntry{}}
}

func (s *stubFusionStore) PathwayState(name string) phenotype.PathwayEntry {
	return s.entries[name]
}

func (s *stubFusionStore) SetFusion(name string, digest common.Hash) error {
	e := s.entries[name]
	d := digest
	e.FusedAllele = &d
	s.entries[name] = e
	return nil
}

func (s *stubFusionStore) ClearFusion(name string) error {
	e := s.entries[name]
	e.FusedAllele = nil
	s.entries[name] = e
	return nil
}

func (s *stubFusionStore) SetReinforcement(name string, count int, composition []common.Hash) error {
	e := s.entries[name]
	e.ReinforcementCount = count
	e.LastComposition = composition
	s.entries[name] = e
	return nil
}

type stubFusionRequester struct{ requests int }

func (s *stubFusionRequester) RequestFusion(string, []common.Hash) { s.requests++ }

func newTestExecutor(t *testing.T, ct *contract.Contract, invoker *stubInvoker, dominant map[string]common.Hash) *Executor {
	t.Helper()
	fus, err := fusion.Open(t.TempDir(), newStubFusionStore(), &stubFusionRequester{}, fusion.DefaultThreshold)
	require.NoError(t, err)

	deps := Deps{
		Contracts:  &stubContracts{byName: map[string]*contract.Contract{ct.Name: ct}},
		Loci:       &stubLoci{dominant: dominant},
		Risk:       &stubRisk{risk: map[string]safety.RiskClass{}},
		Invoker:    invoker,
		Diagnostic: stubDiagnostic{},
		Scheduler:  &stubScheduler{},
		Fusion:     fus,
	}
	return NewExecutor(deps)
}

func TestRunSequentialStepsBindOutputs(t *testing.T) {
	a, b := common.Hash{1}, common.Hash{2}
	ct := &contract.Contract{
		Name: "p",
		Kind: contract.KindPathway,
		Steps: []contract.Step{
			{Name: "s1", Kind: contract.StepGene, Locus: "locus_a"},
			{
				Name:     "s2",
				Kind:     contract.StepGene,
				Locus:    "locus_b",
				Bindings: []contract.Binding{{Param: "upstream", Expression: "{step1.value}"}},
			},
		},
	}
	exec := newTestExecutor(t, ct, &stubInvoker{fail: map[common.Hash]bool{}}, map[string]common.Hash{
		"locus_a": a,
		"locus_b": b,
	})

	result, err := exec.Run(context.Background(), "p", map[string]interface{}{})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Len(t, result.Steps, 2)
	require.Equal(t, StepOK, result.Steps[1].Status)
	require.NotEmpty(t, result.Steps[1].Output["upstream"])
}

func TestRunFallbackStackAdvancesOnFailure(t *testing.T) {
	dominant, fallback := common.Hash{1}, common.Hash{2}
	ct := &contract.Contract{
		Name: "p",
		Kind: contract.KindPathway,
		Steps: []contract.Step{
			{Name: "s1", Kind: contract.StepGene, Locus: "locus_a"},
		},
	}
	invoker := &stubInvoker{fail: map[common.Hash]bool{dominant: true}}
	exec := newTestExecutor(t, ct, invoker, map[string]common.Hash{"locus_a": dominant})
	exec.deps.Loci = &stubLoci{
		dominant: map[string]common.Hash{"locus_a": dominant},
		fallback: map[string][]common.Hash{"locus_a": {fallback}},
	}

	result, err := exec.Run(context.Background(), "p", map[string]interface{}{})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, fallback, result.Steps[0].Digest)
}

func TestRunExhaustedStackReportsStepFailure(t *testing.T) {
	dominant := common.Hash{1}
	ct := &contract.Contract{
		Name:      "p",
		Kind:      contract.KindPathway,
		OnFailure: contract.PolicyReportPartial,
		Steps: []contract.Step{
			{Name: "s1", Kind: contract.StepGene, Locus: "locus_a"},
		},
	}
	invoker := &stubInvoker{fail: map[common.Hash]bool{dominant: true}}
	exec := newTestExecutor(t, ct, invoker, map[string]common.Hash{"locus_a": dominant})

	result, err := exec.Run(context.Background(), "p", map[string]interface{}{})
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Equal(t, StepFailed, result.Steps[0].Status)
	var exhausted *ErrLocusExhausted
	require.ErrorAs(t, result.Steps[0].Err, &exhausted)
	require.Equal(t, "locus_a", exhausted.Locus)
}

func TestRunCancelledContextStopsAtStepBoundary(t *testing.T) {
	ct := &contract.Contract{
		Name: "p",
		Kind: contract.KindPathway,
		Steps: []contract.Step{
			{Name: "s1", Kind: contract.StepGene, Locus: "locus_a"},
		},
	}
	exec := newTestExecutor(t, ct, &stubInvoker{}, map[string]common.Hash{"locus_a": {1}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := exec.Run(ctx, "p", map[string]interface{}{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestResolveDottedReference(t *testing.T) {
	env := map[string]interface{}{"step1": map[string]interface{}{"field": "v"}}
	v, err := resolve("{step1.field}", env)
	require.NoError(t, err)
	require.Equal(t, "v", v)

	_, err = resolve("{step1.missing}", env)
	require.Error(t, err)
	var be *BindingError
	require.ErrorAs(t, err, &be)
}

func TestTopoLayersOrdersByDependency(t *testing.T) {
	steps := []contract.Step{
		{Name: "s1", Kind: contract.StepGene, Locus: "a"},
		{Name: "s2", Kind: contract.StepGene, Locus: "b", Bindings: []contract.Binding{{Param: "x", Expression: "{step1.v}"}}},
		{Name: "s3", Kind: contract.StepGene, Locus: "c"},
	}
	layers, _, err := topoLayers(steps)
	require.NoError(t, err)
	require.Len(t, layers, 2)
	require.Contains(t, layers[0], 0)
	require.Contains(t, layers[0], 2)
	require.Contains(t, layers[1], 1)
}

func TestTopoLayersDetectsCycle(t *testing.T) {
	steps := []contract.Step{
		{Name: "s1", Kind: contract.StepGene, Locus: "a", Needs: []string{"s2"}},
		{Name: "s2", Kind: contract.StepGene, Locus: "b", Needs: []string{"s1"}},
	}
	_, _, err := topoLayers(steps)
	require.Error(t, err)
}
