// Copyright 2024 The sg Authors
// This file is part of the sg library.
//
// The sg library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package mutation

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/EsteSystems/sg/registry"
	"github.com/EsteSystems/sg/safety"
)

type stubContractText struct{ text map[string]string }

func (s *stubContractText) ContractText(locus string) (string, bool) {
	t, ok := s.text[locus]
	return t, ok
}

type stubRisk struct{ risk map[string]safety.RiskClass }

func (s *stubRisk) RiskFor(locus string) safety.RiskClass { return s.risk[locus] }

type failingEngine struct{ err error }

func (f *failingEngine) Generate(Document) (string, error) { return "", f.err }

type brokenSourceEngine struct{}

func (brokenSourceEngine) Generate(Document) (string, error) {
	return "this is not valid javascript { {{", nil
}

func TestMutateStoresAndInstallsRecessiveByDefault(t *testing.T) {
	reg, err := registry.Open(t.TempDir())
	require.NoError(t, err)

	o := Open(reg, NewMockEngine(), &stubContractText{text: map[string]string{"add": "does addition"}},
		&stubRisk{risk: map[string]safety.RiskClass{"add": safety.RiskLow}})

	d, err := o.Mutate("add", TriggerExhausted, Context{ErrorSummary: "always failed"})
	require.NoError(t, err)

	allele, err := reg.Get(d)
	require.NoError(t, err)
	require.Equal(t, registry.StateRecessive, allele.State)
	require.Equal(t, "add", allele.Locus)

	attempts := o.Attempts()
	require.Len(t, attempts, 1)
	require.NoError(t, attempts[0].Err)
}

func TestMutateInstallsShadowForHighRisk(t *testing.T) {
	reg, err := registry.Open(t.TempDir())
	require.NoError(t, err)

	o := Open(reg, NewMockEngine(), nil, &stubRisk{risk: map[string]safety.RiskClass{"deploy": safety.RiskHigh}})

	d, err := o.Mutate("deploy", TriggerExhausted, Context{})
	require.NoError(t, err)

	allele, err := reg.Get(d)
	require.NoError(t, err)
	require.Equal(t, registry.StateShadow, allele.State)
}

func TestMutateRecordsEngineFailureWithoutPersisting(t *testing.T) {
	reg, err := registry.Open(t.TempDir())
	require.NoError(t, err)

	wantErr := errors.New("llm timed out")
	o := Open(reg, &failingEngine{err: wantErr}, nil, nil)

	_, err = o.Mutate("add", TriggerExhausted, Context{})
	require.Error(t, err)
	var engErr *ErrEngineFailure
	require.ErrorAs(t, err, &engErr)
	require.ErrorIs(t, err, wantErr)

	require.Empty(t, reg.List("add").ToSlice())
	attempts := o.Attempts()
	require.Len(t, attempts, 1)
	require.Error(t, attempts[0].Err)
}

func TestMutateRejectsSourceThatDoesNotLoad(t *testing.T) {
	reg, err := registry.Open(t.TempDir())
	require.NoError(t, err)

	o := Open(reg, brokenSourceEngine{}, nil, nil)

	_, err = o.Mutate("add", TriggerExhausted, Context{})
	require.Error(t, err)
	require.Empty(t, reg.List("add").ToSlice())
}

func TestMutateFusionDoesNotSetLifecycleState(t *testing.T) {
	reg, err := registry.Open(t.TempDir())
	require.NoError(t, err)

	o := Open(reg, NewMockEngine(), nil, nil)

	d, err := o.Mutate("checkout_flow", TriggerFusion, Context{
		Composition: []common.Hash{common.HexToHash("0x1"), common.HexToHash("0x2")},
		Sources:     []string{"function execute(x){return x}", "function execute(x){return x}"},
	})
	require.NoError(t, err)

	allele, err := reg.Get(d)
	require.NoError(t, err)
	// Fusion installs bypass the normal risk-based lifecycle placement
	// (§4.H); the registry default of recessive from Put is left as-is
	// rather than being overridden a second time.
	require.Equal(t, registry.StateRecessive, allele.State)
}

func TestMockEngineGeneratesDistinctSourcePerCall(t *testing.T) {
	m := NewMockEngine()
	a, err := m.Generate(Document{Locus: "x", Trigger: TriggerExhausted})
	require.NoError(t, err)
	b, err := m.Generate(Document{Locus: "x", Trigger: TriggerExhausted})
	require.NoError(t, err)
	require.NotEqual(t, a, b, "repeated mutation of the same locus must not dedupe in the registry")
	require.Equal(t, 2, m.Calls())
}
