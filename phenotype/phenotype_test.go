// Copyright 2024 The sg Authors
// This file is part of the sg library.
//
// The sg library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package phenotype

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/EsteSystems/sg/registry"
)

func newTestPhenotype(t *testing.T) (*Phenotype, *registry.Registry) {
	t.Helper()
	dir := t.TempDir()
	reg, err := registry.Open(dir)
	require.NoError(t, err)
	p, err := Open(dir, reg)
	require.NoError(t, err)
	return p, reg
}

func putAllele(t *testing.T, reg *registry.Registry, locus, src string) common.Hash {
	t.Helper()
	d, err := reg.Put(src, locus, nil, registry.MutationContext{})
	require.NoError(t, err)
	return d
}

func TestPromoteMovesPreviousDominantToFallback(t *testing.T) {
	p, reg := newTestPhenotype(t)
	a := putAllele(t, reg, "x", "function execute(i){return 1}")
	b := putAllele(t, reg, "x", "function execute(i){return 2}")

	require.NoError(t, p.Seed("x", a))
	require.NoError(t, p.Promote("x", b))

	dom, fallback, err := p.ResolveWithStack("x")
	require.NoError(t, err)
	require.Equal(t, b, dom)
	require.Contains(t, fallback, a)
	require.NotContains(t, fallback, b, "dominant must never also appear in fallback")
}

func TestDemoteReportsExhaustionWhenFallbackEmpty(t *testing.T) {
	p, reg := newTestPhenotype(t)
	a := putAllele(t, reg, "x", "function execute(i){return 1}")
	require.NoError(t, p.Seed("x", a))

	_, exhausted, err := p.Demote("x")
	require.NoError(t, err)
	require.True(t, exhausted)
}

func TestDemotePromotesFallbackHead(t *testing.T) {
	p, reg := newTestPhenotype(t)
	a := putAllele(t, reg, "x", "function execute(i){return 1}")
	b := putAllele(t, reg, "x", "function execute(i){return 2}")
	require.NoError(t, p.Seed("x", a))
	require.NoError(t, p.Promote("x", b)) // dominant=b, fallback=[a]

	newDom, exhausted, err := p.Demote("x")
	require.NoError(t, err)
	require.False(t, exhausted)
	require.Equal(t, a, newDom)

	dom, fallback, err := p.ResolveWithStack("x")
	require.NoError(t, err)
	require.Equal(t, a, dom)
	require.Contains(t, fallback, b)
}

func TestFallbackOrderedByDescendingFitness(t *testing.T) {
	p, reg := newTestPhenotype(t)
	a := putAllele(t, reg, "x", "function execute(i){return 1}")
	b := putAllele(t, reg, "x", "function execute(i){return 2}")
	c := putAllele(t, reg, "x", "function execute(i){return 3}")
	require.NoError(t, p.Seed("x", a))

	// b earns higher fitness than c.
	for i := 0; i < 12; i++ {
		_, err := reg.RecordObservation(b, true, false, false)
		require.NoError(t, err)
	}
	for i := 0; i < 12; i++ {
		_, err := reg.RecordObservation(c, i%2 == 0, false, false)
		require.NoError(t, err)
	}

	require.NoError(t, p.Promote("x", b))
	require.NoError(t, p.Promote("x", c))
	// dominant is now c; fallback should have b ahead of a (b fitter).

	_, fallback, err := p.ResolveWithStack("x")
	require.NoError(t, err)
	require.Len(t, fallback, 2)
	bIdx, aIdx := indexOf(fallback, b), indexOf(fallback, a)
	require.True(t, bIdx < aIdx, "higher-fitness allele must sort first in fallback")
}

func indexOf(list []common.Hash, target common.Hash) int {
	for i, h := range list {
		if h == target {
			return i
		}
	}
	return -1
}

func TestReinforcementCounterRoundTrip(t *testing.T) {
	p, reg := newTestPhenotype(t)
	a := putAllele(t, reg, "a", "function execute(i){return 1}")
	b := putAllele(t, reg, "b", "function execute(i){return 2}")
	composition := []common.Hash{a, b}

	require.NoError(t, p.SetReinforcement("P", 1, composition))
	require.NoError(t, p.SetReinforcement("P", 2, composition))

	state := p.PathwayState("P")
	require.Equal(t, 2, state.ReinforcementCount)
	require.Equal(t, composition, state.LastComposition)
}

func TestFusionSetAndClear(t *testing.T) {
	p, reg := newTestPhenotype(t)
	fused := putAllele(t, reg, "fused", "function execute(i){return i}")

	require.NoError(t, p.SetFusion("P", fused))
	require.NotNil(t, p.PathwayState("P").FusedAllele)

	require.NoError(t, p.ClearFusion("P"))
	require.Nil(t, p.PathwayState("P").FusedAllele)
}

func TestPhenotypeDocumentSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	reg, err := registry.Open(dir)
	require.NoError(t, err)
	p, err := Open(dir, reg)
	require.NoError(t, err)
	a := putAllele(t, reg, "x", "function execute(i){return 1}")
	require.NoError(t, p.Seed("x", a))

	p2, err := Open(dir, reg)
	require.NoError(t, err)
	dom, err := p2.Resolve("x")
	require.NoError(t, err)
	require.Equal(t, a, dom)
}
