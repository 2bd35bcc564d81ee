// Copyright 2024 The sg Authors
// This file is part of the sg library.
//
// The sg library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package registry

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func openTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := Open(t.TempDir())
	require.NoError(t, err)
	return r
}

func TestPutIsIdempotent(t *testing.T) {
	r := openTestRegistry(t)

	d1, err := r.Put("function execute(x) { return x }", "noop", nil, MutationContext{})
	require.NoError(t, err)

	d2, err := r.Put("function execute(x) { return x }", "noop", nil, MutationContext{})
	require.NoError(t, err)

	require.Equal(t, d1, d2, "identical source must dedupe to the same digest")

	set := r.List("noop")
	require.Equal(t, 1, set.Cardinality(), "no duplicate storage on repeat put")
}

func TestGetRoundTrip(t *testing.T) {
	r := openTestRegistry(t)
	src := "function execute(x) { return x }"
	d, err := r.Put(src, "noop", nil, MutationContext{})
	require.NoError(t, err)

	a, err := r.Get(d)
	require.NoError(t, err)
	require.Equal(t, src, a.Source)
	require.Equal(t, digestOf(a.Source), a.Digest, "hash(source) must equal the digest")
	require.Equal(t, StateRecessive, a.State)
}

func TestGetMissingDigestErrors(t *testing.T) {
	r := openTestRegistry(t)
	_, err := r.Get(digestOf("nonexistent"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLineageOrdersFromChildToRoot(t *testing.T) {
	r := openTestRegistry(t)
	root, err := r.Put("function execute(x){return x}", "l", nil, MutationContext{})
	require.NoError(t, err)
	child, err := r.Put("function execute(x){return x+1}", "l", &root, MutationContext{})
	require.NoError(t, err)
	grandchild, err := r.Put("function execute(x){return x+2}", "l", &child, MutationContext{})
	require.NoError(t, err)

	chain, err := r.Lineage(grandchild)
	require.NoError(t, err)
	require.Len(t, chain, 3)
	require.Equal(t, grandchild, chain[0].Digest)
	require.Equal(t, child, chain[1].Digest)
	require.Equal(t, root, chain[2].Digest)
	require.Equal(t, 2, chain[0].Generation)
}

func TestSetStateNeverResurrectsDeprecated(t *testing.T) {
	r := openTestRegistry(t)
	d, err := r.Put("function execute(x){return x}", "l", nil, MutationContext{})
	require.NoError(t, err)
	require.NoError(t, r.SetState(d, StateDeprecated))

	a, err := r.Get(d)
	require.NoError(t, err)
	require.Equal(t, StateDeprecated, a.State)
	// There is no API to resurrect — only an explicit SetState call could,
	// and nothing in this repo makes one back to a live state automatically.
}

func TestRecordObservationSingleGeneScenario(t *testing.T) {
	// End-to-end scenario 1: a fresh allele's first successful invocation
	// scores 1/max(1,10).
	r := openTestRegistry(t)
	d, err := r.Put("function execute(x){return x}", "noop", nil, MutationContext{})
	require.NoError(t, err)

	_, err = r.RecordObservation(d, true, false, false)
	require.NoError(t, err)

	a, err := r.Get(d)
	require.NoError(t, err)
	require.EqualValues(t, 1, a.Fitness.TotalInvocations)
	require.InDelta(t, 0.1, a.Fitness.Fitness(), 1e-9)
}

func TestConsecutiveFailuresResetsOnSuccess(t *testing.T) {
	r := openTestRegistry(t)
	d, err := r.Put("function execute(x){return x}", "l", nil, MutationContext{})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := r.RecordObservation(d, false, false, false)
		require.NoError(t, err)
	}
	a, _ := r.Get(d)
	require.EqualValues(t, 2, a.Fitness.ConsecutiveFailures)

	_, err = r.RecordObservation(d, true, false, false)
	require.NoError(t, err)
	a, _ = r.Get(d)
	require.EqualValues(t, 0, a.Fitness.ConsecutiveFailures)
}

func TestFitnessStaysWithinUnitInterval(t *testing.T) {
	r := openTestRegistry(t)
	d, err := r.Put("function execute(x){return x}", "l", nil, MutationContext{})
	require.NoError(t, err)

	for i := 0; i < 40; i++ {
		ok := i%3 != 0
		_, err := r.RecordObservation(d, ok, true, true)
		require.NoError(t, err)
	}
	a, _ := r.Get(d)
	f := a.Fitness.Fitness()
	require.GreaterOrEqual(t, f, 0.0)
	require.LessOrEqual(t, f, 1.0)
}

func TestFitnessIgnoresPendingObservations(t *testing.T) {
	// Twelve successful invocations whose convergence slots are all
	// still pending keep the simple success ratio: pending observations
	// contribute nothing but must not lower the score.
	r := openTestRegistry(t)
	d, err := r.Put("function execute(x){return x}", "l", nil, MutationContext{})
	require.NoError(t, err)

	for i := 0; i < 12; i++ {
		_, err := r.RecordObservation(d, true, true, false)
		require.NoError(t, err)
	}
	a, _ := r.Get(d)
	require.InDelta(t, 1.0, a.Fitness.Fitness(), 1e-9)
}

func TestResolveConvergenceDecaysFitness(t *testing.T) {
	r := openTestRegistry(t)
	d, err := r.Put("function execute(x){return x}", "l", nil, MutationContext{})
	require.NoError(t, err)

	var obsIDs []uuid.UUID
	for i := 0; i < 12; i++ {
		id, err := r.RecordObservation(d, true, true, false)
		require.NoError(t, err)
		obsIDs = append(obsIDs, id)
	}
	a, _ := r.Get(d)
	before := a.Fitness.Fitness()

	// Resolve every convergence slot as failed.
	for _, id := range obsIDs {
		require.NoError(t, r.ResolveConvergence(d, id, false))
	}
	a, _ = r.Get(d)
	after := a.Fitness.Fitness()
	require.Less(t, after, before, "resolving convergence to failure must strictly lower fitness")
}

func TestIndexSurvivesCorruptionByRebuilding(t *testing.T) {
	dir := t.TempDir()
	r, err := Open(dir)
	require.NoError(t, err)
	d, err := r.Put("function execute(x){return x}", "l", nil, MutationContext{})
	require.NoError(t, err)
	require.NoError(t, r.SetState(d, StateDominant))

	// Corrupt the cached index document; the sidecar .meta.json files
	// remain intact on disk.
	require.NoError(t, writeFileAtomic(indexPathForTest(dir), []byte("{not json")))

	r2, err := Open(dir)
	require.NoError(t, err)
	a, err := r2.Get(d)
	require.NoError(t, err)
	require.Equal(t, StateDominant, a.State, "rebuild from sidecar files must preserve lifecycle state")
}

func indexPathForTest(dir string) string {
	return dir + "/.sg/registry/" + indexFileName
}
