// Copyright 2024 The sg Authors
// This file is part of the sg library.
//
// The sg library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/EsteSystems/sg/contract"
	"github.com/EsteSystems/sg/mutation"
	"github.com/EsteSystems/sg/registry"
	"github.com/EsteSystems/sg/safety"
	"github.com/EsteSystems/sg/sandbox"
)

const echoGene = `function execute(input) {
  var data = JSON.parse(input);
  data.success = true;
  return JSON.stringify(data);
}
`

const failingGene = `function execute(input) {
  return JSON.stringify({"success": false});
}
`

// echoGeneAlt behaves like echoGene but hashes differently, so two
// loci seeded in one test do not dedupe onto a single registry record.
const echoGeneAlt = `function execute(input) {
  var data = JSON.parse(input);
  data.success = true;
  data.via = "alt";
  return JSON.stringify(data);
}
`

func openTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	if cfg.Root == "" {
		cfg.Root = t.TempDir()
	}
	e, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func seedLocus(t *testing.T, e *Engine, locus, source string, risk safety.RiskClass) common.Hash {
	t.Helper()
	d, err := e.Registry.Put(source, locus, nil, registry.MutationContext{})
	require.NoError(t, err)
	require.NoError(t, e.Registry.SetState(d, registry.StateDominant))
	require.NoError(t, e.Phenotype.Seed(locus, d))
	e.Contracts.Register(&contract.Contract{Name: locus, Kind: contract.KindGene, Risk: risk}, "")
	return d
}

// TestInvokeGeneSingleSuccess is end-to-end scenario 1: one seed allele
// that echoes its input; a single successful invocation scores
// 1/max(1, 10).
func TestInvokeGeneSingleSuccess(t *testing.T) {
	e := openTestEngine(t, Config{})
	d := seedLocus(t, e, "noop", echoGene, safety.RiskNone)

	out, err := e.InvokeGene("noop", map[string]interface{}{"x": 1})
	require.NoError(t, err)
	require.Equal(t, true, out["success"])
	require.EqualValues(t, 1, out["x"])

	allele, err := e.Registry.Get(d)
	require.NoError(t, err)
	require.EqualValues(t, 1, allele.Fitness.TotalInvocations)
	require.InDelta(t, 0.1, allele.Fitness.Fitness(), 1e-9)
}

// TestFailureCascadeTriggersSingleMutation is end-to-end scenario 2:
// a locus whose only allele reports failure reaches the demotion
// threshold on the third consecutive failure; with an empty fallback
// stack the allele stays dominant, the locus is reported exhausted, and
// the mutation driver is called exactly once; the resulting mutant
// joins the stack as recessive.
func TestFailureCascadeTriggersSingleMutation(t *testing.T) {
	mock := mutation.NewMockEngine()
	e := openTestEngine(t, Config{Engine: mock})
	seedLocus(t, e, "always_fail", failingGene, safety.RiskNone)

	input := map[string]interface{}{"x": 1}
	for i := 0; i < 2; i++ {
		_, err := e.InvokeGene("always_fail", input)
		require.Error(t, err)
	}
	require.Equal(t, 0, mock.Calls(), "two failures must not trigger mutation")

	_, err := e.InvokeGene("always_fail", input)
	require.Error(t, err)
	require.Equal(t, 1, mock.Calls(), "the third failure exhausts the locus and mutates once")

	_, fallback, err := e.Phenotype.ResolveWithStack("always_fail")
	require.NoError(t, err)
	require.Len(t, fallback, 1)
	mutant, err := e.Registry.Get(fallback[0])
	require.NoError(t, err)
	require.Equal(t, registry.StateRecessive, mutant.State)

	// The mutant is now reachable through the stack; the next
	// invocation falls back to it and succeeds.
	out, err := e.InvokeGene("always_fail", input)
	require.NoError(t, err)
	require.Equal(t, true, out["success"])
}

// TestFailedConfigurationGeneRollsBack is end-to-end scenario 5: a
// low-risk gene performs two capability mutations then returns a
// schema-invalid output; both inverses drain, in reverse order, and no
// residual state remains.
func TestFailedConfigurationGeneRollsBack(t *testing.T) {
	var (
		mu     sync.Mutex
		state  = map[string]string{}
		undone []string
	)
	table := safety.Table{
		"set": {
			Execute: func(args safety.Args) (interface{}, error) {
				key, _ := args["key"].(string)
				val, _ := args["value"].(string)
				mu.Lock()
				state[key] = val
				mu.Unlock()
				return key, nil
			},
			Inverse: func(_ safety.Args, result interface{}) (func() error, error) {
				key := result.(string)
				return func() error {
					mu.Lock()
					delete(state, key)
					undone = append(undone, key)
					mu.Unlock()
					return nil
				}, nil
			},
		},
	}
	e := openTestEngine(t, Config{Capability: table})

	const configureGene = `function execute(input) {
  gene_sdk.Invoke("set", {"key": "a", "value": "1"});
  gene_sdk.Invoke("set", {"key": "b", "value": "2"});
  return JSON.stringify({});
}
`
	d, err := e.Registry.Put(configureGene, "configure", nil, registry.MutationContext{})
	require.NoError(t, err)
	require.NoError(t, e.Registry.SetState(d, registry.StateDominant))
	require.NoError(t, e.Phenotype.Seed("configure", d))
	e.Contracts.Register(&contract.Contract{
		Name:  "configure",
		Kind:  contract.KindGene,
		Risk:  safety.RiskLow,
		Gives: []contract.Field{{Name: "status", Type: contract.TypeString}},
	}, "")

	_, err = e.InvokeGene("configure", map[string]interface{}{})
	require.Error(t, err)
	var mismatch *contract.SchemaMismatchError
	require.ErrorAs(t, err, &mismatch)

	mu.Lock()
	defer mu.Unlock()
	require.Empty(t, state, "rollback must leave no residual capability state")
	require.Equal(t, []string{"b", "a"}, undone, "inverses must drain in reverse order")
}

// TestSandboxImportDenialScoresFailure is end-to-end scenario 6: a
// lazy require of a non-whitelisted module loads fine but fails the
// first invocation with SandboxImportDenied, scored as an allele
// failure.
func TestSandboxImportDenialScoresFailure(t *testing.T) {
	e := openTestEngine(t, Config{})
	d := seedLocus(t, e, "importer", `function execute(input) {
  var fs = require("fs");
  return input;
}
`, safety.RiskNone)

	_, err := e.InvokeGene("importer", map[string]interface{}{})
	require.Error(t, err)
	kind, ok := sandbox.KindOf(err)
	require.True(t, ok)
	require.Equal(t, sandbox.SandboxImportDenied, kind)

	allele, err := e.Registry.Get(d)
	require.NoError(t, err)
	require.EqualValues(t, 1, allele.Fitness.ConsecutiveFailures)
}

// TestPathwayFusionLifecycle is end-to-end scenario 4: ten consecutive
// successes with a stable composition trigger a fuse request, the
// mutation engine synthesizes a merged allele, subsequent runs invoke
// it as one gene, and a failing fused allele decomposes back to the
// step form.
func TestPathwayFusionLifecycle(t *testing.T) {
	mock := mutation.NewMockEngine()
	e := openTestEngine(t, Config{Engine: mock})
	seedLocus(t, e, "locus_a", echoGene, safety.RiskNone)
	seedLocus(t, e, "locus_b", echoGeneAlt, safety.RiskNone)
	e.Contracts.Register(&contract.Contract{
		Name: "P",
		Kind: contract.KindPathway,
		Steps: []contract.Step{
			{Name: "s1", Kind: contract.StepGene, Locus: "locus_a"},
			{Name: "s2", Kind: contract.StepGene, Locus: "locus_b"},
		},
	}, "")

	for i := 0; i < 9; i++ {
		result, err := e.Run(context.Background(), "P", map[string]interface{}{})
		require.NoError(t, err)
		require.True(t, result.Success)
	}
	require.Equal(t, 0, mock.Calls(), "fusion must not fire before the tenth success")
	require.Nil(t, e.Fusion.State("P").FusedAllele)

	result, err := e.Run(context.Background(), "P", map[string]interface{}{})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, 1, mock.Calls(), "the tenth success fuses")
	require.NotNil(t, e.Fusion.State("P").FusedAllele)

	result, err = e.Run(context.Background(), "P", map[string]interface{}{})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.True(t, result.Fused, "post-fusion runs must invoke the fused allele")
	require.Len(t, result.Steps, 1)

	// Swap in a fused allele that reports failure: the next run
	// decomposes and completes through the two-step form.
	bad, err := e.Registry.Put(failingGene, "P", nil, registry.MutationContext{})
	require.NoError(t, err)
	require.NoError(t, e.Fusion.InstallFused("P", bad))

	result, err = e.Run(context.Background(), "P", map[string]interface{}{})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.False(t, result.Fused)
	require.Len(t, result.Steps, 2)
	require.Nil(t, e.Fusion.State("P").FusedAllele, "a failing fused allele must decompose")
}

// TestShadowPrequalificationAdvancesLifecycle drives a shadow-born
// allele through the qualification stages: three consecutive
// shadow-kernel successes reach canary, three more reach recessive and
// the phenotype.
func TestShadowPrequalificationAdvancesLifecycle(t *testing.T) {
	e := openTestEngine(t, Config{})
	e.Contracts.Register(&contract.Contract{Name: "deploy", Kind: contract.KindGene, Risk: safety.RiskHigh}, "")

	d, err := e.Registry.Put(echoGene, "deploy", nil, registry.MutationContext{})
	require.NoError(t, err)
	require.NoError(t, e.Registry.SetState(d, registry.StateShadow))

	input := map[string]interface{}{}
	for i := 0; i < 3; i++ {
		require.NoError(t, e.PreQualify("deploy", d, input))
	}
	allele, err := e.Registry.Get(d)
	require.NoError(t, err)
	require.Equal(t, registry.StateCanary, allele.State)

	for i := 0; i < 3; i++ {
		require.NoError(t, e.PreQualify("deploy", d, input))
	}
	allele, err = e.Registry.Get(d)
	require.NoError(t, err)
	require.Equal(t, registry.StateRecessive, allele.State)

	dom, err := e.Phenotype.Resolve("deploy")
	require.NoError(t, err)
	require.Equal(t, d, dom, "the first recessive for an empty locus seeds its phenotype entry")
}
