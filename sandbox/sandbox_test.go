// Copyright 2024 The sg Authors
// This file is part of the sg library.
//
// The sg library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package sandbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExecuteReturnsOutput(t *testing.T) {
	c, err := Load([32]byte{1}, `function execute(input) { return "got:" + input; }`, 0)
	require.NoError(t, err)
	out, err := c.Execute("hello", nil)
	require.NoError(t, err)
	require.Equal(t, "got:hello", out)
}

func TestLoadFailsWithoutExecute(t *testing.T) {
	_, err := Load([32]byte{1}, `function notExecute(x){return x;}`, 0)
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, SandboxRuntimeFault, kind)
}

func TestImportOfNonWhitelistedModuleIsDenied(t *testing.T) {
	c, err := Load([32]byte{1}, `
		var fs = require("fs");
		function execute(input) { return input; }
	`, 0)
	require.Error(t, err)
	_ = c
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, SandboxImportDenied, kind)
}

func TestImportDeniedSurfacesOnlyAtInvocationForLazyRequire(t *testing.T) {
	c, err := Load([32]byte{1}, `
		function execute(input) {
			var fs = require("fs");
			return input;
		}
	`, 0)
	require.NoError(t, err)
	_, err = c.Execute("x", nil)
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, SandboxImportDenied, kind)
}

func TestWhitelistedModuleIsUsable(t *testing.T) {
	c, err := Load([32]byte{1}, `
		var h = require("hashing");
		function execute(input) { return h.sha256(input); }
	`, 0)
	require.NoError(t, err)
	out, err := c.Execute("abc", nil)
	require.NoError(t, err)
	require.Len(t, out, 64)
}

func TestEvalIsDeniedBuiltin(t *testing.T) {
	c, err := Load([32]byte{1}, `function execute(input) { return eval("1+1"); }`, 0)
	require.NoError(t, err)
	_, err = c.Execute("x", nil)
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, SandboxBuiltinDenied, kind)
}

func TestExecutionExceedingDeadlineTimesOut(t *testing.T) {
	c, err := Load([32]byte{1}, `
		function execute(input) {
			while (true) {}
		}
	`, 10*time.Millisecond)
	require.NoError(t, err)
	_, err = c.Execute("x", nil)
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, SandboxTimeout, kind)
}

func TestUncaughtThrowIsRuntimeFault(t *testing.T) {
	c, err := Load([32]byte{1}, `
		function execute(input) { throw new Error("boom"); }
	`, 0)
	require.NoError(t, err)
	_, err = c.Execute("x", nil)
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, SandboxRuntimeFault, kind)
}

func TestCapabilityObjectIsReachableAsGeneSDK(t *testing.T) {
	c, err := Load([32]byte{1}, `
		function execute(input) { return gene_sdk.greet(input); }
	`, 0)
	require.NoError(t, err)
	capability := map[string]interface{}{
		"greet": func(name string) string { return "hi " + name },
	}
	out, err := c.Execute("world", capability)
	require.NoError(t, err)
	require.Equal(t, "hi world", out)
}
