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

package engine

import (
	"fmt"
	"time"

	"github.com/EsteSystems/sg/arena"
	"github.com/EsteSystems/sg/mutation"
	"github.com/EsteSystems/sg/safety"
)

// Config is the process handle's startup configuration, one level up
// from arena.Config: it owns the project root and the seams a real
// deployment overrides (the capability table, the mutation engine),
// leaving everything else at its default.
type Config struct {
	// Root is the project root under which .sg/registry, phenotype.toml,
	// fusion_tracker.json and regression.json live (§6).
	Root string

	// Arena carries the §4.D thresholds; zero value is replaced with
	// arena.DefaultConfig().
	Arena arena.Config

	// FusionThreshold overrides fusion.DefaultThreshold (§4.G); zero
	// keeps the default.
	FusionThreshold int

	// ShadowPrequalCount overrides safety.DefaultShadowPrequalCount;
	// zero keeps the default.
	ShadowPrequalCount int
	// CanaryPrequalCount overrides safety.DefaultCanaryCount; zero
	// keeps the default.
	CanaryPrequalCount int

	// SandboxDeadline overrides sandbox.DefaultDeadline for loci that
	// declare no contract-level Timeout; zero keeps the sandbox
	// package's own default.
	SandboxDeadline time.Duration

	// Capability is the injected capability table (§6 "capability
	// object... granting the allele controlled access to the
	// environment"). A nil table falls back to an in-memory
	// safety.MockCapability so the engine is runnable standalone.
	Capability safety.Table

	// Engine is the external mutation/LLM engine (§1, §4.H). A nil
	// value falls back to mutation.NewMockEngine().
	Engine mutation.Engine
}

// Validate reports the first malformed field.
func (c Config) Validate() error {
	if c.Root == "" {
		return fmt.Errorf("engine: Root must be set")
	}
	if err := c.Arena.Validate(); err != nil && !isZeroArenaConfig(c.Arena) {
		return err
	}
	return nil
}

func isZeroArenaConfig(c arena.Config) bool {
	return c == arena.Config{}
}

func withArenaDefaults(c arena.Config) arena.Config {
	if isZeroArenaConfig(c) {
		return arena.DefaultConfig()
	}
	return c
}
