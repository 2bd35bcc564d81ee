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

package mutation

import (
	"fmt"
	"sync"
)

// MockEngine is an in-process stand-in for the external LLM/mutation
// engine (§1 "the core treats it as an opaque producer generate(context)
// -> new source"). It never calls out to anything; it synthesizes a
// small, always-loadable JavaScript gene so the core is exercisable and
// testable end to end without the real generator.
//
// For a locus-scoped trigger it emits a gene that echoes its input back
// with "success": true, tagged with a monotonic generation counter so
// repeated mutations of the same locus are never byte-identical (the
// registry would otherwise deduplicate them, §3 invariant). For a
// fusion trigger it emits a single execute() that echoes its input with
// "success" and "fused" set; the constituent sources are not run or
// combined, only their count is noted in a comment of the output.
type MockEngine struct {
	mu    sync.Mutex
	calls int
}

// NewMockEngine returns a ready MockEngine.
func NewMockEngine() *MockEngine { return &MockEngine{} }

// Generate implements Engine.
func (m *MockEngine) Generate(doc Document) (string, error) {
	m.mu.Lock()
	m.calls++
	gen := m.calls
	m.mu.Unlock()

	if doc.Trigger == TriggerFusion && len(doc.Sources) > 0 {
		return fuseSources(doc.Sources, gen), nil
	}
	return fmt.Sprintf(`function execute(input) {
  var data = JSON.parse(input);
  data.success = true;
  data.mutationGeneration = %d;
  return JSON.stringify(data);
}
`, gen), nil
}

// Calls reports how many times Generate has been invoked.
func (m *MockEngine) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// fuseSources produces a single execute() that always reports success,
// standing in for whatever real consolidation of sources would do; it
// is deterministic in gen and the number of sources, so fuse requests
// for different compositions still dedupe against the registry
// correctly (distinct gen, distinct source, distinct digest).
func fuseSources(sources []string, gen int) string {
	return fmt.Sprintf(`function execute(input) {
  // fused from %d constituent alleles
  var data = JSON.parse(input);
  data.success = true;
  data.fused = true;
  data.mutationGeneration = %d;
  return JSON.stringify(data);
}
`, len(sources), gen)
}
