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
	"fmt"
	"regexp"
	"strconv"

	"github.com/EsteSystems/sg/contract"
)

// stepRefPattern matches the core's own {step N.field} binding
// references, used in Bindings and Iteration expressions.
var stepRefPattern = regexp.MustCompile(`\{step\s*(\d+)\.[A-Za-z0-9_]+\}`)

// guardStepPattern matches bare "stepN" tokens inside a guard
// expression. Guards arrive already translated to go-bexpr syntax by
// the external contract parser (§6 "the core treats this value as
// opaque structured data"), so they never contain the curly-brace
// form; dependency extraction has to look for the selector form
// instead.
var guardStepPattern = regexp.MustCompile(`\bstep(\d+)\b`)

func refIndices(pattern *regexp.Regexp, expr string) []int {
	seen := map[int]bool{}
	var out []int
	for _, m := range pattern.FindAllStringSubmatch(expr, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

// computeDeps returns, for every step, the set of earlier step indices
// it depends on: explicit Needs plus implicit references discovered in
// its bindings, guard, and iteration expression.
func computeDeps(steps []contract.Step) ([][]int, error) {
	n := len(steps)
	nameIndex := make(map[string]int, n)
	for i, s := range steps {
		nameIndex[s.Name] = i
	}

	deps := make([][]int, n)
	for i, s := range steps {
		depSet := map[int]bool{}
		for _, needName := range s.Needs {
			j, ok := nameIndex[needName]
			if !ok {
				return nil, fmt.Errorf("pathway: step %q needs unknown step %q", s.Name, needName)
			}
			depSet[j] = true
		}

		var exprs []string
		for _, b := range s.Bindings {
			exprs = append(exprs, b.Expression)
		}
		if s.Iteration != "" {
			exprs = append(exprs, s.Iteration)
		}
		for _, e := range exprs {
			for _, oneBased := range refIndices(stepRefPattern, e) {
				if j := oneBased - 1; j >= 0 && j < n && j != i {
					depSet[j] = true
				}
			}
		}
		if s.Guard != "" {
			for _, oneBased := range refIndices(guardStepPattern, s.Guard) {
				if j := oneBased - 1; j >= 0 && j < n && j != i {
					depSet[j] = true
				}
			}
		}

		for j := range depSet {
			deps[i] = append(deps[i], j)
		}
	}
	return deps, nil
}

// topoLayers groups step indices into dependency layers: every step in
// layer k depends only on steps in layers 0..k-1 (§4.F step 2, "within
// a layer, steps may execute in any order").
func topoLayers(steps []contract.Step) ([][]int, [][]int, error) {
	deps, err := computeDeps(steps)
	if err != nil {
		return nil, nil, err
	}

	n := len(steps)
	done := make([]bool, n)
	remaining := n
	var layers [][]int
	for remaining > 0 {
		var layer []int
		for i := 0; i < n; i++ {
			if done[i] {
				continue
			}
			ready := true
			for _, d := range deps[i] {
				if !done[d] {
					ready = false
					break
				}
			}
			if ready {
				layer = append(layer, i)
			}
		}
		if len(layer) == 0 {
			return nil, nil, fmt.Errorf("pathway: dependency cycle detected among steps")
		}
		for _, i := range layer {
			done[i] = true
		}
		remaining -= len(layer)
		layers = append(layers, layer)
	}
	return layers, deps, nil
}
