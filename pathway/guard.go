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

import "github.com/hashicorp/go-bexpr"

// evaluateGuard reports whether step's guard expression evaluates
// true against env. A step's Guard already arrives as a go-bexpr
// expression (translated by the external contract parser from the
// literal "when step N.field = literal" grammar); the executor only
// has to flatten its environment into the dotted selector form bexpr
// expects and evaluate.
func evaluateGuard(expr string, env map[string]interface{}) (bool, error) {
	if expr == "" {
		return true, nil
	}
	evaluator, err := bexpr.CreateEvaluator(expr)
	if err != nil {
		return false, &BindingError{Expression: expr, Reason: "invalid guard: " + err.Error()}
	}
	ok, err := evaluator.Evaluate(flatten(env))
	if err != nil {
		return false, &BindingError{Expression: expr, Reason: "guard evaluation: " + err.Error()}
	}
	return ok, nil
}

// flatten turns nested step-output maps into dot-joined keys
// ("step1.field") so a guard's selector syntax can address them
// directly.
func flatten(env map[string]interface{}) map[string]interface{} {
	out := map[string]interface{}{}
	var walk func(prefix string, v interface{})
	walk = func(prefix string, v interface{}) {
		if m, ok := v.(map[string]interface{}); ok {
			for k, vv := range m {
				key := k
				if prefix != "" {
					key = prefix + "." + k
				}
				walk(key, vv)
			}
			return
		}
		out[prefix] = v
	}
	for k, v := range env {
		walk(k, v)
	}
	return out
}
