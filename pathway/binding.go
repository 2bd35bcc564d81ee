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

	"github.com/EsteSystems/sg/contract"
)

var (
	bareRefPattern   = regexp.MustCompile(`^\{([A-Za-z_][A-Za-z0-9_]*)\}$`)
	dottedRefPattern = regexp.MustCompile(`^\{([A-Za-z_][A-Za-z0-9_]*)\.([A-Za-z_][A-Za-z0-9_]*)\}$`)
)

// resolve evaluates a single {name} or {name.field} reference against
// env. No other expression form is permitted in the core (§4.F "Input
// binding").
func resolve(expr string, env map[string]interface{}) (interface{}, error) {
	if m := dottedRefPattern.FindStringSubmatch(expr); m != nil {
		base, ok := env[m[1]]
		if !ok {
			return nil, &BindingError{Expression: expr, Reason: "unknown reference " + m[1]}
		}
		obj, ok := base.(map[string]interface{})
		if !ok {
			return nil, &BindingError{Expression: expr, Reason: m[1] + " is not a record"}
		}
		v, ok := obj[m[2]]
		if !ok {
			return nil, &BindingError{Expression: expr, Reason: "missing field " + m[2]}
		}
		return v, nil
	}
	if m := bareRefPattern.FindStringSubmatch(expr); m != nil {
		v, ok := env[m[1]]
		if !ok {
			return nil, &BindingError{Expression: expr, Reason: "unknown reference " + m[1]}
		}
		return v, nil
	}
	return nil, &BindingError{Expression: expr, Reason: "not a recognised binding expression"}
}

// bind resolves every one of a step's input bindings against env.
func bind(bindings []contract.Binding, env map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(bindings))
	for _, b := range bindings {
		v, err := resolve(b.Expression, env)
		if err != nil {
			return nil, err
		}
		out[b.Param] = v
	}
	return out, nil
}

// resolveSequence evaluates an iteration step's "for v in {expr}"
// source expression, which must yield a sequence.
func resolveSequence(expr string, env map[string]interface{}) ([]interface{}, error) {
	v, err := resolve(expr, env)
	if err != nil {
		return nil, err
	}
	seq, ok := v.([]interface{})
	if !ok {
		return nil, &BindingError{Expression: expr, Reason: "does not evaluate to a sequence"}
	}
	return seq, nil
}

// stepKey is the positional env key a completed step's output is
// recorded under, so bindings may reference {stepN.field}.
func stepKey(index int) string { return fmt.Sprintf("step%d", index+1) }

// withLocal returns a copy of env with key bound to value, never
// mutating env itself — concurrent sibling steps in the same layer
// may still be holding a reference to the pre-update snapshot.
func withLocal(env map[string]interface{}, key string, value interface{}) map[string]interface{} {
	next := make(map[string]interface{}, len(env)+1)
	for k, v := range env {
		next[k] = v
	}
	next[key] = value
	return next
}

func cloneEnv(input map[string]interface{}) map[string]interface{} {
	next := make(map[string]interface{}, len(input))
	for k, v := range input {
		next[k] = v
	}
	return next
}
