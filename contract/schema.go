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

package contract

import "fmt"

// SchemaMismatchError reports that a gene's output did not conform to
// its locus's gives schema (§7 "SchemaMismatch").
type SchemaMismatchError struct {
	Field  string
	Reason string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("contract: output field %q: %s", e.Field, e.Reason)
}

// ValidateOutput checks output against c's gives fields: every
// non-optional, non-nullable field must be present and of the declared
// type. Extra fields in output beyond those declared are permitted;
// the core does not enforce closed schemas.
func (c *Contract) ValidateOutput(output map[string]interface{}) error {
	for _, f := range c.Gives {
		v, present := output[f.Name]
		if !present {
			if f.Optional || f.Nullable {
				continue
			}
			return &SchemaMismatchError{Field: f.Name, Reason: "missing"}
		}
		if v == nil {
			if f.Nullable {
				continue
			}
			return &SchemaMismatchError{Field: f.Name, Reason: "null but not nullable"}
		}
		if f.Sequence {
			if _, ok := v.([]interface{}); !ok {
				return &SchemaMismatchError{Field: f.Name, Reason: "expected a sequence"}
			}
			continue
		}
		if err := checkScalar(f.Type, v); err != nil {
			return &SchemaMismatchError{Field: f.Name, Reason: err.Error()}
		}
	}
	return nil
}

func checkScalar(t FieldType, v interface{}) error {
	switch t {
	case TypeString:
		if _, ok := v.(string); !ok {
			return fmt.Errorf("expected string, got %T", v)
		}
	case TypeBool:
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("expected bool, got %T", v)
		}
	case TypeInt:
		switch v.(type) {
		case int, int32, int64, float64:
		default:
			return fmt.Errorf("expected int, got %T", v)
		}
	case TypeFloat:
		switch v.(type) {
		case float32, float64, int, int64:
		default:
			return fmt.Errorf("expected float, got %T", v)
		}
	}
	return nil
}
