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

// Package contract defines the parsed-contract value the core treats as
// opaque structured data (§6 "Parsed contract (input)"). Parsing contract
// prose into this shape happens outside the core; this package only
// carries the shape and a handful of lookups the pathway executor and
// arena need against it.
package contract

import (
	"time"

	"github.com/EsteSystems/sg/safety"
)

// Kind is a contract's declared kind.
type Kind string

const (
	KindGene     Kind = "gene"
	KindPathway  Kind = "pathway"
	KindTopology Kind = "topology"
)

// FieldType is one of the four scalar types a takes/gives field may
// declare, optionally a sequence of them ([]) and/or nullable (?).
type FieldType string

const (
	TypeString FieldType = "string"
	TypeBool   FieldType = "bool"
	TypeInt    FieldType = "int"
	TypeFloat  FieldType = "float"
)

// Field describes one entry of a contract's takes or gives list.
type Field struct {
	Name     string
	Type     FieldType
	Sequence bool
	Nullable bool
	Optional bool
	Default  interface{}
	Doc      string
}

// Verification names a diagnostic invocation a contract's verify block
// schedules, and the window within which it must resolve.
type Verification struct {
	Diagnostic string
	Within     time.Duration
}

// Feed names a configuration locus a diagnostic's outcome feeds, and the
// timescale the feed applies over (§4.F step 4, §7 "feeds" relationship).
type Feed struct {
	Locus     string
	Timescale time.Duration
}

// FailurePolicy is a pathway's on_failure declaration.
type FailurePolicy string

const (
	PolicyRollbackAll   FailurePolicy = "rollback_all"
	PolicyReportPartial FailurePolicy = "report_partial"
)

// StepKind distinguishes a pathway step that invokes a gene locus from
// one that recurses into a sub-pathway.
type StepKind string

const (
	StepGene       StepKind = "gene"
	StepSubPathway StepKind = "sub_pathway"
)

// Binding is one input-binding entry for a step: the parameter name the
// step's input expects, and the DSL expression supplying it (§4.F
// "Input binding").
type Binding struct {
	Param      string
	Expression string
}

// Step is one entry of a pathway's ordered step list.
type Step struct {
	Name      string
	Kind      StepKind
	Locus     string // gene locus or sub-pathway name
	Bindings  []Binding
	Iteration string // non-empty: "for v in {expr}" sequence expression
	IterVar   string // the bound loop variable name, e.g. "v"
	Guard     string // non-empty: go-bexpr expression; step skipped when false
	Needs     []string
}

// Contract is the opaque parsed-contract value (§6). Does/Before/
// After/FailsWhen/UnhealthyWhen carry prose only; the core never
// interprets them.
type Contract struct {
	Name          string
	Kind          Kind
	Family        string
	Risk          safety.RiskClass
	Does          string
	Before        []string
	After         []string
	FailsWhen     []string
	UnhealthyWhen []string
	Takes         []Field
	Gives         []Field
	Verify        []Verification
	Feeds         []Feed
	// Timeout overrides the sandbox's default wall-clock deadline for
	// this locus (§4.C "overridable per locus"); zero means "use the
	// loader's default".
	Timeout time.Duration

	// Pathway-only fields.
	Steps     []Step
	Requires  map[string][]string // step name -> needs, redundant with Step.Needs, kept for external contract authors
	OnFailure FailurePolicy
}

// IsPathway reports whether c declares pathway steps.
func (c *Contract) IsPathway() bool {
	return c.Kind == KindPathway
}

// Field looks up a takes/gives field by name.
func fieldByName(fields []Field, name string) (Field, bool) {
	for _, f := range fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// TakesField looks up one of c's declared input fields by name.
func (c *Contract) TakesField(name string) (Field, bool) { return fieldByName(c.Takes, name) }

// GivesField looks up one of c's declared output fields by name.
func (c *Contract) GivesField(name string) (Field, bool) { return fieldByName(c.Gives, name) }
