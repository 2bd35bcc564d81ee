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

import "fmt"

// BindingError reports a pathway DSL reference that could not be
// resolved (§7 "BindingError — fatal for the pathway; surfaced to
// caller; not a fitness signal for any particular allele").
type BindingError struct {
	Expression string
	Reason     string
}

func (e *BindingError) Error() string {
	return fmt.Sprintf("pathway: binding %q: %s", e.Expression, e.Reason)
}

// ErrUnknownPathway reports that Run was called with a name the
// contract source does not recognise as a pathway.
type ErrUnknownPathway struct {
	Name string
}

func (e *ErrUnknownPathway) Error() string {
	return fmt.Sprintf("pathway: unknown pathway %q", e.Name)
}

// ErrLocusExhausted reports that every candidate allele for a step's
// locus failed (§7 "LocusExhausted").
type ErrLocusExhausted struct {
	Locus string
	Cause error
}

func (e *ErrLocusExhausted) Error() string {
	return fmt.Sprintf("pathway: locus %q exhausted: %v", e.Locus, e.Cause)
}

func (e *ErrLocusExhausted) Unwrap() error { return e.Cause }
