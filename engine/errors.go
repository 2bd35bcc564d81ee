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

import "fmt"

// ErrLocusExhausted reports that InvokeGene exhausted locus's entire
// fallback stack without a single successful invocation (§7
// "LocusExhausted — every allele for a locus has failed").
type ErrLocusExhausted struct {
	Locus string
	Cause error
}

func (e *ErrLocusExhausted) Error() string {
	return fmt.Sprintf("engine: locus %q exhausted: %v", e.Locus, e.Cause)
}

func (e *ErrLocusExhausted) Unwrap() error { return e.Cause }

// ErrGeneFailure reports a schema-valid output that declared its own
// failure via a false "success" field; scored exactly like any other
// invocation failure.
type ErrGeneFailure struct {
	Locus string
}

func (e *ErrGeneFailure) Error() string {
	return fmt.Sprintf("engine: gene at locus %q reported failure", e.Locus)
}
