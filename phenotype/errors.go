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

package phenotype

import (
	"errors"
	"fmt"
)

// ErrLocusUnset is returned when a locus has no phenotype entry yet (no
// seed allele has been registered for it).
var ErrLocusUnset = errors.New("phenotype: locus has no entry")

type errPhenotypeIO struct {
	op    string
	path  string
	cause error
}

func (e errPhenotypeIO) Error() string {
	return fmt.Sprintf("phenotype: %s %s: %v", e.op, e.path, e.cause)
}

func (e errPhenotypeIO) Unwrap() error { return e.cause }
