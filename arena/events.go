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

package arena

import "github.com/ethereum/go-ethereum/common"

// Events receives the lifecycle signals the arena raises but does not
// act on itself (§4.D "emit mild_regression", "emit locus_exhausted").
// The mutation driver (component H) is the production implementation;
// tests supply a recording stub.
type Events interface {
	// MildRegression fires when digest's fitness has dropped at least
	// RegressionMildDrop below its recorded peak.
	MildRegression(locus string, digest common.Hash)
	// LocusExhausted fires when a demotion empties the fallback stack.
	LocusExhausted(locus string)
}

// NoopEvents discards every signal; useful where a caller only wants
// the scoring/lifecycle bookkeeping and not the mutation hooks.
type NoopEvents struct{}

func (NoopEvents) MildRegression(string, common.Hash) {}
func (NoopEvents) LocusExhausted(string)              {}
