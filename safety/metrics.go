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

package safety

import "github.com/ethereum/go-ethereum/metrics"

var (
	safetyCommitsTotal         = metrics.NewRegisteredCounter("sg/safety/commits/total", nil)
	safetyRollbacksTotal       = metrics.NewRegisteredCounter("sg/safety/rollbacks/total", nil)
	safetyInverseFailsTotal    = metrics.NewRegisteredCounter("sg/safety/inverse_failures/total", nil)
	safetyProtectedDeniesTotal = metrics.NewRegisteredCounter("sg/safety/protected_denies/total", nil)
)
