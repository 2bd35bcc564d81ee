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

import "github.com/ethereum/go-ethereum/metrics"

var (
	arenaPromotionsTotal        = metrics.NewRegisteredCounter("sg/arena/promotions/total", nil)
	arenaDemotionsTotal         = metrics.NewRegisteredCounter("sg/arena/demotions/total", nil)
	arenaMildRegressionsTotal   = metrics.NewRegisteredCounter("sg/arena/regressions/mild/total", nil)
	arenaSevereRegressionsTotal = metrics.NewRegisteredCounter("sg/arena/regressions/severe/total", nil)
	arenaExpiredPendingTotal    = metrics.NewRegisteredCounter("sg/arena/expired_pending/total", nil)
)
