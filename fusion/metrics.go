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

package fusion

import "github.com/ethereum/go-ethereum/metrics"

var (
	fusionFuseRequestsTotal = metrics.NewRegisteredCounter("sg/fusion/fuse_requests/total", nil)
	fusionDecomposeTotal    = metrics.NewRegisteredCounter("sg/fusion/decompose/total", nil)
	fusionMirrorErrorsTotal = metrics.NewRegisteredCounter("sg/fusion/mirror_errors/total", nil)
)
