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

// Package safety is the transactional and risk-policy layer (§4.E): it
// wraps a locus's capability object so mutating calls record inverses,
// drains the undo log on any failure, and gates high/critical alleles
// behind shadow/canary pre-qualification before they reach live traffic.
package safety

// RiskClass is a locus's declared risk class (§3 contract field `risk`).
type RiskClass string

const (
	RiskNone     RiskClass = "none"
	RiskLow      RiskClass = "low"
	RiskMedium   RiskClass = "medium"
	RiskHigh     RiskClass = "high"
	RiskCritical RiskClass = "critical"
)

// Policy is the §4.E risk policy table, one row per RiskClass.
type Policy struct {
	Transaction          bool
	ShadowPrequal        bool
	ShadowPrequalCount   int
	VerificationRequired bool
	ResilienceRequired   bool
}

// DefaultShadowPrequalCount is the §4.E default N of consecutive
// shadow-kernel successes required before a high/critical allele may
// advance to canary.
const DefaultShadowPrequalCount = 3

// PolicyFor returns the fixed policy row for risk.
func PolicyFor(risk RiskClass) Policy {
	switch risk {
	case RiskNone:
		return Policy{}
	case RiskLow:
		return Policy{Transaction: true, VerificationRequired: true}
	case RiskMedium:
		return Policy{Transaction: true, VerificationRequired: true}
	case RiskHigh:
		return Policy{
			Transaction:          true,
			ShadowPrequal:        true,
			ShadowPrequalCount:   DefaultShadowPrequalCount,
			VerificationRequired: true,
		}
	case RiskCritical:
		return Policy{
			Transaction:          true,
			ShadowPrequal:        true,
			ShadowPrequalCount:   DefaultShadowPrequalCount,
			VerificationRequired: true,
			ResilienceRequired:   true,
		}
	default:
		return Policy{}
	}
}
