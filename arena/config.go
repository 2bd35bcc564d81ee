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

import (
	"fmt"
	"time"
)

// Config holds the thresholds §4.D fixes by default and allows a locus
// to override: a plain struct with an explicit Validate rather than ad
// hoc checks scattered through the arena.
type Config struct {
	// Root, when set, is the project root under which recent regression
	// events are journaled to .sg/regression.json (§6 layout). Empty
	// disables the journal; lifecycle decisions are unaffected either
	// way.
	Root string

	// ConvergenceWindow bounds how long a convergence slot may stay
	// pending before it defaults to failure.
	ConvergenceWindow time.Duration
	// ResilienceWindow bounds how long a resilience slot may stay
	// pending before it defaults to failure.
	ResilienceWindow time.Duration

	// PromotionMinInvocations is the invocation floor a challenger
	// must clear before it can be promoted.
	PromotionMinInvocations uint64
	// PromotionFitnessDelta is the strict margin a challenger's
	// fitness must exceed the dominant's by.
	PromotionFitnessDelta float64

	// DemotionConsecutiveFailures is the immediate-failure streak
	// that demotes a dominant allele.
	DemotionConsecutiveFailures uint64

	// RegressionMinInvocations is the invocation floor before
	// regression detection engages for an allele.
	RegressionMinInvocations uint64
	// RegressionMildDrop triggers a mild_regression event.
	RegressionMildDrop float64
	// RegressionSevereDrop triggers an immediate demotion.
	RegressionSevereDrop float64

	// LocalWeight and PeerWeight combine into effective_fitness.
	LocalWeight float64
	PeerWeight  float64
	// PeerMinInvocations is the floor a peer-reported digest must
	// clear before its component counts at all.
	PeerMinInvocations uint64
}

// DefaultConfig returns the §4.D default thresholds.
func DefaultConfig() Config {
	return Config{
		ConvergenceWindow:           30 * time.Second,
		ResilienceWindow:            time.Hour,
		PromotionMinInvocations:     50,
		PromotionFitnessDelta:       0.1,
		DemotionConsecutiveFailures: 3,
		RegressionMinInvocations:    10,
		RegressionMildDrop:          0.2,
		RegressionSevereDrop:        0.4,
		LocalWeight:                 0.7,
		PeerWeight:                  0.3,
		PeerMinInvocations:          10,
	}
}

// Validate reports the first malformed field.
func (c Config) Validate() error {
	if c.ConvergenceWindow <= 0 {
		return fmt.Errorf("arena: ConvergenceWindow must be positive")
	}
	if c.ResilienceWindow <= 0 {
		return fmt.Errorf("arena: ResilienceWindow must be positive")
	}
	if c.PromotionFitnessDelta <= 0 {
		return fmt.Errorf("arena: PromotionFitnessDelta must be positive")
	}
	if c.DemotionConsecutiveFailures == 0 {
		return fmt.Errorf("arena: DemotionConsecutiveFailures must be positive")
	}
	if c.RegressionSevereDrop <= c.RegressionMildDrop {
		return fmt.Errorf("arena: RegressionSevereDrop must exceed RegressionMildDrop")
	}
	if d := c.LocalWeight + c.PeerWeight - 1; d > 1e-9 || d < -1e-9 {
		return fmt.Errorf("arena: LocalWeight + PeerWeight must equal 1")
	}
	return nil
}
