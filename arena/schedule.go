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
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
)

// Scheduler defers a func's execution, decoupling "when" from "what"
// so the arena never owns a timer of its own (§5).
type Scheduler interface {
	AfterFunc(d time.Duration, f func())
}

// RealScheduler defers via time.AfterFunc and is the production
// default.
type RealScheduler struct{}

// AfterFunc implements Scheduler.
func (RealScheduler) AfterFunc(d time.Duration, f func()) { time.AfterFunc(d, f) }

// ImmediateScheduler runs f synchronously, ignoring d. Tests use it to
// exercise convergence/resilience resolution without sleeping.
type ImmediateScheduler struct{}

// AfterFunc implements Scheduler.
func (ImmediateScheduler) AfterFunc(_ time.Duration, f func()) { f() }

// ScheduleConvergenceCheck implements pathway.ConvergenceScheduler: it
// defers check by within, then resolves the observation's convergence
// slot against its result (§4.F step 4, §4.D "resolve the pending
// convergence slot").
func (a *Arena) ScheduleConvergenceCheck(locus string, d common.Hash, observation uuid.UUID, within time.Duration, check func() bool) {
	a.scheduler.AfterFunc(within, func() {
		ok := check()
		if err := a.ResolveConvergence(locus, d, observation, ok); err != nil {
			log.Error("arena: scheduled convergence resolution failed", "locus", locus, "err", err)
		}
	})
}
