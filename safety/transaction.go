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

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/log"
)

// undoEntry pairs a recorded inverse with the operation name it came
// from, purely for logging when the drain fails partway.
type undoEntry struct {
	op      string
	inverse func() error
}

// Transaction wraps a Capability for one configuration-gene invocation
// (§4.E "Transaction contract"): every mutating call records an
// inverse, and on any failure the undo log drains in reverse, each
// inverse attempted independently.
type Transaction struct {
	cap *Capability

	mu   sync.Mutex
	undo []undoEntry
	done bool
}

// Begin opens a transaction over cap.
func Begin(cap *Capability) *Transaction {
	return &Transaction{cap: cap}
}

// Invoke calls name through the transaction, recording name's inverse
// (if any) when the call succeeds. A capability that rejects the call
// with ErrProtectedResource (or anything wrapping it) is treated like
// any other invocation failure: it is the caller's responsibility to
// then call Rollback.
func (tx *Transaction) Invoke(name string, args Args) (interface{}, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return nil, errors.New("safety: transaction already closed")
	}

	op, ok := tx.cap.table[name]
	if !ok {
		return nil, ErrUnknownOperation
	}
	result, err := op.Execute(args)
	if err != nil {
		if errors.Is(err, ErrProtectedResource) {
			safetyProtectedDeniesTotal.Inc(1)
		}
		return result, err
	}
	if op.Inverse != nil {
		inverse, buildErr := op.Inverse(args, result)
		if buildErr != nil {
			log.Error("safety: failed to build inverse", "operation", name, "err", buildErr)
		} else if inverse != nil {
			tx.undo = append(tx.undo, undoEntry{op: name, inverse: inverse})
		}
	}
	return result, nil
}

// Commit discards the undo log: the invocation and its post-execution
// validation both succeeded, so nothing needs to be undone.
func (tx *Transaction) Commit() {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.done = true
	tx.undo = nil
	safetyCommitsTotal.Inc(1)
}

// Rollback drains the undo log in reverse, attempting every inverse
// independently (§4.E "failures of individual inverses are recorded
// but do not stop the drain"). It returns every inverse error
// encountered, in drain order.
func (tx *Transaction) Rollback() []error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.done = true
	safetyRollbacksTotal.Inc(1)

	var errs []error
	for i := len(tx.undo) - 1; i >= 0; i-- {
		entry := tx.undo[i]
		if err := entry.inverse(); err != nil {
			safetyInverseFailsTotal.Inc(1)
			log.Error("safety: inverse failed during rollback", "operation", entry.op, "err", err)
			errs = append(errs, err)
		}
	}
	tx.undo = nil
	return errs
}
