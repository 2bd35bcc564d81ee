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

package contract

import (
	"fmt"
	"sync"
	"time"

	"github.com/EsteSystems/sg/safety"
)

// Set is an in-memory stand-in for the external contract DSL parser
// (§1 "a separate text-DSL layer; the core consumes a parsed contract
// value"). It holds already-parsed Contract values keyed by name,
// alongside the raw prose each one was (notionally) parsed from, for
// the mutation engine's prompt document. A real deployment replaces
// Set's population step with an actual parser; nothing downstream of
// Get/RiskFor/ContractText/TimeoutFor cares how the values arrived.
type Set struct {
	mu     sync.RWMutex
	byName map[string]*Contract
	text   map[string]string
}

// NewSet returns an empty contract set.
func NewSet() *Set {
	return &Set{byName: map[string]*Contract{}, text: map[string]string{}}
}

// Register adds or replaces c under c.Name. text is the (notional)
// source prose the contract was parsed from; it may be empty.
func (s *Set) Register(c *Contract, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byName[c.Name] = c
	if text != "" {
		s.text[c.Name] = text
	}
}

// Get looks up a contract by name, satisfying pathway.ContractSource.
func (s *Set) Get(name string) (*Contract, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byName[name]
	return c, ok
}

// RiskFor returns name's declared risk class, or RiskNone if name is
// not registered (satisfies pathway.RiskResolver and mutation.RiskResolver).
func (s *Set) RiskFor(name string) safety.RiskClass {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byName[name]
	if !ok {
		return safety.RiskNone
	}
	return c.Risk
}

// ContractText returns the prose a contract was registered with, for
// the mutation engine's prompt document (satisfies mutation.ContractText).
func (s *Set) ContractText(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.text[name]
	return t, ok
}

// TimeoutFor returns name's declared sandbox deadline override, or
// zero if none is set (the caller falls back to sandbox.DefaultDeadline).
func (s *Set) TimeoutFor(name string) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byName[name]
	if !ok {
		return 0
	}
	return c.Timeout
}

// ErrUnknownContract reports that a name has no registered contract.
type ErrUnknownContract struct{ Name string }

func (e *ErrUnknownContract) Error() string {
	return fmt.Sprintf("contract: unknown name %q", e.Name)
}
