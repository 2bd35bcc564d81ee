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

import "sync"

// MockCapability replays production topology in memory for shadow
// pre-qualification (§4.E "a mock capability with production topology
// replayed in memory") and for tests: a named key/value store whose
// mutating operations (Set, Delete) are registered with inverses, so a
// Transaction wrapped around it exercises the real undo-log drain path
// without a live capability behind it.
type MockCapability struct {
	mu    sync.Mutex
	state map[string]interface{}
}

// NewMockCapability returns a *Capability backed by an in-memory store,
// with "set" and "delete" operations registered against Table so a
// Transaction can wrap it exactly as it would a live capability.
func NewMockCapability() (*Capability, *MockCapability) {
	m := &MockCapability{state: map[string]interface{}{}}
	table := Table{
		"set": {
			Execute: m.set,
			Inverse: m.inverseOfSet,
		},
		"delete": {
			Execute: m.delete,
			Inverse: m.inverseOfDelete,
		},
		"get": {
			Execute: m.get,
		},
	}
	return NewCapability(table), m
}

// setResult carries the prior value of a key across from Execute to its
// Inverse builder, since by the time the inverse is built the state has
// already been overwritten.
type setResult struct {
	key     string
	had     interface{}
	existed bool
}

func (m *MockCapability) set(args Args) (interface{}, error) {
	key, _ := args["key"].(string)
	m.mu.Lock()
	defer m.mu.Unlock()
	prior, existed := m.state[key]
	m.state[key] = args["value"]
	return setResult{key: key, had: prior, existed: existed}, nil
}

func (m *MockCapability) inverseOfSet(_ Args, result interface{}) (func() error, error) {
	r := result.(setResult)
	return func() error {
		m.mu.Lock()
		defer m.mu.Unlock()
		if r.existed {
			m.state[r.key] = r.had
		} else {
			delete(m.state, r.key)
		}
		return nil
	}, nil
}

func (m *MockCapability) delete(args Args) (interface{}, error) {
	key, _ := args["key"].(string)
	m.mu.Lock()
	defer m.mu.Unlock()
	prior, existed := m.state[key]
	delete(m.state, key)
	return setResult{key: key, had: prior, existed: existed}, nil
}

func (m *MockCapability) inverseOfDelete(_ Args, result interface{}) (func() error, error) {
	r := result.(setResult)
	if !r.existed {
		return nil, nil
	}
	return func() error {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.state[r.key] = r.had
		return nil
	}, nil
}

func (m *MockCapability) get(args Args) (interface{}, error) {
	key, _ := args["key"].(string)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state[key], nil
}

// Has reports whether key is currently set, for test assertions that
// a rollback left no residual state.
func (m *MockCapability) Has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.state[key]
	return ok
}
