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

// Args is the named-argument bag an invocation passes to a capability
// operation; the core treats it as opaque (§6 "capability object").
type Args map[string]interface{}

// InverseBuilder constructs the action that undoes one successful
// invocation of an operation, given the arguments it was called with
// and the result it returned. A nil inverse (both return values zero)
// means the operation left no state to undo (a read).
type InverseBuilder func(args Args, result interface{}) (inverse func() error, err error)

// Operation pairs a capability's mutating call with how to undo it
// (§9 "capability wrapping for transactions"): a registration table of
// (execute, inverse_builder) pairs supplied at startup, not inheritance
// or interception tricks.
type Operation struct {
	Execute func(args Args) (interface{}, error)
	Inverse InverseBuilder
}

// Table is the registration table a capability is constructed from.
type Table map[string]Operation

// Capability is the named-operation surface the core invokes and the
// safety layer wraps. It does not itself enforce transactions; a
// Transaction (see Begin) does that by consulting the same Table.
type Capability struct {
	table Table
}

// NewCapability builds a Capability over table. The core does not
// mandate what a real capability's operations do — in production this
// is injected by the deployment, not implemented in this package.
func NewCapability(table Table) *Capability {
	return &Capability{table: table}
}

// Invoke calls name directly, with no transactional wrapping — used
// outside configuration-gene execution (risk class none).
// Transaction.Invoke does its own lookup in the same table.
func (c *Capability) Invoke(name string, args Args) (interface{}, error) {
	op, ok := c.table[name]
	if !ok {
		return nil, ErrUnknownOperation
	}
	return op.Execute(args)
}
