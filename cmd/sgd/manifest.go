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

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/EsteSystems/sg/contract"
)

// manifestEntry is one registered contract plus the prose it was
// (notionally) parsed from, the shape the mutation engine's prompt
// document wants (§6 "Document carries contract text"). A manifest
// file is the daemon's stand-in for the external contract DSL parser
// named out of scope in §1: it is already-parsed JSON, not prose, but
// it plays the same role at the Set.Register seam that a real parser's
// output would.
type manifestEntry struct {
	Contract contract.Contract `json:"contract"`
	Text     string            `json:"text"`
}

// loadManifest reads a JSON array of manifestEntry from path and
// registers each one into contracts.
func loadManifest(path string, contracts *contract.Set) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("sgd: reading manifest: %w", err)
	}
	var entries []manifestEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("sgd: parsing manifest %s: %w", path, err)
	}
	for _, e := range entries {
		c := e.Contract
		contracts.Register(&c, e.Text)
	}
	return nil
}
