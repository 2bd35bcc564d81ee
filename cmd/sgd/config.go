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
	"fmt"

	"github.com/EsteSystems/sg/engine"
)

// Config is sgd's startup configuration, the same Config/Validate
// shape as engine.Config one level down: it only owns what a front end
// adds on top of the engine (where the contract manifest lives),
// everything else passes through.
type Config struct {
	Root         string
	ManifestPath string
	Engine       engine.Config
}

// Validate reports the first malformed field.
func (c Config) Validate() error {
	if c.Root == "" {
		return fmt.Errorf("sgd: --root must be set")
	}
	return nil
}
