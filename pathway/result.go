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

package pathway

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/EsteSystems/sg/safety"
)

// StepStatus is one step's outcome within a pathway run.
type StepStatus string

const (
	StepOK      StepStatus = "ok"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
)

// StepResult is one step's recorded outcome (§4.F "PathwayResult
// carries per-step outcomes").
type StepResult struct {
	Name          string
	Status        StepStatus
	Digest        common.Hash
	Output        map[string]interface{}
	Iterations    []map[string]interface{}
	ObservationID uuid.UUID
	Err           error

	// tx is the still-open transaction a successful invocation left
	// behind, resolved (committed or rolled back) once Run knows the
	// pathway's overall fate. Never exposed outside this package.
	tx *safety.Transaction
}

// PathwayResult is the outcome of one Run call.
type PathwayResult struct {
	Name        string
	Success     bool
	Fused       bool
	Steps       []StepResult
	Composition []common.Hash
}
