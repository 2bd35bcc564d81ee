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

package fusion

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/log"
)

func mirrorPath(projectRoot string) string {
	if projectRoot == "" {
		return ""
	}
	return filepath.Join(projectRoot, "fusion_tracker.json")
}

type mirrorEntry struct {
	Composition          []string `json:"composition,omitempty"`
	ConsecutiveSuccesses int      `json:"consecutive_successes"`
	FusedAllele          string   `json:"fused_allele,omitempty"`
}

// writeMirror rewrites fusion_tracker.json in full from the
// authoritative store. It is a denormalized read-optimized view (§6);
// any write failure is logged and otherwise non-fatal, since the
// phenotype document remains the source of truth.
func (t *Tracker) writeMirror(pathwayName string) {
	if t.mirrorPath == "" {
		return
	}

	t.mu.Lock()
	names := make([]string, 0, len(t.locks))
	for name := range t.locks {
		names = append(names, name)
	}
	t.mu.Unlock()

	out := make(map[string]mirrorEntry, len(names))
	for _, name := range names {
		entry := t.store.PathwayState(name)
		m := mirrorEntry{
			Composition:          hexAll(entry.LastComposition),
			ConsecutiveSuccesses: entry.ReinforcementCount,
		}
		if entry.FusedAllele != nil {
			m.FusedAllele = entry.FusedAllele.Hex()
		}
		out[name] = m
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		fusionMirrorErrorsTotal.Inc(1)
		log.Error("fusion: encoding mirror failed", "pathway", pathwayName, "err", err)
		return
	}
	tmp := t.mirrorPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		fusionMirrorErrorsTotal.Inc(1)
		log.Error("fusion: writing mirror failed", "pathway", pathwayName, "err", err)
		return
	}
	if err := os.Rename(tmp, t.mirrorPath); err != nil {
		fusionMirrorErrorsTotal.Inc(1)
		log.Error("fusion: renaming mirror failed", "pathway", pathwayName, "err", err)
	}
}
