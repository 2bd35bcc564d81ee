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
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/EsteSystems/sg/digest"
)

// regressionLogCap bounds how many recent events regression.json keeps;
// older entries roll off the front.
const regressionLogCap = 100

// RegressionEvent is one recorded fitness regression, as journaled to
// <root>/.sg/regression.json.
type RegressionEvent struct {
	Locus    string    `json:"locus"`
	Digest   string    `json:"digest"`
	Severity string    `json:"severity"`
	Peak     float64   `json:"peak"`
	Current  float64   `json:"current"`
	At       time.Time `json:"at"`
}

// regressionLog journals recent regression events to disk. Write
// failures are logged and otherwise non-fatal: the journal is an
// operator-facing record, not a source of truth for any lifecycle
// decision.
type regressionLog struct {
	path string

	mu     sync.Mutex
	events []RegressionEvent
}

func openRegressionLog(projectRoot string) *regressionLog {
	if projectRoot == "" {
		return nil
	}
	l := &regressionLog{path: filepath.Join(projectRoot, ".sg", "regression.json")}
	data, err := os.ReadFile(l.path)
	if err == nil {
		if jsonErr := json.Unmarshal(data, &l.events); jsonErr != nil {
			log.Warn("regression journal unreadable, starting fresh", "path", l.path, "err", jsonErr)
			l.events = nil
		}
	}
	return l
}

func (l *regressionLog) append(e RegressionEvent) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.events = append(l.events, e)
	if len(l.events) > regressionLogCap {
		l.events = l.events[len(l.events)-regressionLogCap:]
	}

	data, err := json.MarshalIndent(l.events, "", "  ")
	if err != nil {
		log.Error("encoding regression journal failed", "err", err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		log.Error("creating regression journal directory failed", "path", l.path, "err", err)
		return
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		log.Error("writing regression journal failed", "path", l.path, "err", err)
		return
	}
	if err := os.Rename(tmp, l.path); err != nil {
		log.Error("renaming regression journal failed", "path", l.path, "err", err)
	}
}

func (a *Arena) logRegression(locus string, d common.Hash, severity string, peak, current float64) {
	a.reglog.append(RegressionEvent{
		Locus:    locus,
		Digest:   digest.Hex(d),
		Severity: severity,
		Peak:     peak,
		Current:  current,
		At:       Now(),
	})
}

// RecentRegressions returns the journaled events, oldest first, or nil
// when the arena was opened without a project root.
func (a *Arena) RecentRegressions() []RegressionEvent {
	if a.reglog == nil {
		return nil
	}
	a.reglog.mu.Lock()
	defer a.reglog.mu.Unlock()
	return append([]RegressionEvent(nil), a.reglog.events...)
}
