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
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/EsteSystems/sg/phenotype"
)

type memStore struct {
	entries map[string]phenotype.PathwayEntry
}

func newMemStore() *memStore { return &memStore{entries: map[string]phenotype.PathwayEntry{}} }

func (m *memStore) PathwayState(name string) phenotype.PathwayEntry { return m.entries[name] }

func (m *memStore) SetFusion(name string, digest common.Hash) error {
	e := m.entries[name]
	d := digest
	e.FusedAllele = &d
	m.entries[name] = e
	return nil
}

func (m *memStore) ClearFusion(name string) error {
	e := m.entries[name]
	e.FusedAllele = nil
	m.entries[name] = e
	return nil
}

func (m *memStore) SetReinforcement(name string, count int, composition []common.Hash) error {
	e := m.entries[name]
	e.ReinforcementCount = count
	e.LastComposition = composition
	m.entries[name] = e
	return nil
}

type recordingRequester struct{ requests int }

func (r *recordingRequester) RequestFusion(string, []common.Hash) { r.requests++ }

func TestObserveFiresOnTenthNotNinthSuccess(t *testing.T) {
	store := newMemStore()
	requester := &recordingRequester{}
	tr, err := Open(t.TempDir(), store, requester, DefaultThreshold)
	require.NoError(t, err)

	composition := []common.Hash{{1}, {2}}
	for i := 0; i < 9; i++ {
		tr.Observe("p", composition, true)
	}
	require.Equal(t, 0, requester.requests)
	require.Equal(t, 9, tr.State("p").ConsecutiveSuccesses)

	tr.Observe("p", composition, true)
	require.Equal(t, 1, requester.requests)
	require.Equal(t, 10, tr.State("p").ConsecutiveSuccesses)
}

func TestObserveResetsOnCompositionChange(t *testing.T) {
	store := newMemStore()
	tr, err := Open(t.TempDir(), store, nil, DefaultThreshold)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		tr.Observe("p", []common.Hash{{1}}, true)
	}
	require.Equal(t, 5, tr.State("p").ConsecutiveSuccesses)

	tr.Observe("p", []common.Hash{{2}}, true)
	require.Equal(t, 1, tr.State("p").ConsecutiveSuccesses)
}

func TestObserveFailureDecomposesFusedAllele(t *testing.T) {
	store := newMemStore()
	tr, err := Open(t.TempDir(), store, nil, DefaultThreshold)
	require.NoError(t, err)

	digest := common.Hash{9}
	require.NoError(t, tr.InstallFused("p", digest))
	require.NotNil(t, tr.State("p").FusedAllele)

	tr.Observe("p", []common.Hash{{1}}, false)
	require.Nil(t, tr.State("p").FusedAllele)
	require.Equal(t, 0, tr.State("p").ConsecutiveSuccesses)
}

func TestObserveDoesNotRefireAfterFused(t *testing.T) {
	store := newMemStore()
	requester := &recordingRequester{}
	tr, err := Open(t.TempDir(), store, requester, DefaultThreshold)
	require.NoError(t, err)

	composition := []common.Hash{{1}}
	for i := 0; i < 10; i++ {
		tr.Observe("p", composition, true)
	}
	require.Equal(t, 1, requester.requests)

	require.NoError(t, tr.InstallFused("p", common.Hash{7}))
	tr.Observe("p", composition, true)
	require.Equal(t, 1, requester.requests)
}
