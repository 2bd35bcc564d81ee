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

package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/EsteSystems/sg/digest"
)

const indexFileName = "index.json"

func srcPath(root string, d common.Hash) string { return filepath.Join(root, digest.Hex(d)+".src") }
func metaPath(root string, d common.Hash) string {
	return filepath.Join(root, digest.Hex(d)+".meta.json")
}

// writeAlleleFiles writes the two per-allele files. The .src file is
// written once and never again (source is immutable, keyed by its own
// digest); the .meta.json sidecar is rewritten on every state/fitness
// change so the index can always be rebuilt from disk.
func writeAlleleFiles(root string, a *Allele) error {
	sp := srcPath(root, a.Digest)
	if _, err := os.Stat(sp); os.IsNotExist(err) {
		if err := writeFileAtomic(sp, []byte(a.Source)); err != nil {
			return fmt.Errorf("registry: writing source for %s: %w", a.Digest.Hex(), err)
		}
	}
	return persistMeta(root, a)
}

func persistMeta(root string, a *Allele) error {
	data, err := marshalEntry(entryFromAllele(a))
	if err != nil {
		return fmt.Errorf("registry: encoding metadata for %s: %w", a.Digest.Hex(), err)
	}
	if err := writeFileAtomic(metaPath(root, a.Digest), data); err != nil {
		return fmt.Errorf("registry: writing metadata for %s: %w", a.Digest.Hex(), err)
	}
	return nil
}

// persistIndex rewrites the cached index document: write to a temp file
// in the same directory, then rename, so a crash never leaves a
// half-written index (§4.A).
func persistIndex(root string, s *snapshot) error {
	doc := make(map[string]indexEntry, len(s.alleles))
	for d, a := range s.alleles {
		doc[digest.Hex(d)] = entryFromAllele(a)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("registry: encoding index: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(root, indexFileName), data); err != nil {
		return fmt.Errorf("registry: writing index: %w", err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// loadSnapshot loads the registry's cached index, rebuilding it from
// per-allele sidecar files if missing or corrupt (§4.A failure mode:
// RegistryCorrupt → rebuild and continue).
func loadSnapshot(root string) (s *snapshot, rebuilt bool, err error) {
	data, readErr := os.ReadFile(filepath.Join(root, indexFileName))
	if readErr == nil {
		var doc map[string]indexEntry
		if jsonErr := json.Unmarshal(data, &doc); jsonErr == nil {
			snap, buildErr := snapshotFromIndex(root, doc)
			if buildErr == nil {
				return snap, false, nil
			}
			log.Error("registry index has an invalid digest key, rebuilding", "err", buildErr)
		} else {
			log.Error("registry index corrupt, rebuilding", "err", jsonErr)
		}
	}

	snap, buildErr := rebuildFromDisk(root)
	if buildErr != nil {
		return nil, false, fmt.Errorf("registry: %w", errRegistryCorrupt{cause: buildErr})
	}
	if err := persistIndex(root, snap); err != nil {
		return nil, false, err
	}
	return snap, true, nil
}

func snapshotFromIndex(root string, doc map[string]indexEntry) (*snapshot, error) {
	snap := newSnapshot()
	for hex, entry := range doc {
		d, err := parseDigestHex(hex)
		if err != nil {
			return nil, err
		}
		src, err := os.ReadFile(srcPath(root, d))
		if err != nil {
			// Per §4.A: a missing per-digest file makes the digest
			// unreferenced; it is simply omitted, not fatal.
			continue
		}
		a := alleleFromEntry(d, string(src), entry)
		snap.alleles[d] = a
		addToLocus(snap, entry.Locus, d)
	}
	return snap, nil
}

// rebuildFromDisk reconstructs the index purely from *.meta.json /
// *.src sidecar pairs on disk, ignoring whatever (corrupt) index.json
// said.
func rebuildFromDisk(root string) (*snapshot, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	snap := newSnapshot()
	for _, de := range entries {
		name := de.Name()
		const suffix = ".meta.json"
		if de.IsDir() || len(name) <= len(suffix) || name[len(name)-len(suffix):] != suffix {
			continue
		}
		hex := name[:len(name)-len(suffix)]
		d, err := parseDigestHex(hex)
		if err != nil {
			continue
		}
		metaData, err := os.ReadFile(filepath.Join(root, name))
		if err != nil {
			continue
		}
		var entry indexEntry
		if err := json.Unmarshal(metaData, &entry); err != nil {
			continue
		}
		src, err := os.ReadFile(srcPath(root, d))
		if err != nil {
			continue
		}
		a := alleleFromEntry(d, string(src), entry)
		snap.alleles[d] = a
		addToLocus(snap, entry.Locus, d)
	}
	return snap, nil
}

func newSnapshot() *snapshot {
	return &snapshot{
		alleles: make(map[common.Hash]*Allele),
		byLocus: make(map[string]mapset.Set[common.Hash]),
	}
}

func addToLocus(s *snapshot, locus string, d common.Hash) {
	set, ok := s.byLocus[locus]
	if !ok {
		set = mapset.NewThreadUnsafeSet[common.Hash]()
		s.byLocus[locus] = set
	}
	set.Add(d)
}

func parseDigestHex(hex string) (common.Hash, error) {
	d, err := digest.Parse(hex)
	if err != nil {
		return common.Hash{}, fmt.Errorf("registry: invalid digest %q", hex)
	}
	return d, nil
}
