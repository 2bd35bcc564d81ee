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

// Package digest canonicalises allele source text and computes the
// content-addressed digest that identifies it throughout the registry,
// the phenotype map and every pathway composition.
package digest

import (
	"crypto/sha256"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Of returns the digest of source after canonicalisation.
//
// Canonicalisation is intentionally minimal: trailing whitespace on each
// line and a trailing blank tail are stripped before hashing, so two
// sources that differ only in incidental whitespace produce the same
// digest. Everything else — comments, identifier names, formatting —
// participates in the digest, since it is part of the allele's behavior
// as far as the sandbox is concerned.
//
// The digest is carried in a common.Hash (32 bytes), the same type
// go-ethereum uses for its own content hashes, even though here it holds
// a SHA-256 sum rather than Keccak256 — both are 32-byte digests and the
// registry never mixes the two domains.
func Of(source string) common.Hash {
	sum := sha256.Sum256([]byte(Canonicalise(source)))
	return common.Hash(sum)
}

// Canonicalise normalises source text prior to digesting.
func Canonicalise(source string) string {
	lines := strings.Split(source, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t\r")
	}
	joined := strings.Join(lines, "\n")
	return strings.TrimRight(joined, "\n") + "\n"
}

// Hex returns the lowercase hex-encoded digest, suitable as a filename
// stem (`<digest>.src`) or an index key.
func Hex(d common.Hash) string {
	return d.Hex()[2:]
}

// Parse parses a hex digest as produced by Hex back into a common.Hash.
func Parse(hex string) (common.Hash, error) {
	if len(hex) != 64 {
		return common.Hash{}, errInvalidDigestLength(len(hex))
	}
	return common.HexToHash(hex), nil
}

type errInvalidDigestLength int

func (e errInvalidDigestLength) Error() string {
	return "digest: invalid hex digest length"
}
