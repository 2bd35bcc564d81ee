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

package phenotype

import (
	"os"
	"path/filepath"

	"github.com/naoina/toml"
)

func tomlPath(projectRoot string) string {
	return filepath.Join(projectRoot, "phenotype.toml")
}

func loadDocument(path string) (*document, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return emptyDocument(), nil
	}
	if err != nil {
		return nil, errPhenotypeIO{op: "read", path: path, cause: err}
	}
	doc := emptyDocument()
	if err := toml.Unmarshal(data, doc); err != nil {
		return nil, errPhenotypeIO{op: "parse", path: path, cause: err}
	}
	if doc.Loci == nil {
		doc.Loci = map[string]LocusEntry{}
	}
	if doc.Pathways == nil {
		doc.Pathways = map[string]PathwayEntry{}
	}
	return doc, nil
}

// commit persists next and swaps it in as the current snapshot. Writers
// are serialised by the caller holding p.mu; readers load the atomic
// pointer without locking (§4.B: "a single writer per process").
func (p *Phenotype) commit(next *document) error {
	data, err := toml.Marshal(next)
	if err != nil {
		return errPhenotypeIO{op: "encode", path: p.path, cause: err}
	}
	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errPhenotypeIO{op: "write", path: p.path, cause: err}
	}
	if err := os.Rename(tmp, p.path); err != nil {
		return errPhenotypeIO{op: "rename", path: p.path, cause: err}
	}
	p.docP.Store(next)
	return nil
}
