// Package seed loads versioned starter data and applies each version once.
package seed

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed assets/catalog.yaml
var defaultCatalogYAML []byte

// Row is one record keyed by column name.
type Row map[string]any

// TableRows is the ordered row list for one table. Every row carries the same keys.
type TableRows struct {
	Name string `yaml:"name"`
	Rows []Row  `yaml:"rows"`
}

// Columns returns the table's column set in sorted order.
func (t TableRows) Columns() []string {
	if len(t.Rows) == 0 {
		return nil
	}
	cols := make([]string, 0, len(t.Rows[0]))
	for k := range t.Rows[0] {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// Batch is the data introduced by one seed version.
type Batch struct {
	Version int         `yaml:"version"`
	Tables  []TableRows `yaml:"tables"`
}

// Catalog maps a seed version to its batch.
type Catalog map[int]*Batch

// Versions returns the catalog's versions in ascending order.
func (c Catalog) Versions() []int {
	versions := make([]int, 0, len(c))
	for v := range c {
		versions = append(versions, v)
	}
	sort.Ints(versions)
	return versions
}

type catalogFile struct {
	Versions []*Batch `yaml:"versions"`
}

// DefaultCatalog returns the catalog embedded in the binary.
func DefaultCatalog() (Catalog, error) {
	return LoadCatalog(bytes.NewReader(defaultCatalogYAML))
}

// LoadCatalogFile reads a catalog from a YAML file.
func LoadCatalogFile(path string) (Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read seed catalog %s: %w", path, err)
	}
	defer f.Close()
	return LoadCatalog(f)
}

// LoadCatalog decodes a YAML catalog and checks that versions are unique and
// positive and that rows within a table share one key set.
func LoadCatalog(r io.Reader) (Catalog, error) {
	var file catalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("parse seed catalog: %w", err)
	}

	catalog := make(Catalog, len(file.Versions))
	for i, b := range file.Versions {
		if b == nil || b.Version <= 0 {
			return nil, fmt.Errorf("versions[%d]: version must be > 0", i)
		}
		if _, dup := catalog[b.Version]; dup {
			return nil, fmt.Errorf("version %d declared twice", b.Version)
		}
		for _, t := range b.Tables {
			if err := checkHomogeneous(t); err != nil {
				return nil, fmt.Errorf("version %d: %w", b.Version, err)
			}
		}
		catalog[b.Version] = b
	}
	return catalog, nil
}

func checkHomogeneous(t TableRows) error {
	cols := t.Columns()
	for i, row := range t.Rows {
		if len(row) != len(cols) {
			return fmt.Errorf("table %s row %d: has %d columns, want %d", t.Name, i, len(row), len(cols))
		}
		for _, c := range cols {
			if _, ok := row[c]; !ok {
				return fmt.Errorf("table %s row %d: missing column %s", t.Name, i, c)
			}
		}
	}
	return nil
}
