// Package schema holds the declarative store layout and the runner that
// converges a live SQLite database onto it.
package schema

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"pantry-api/internal/store"
)

//go:embed assets/registry.yaml
var defaultRegistryYAML []byte

// Column is one column of a table, in declaration order.
type Column struct {
	Name       string `yaml:"name"`
	Definition string `yaml:"definition"`
}

// Index is a secondary index recreated alongside its table.
type Index struct {
	Name    string   `yaml:"name"`
	Columns []string `yaml:"columns"`
	Unique  bool     `yaml:"unique"`
}

// Table describes a table: ordered columns plus an optional composite primary key.
type Table struct {
	Name       string   `yaml:"name"`
	Columns    []Column `yaml:"columns"`
	PrimaryKey []string `yaml:"primary_key"`
	Indexes    []Index  `yaml:"indexes"`
}

// Step is one entry of the migration checklist: columns a newer build added
// to or removed from a table.
type Step struct {
	ID      string   `yaml:"id"`
	Table   string   `yaml:"table"`
	Added   []string `yaml:"added"`
	Removed []string `yaml:"removed"`
}

// Registry is the full declared layout. It is immutable once loaded.
type Registry struct {
	Tables []Table `yaml:"tables"`
	Steps  []Step  `yaml:"steps"`
}

// DefaultRegistry returns the registry embedded in the binary.
func DefaultRegistry() (*Registry, error) {
	return LoadRegistry(bytes.NewReader(defaultRegistryYAML))
}

// LoadRegistryFile reads a registry from a YAML file.
func LoadRegistryFile(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read schema registry %s: %w", path, err)
	}
	defer f.Close()
	return LoadRegistry(f)
}

// LoadRegistry decodes and validates a YAML registry.
func LoadRegistry(r io.Reader) (*Registry, error) {
	var reg Registry
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&reg); err != nil {
		return nil, fmt.Errorf("parse schema registry: %w", err)
	}
	if err := reg.Validate(); err != nil {
		return nil, err
	}
	return &reg, nil
}

// Validate checks identifiers and cross references.
func (r *Registry) Validate() error {
	seen := make(map[string]bool, len(r.Tables))
	for i, t := range r.Tables {
		if !store.ValidIdentifier(t.Name) {
			return fmt.Errorf("table[%d]: invalid name %q", i, t.Name)
		}
		if seen[t.Name] {
			return fmt.Errorf("table %s: declared twice", t.Name)
		}
		seen[t.Name] = true
		if len(t.Columns) == 0 {
			return fmt.Errorf("table %s: no columns", t.Name)
		}
		cols := make(map[string]bool, len(t.Columns))
		for _, c := range t.Columns {
			if !store.ValidIdentifier(c.Name) {
				return fmt.Errorf("table %s: invalid column name %q", t.Name, c.Name)
			}
			if strings.TrimSpace(c.Definition) == "" {
				return fmt.Errorf("table %s: column %s has no definition", t.Name, c.Name)
			}
			cols[c.Name] = true
		}
		for _, pk := range t.PrimaryKey {
			if !cols[pk] {
				return fmt.Errorf("table %s: primary key column %s not declared", t.Name, pk)
			}
		}
		for _, idx := range t.Indexes {
			if !store.ValidIdentifier(idx.Name) || len(idx.Columns) == 0 {
				return fmt.Errorf("table %s: invalid index %q", t.Name, idx.Name)
			}
			for _, c := range idx.Columns {
				if !cols[c] {
					return fmt.Errorf("table %s: index %s references unknown column %s", t.Name, idx.Name, c)
				}
			}
		}
	}

	ids := make(map[string]bool, len(r.Steps))
	for i, s := range r.Steps {
		if s.ID == "" {
			return fmt.Errorf("step[%d]: id is required", i)
		}
		if ids[s.ID] {
			return fmt.Errorf("step %s: declared twice", s.ID)
		}
		ids[s.ID] = true
		t, ok := r.Table(s.Table)
		if !ok {
			return fmt.Errorf("step %s: unknown table %q", s.ID, s.Table)
		}
		for _, c := range s.Added {
			if !t.HasColumn(c) {
				return fmt.Errorf("step %s: added column %s missing from table %s", s.ID, c, s.Table)
			}
		}
		for _, c := range s.Removed {
			if !store.ValidIdentifier(c) {
				return fmt.Errorf("step %s: invalid removed column %q", s.ID, c)
			}
			if t.HasColumn(c) {
				return fmt.Errorf("step %s: removed column %s still declared on %s", s.ID, c, s.Table)
			}
		}
	}
	return nil
}

// Table looks up a table by name.
func (r *Registry) Table(name string) (*Table, bool) {
	for i := range r.Tables {
		if r.Tables[i].Name == name {
			return &r.Tables[i], true
		}
	}
	return nil, false
}

// TableNames lists declared tables in registry order.
func (r *Registry) TableNames() []string {
	names := make([]string, len(r.Tables))
	for i, t := range r.Tables {
		names[i] = t.Name
	}
	return names
}

// HasColumn reports whether the table declares column.
func (t *Table) HasColumn(column string) bool {
	for _, c := range t.Columns {
		if c.Name == column {
			return true
		}
	}
	return false
}

// ColumnNames returns column names in declaration order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// CreateSQL renders CREATE TABLE IF NOT EXISTS for the table under the given
// name (the shadow table uses a different name than the declared one).
func (t *Table) CreateSQL(name string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", quote(name))
	for i, c := range t.Columns {
		fmt.Fprintf(&b, "\t%s %s", quote(c.Name), c.Definition)
		if i < len(t.Columns)-1 || len(t.PrimaryKey) > 0 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	if len(t.PrimaryKey) > 0 {
		fmt.Fprintf(&b, "\tPRIMARY KEY (%s)\n", quoteList(t.PrimaryKey))
	}
	b.WriteString(")")
	return b.String()
}

// IndexSQL renders CREATE INDEX IF NOT EXISTS for one of the table's indexes.
func (t *Table) IndexSQL(idx Index) string {
	unique := ""
	if idx.Unique {
		unique = "UNIQUE "
	}
	return fmt.Sprintf("CREATE %sINDEX IF NOT EXISTS %s ON %s (%s)",
		unique, quote(idx.Name), quote(t.Name), quoteList(idx.Columns))
}

func quote(ident string) string {
	return `"` + ident + `"`
}

func quoteList(idents []string) string {
	quoted := make([]string, len(idents))
	for i, id := range idents {
		quoted[i] = quote(id)
	}
	return strings.Join(quoted, ", ")
}
