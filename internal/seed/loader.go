package seed

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"pantry-api/internal/schema"
	"pantry-api/internal/store"
)

// Result reports which versions an Apply call inserted or skipped.
type Result struct {
	Applied []int
	Skipped []int
}

// Loader applies a Catalog to the store, recording each version in applied_seeds.
type Loader struct {
	gw  *store.Gateway
	reg *schema.Registry
	now func() time.Time
}

// NewLoader creates a loader. Table and column names in a catalog are
// checked against reg before any SQL is built from them.
func NewLoader(gw *store.Gateway, reg *schema.Registry) *Loader {
	return &Loader{gw: gw, reg: reg, now: time.Now}
}

// Apply is shorthand for NewLoader(gw, reg).Apply(ctx, catalog).
func Apply(ctx context.Context, gw *store.Gateway, reg *schema.Registry, catalog Catalog) (*Result, error) {
	return NewLoader(gw, reg).Apply(ctx, catalog)
}

// Apply inserts every unapplied version in ascending order. Each version runs
// in one transaction and its ledger row is written last. Rows that collide on
// a primary or unique key are skipped; any other constraint failure aborts the
// version, which is then neither partially visible nor recorded.
// Apply stops at the first failing version.
func (l *Loader) Apply(ctx context.Context, catalog Catalog) (*Result, error) {
	versions, err := store.QueryAll[int](ctx, l.gw, `SELECT version FROM applied_seeds`)
	if err != nil {
		return nil, store.E(store.KindSeedApplicationFailed, "seed.Apply", err)
	}
	applied := make(map[int]bool, len(versions))
	for _, v := range versions {
		applied[v] = true
	}

	result := &Result{}
	for _, v := range catalog.Versions() {
		if applied[v] {
			result.Skipped = append(result.Skipped, v)
			continue
		}
		inserted, err := l.applyBatch(ctx, catalog[v])
		if err != nil {
			return result, store.E(store.KindSeedApplicationFailed, "seed.Apply",
				fmt.Errorf("version %d: %w", v, err))
		}
		log.Printf("[SeedLoader] Applied version %d (%d new rows)", v, inserted)
		result.Applied = append(result.Applied, v)
	}
	return result, nil
}

func (l *Loader) applyBatch(ctx context.Context, b *Batch) (int64, error) {
	statements := make([]string, len(b.Tables))
	for i, t := range b.Tables {
		if len(t.Rows) == 0 {
			continue
		}
		stmt, err := l.insertSQL(t)
		if err != nil {
			return 0, err
		}
		statements[i] = stmt
	}

	var inserted int64
	err := l.gw.WithTx(ctx, func(tx *store.Tx) error {
		for i, t := range b.Tables {
			cols := t.Columns()
			for j, row := range t.Rows {
				args := make([]any, len(cols))
				for k, c := range cols {
					args[k] = row[c]
				}
				res, err := tx.Run(ctx, statements[i], args...)
				if err != nil {
					return fmt.Errorf("table %s row %d: %w", t.Name, j, err)
				}
				inserted += res.RowsAffected
			}
		}
		_, err := tx.Run(ctx, `INSERT INTO applied_seeds (version, applied_at) VALUES (?, ?)`, b.Version, l.now().UnixMilli())
		return err
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

func (l *Loader) insertSQL(t TableRows) (string, error) {
	table, ok := l.reg.Table(t.Name)
	if !ok {
		return "", fmt.Errorf("table %q is not in the schema registry", t.Name)
	}
	cols := t.Columns()
	if len(cols) == 0 {
		return "", fmt.Errorf("table %s has no rows", t.Name)
	}
	quoted := make([]string, len(cols))
	marks := make([]string, len(cols))
	for i, c := range cols {
		if !table.HasColumn(c) {
			return "", fmt.Errorf("column %s.%s is not in the schema registry", t.Name, c)
		}
		quoted[i] = `"` + c + `"`
		marks[i] = "?"
	}
	// OR IGNORE would also swallow NOT NULL and CHECK failures.
	return fmt.Sprintf(`INSERT INTO "%s" (%s) VALUES (%s) ON CONFLICT DO NOTHING`,
		table.Name, strings.Join(quoted, ", "), strings.Join(marks, ", ")), nil
}
