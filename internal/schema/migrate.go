package schema

import (
	"context"
	"fmt"
	"log"
	"time"

	"pantry-api/internal/store"
)

const ledgerTable = "schema_migrations"

// Report lists what a single EnsureSchema call changed. A converged store
// yields an empty report.
type Report struct {
	Created        []string // tables created from the registry
	IndexesCreated []string // indexes added to tables that already existed
	Rebuilt        []string // step IDs that ran a shadow-copy-rename rebuild
	Recorded       []string // step IDs recorded without drift (new table or already converged)
}

// Empty reports whether nothing was changed.
func (r *Report) Empty() bool {
	return len(r.Created) == 0 && len(r.IndexesCreated) == 0 && len(r.Rebuilt) == 0 && len(r.Recorded) == 0
}

// Migrator converges a live store onto a Registry.
type Migrator struct {
	gw  *store.Gateway
	reg *Registry
	now func() time.Time

	// beforeSwap runs after the shadow copy and before the original is dropped.
	beforeSwap func(table string) error
}

// NewMigrator creates a migrator for the given gateway and registry.
func NewMigrator(gw *store.Gateway, reg *Registry) *Migrator {
	return &Migrator{gw: gw, reg: reg, now: time.Now}
}

// EnsureSchema is shorthand for NewMigrator(gw, reg).Run(ctx).
func EnsureSchema(ctx context.Context, gw *store.Gateway, reg *Registry) (*Report, error) {
	return NewMigrator(gw, reg).Run(ctx)
}

// Run creates missing tables and indexes, then walks the migration checklist.
// Each pending step is either recorded (no drift) or applied through a
// shadow-copy-rename rebuild inside one transaction. Safe to call repeatedly.
func (m *Migrator) Run(ctx context.Context) (*Report, error) {
	report := &Report{}
	if _, ok := m.reg.Table(ledgerTable); !ok {
		return nil, store.E(store.KindSchemaMigrationFailed, "schema.EnsureSchema",
			fmt.Errorf("registry does not declare %s", ledgerTable))
	}

	for i := range m.reg.Tables {
		t := &m.reg.Tables[i]
		if err := m.ensureTable(ctx, t, report); err != nil {
			return nil, err
		}
	}

	applied, err := store.QueryAll[string](ctx, m.gw, `SELECT step_id FROM schema_migrations`)
	if err != nil {
		return nil, store.E(store.KindSchemaMigrationFailed, "schema.EnsureSchema", err)
	}
	done := make(map[string]bool, len(applied))
	for _, id := range applied {
		done[id] = true
	}

	for _, step := range m.reg.Steps {
		if done[step.ID] {
			continue
		}
		if err := m.applyStep(ctx, step, report); err != nil {
			return nil, err
		}
	}

	// Indexes last: a pending step may be what adds their columns.
	for i := range m.reg.Tables {
		if err := m.ensureIndexes(ctx, &m.reg.Tables[i], report); err != nil {
			return nil, err
		}
	}

	if !report.Empty() {
		log.Printf("[SchemaMigrator] Converged - created:%d indexes:%d rebuilt:%d recorded:%d",
			len(report.Created), len(report.IndexesCreated), len(report.Rebuilt), len(report.Recorded))
	}
	return report, nil
}

func (m *Migrator) ensureTable(ctx context.Context, t *Table, report *Report) error {
	exists, err := m.gw.TableExists(ctx, t.Name)
	if err != nil {
		return store.E(store.KindSchemaMigrationFailed, "schema.ensureTable", err)
	}
	if !exists {
		err := m.gw.WithTx(ctx, func(tx *store.Tx) error {
			if err := tx.Execute(ctx, t.CreateSQL(t.Name)); err != nil {
				return err
			}
			for _, idx := range t.Indexes {
				if err := tx.Execute(ctx, t.IndexSQL(idx)); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return store.E(store.KindSchemaMigrationFailed, "schema.ensureTable",
				fmt.Errorf("failed to create table %s: %w", t.Name, err))
		}
		report.Created = append(report.Created, t.Name)
	}
	return nil
}

func (m *Migrator) ensureIndexes(ctx context.Context, t *Table, report *Report) error {
	for _, idx := range t.Indexes {
		present, err := indexExists(ctx, m.gw, idx.Name)
		if err != nil {
			return store.E(store.KindSchemaMigrationFailed, "schema.ensureIndexes", err)
		}
		if present {
			continue
		}
		if err := m.gw.Execute(ctx, t.IndexSQL(idx)); err != nil {
			return store.E(store.KindSchemaMigrationFailed, "schema.ensureIndexes",
				fmt.Errorf("failed to create index %s: %w", idx.Name, err))
		}
		report.IndexesCreated = append(report.IndexesCreated, idx.Name)
	}
	return nil
}

func (m *Migrator) applyStep(ctx context.Context, step Step, report *Report) error {
	t, _ := m.reg.Table(step.Table)
	rebuilt := false

	err := m.gw.WithTx(ctx, func(tx *store.Tx) error {
		live, err := tx.TableColumns(ctx, t.Name)
		if err != nil {
			return err
		}
		if drifted(step, live) {
			if err := m.rebuild(ctx, tx, t, live); err != nil {
				return err
			}
			rebuilt = true
		}
		_, err = tx.Run(ctx, `INSERT INTO schema_migrations (step_id, table_name, applied_at) VALUES (?, ?, ?)`,
			step.ID, step.Table, m.now().UnixMilli())
		return err
	})
	if err != nil {
		return store.E(store.KindSchemaMigrationFailed, "schema.applyStep",
			fmt.Errorf("step %s on %s: %w", step.ID, step.Table, err))
	}

	if rebuilt {
		log.Printf("[SchemaMigrator] Rebuilt %s for step %s", step.Table, step.ID)
		report.Rebuilt = append(report.Rebuilt, step.ID)
	} else {
		report.Recorded = append(report.Recorded, step.ID)
	}
	return nil
}

// rebuild replaces t with a freshly declared copy, carrying forward every
// column present both live and in the registry. Runs inside the caller's tx.
func (m *Migrator) rebuild(ctx context.Context, tx *store.Tx, t *Table, live []string) error {
	liveSet := make(map[string]bool, len(live))
	for _, c := range live {
		liveSet[c] = true
	}
	var surviving []string
	for _, c := range t.ColumnNames() {
		if liveSet[c] {
			surviving = append(surviving, c)
		}
	}
	if len(surviving) == 0 {
		return fmt.Errorf("no surviving columns between live %s and registry", t.Name)
	}

	shadow := t.Name + "__shadow"
	if err := tx.Execute(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", quote(shadow))); err != nil {
		return err
	}
	if err := tx.Execute(ctx, t.CreateSQL(shadow)); err != nil {
		return err
	}

	cols := quoteList(surviving)
	copied, err := tx.Run(ctx, fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s", quote(shadow), cols, cols, quote(t.Name)))
	if err != nil {
		return fmt.Errorf("failed to copy %s: %w", t.Name, err)
	}
	original, err := store.QueryFirst[int64](ctx, tx, fmt.Sprintf("SELECT COUNT(*) FROM %s", quote(t.Name)))
	if err != nil {
		return err
	}
	if original == nil || *original != copied.RowsAffected {
		return fmt.Errorf("copy of %s lost rows: copied %d", t.Name, copied.RowsAffected)
	}

	if m.beforeSwap != nil {
		if err := m.beforeSwap(t.Name); err != nil {
			return err
		}
	}

	if err := tx.Execute(ctx, fmt.Sprintf("DROP TABLE %s", quote(t.Name))); err != nil {
		return err
	}
	if err := tx.Execute(ctx, fmt.Sprintf("ALTER TABLE %s RENAME TO %s", quote(shadow), quote(t.Name))); err != nil {
		return err
	}
	for _, idx := range t.Indexes {
		if err := tx.Execute(ctx, t.IndexSQL(idx)); err != nil {
			return err
		}
	}
	return nil
}

// drifted reports whether the live columns disagree with the step: an added
// column is missing or a removed column is still present.
func drifted(step Step, live []string) bool {
	liveSet := make(map[string]bool, len(live))
	for _, c := range live {
		liveSet[c] = true
	}
	for _, c := range step.Added {
		if !liveSet[c] {
			return true
		}
	}
	for _, c := range step.Removed {
		if liveSet[c] {
			return true
		}
	}
	return false
}

func indexExists(ctx context.Context, q store.Querier, name string) (bool, error) {
	n, err := store.QueryFirst[int](ctx, q, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = ?`, name)
	if err != nil {
		return false, err
	}
	return n != nil && *n > 0, nil
}
