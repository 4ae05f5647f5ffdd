package schema

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"pantry-api/internal/store"
)

func openTestGateway(t *testing.T) *store.Gateway {
	t.Helper()
	gw, err := store.Open(store.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("open gateway: %v", err)
	}
	t.Cleanup(func() { gw.Close() })
	return gw
}

func mustDefaultRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := DefaultRegistry()
	if err != nil {
		t.Fatalf("default registry: %v", err)
	}
	return reg
}

// createLegacyInventory builds inventory_items the way the first build did:
// no confidence column, plus a status_text column that was later removed.
func createLegacyInventory(t *testing.T, gw *store.Gateway, rows int) {
	t.Helper()
	ctx := context.Background()
	err := gw.Execute(ctx, `CREATE TABLE inventory_items (
		user_id TEXT NOT NULL,
		ingredient_id TEXT NOT NULL,
		quantity REAL NOT NULL DEFAULT 0,
		unit TEXT NOT NULL DEFAULT '',
		expires_at INTEGER,
		location TEXT NOT NULL DEFAULT 'pantry',
		status_text TEXT,
		needs_sync INTEGER NOT NULL DEFAULT 1,
		deleted_at INTEGER,
		created_at INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (user_id, ingredient_id)
	)`)
	if err != nil {
		t.Fatalf("create legacy table: %v", err)
	}
	for i := 0; i < rows; i++ {
		_, err := gw.Run(ctx, `INSERT INTO inventory_items (user_id, ingredient_id, quantity, unit, status_text, updated_at)
			VALUES (?, ?, ?, 'g', 'ok', 1000)`, "u1", fmt.Sprintf("ing-%02d", i), float64(i))
		if err != nil {
			t.Fatalf("seed legacy row: %v", err)
		}
	}
}

func countRows(t *testing.T, gw *store.Gateway, table string) int {
	t.Helper()
	n, err := store.QueryFirst[int](context.Background(), gw, fmt.Sprintf(`SELECT COUNT(*) FROM "%s"`, table))
	if err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return *n
}

func hasColumn(t *testing.T, gw *store.Gateway, table, column string) bool {
	t.Helper()
	cols, err := gw.TableColumns(context.Background(), table)
	if err != nil {
		t.Fatalf("columns %s: %v", table, err)
	}
	for _, c := range cols {
		if c == column {
			return true
		}
	}
	return false
}

func TestEnsureSchemaFreshStore(t *testing.T) {
	ctx := context.Background()
	gw := openTestGateway(t)
	reg := mustDefaultRegistry(t)

	report, err := EnsureSchema(ctx, gw, reg)
	if err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	if len(report.Created) != len(reg.Tables) {
		t.Errorf("created %v, want all %d tables", report.Created, len(reg.Tables))
	}
	if len(report.Rebuilt) != 0 {
		t.Errorf("fresh store rebuilt %v", report.Rebuilt)
	}
	if len(report.Recorded) != len(reg.Steps) {
		t.Errorf("recorded %v, want every step", report.Recorded)
	}

	for _, tbl := range reg.Tables {
		cols, err := gw.TableColumns(ctx, tbl.Name)
		if err != nil {
			t.Fatal(err)
		}
		want := tbl.ColumnNames()
		if strings.Join(cols, ",") != strings.Join(want, ",") {
			t.Errorf("%s columns = %v, want %v", tbl.Name, cols, want)
		}
	}
}

func TestEnsureSchemaIsIdempotent(t *testing.T) {
	ctx := context.Background()
	gw := openTestGateway(t)
	reg := mustDefaultRegistry(t)

	if _, err := EnsureSchema(ctx, gw, reg); err != nil {
		t.Fatal(err)
	}
	before := liveSchema(t, gw)

	report, err := EnsureSchema(ctx, gw, reg)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !report.Empty() {
		t.Fatalf("second run changed the store: %+v", report)
	}
	if after := liveSchema(t, gw); after != before {
		t.Fatalf("schema changed between runs:\n%s\n---\n%s", before, after)
	}
	if n := countRows(t, gw, "schema_migrations"); n != len(reg.Steps) {
		t.Fatalf("ledger has %d rows, want %d", n, len(reg.Steps))
	}
}

func liveSchema(t *testing.T, gw *store.Gateway) string {
	t.Helper()
	rows, err := store.QueryAll[string](context.Background(), gw,
		`SELECT type || ':' || name || ':' || COALESCE(sql, '') FROM sqlite_master ORDER BY type, name`)
	if err != nil {
		t.Fatal(err)
	}
	return strings.Join(rows, "\n")
}

func TestEnsureSchemaMigratesDriftedTable(t *testing.T) {
	ctx := context.Background()
	gw := openTestGateway(t)
	reg := mustDefaultRegistry(t)
	createLegacyInventory(t, gw, 7)

	report, err := EnsureSchema(ctx, gw, reg)
	if err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	if len(report.Rebuilt) != 1 || report.Rebuilt[0] != "0002_inventory_confidence" {
		t.Fatalf("rebuilt = %v, want [0002_inventory_confidence]", report.Rebuilt)
	}

	if n := countRows(t, gw, "inventory_items"); n != 7 {
		t.Fatalf("rows after migration = %d, want 7", n)
	}
	if hasColumn(t, gw, "inventory_items", "status_text") {
		t.Error("status_text survived the rebuild")
	}
	if !hasColumn(t, gw, "inventory_items", "confidence") {
		t.Error("confidence column missing after rebuild")
	}

	conf, err := store.QueryFirst[string](ctx, gw, `SELECT confidence FROM inventory_items WHERE ingredient_id = 'ing-03'`)
	if err != nil || conf == nil || *conf != "low" {
		t.Fatalf("confidence default = %v, %v; want low", conf, err)
	}
	qty, err := store.QueryFirst[float64](ctx, gw, `SELECT quantity FROM inventory_items WHERE ingredient_id = 'ing-03'`)
	if err != nil || qty == nil || *qty != 3 {
		t.Fatalf("quantity = %v, %v; want 3 carried forward", qty, err)
	}

	for _, idx := range []string{"idx_inventory_user_active", "idx_inventory_needs_sync"} {
		ok, err := indexExists(ctx, gw, idx)
		if err != nil || !ok {
			t.Errorf("index %s missing after rebuild", idx)
		}
	}
	if ok, _ := gw.TableExists(ctx, "inventory_items__shadow"); ok {
		t.Error("shadow table left behind")
	}

	again, err := EnsureSchema(ctx, gw, reg)
	if err != nil {
		t.Fatal(err)
	}
	if !again.Empty() {
		t.Fatalf("second run after migration not empty: %+v", again)
	}
}

func TestRebuildInterruptedBeforeSwapKeepsOriginal(t *testing.T) {
	ctx := context.Background()
	gw := openTestGateway(t)
	reg := mustDefaultRegistry(t)
	createLegacyInventory(t, gw, 5)

	m := NewMigrator(gw, reg)
	m.beforeSwap = func(table string) error { return errors.New("power cut") }

	_, err := m.Run(ctx)
	if !errors.Is(err, store.ErrSchemaMigrationFailed) {
		t.Fatalf("err = %v, want SchemaMigrationFailed", err)
	}

	if n := countRows(t, gw, "inventory_items"); n != 5 {
		t.Fatalf("original rows = %d, want 5", n)
	}
	if !hasColumn(t, gw, "inventory_items", "status_text") {
		t.Error("original table lost its legacy column")
	}
	if ok, _ := gw.TableExists(ctx, "inventory_items__shadow"); ok {
		t.Error("shadow table survived the rollback")
	}
	applied, err := store.QueryFirst[int](ctx, gw, `SELECT COUNT(*) FROM schema_migrations WHERE step_id = '0002_inventory_confidence'`)
	if err != nil || *applied != 0 {
		t.Fatalf("failed step recorded in ledger: %v, %v", applied, err)
	}

	// Retry without the fault converges.
	report, err := EnsureSchema(ctx, gw, reg)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(report.Rebuilt) != 1 {
		t.Fatalf("retry rebuilt = %v", report.Rebuilt)
	}
	if n := countRows(t, gw, "inventory_items"); n != 5 {
		t.Fatalf("rows after retry = %d, want 5", n)
	}
}

func TestRebuildCopyFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	gw := openTestGateway(t)

	reg, err := LoadRegistry(strings.NewReader(`
tables:
  - name: pantry_notes
    columns:
      - { name: id, definition: "TEXT NOT NULL" }
      - { name: body, definition: "TEXT NOT NULL" }
      - { name: pinned, definition: "INTEGER NOT NULL" }
    primary_key: [id]
  - name: schema_migrations
    columns:
      - { name: step_id, definition: "TEXT NOT NULL" }
      - { name: table_name, definition: "TEXT NOT NULL" }
      - { name: applied_at, definition: "INTEGER NOT NULL" }
    primary_key: [step_id]
steps:
  - id: "0002_pinned"
    table: pantry_notes
    added: [pinned]
`))
	if err != nil {
		t.Fatal(err)
	}

	if err := gw.Execute(ctx, `CREATE TABLE pantry_notes (id TEXT NOT NULL PRIMARY KEY, body TEXT NOT NULL)`); err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"a", "b", "c"} {
		if _, err := gw.Run(ctx, `INSERT INTO pantry_notes (id, body) VALUES (?, 'x')`, id); err != nil {
			t.Fatal(err)
		}
	}

	// pinned is NOT NULL without a default, so the copy violates the constraint.
	if _, err := EnsureSchema(ctx, gw, reg); !errors.Is(err, store.ErrSchemaMigrationFailed) {
		t.Fatalf("err = %v, want SchemaMigrationFailed", err)
	}
	if n := countRows(t, gw, "pantry_notes"); n != 3 {
		t.Fatalf("rows = %d, want 3", n)
	}
	if hasColumn(t, gw, "pantry_notes", "pinned") {
		t.Error("partially migrated table is visible")
	}
}

func TestCreateSQLPreservesColumnOrder(t *testing.T) {
	tbl := Table{
		Name: "recipe_ingredients",
		Columns: []Column{
			{Name: "recipe_id", Definition: "TEXT NOT NULL"},
			{Name: "ingredient_id", Definition: "TEXT NOT NULL"},
			{Name: "role", Definition: "TEXT"},
		},
		PrimaryKey: []string{"recipe_id", "ingredient_id"},
	}
	got := tbl.CreateSQL(tbl.Name)
	want := "CREATE TABLE IF NOT EXISTS \"recipe_ingredients\" (\n" +
		"\t\"recipe_id\" TEXT NOT NULL,\n" +
		"\t\"ingredient_id\" TEXT NOT NULL,\n" +
		"\t\"role\" TEXT,\n" +
		"\tPRIMARY KEY (\"recipe_id\", \"ingredient_id\")\n" +
		")"
	if got != want {
		t.Fatalf("CreateSQL =\n%s\nwant\n%s", got, want)
	}

	tbl.PrimaryKey = nil
	if strings.Contains(tbl.CreateSQL("x"), "PRIMARY KEY") || strings.Contains(tbl.CreateSQL("x"), "TEXT,\n)") {
		t.Fatalf("CreateSQL without key = %s", tbl.CreateSQL("x"))
	}
}

func TestLoadRegistryValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "bad identifier",
			yaml: "tables:\n  - name: \"drop table\"\n    columns:\n      - { name: id, definition: TEXT }\n",
			want: "invalid name",
		},
		{
			name: "unknown primary key column",
			yaml: "tables:\n  - name: t\n    columns:\n      - { name: id, definition: TEXT }\n    primary_key: [nope]\n",
			want: "primary key column nope",
		},
		{
			name: "step on unknown table",
			yaml: "tables:\n  - name: t\n    columns:\n      - { name: id, definition: TEXT }\nsteps:\n  - { id: s1, table: other }\n",
			want: "unknown table",
		},
		{
			name: "removed column still declared",
			yaml: "tables:\n  - name: t\n    columns:\n      - { name: id, definition: TEXT }\nsteps:\n  - { id: s1, table: t, removed: [id] }\n",
			want: "still declared",
		},
		{
			name: "unknown field",
			yaml: "tables:\n  - name: t\n    colums: []\n",
			want: "parse schema registry",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadRegistry(strings.NewReader(tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}
