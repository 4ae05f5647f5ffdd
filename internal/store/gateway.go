package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	_ "modernc.org/sqlite" // Pure Go SQLite driver - no CGO required
)

// Config holds the settings needed to open the store.
type Config struct {
	Path         string
	BusyTimeout  time.Duration
	MaxOpenConns int
}

// RunResult reports the outcome of a write statement.
type RunResult struct {
	RowsAffected int64
	InsertedID   int64
}

// Querier is implemented by both *Gateway and *Tx, so the generic query
// helpers and callers can run either inside or outside a transaction.
type Querier interface {
	Execute(ctx context.Context, query string) error
	Run(ctx context.Context, query string, args ...any) (RunResult, error)
	selectRows(ctx context.Context, dest any, query string, args ...any) error
	getRow(ctx context.Context, dest any, query string, args ...any) error
}

// Gateway is the only component that touches the physical database handle.
// Reads share a read lock; writes and transactions take the write lock, so a
// transaction is a critical section against every other writer.
type Gateway struct {
	db     *sqlx.DB
	mu     sync.RWMutex
	closed bool
}

// Open opens the SQLite database at cfg.Path with WAL, busy_timeout and
// foreign_keys pragmas applied to every connection.
func Open(cfg Config) (*Gateway, error) {
	if cfg.Path == "" {
		return nil, E(KindInvalidArgument, "store.Open", errors.New("path is required"))
	}
	busy := int(cfg.BusyTimeout / time.Millisecond)
	if busy <= 0 {
		busy = 5000
	}

	target := cfg.Path
	if cfg.Path != ":memory:" {
		abs, err := filepath.Abs(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve sqlite path: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
		}
		target = abs
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", target, busy)

	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, E(KindStoreUnavailable, "store.Open", fmt.Errorf("failed to open SQLite: %w", err))
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 || cfg.Path == ":memory:" {
		maxOpen = 1 // SQLite only supports 1 writer; :memory: is per-connection
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen)
	db.SetConnMaxLifetime(0)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(busy)*time.Millisecond)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, E(KindStoreUnavailable, "store.Open", fmt.Errorf("failed to ping SQLite: %w", err))
	}

	log.Printf("[StoreGateway] Opened database: %s", cfg.Path)
	return &Gateway{db: db}, nil
}

// Close closes the database. Every later call fails with StoreUnavailable.
func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed || g.db == nil {
		return nil
	}
	g.closed = true
	return g.db.Close()
}

func (g *Gateway) available(op string) error {
	if g == nil || g.db == nil || g.closed {
		return E(KindStoreUnavailable, op, nil)
	}
	return nil
}

// Execute runs a parameterless statement (DDL, pragmas).
func (g *Gateway) Execute(ctx context.Context, query string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.available("store.Execute"); err != nil {
		return err
	}
	if _, err := g.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to execute statement: %w", err)
	}
	return nil
}

// Run executes a write statement with positional or named parameters.
func (g *Gateway) Run(ctx context.Context, query string, args ...any) (RunResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.available("store.Run"); err != nil {
		return RunResult{}, err
	}
	return run(ctx, g.db, query, args)
}

func (g *Gateway) selectRows(ctx context.Context, dest any, query string, args ...any) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if err := g.available("store.QueryAll"); err != nil {
		return err
	}
	query, args, err := bind(query, args)
	if err != nil {
		return err
	}
	return g.db.SelectContext(ctx, dest, query, args...)
}

func (g *Gateway) getRow(ctx context.Context, dest any, query string, args ...any) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if err := g.available("store.QueryFirst"); err != nil {
		return err
	}
	query, args, err := bind(query, args)
	if err != nil {
		return err
	}
	return g.db.GetContext(ctx, dest, query, args...)
}

// WithTx runs fn inside a transaction holding the gateway's write lock.
// fn must only use the Tx it is given; calling back into the Gateway deadlocks.
func (g *Gateway) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.available("store.WithTx"); err != nil {
		return err
	}

	sqlTx, err := g.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&Tx{tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// TableExists reports whether a table with the given name is present.
func (g *Gateway) TableExists(ctx context.Context, table string) (bool, error) {
	return tableExists(ctx, g, table)
}

// TableColumns returns the live column names of table in declaration order.
func (g *Gateway) TableColumns(ctx context.Context, table string) ([]string, error) {
	return tableColumns(ctx, g, table)
}

// Stats returns row counts for the given tables plus the database size.
func (g *Gateway) Stats(ctx context.Context, tables []string) (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	counts := make(map[string]int64, len(tables))
	for _, table := range tables {
		if !validIdentifier(table) {
			return nil, E(KindInvalidArgument, "store.Stats", fmt.Errorf("invalid table name %q", table))
		}
		n, err := QueryFirst[int64](ctx, g, fmt.Sprintf(`SELECT COUNT(*) FROM "%s"`, table))
		if err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", table, err)
		}
		if n != nil {
			counts[table] = *n
		}
	}
	stats["row_counts"] = counts

	// Database size (approximate from page count)
	pageCount, _ := QueryFirst[int64](ctx, g, "PRAGMA page_count")
	pageSize, _ := QueryFirst[int64](ctx, g, "PRAGMA page_size")
	if pageCount != nil && pageSize != nil {
		stats["db_size_bytes"] = *pageCount * *pageSize
	}
	return stats, nil
}

// Tx is an open transaction exposing the same verbs as the Gateway.
type Tx struct {
	tx *sqlx.Tx
}

// Execute runs a parameterless statement inside the transaction.
func (t *Tx) Execute(ctx context.Context, query string) error {
	if _, err := t.tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to execute statement: %w", err)
	}
	return nil
}

// Run executes a write statement inside the transaction.
func (t *Tx) Run(ctx context.Context, query string, args ...any) (RunResult, error) {
	return run(ctx, t.tx, query, args)
}

func (t *Tx) selectRows(ctx context.Context, dest any, query string, args ...any) error {
	query, args, err := bind(query, args)
	if err != nil {
		return err
	}
	return t.tx.SelectContext(ctx, dest, query, args...)
}

func (t *Tx) getRow(ctx context.Context, dest any, query string, args ...any) error {
	query, args, err := bind(query, args)
	if err != nil {
		return err
	}
	return t.tx.GetContext(ctx, dest, query, args...)
}

// TableColumns returns the live column names of table as seen by the transaction.
func (t *Tx) TableColumns(ctx context.Context, table string) ([]string, error) {
	return tableColumns(ctx, t, table)
}

// QueryAll runs a query and scans every row into a T.
// Struct T is mapped by `db` tags; scalar T scans the single column.
func QueryAll[T any](ctx context.Context, q Querier, query string, args ...any) ([]T, error) {
	rows := []T{}
	if err := q.selectRows(ctx, &rows, query, args...); err != nil {
		if KindOf(err) != KindUnknown {
			return nil, err
		}
		return nil, fmt.Errorf("failed to query rows: %w", err)
	}
	return rows, nil
}

// QueryFirst returns the first row of the query, or nil when there is none.
func QueryFirst[T any](ctx context.Context, q Querier, query string, args ...any) (*T, error) {
	var row T
	if err := q.getRow(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if KindOf(err) != KindUnknown {
			return nil, err
		}
		return nil, fmt.Errorf("failed to query row: %w", err)
	}
	return &row, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func run(ctx context.Context, e execer, query string, args []any) (RunResult, error) {
	query, args, err := bind(query, args)
	if err != nil {
		return RunResult{}, err
	}
	res, err := e.ExecContext(ctx, query, args...)
	if err != nil {
		return RunResult{}, fmt.Errorf("failed to run statement: %w", err)
	}
	var out RunResult
	out.RowsAffected, _ = res.RowsAffected()
	out.InsertedID, _ = res.LastInsertId()
	return out, nil
}

// bind turns a single map or struct argument into positional parameters
// using sqlx named-parameter syntax (:name). Anything else passes through.
func bind(query string, args []any) (string, []any, error) {
	if len(args) != 1 || !isNamedArg(args[0]) {
		return query, args, nil
	}
	q, a, err := sqlx.Named(query, args[0])
	if err != nil {
		return "", nil, E(KindInvalidArgument, "store.bind", fmt.Errorf("failed to bind named parameters: %w", err))
	}
	return q, a, nil
}

func isNamedArg(arg any) bool {
	if arg == nil {
		return false
	}
	if _, ok := arg.(driver.Valuer); ok {
		return false
	}
	if _, ok := arg.(time.Time); ok {
		return false
	}
	v := reflect.ValueOf(arg)
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return false
		}
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.Map:
		return v.Type().Key().Kind() == reflect.String
	case reflect.Struct:
		return true
	}
	return false
}

func tableExists(ctx context.Context, q Querier, table string) (bool, error) {
	n, err := QueryFirst[int](ctx, q, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table)
	if err != nil {
		return false, err
	}
	return n != nil && *n > 0, nil
}

func tableColumns(ctx context.Context, q Querier, table string) ([]string, error) {
	return QueryAll[string](ctx, q, `SELECT name FROM pragma_table_info(?) ORDER BY cid`, table)
}

// validIdentifier accepts plain SQL identifiers only ([A-Za-z_][A-Za-z0-9_]*).
func validIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// ValidIdentifier reports whether name can be safely quoted into SQL text.
func ValidIdentifier(name string) bool { return validIdentifier(name) }

// Ensure both implementations satisfy Querier
var (
	_ Querier = (*Gateway)(nil)
	_ Querier = (*Tx)(nil)
)
