package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/famlink/internal/ir"
)

//go:embed schema.sql
var schemaSQL string

// timeLayout is fixed width so lexical order equals chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries holds every single-statement and read operation. It is embedded by
// both Store (autocommit) and Tx (inside an explicit transaction), so the
// same method runs either way.
type Queries struct {
	q   querier
	now func() time.Time
	ids ir.IDGenerator
}

// Store provides durable storage for jobs, rules, previews, links, runs and
// the undo log. Uses SQLite with WAL mode and a single connection.
type Store struct {
	*Queries
	db         *sql.DB
	maxPending int
	lockTTL    time.Duration
}

// Tx is an open transaction. Obtain one through Store.WithTx.
type Tx struct {
	*Queries
	tx *sql.Tx
}

// Option configures a Store at Open.
type Option func(*Store)

// WithClock overrides the wall clock used for every timestamp the store
// writes.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator overrides the generator used for row identifiers.
func WithIDGenerator(g ir.IDGenerator) Option {
	return func(s *Store) { s.ids = g }
}

// WithMaxPending caps the number of pending jobs; SubmitJob returns
// ErrBackpressure at the cap. Zero disables the cap.
func WithMaxPending(n int) Option {
	return func(s *Store) { s.maxPending = n }
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// This function is idempotent - safe to call multiple times.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	s := &Store{
		Queries: &Queries{q: db, now: time.Now, ids: ir.UUIDv7Generator{}},
		db:      db,
		lockTTL: DefaultLockTTL,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := applySchema(db, s.now()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

// WithTx runs fn inside one transaction. The transaction commits when fn
// returns nil and rolls back otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer sqlTx.Rollback() // No-op if committed

	tx := &Tx{
		Queries: &Queries{q: sqlTx, now: s.now, ids: s.ids},
		tx:      sqlTx,
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Now returns the store clock's current time in UTC.
func (q *Queries) Now() time.Time {
	return q.now().UTC()
}

// NewID mints a row identifier.
func (q *Queries) NewID() string {
	return q.ids.NewID()
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// migrations upgrade databases created by earlier releases. New databases
// get every table and index from schema.sql; each step is idempotent.
var migrations = map[int][]string{
	2: {
		`CREATE INDEX IF NOT EXISTS idx_events_entity ON events(entity_type, entity_id, event_id)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_scope ON runs(scope_id, started_at)`,
	},
	3: {
		`CREATE INDEX IF NOT EXISTS idx_preview_candidates_verdict ON preview_candidates(preview_id, user_verdict)`,
	},
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB, now time.Time) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if err := runMigrations(db, now); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// runMigrations applies incremental migrations past the highest version
// recorded in _schema_version, recording each one.
func runMigrations(db *sql.DB, now time.Time) error {
	var version int
	if err := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM _schema_version`).Scan(&version); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	if version == 0 {
		// Fresh database: schema.sql is already current.
		return recordVersion(db, ir.SchemaVersion, now)
	}

	for v := version + 1; v <= ir.SchemaVersion; v++ {
		for _, stmt := range migrations[v] {
			if _, err := db.Exec(stmt); err != nil {
				return fmt.Errorf("migrate to v%d: %w", v, err)
			}
		}
		if err := recordVersion(db, v, now); err != nil {
			return err
		}
	}
	return nil
}

func recordVersion(db *sql.DB, v int, now time.Time) error {
	_, err := db.Exec(`INSERT OR IGNORE INTO _schema_version (version, applied_at) VALUES (?, ?)`,
		v, formatTime(now))
	if err != nil {
		return fmt.Errorf("record schema version %d: %w", v, err)
	}
	return nil
}

// SchemaVersion returns the highest applied schema version.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM _schema_version`).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("schema version: %w", err)
	}
	return v, nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
