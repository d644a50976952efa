// Package docstore is the durable document store: one documents table
// holding workspaces, folders and files, plus a change log written by
// triggers that backs the change feed.
package docstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// timeLayout is fixed width so created_at sorts lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const operationTimeout = 5 * time.Second

// changeLogLock is the postgres advisory lock held by every writing
// transaction, so change log sequence numbers become visible in order.
const changeLogLock = 7316642001

// Store is a SQL repository over the documents table.
type Store struct {
	db     *sql.DB
	driver string
	// path and dsn locate the database for the change feed wake sources.
	path   string
	dsn    string
	logger *slog.Logger

	kick chan struct{}
}

// OpenSQLite opens (or creates) a SQLite store at path.
func OpenSQLite(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("docstore: open sqlite: %w", err)
	}
	s := newStore(db, DriverSQLite, logger)
	s.path = path
	if err := s.init(sqliteSchema); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// OpenPostgres connects to dsn and applies the schema.
func OpenPostgres(dsn string, logger *slog.Logger) (*Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("docstore: postgres dsn is empty")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("docstore: open postgres: %w", err)
	}
	s := newStore(db, DriverPostgres, logger)
	s.dsn = dsn
	if err := s.init(postgresSchema); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Open opens the store for driver. location is a file path for sqlite and
// a DSN for postgres.
func Open(driver, location string, logger *slog.Logger) (*Store, error) {
	switch driver {
	case DriverSQLite, "":
		return OpenSQLite(location, logger)
	case DriverPostgres:
		return OpenPostgres(location, logger)
	}
	return nil, fmt.Errorf("docstore: unknown driver %q", driver)
}

func newStore(db *sql.DB, driver string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, driver: driver, logger: logger, kick: make(chan struct{}, 1)}
}

func (s *Store) init(schema string) error {
	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("docstore: ping: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("docstore: apply schema: %w", err)
	}
	return nil
}

// begin starts a writing transaction. On postgres it first takes the
// change log lock: a sequence number is allocated only after every earlier
// writer has committed, so the feed can never read past an uncommitted seq.
// Sqlite transactions begin immediate and are serialized by the database.
func (s *Store) begin(ctx context.Context) (*sql.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("docstore: begin tx: %w", err)
	}
	if s.driver == DriverPostgres {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, changeLogLock); err != nil {
			_ = tx.Rollback()
			return nil, fmt.Errorf("docstore: lock change log: %w", err)
		}
	}
	return tx, nil
}

// Driver returns the driver name.
func (s *Store) Driver() string { return s.driver }

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// changed wakes the change feed after an in-process write.
func (s *Store) changed() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(v string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("docstore: parse time %q: %w", v, err)
	}
	return t, nil
}

func quoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return `""`
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}
