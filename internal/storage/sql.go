package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var embeddedSchema embed.FS

var ErrNotFound = errors.New("not found")

const (
	DriverSQLite3  = "sqlite3" // mattn/go-sqlite3, cgo
	DriverSQLite   = "sqlite"  // modernc.org/sqlite, pure Go
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Open connects to a SQL backend. SQLite databases get their parent directory
// created and are limited to one connection.
func Open(driver, dsn string) (*sql.DB, error) {
	switch driver {
	case DriverSQLite3, DriverSQLite:
		if dir := filepath.Dir(dsn); dir != "." && dir != "" && !strings.HasPrefix(dsn, "file:") && dsn != ":memory:" {
			_ = os.MkdirAll(dir, 0o755)
		}
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver != DriverPostgres {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}
	return db, nil
}

// Store is a small key-value table. The only thing the application persists
// is participant identities; votes and reactions live in transmitted
// snapshots.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) InitSchema(ctx context.Context) error {
	b, err := embeddedSchema.ReadFile("schema.sql")
	if err != nil {
		return err
	}

	schema := strings.TrimSpace(string(b))
	_, err = s.db.ExecContext(ctx, schema)
	return err
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return value, nil
}

// PutIfAbsent stores value unless key already exists and returns whichever
// value is stored afterwards, so concurrent first writers agree on one.
func (s *Store) PutIfAbsent(ctx context.Context, key, value string) (string, error) {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO kv(key, value)
VALUES ($1, $2)
ON CONFLICT(key) DO NOTHING
`, key, value)
	if err != nil {
		return "", err
	}
	return s.Get(ctx, key)
}

func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = $1`, key)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}
