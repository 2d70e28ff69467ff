package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Options tunes the connection pool and SQLite locking behavior.
type Options struct {
	// MaxOpenConns caps concurrent connections; callers beyond it queue.
	MaxOpenConns int
	// BusyTimeout is how long a writer waits on a locked database before failing.
	BusyTimeout time.Duration
}

// DefaultOptions matches the production settings: five connections, 30s busy wait.
func DefaultOptions() Options {
	return Options{MaxOpenConns: 5, BusyTimeout: 30 * time.Second}
}

// Open opens a SQLite database at the given path in WAL mode with relaxed
// synchronous flushing. It does not run migrations.
func Open(ctx context.Context, dbPath string, opts Options) (*sql.DB, error) {
	if opts.MaxOpenConns < 1 {
		opts.MaxOpenConns = 1
	}

	path := TrimScheme(dbPath)
	// Every connection to :memory: is a separate database.
	if path == ":memory:" {
		opts.MaxOpenConns = 1
	}

	db, err := sql.Open("sqlite", dsn(path, opts))
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxOpenConns)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	return db, nil
}

// TrimScheme strips the sqlite:// or sqlite: prefix used by DATABASE_URL values.
func TrimScheme(dbURL string) string {
	for _, prefix := range []string{"sqlite://", "sqlite:"} {
		if strings.HasPrefix(dbURL, prefix) {
			return strings.TrimPrefix(dbURL, prefix)
		}
	}
	return dbURL
}

func dsn(path string, opts Options) string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", opts.BusyTimeout.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Add("_pragma", "foreign_keys(1)")

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + q.Encode()
}
