package database

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"strings"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

var (
	// ErrMigration means the schema may be in an indeterminate state.
	ErrMigration = errors.New("migration failed")
	// ErrRollback wraps every rollback failure.
	ErrRollback = errors.New("rollback failed")
	// ErrNothingToRollback is returned when the last reversible migration is not applied.
	ErrNothingToRollback = fmt.Errorf("%w: no applied reversible migration", ErrRollback)
)

// Migrator applies the embedded migrations and undoes the last reversible one.
// The ledger is goose's version table.
type Migrator struct {
	provider *goose.Provider
	fsys     fs.FS
	logger   *zap.Logger
}

// NewMigrator prepares a migrator over db using the embedded migration set.
func NewMigrator(db *sql.DB, logger *zap.Logger) (*Migrator, error) {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("migrations fs: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return nil, fmt.Errorf("goose provider: %w", err)
	}
	return &Migrator{provider: provider, fsys: fsys, logger: logger}, nil
}

// Migrate is a shortcut for NewMigrator followed by Up.
func Migrate(ctx context.Context, db *sql.DB, logger *zap.Logger) error {
	m, err := NewMigrator(db, logger)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMigration, err)
	}
	return m.Up(ctx)
}

// Up applies all pending migrations in order. Each migration and its ledger
// row commit together.
func (m *Migrator) Up(ctx context.Context) error {
	results, err := m.provider.Up(ctx)
	for _, r := range results {
		if r.Error != nil {
			continue
		}
		m.logger.Info("migration applied",
			zap.Int64("version", r.Source.Version),
			zap.String("path", r.Source.Path),
			zap.Duration("duration", r.Duration),
		)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMigration, err)
	}
	return nil
}

// Applied returns the versions currently recorded in the ledger, ascending.
func (m *Migrator) Applied(ctx context.Context) ([]int64, error) {
	statuses, err := m.provider.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("migration status: %w", err)
	}
	var versions []int64
	for _, s := range statuses {
		if s.State == goose.StateApplied {
			versions = append(versions, s.Source.Version)
		}
	}
	return versions, nil
}

// LastReversible returns the version of the last migration in the embedded set
// that defines a down script, regardless of whether it is applied.
func (m *Migrator) LastReversible() (int64, bool, error) {
	sources := m.provider.ListSources()
	for i := len(sources) - 1; i >= 0; i-- {
		ok, err := m.hasDown(sources[i].Path)
		if err != nil {
			return 0, false, err
		}
		if ok {
			return sources[i].Version, true, nil
		}
	}
	return 0, false, nil
}

// Rollback runs the down script of the last reversible migration and removes
// its ledger row, in one transaction. It is a single-step undo, not a general
// down-migrator.
func (m *Migrator) Rollback(ctx context.Context) (int64, error) {
	version, ok, err := m.LastReversible()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrRollback, err)
	}
	if !ok {
		return 0, ErrNothingToRollback
	}

	applied, err := m.Applied(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrRollback, err)
	}
	if !slices.Contains(applied, version) {
		return 0, fmt.Errorf("%w (version %d)", ErrNothingToRollback, version)
	}

	result, err := m.provider.ApplyVersion(ctx, version, false)
	if err != nil {
		return 0, fmt.Errorf("%w: version %d: %w", ErrRollback, version, err)
	}
	m.logger.Info("migration rolled back",
		zap.Int64("version", version),
		zap.String("path", result.Source.Path),
		zap.Duration("duration", result.Duration),
	)
	return version, nil
}

// hasDown reports whether the migration file has any statement after its
// "-- +goose Down" annotation.
func (m *Migrator) hasDown(path string) (bool, error) {
	data, err := fs.ReadFile(m.fsys, path)
	if err != nil {
		return false, fmt.Errorf("read migration %s: %w", path, err)
	}

	inDown := false
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case strings.HasPrefix(line, "-- +goose Down"):
			inDown = true
		case strings.HasPrefix(line, "-- +goose Up"):
			inDown = false
		case inDown && line != "" && !strings.HasPrefix(line, "--"):
			return true, nil
		}
	}
	return false, sc.Err()
}
