package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dukerupert/updown/internal/model"
)

type SiteStore struct {
	db    *sql.DB
	clock Clock
}

func NewSiteStore(db *sql.DB, opts ...Option) *SiteStore {
	return &SiteStore{db: db, clock: buildOptions(opts).clock}
}

func scanSite(scanner interface{ Scan(...any) error }) (*model.Site, error) {
	var s model.Site
	var name sql.NullString
	var createdAt, updatedAt float64
	err := scanner.Scan(&s.ID, &s.UserID, &s.URL, &name, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if name.Valid {
		s.Name = &name.String
	}
	s.CreatedAt = fromEpoch(createdAt)
	s.UpdatedAt = fromEpoch(updatedAt)
	return &s, nil
}

const siteCols = `id, user_id, url, name, created_at, updated_at`

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// Create adds a monitored site for userID. An empty url is rejected before
// anything is written.
func (s *SiteStore) Create(ctx context.Context, userID int64, url string) (*model.Site, error) {
	if isBlank(url) {
		return nil, ErrEmptyURL
	}
	return createSite(ctx, s.db, userID, url, s.clock())
}

func createSite(ctx context.Context, q querier, userID int64, url string, now time.Time) (*model.Site, error) {
	if isBlank(url) {
		return nil, ErrEmptyURL
	}
	ts := epoch(now)
	row := q.QueryRowContext(ctx,
		`INSERT INTO sites (user_id, url, created_at, updated_at) VALUES (?, ?, ?, ?) RETURNING `+siteCols,
		userID, url, ts, ts,
	)
	site, err := scanSite(row)
	if isForeignKeyViolation(err) {
		return nil, fmt.Errorf("insert site: user %d: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("insert site: %w", err)
	}
	return site, nil
}

func (s *SiteStore) GetByID(ctx context.Context, id int64) (*model.Site, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+siteCols+` FROM sites WHERE id = ?`, id)
	site, err := scanSite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("site %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get site: %w", err)
	}
	return site, nil
}

// List returns every site across all owners.
func (s *SiteStore) List(ctx context.Context) ([]model.Site, error) {
	return s.list(ctx, `SELECT `+siteCols+` FROM sites ORDER BY id`)
}

func (s *SiteStore) ListByUser(ctx context.Context, userID int64) ([]model.Site, error) {
	return s.list(ctx, `SELECT `+siteCols+` FROM sites WHERE user_id = ? ORDER BY id`, userID)
}

func (s *SiteStore) list(ctx context.Context, query string, args ...any) ([]model.Site, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	defer rows.Close()

	var sites []model.Site
	for rows.Next() {
		site, err := scanSite(rows)
		if err != nil {
			return nil, fmt.Errorf("scan site: %w", err)
		}
		sites = append(sites, *site)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sites: %w", err)
	}
	return sites, nil
}
