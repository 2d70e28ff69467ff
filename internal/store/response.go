package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dukerupert/updown/internal/model"
)

type ResponseStore struct {
	db    *sql.DB
	clock Clock
}

func NewResponseStore(db *sql.DB, opts ...Option) *ResponseStore {
	return &ResponseStore{db: db, clock: buildOptions(opts).clock}
}

func scanResponse(scanner interface{ Scan(...any) error }) (*model.Response, error) {
	var r model.Response
	var createdAt, updatedAt float64
	err := scanner.Scan(&r.ID, &r.StatusCode, &r.SiteID, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	r.CreatedAt = fromEpoch(createdAt)
	r.UpdatedAt = fromEpoch(updatedAt)
	return &r, nil
}

const responseCols = `id, status_code, site_id, created_at, updated_at`

// upsertResponse stamps the row no earlier than just after the newest
// observation already stored for the site, so a clock that stalls or steps
// backwards (here or in another process sharing the database) still leaves
// the latest observation on top. "WHERE true" disambiguates the SELECT from
// the ON CONFLICT clause.
const upsertResponse = `INSERT INTO responses (status_code, site_id, created_at, updated_at)
	SELECT ?1, ?2, stamp.ts, stamp.ts FROM (
		SELECT MAX(?3, COALESCE((SELECT MAX(updated_at) FROM responses WHERE site_id = ?2) + 1e-6, 0)) AS ts
	) AS stamp WHERE true
	ON CONFLICT (status_code, site_id) DO UPDATE SET updated_at = excluded.updated_at
	RETURNING ` + responseCols

// Upsert records an observation of statusCode for siteID. The first
// observation of a (status_code, site_id) pair inserts a row; later ones only
// advance that row's updated_at, strictly. It is a single statement so
// concurrent probes of the same site cannot produce duplicates.
func (s *ResponseStore) Upsert(ctx context.Context, siteID int64, statusCode int) (*model.Response, error) {
	row := s.db.QueryRowContext(ctx, upsertResponse, statusCode, siteID, epoch(s.clock()))
	r, err := scanResponse(row)
	if isForeignKeyViolation(err) {
		return nil, fmt.Errorf("upsert response: site %d: %w", siteID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("upsert response: %w", err)
	}
	return r, nil
}

// LatestForSite returns the most recently updated response for siteID.
func (s *ResponseStore) LatestForSite(ctx context.Context, siteID int64) (*model.Response, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+responseCols+` FROM responses WHERE site_id = ? ORDER BY updated_at DESC, id DESC LIMIT 1`,
		siteID,
	)
	r, err := scanResponse(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("latest response for site %d: %w", siteID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("latest response: %w", err)
	}
	return r, nil
}

// ListBySite returns one row per status code ever observed for siteID,
// newest first.
func (s *ResponseStore) ListBySite(ctx context.Context, siteID int64) ([]model.Response, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+responseCols+` FROM responses WHERE site_id = ? ORDER BY updated_at DESC, id DESC`,
		siteID,
	)
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	defer rows.Close()

	var out []model.Response
	for rows.Next() {
		r, err := scanResponse(rows)
		if err != nil {
			return nil, fmt.Errorf("scan response: %w", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate responses: %w", err)
	}
	return out, nil
}
