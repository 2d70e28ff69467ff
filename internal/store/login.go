package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/updown/internal/model"
)

// LoginStore is append-only.
type LoginStore struct {
	db    *sql.DB
	clock Clock
}

func NewLoginStore(db *sql.DB, opts ...Option) *LoginStore {
	return &LoginStore{db: db, clock: buildOptions(opts).clock}
}

func (s *LoginStore) Create(ctx context.Context, userID int64) (*model.Login, error) {
	return createLogin(ctx, s.db, userID, s.clock())
}

func createLogin(ctx context.Context, q querier, userID int64, now time.Time) (*model.Login, error) {
	var l model.Login
	var createdAt float64
	err := q.QueryRowContext(ctx,
		`INSERT INTO logins (user_id, created_at) VALUES (?, ?) RETURNING id, user_id, created_at`,
		userID, epoch(now),
	).Scan(&l.ID, &l.UserID, &createdAt)
	if isForeignKeyViolation(err) {
		return nil, fmt.Errorf("insert login: user %d: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("insert login: %w", err)
	}
	l.CreatedAt = fromEpoch(createdAt)
	return &l, nil
}

// Count returns how many times the user has logged in, signup included.
func (s *LoginStore) Count(ctx context.Context, userID int64) (int, error) {
	return countLogins(ctx, s.db, userID)
}

func countLogins(ctx context.Context, q querier, userID int64) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM logins WHERE user_id = ?`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count logins: %w", err)
	}
	return n, nil
}
