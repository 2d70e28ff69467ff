package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/dukerupert/updown/internal/model"
)

// loginCodeAttempts bounds retries on the (astronomically unlikely) event of
// a login code collision.
const loginCodeAttempts = 3

type UserStore struct {
	db    *sql.DB
	clock Clock
}

func NewUserStore(db *sql.DB, opts ...Option) *UserStore {
	return &UserStore{db: db, clock: buildOptions(opts).clock}
}

func scanUser(scanner interface{ Scan(...any) error }) (*model.User, error) {
	var u model.User
	var createdAt, updatedAt float64
	err := scanner.Scan(&u.ID, &u.LoginCode, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	u.CreatedAt = fromEpoch(createdAt)
	u.UpdatedAt = fromEpoch(updatedAt)
	return &u, nil
}

const userCols = `id, login_code, created_at, updated_at`

// Create inserts a user with a freshly generated login code.
func (s *UserStore) Create(ctx context.Context) (*model.User, error) {
	return createUser(ctx, s.db, s.clock())
}

func createUser(ctx context.Context, q querier, now time.Time) (*model.User, error) {
	ts := epoch(now)
	for attempt := 1; ; attempt++ {
		code, err := gonanoid.New()
		if err != nil {
			return nil, fmt.Errorf("generate login code: %w", err)
		}
		row := q.QueryRowContext(ctx,
			`INSERT INTO users (login_code, created_at, updated_at) VALUES (?, ?, ?) RETURNING `+userCols,
			code, ts, ts,
		)
		u, err := scanUser(row)
		if err == nil {
			return u, nil
		}
		if isUniqueViolation(err) && attempt < loginCodeAttempts {
			continue
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
}

func (s *UserStore) GetByID(ctx context.Context, id int64) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *UserStore) GetByLoginCode(ctx context.Context, code string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE login_code = ? LIMIT 1`, code)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user by login code: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get user by login code: %w", err)
	}
	return u, nil
}
