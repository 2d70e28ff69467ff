package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/dukerupert/updown/internal/model"
)

var (
	// ErrNotFound is returned by point lookups that match no row.
	ErrNotFound = errors.New("not found")
	// ErrEmptyURL is returned when creating a site without a URL.
	ErrEmptyURL = errors.New("site url must not be empty")
)

// Clock supplies write timestamps. Callers never pass timestamps in.
type Clock func() time.Time

type options struct {
	clock Clock
}

type Option func(*options)

// WithClock replaces time.Now as the source of write timestamps.
func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

func buildOptions(opts []Option) options {
	o := options{clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	o.clock = monotonic(o.clock)
	return o
}

// minStep is the smallest timestamp increment that survives the REAL epoch
// encoding.
const minStep = time.Microsecond

// monotonic never returns a time at or before one it already returned, even
// when c stalls or steps backwards.
func monotonic(c Clock) Clock {
	var (
		mu   sync.Mutex
		last time.Time
	)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now := c()
		if !last.IsZero() && !now.After(last) {
			now = last.Add(minStep)
		}
		last = now
		return now
	}
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Gateway is the only way the rest of the process touches the database.
type Gateway struct {
	db        *sql.DB
	clock     Clock
	Users     *UserStore
	Logins    *LoginStore
	Sites     *SiteStore
	Responses *ResponseStore
}

func New(db *sql.DB, opts ...Option) *Gateway {
	o := buildOptions(opts)
	// One clock for every store keeps writes ordered across tables.
	shared := WithClock(o.clock)
	return &Gateway{
		db:        db,
		clock:     o.clock,
		Users:     NewUserStore(db, shared),
		Logins:    NewLoginStore(db, shared),
		Sites:     NewSiteStore(db, shared),
		Responses: NewResponseStore(db, shared),
	}
}

// Ping checks that the database is reachable.
func (g *Gateway) Ping(ctx context.Context) error {
	if err := g.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping db: %w", err)
	}
	return nil
}

// Signup creates a user, its first login and its first site in one
// transaction. An empty url leaves no rows behind.
func (g *Gateway) Signup(ctx context.Context, url string) (*model.User, *model.Site, error) {
	if isBlank(url) {
		return nil, nil, ErrEmptyURL
	}

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin signup: %w", err)
	}
	defer tx.Rollback()

	now := g.clock()
	u, err := createUser(ctx, tx, now)
	if err != nil {
		return nil, nil, err
	}
	if _, err := createLogin(ctx, tx, u.ID, now); err != nil {
		return nil, nil, err
	}
	site, err := createSite(ctx, tx, u.ID, url, now)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit signup: %w", err)
	}
	return u, site, nil
}

// Login records a login for the user holding code. firstSession is true when
// this is the user's only login so far. The insert and the count share a
// transaction, so of two concurrent first logins exactly one sees a count of 1.
func (g *Gateway) Login(ctx context.Context, code string) (u *model.User, firstSession bool, err error) {
	u, err = g.Users.GetByLoginCode(ctx, code)
	if err != nil {
		return nil, false, err
	}

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin login: %w", err)
	}
	defer tx.Rollback()

	// The write comes first so the transaction holds the write lock before
	// it reads.
	if _, err := createLogin(ctx, tx, u.ID, g.clock()); err != nil {
		return nil, false, err
	}
	n, err := countLogins(ctx, tx, u.ID)
	if err != nil {
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit login: %w", err)
	}
	return u, n == 1, nil
}

// epoch converts t to fractional seconds since the Unix epoch.
func epoch(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func fromEpoch(f float64) time.Time {
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC()
}

func sqliteCode(err error) int {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code()
	}
	return 0
}

func isUniqueViolation(err error) bool {
	return sqliteCode(err) == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}

func isForeignKeyViolation(err error) bool {
	return sqliteCode(err) == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY
}
