// Package auth carries the resolved account through a request context.
package auth

import (
	"context"

	"github.com/dukerupert/updown/internal/model"
)

type contextKey struct{}

func WithUser(ctx context.Context, u *model.User) context.Context {
	return context.WithValue(ctx, contextKey{}, u)
}

func UserFromContext(ctx context.Context) (*model.User, bool) {
	u, ok := ctx.Value(contextKey{}).(*model.User)
	return u, ok && u != nil
}

// UserID returns 0 when no user is attached.
func UserID(ctx context.Context) int64 {
	u, ok := UserFromContext(ctx)
	if !ok {
		return 0
	}
	return u.ID
}
