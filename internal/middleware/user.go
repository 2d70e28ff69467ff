package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/dukerupert/updown/internal/auth"
	"github.com/dukerupert/updown/internal/model"
	"github.com/dukerupert/updown/internal/store"
)

// UserGetter looks an account up by id.
type UserGetter interface {
	GetByID(ctx context.Context, id int64) (*model.User, error)
}

// RequireUser resolves the {userID} route parameter into an account and
// attaches it to the request context. Unknown ids get 404.
func RequireUser(users UserGetter, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
			if err != nil || id <= 0 {
				http.Error(w, "invalid user id", http.StatusBadRequest)
				return
			}

			u, err := users.GetByID(r.Context(), id)
			switch {
			case errors.Is(err, store.ErrNotFound):
				http.Error(w, "user not found", http.StatusNotFound)
				return
			case err != nil:
				logger.Error("load user", zap.Int64("user_id", id), zap.Error(err))
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), u)))
		})
	}
}
