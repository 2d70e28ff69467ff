package websocket

import (
	"net/http"

	ws "github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/dukerupert/updown/internal/auth"
)

// Handler upgrades the request and serves it as a hub client of the user
// attached to the request context until the peer goes away. Cross-origin
// upgrades are refused unless the origin host matches one of
// originPatterns.
func Handler(hub *Hub, originPatterns []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, ok := auth.UserFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := ws.Accept(w, r, &ws.AcceptOptions{OriginPatterns: originPatterns})
		if err != nil {
			hub.logger.Warn("ws accept", zap.Int64("user_id", u.ID), zap.Error(err))
			return
		}
		defer conn.CloseNow()

		NewClient(hub, conn, u.ID).Run(r.Context())
	}
}
