// Package server wires the JSON API, the live feed and their middleware
// onto one router.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/dukerupert/updown/internal/handler"
	"github.com/dukerupert/updown/internal/middleware"
	"github.com/dukerupert/updown/internal/store"
	ws "github.com/dukerupert/updown/internal/websocket"
)

const shutdownTimeout = 5 * time.Second

type Config struct {
	// AllowedOrigins is used for CORS and the websocket origin check.
	// Empty allows any origin for CORS; the live feed then accepts only
	// same-origin upgrades.
	AllowedOrigins []string
	// Proxies says whose X-Forwarded-For header names the client for rate
	// limiting and request logs. The zero value trusts nobody.
	Proxies middleware.ProxyTrust
	// LoginLimit is the number of login attempts allowed per client IP
	// every LoginWindow.
	LoginLimit  int
	LoginWindow time.Duration
}

func DefaultConfig() Config {
	return Config{LoginLimit: 10, LoginWindow: time.Minute}
}

type Server struct {
	gateway     *store.Gateway
	hub         *ws.Hub
	accountH    *handler.AccountHandler
	siteH       *handler.SiteHandler
	rateLimiter *middleware.RateLimiter
	cfg         Config
	logger      *zap.Logger
}

func New(g *store.Gateway, hub *ws.Hub, cfg Config, logger *zap.Logger) *Server {
	def := DefaultConfig()
	if cfg.LoginLimit <= 0 {
		cfg.LoginLimit = def.LoginLimit
	}
	if cfg.LoginWindow <= 0 {
		cfg.LoginWindow = def.LoginWindow
	}
	return &Server{
		gateway:     g,
		hub:         hub,
		accountH:    handler.NewAccountHandler(g, logger.With(zap.String("component", "account"))),
		siteH:       handler.NewSiteHandler(g.Sites, g.Responses, logger.With(zap.String("component", "site"))),
		rateLimiter: middleware.NewRateLimiter(cfg.LoginLimit, cfg.LoginWindow, cfg.Proxies),
		cfg:         cfg,
		logger:      logger,
	}
}

// RateLimiter is exposed so the caller can run its cleanup loop.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.RequestLogger(s.logger.With(zap.String("component", "http")), s.cfg.Proxies))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.allowedOrigins(),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.healthHandler)

	r.Route("/api", func(r chi.Router) {
		r.Post("/signup", s.accountH.Signup)
		r.With(s.rateLimiter.Middleware).Post("/login", s.accountH.Login)

		r.Route("/users/{userID}", func(r chi.Router) {
			r.Use(middleware.RequireUser(s.gateway.Users, s.logger))
			r.Get("/sites", s.siteH.List)
			r.Post("/sites", s.siteH.Create)
			r.Get("/ws", ws.Handler(s.hub, originHosts(s.cfg.AllowedOrigins)))
		})
		r.Get("/sites/{siteID}/latest", s.siteH.Latest)
	})

	return r
}

func (s *Server) allowedOrigins() []string {
	if len(s.cfg.AllowedOrigins) == 0 {
		return []string{"*"}
	}
	return s.cfg.AllowedOrigins
}

// originHosts turns configured origins into the host patterns the websocket
// origin check matches against.
func originHosts(origins []string) []string {
	hosts := make([]string, 0, len(origins))
	for _, o := range origins {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			hosts = append(hosts, u.Host)
			continue
		}
		hosts = append(hosts, o)
	}
	return hosts
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.gateway.Ping(r.Context()); err != nil {
		s.logger.Error("health check", zap.Error(err))
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok"))
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully. It returns nil after a clean shutdown.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	// Hijacked websocket connections are not tracked by Shutdown; they end
	// when this context does.
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()

	httpServer := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	httpServer.RegisterOnShutdown(cancelBase)

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", ln.Addr().String()))
		errc <- httpServer.Serve(ln)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("http server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
