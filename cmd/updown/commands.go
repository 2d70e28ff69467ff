package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/go-extras/cobraflags"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dukerupert/updown/internal/database"
	"github.com/dukerupert/updown/internal/middleware"
	"github.com/dukerupert/updown/internal/monitor"
	"github.com/dukerupert/updown/internal/probe"
	"github.com/dukerupert/updown/internal/server"
	"github.com/dukerupert/updown/internal/store"
	ws "github.com/dukerupert/updown/internal/websocket"
)

func newMigrateCommand() *cobra.Command {
	flags := newFlags(dbFlag, logLevelFlag)
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer e.Close()
			return migrate(cmd.Context(), e)
		},
	}
	cobraflags.RegisterMap(cmd, flags)
	return cmd
}

func newRollbackCommand() *cobra.Command {
	flags := newFlags(dbFlag, logLevelFlag)
	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Revert the most recent reversible migration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer e.Close()

			m, err := database.NewMigrator(e.db, e.logger.Named("migrate"))
			if err != nil {
				return err
			}
			version, err := m.Rollback(cmd.Context())
			if err != nil {
				e.logger.Error("rollback failed", zap.Error(err))
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rolled back migration %05d\n", version)
			return nil
		},
	}
	cobraflags.RegisterMap(cmd, flags)
	return cmd
}

func newWatchCommand() *cobra.Command {
	flags := newFlags(dbFlag, intervalFlag, logLevelFlag)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run the probe scheduler until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			e, err := loadEnv(ctx, flags)
			if err != nil {
				return err
			}
			defer e.Close()
			if err := migrate(ctx, e); err != nil {
				return err
			}

			sched := newScheduler(e, store.New(e.db))
			sched.Start(ctx)
			<-ctx.Done()
			e.logger.Info("shutting down")
			sched.Stop()
			return nil
		},
	}
	cobraflags.RegisterMap(cmd, flags)
	return cmd
}

func newServeCommand() *cobra.Command {
	flags := newFlags(dbFlag, addrFlag, intervalFlag, logLevelFlag)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, live feed and probe scheduler until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			e, err := loadEnv(ctx, flags)
			if err != nil {
				return err
			}
			defer e.Close()
			if err := migrate(ctx, e); err != nil {
				return err
			}

			proxies, err := middleware.ParseTrustedProxies(e.cfg.TrustedProxies)
			if err != nil {
				return err
			}
			srvCfg := server.DefaultConfig()
			srvCfg.AllowedOrigins = e.cfg.AllowedOrigins
			srvCfg.Proxies = proxies

			g := store.New(e.db)
			hub := ws.NewHub(e.logger.Named("websocket"))
			srv := server.New(g, hub, srvCfg, e.logger.Named("server"))
			sched := newScheduler(e, g, monitor.WithNotifier(hub))

			sched.Start(ctx)
			defer sched.Stop()

			group, gctx := errgroup.WithContext(ctx)
			group.Go(func() error {
				return srv.ListenAndServe(gctx, e.cfg.Host)
			})
			group.Go(func() error {
				srv.RateLimiter().RunCleanup(gctx)
				return nil
			})
			if err := group.Wait(); err != nil {
				e.logger.Error("server stopped", zap.Error(err))
				return err
			}
			e.logger.Info("shutting down")
			return nil
		},
	}
	cobraflags.RegisterMap(cmd, flags)
	return cmd
}

func newScheduler(e *env, g *store.Gateway, opts ...monitor.Option) *monitor.Scheduler {
	cfg := monitor.Config{
		Interval:    e.cfg.ProbeInterval,
		Timeout:     e.cfg.ProbeTimeout,
		Concurrency: e.cfg.ProbeConcurrency,
		SkipOverlap: e.cfg.ProbeSkipOverlap,
	}
	return monitor.NewScheduler(g.Sites, g.Responses, probe.NewHTTPProber(cfg.Timeout), cfg, e.logger.Named("scheduler"), opts...)
}
