package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-extras/cobraflags"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/dukerupert/updown/internal/config"
	"github.com/dukerupert/updown/internal/database"
	"github.com/dukerupert/updown/internal/logging"
)

const (
	dbFlag       = "db"
	addrFlag     = "addr"
	intervalFlag = "interval"
	logLevelFlag = "log-level"
)

// newFlags returns a fresh flag set per command; each value, when given,
// overrides the environment.
func newFlags(names ...string) map[string]cobraflags.Flag {
	all := map[string]*cobraflags.StringFlag{
		dbFlag:       {Name: dbFlag, Value: "", Usage: "SQLite database path or sqlite:// URL (env DATABASE_URL)"},
		addrFlag:     {Name: addrFlag, Value: "", Usage: "HTTP listen address (env HOST)"},
		intervalFlag: {Name: intervalFlag, Value: "", Usage: "probe interval, e.g. 300s (env PROBE_INTERVAL)"},
		logLevelFlag: {Name: logLevelFlag, Value: "", Usage: "debug, info, warn or error (env LOG_LEVEL)"},
	}
	flags := make(map[string]cobraflags.Flag, len(names))
	for _, n := range names {
		flags[n] = all[n]
	}
	return flags
}

var flagKeys = map[string]string{
	dbFlag:       config.KeyDatabaseURL,
	addrFlag:     config.KeyHost,
	intervalFlag: config.KeyProbeInterval,
	logLevelFlag: config.KeyLogLevel,
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "updown",
		Short:        "Periodically probe registered websites and record their HTTP status",
		SilenceUsage: true,
	}
	root.AddCommand(
		newMigrateCommand(),
		newRollbackCommand(),
		newWatchCommand(),
		newServeCommand(),
	)
	return root
}

// env is what every command starts from: validated config, a logger and an
// open database.
type env struct {
	cfg    *config.Config
	logger *zap.Logger
	db     *sql.DB
}

func (e *env) Close() {
	if e.db != nil {
		if err := e.db.Close(); err != nil {
			e.logger.Warn("close database", zap.Error(err))
		}
	}
	_ = e.logger.Sync()
}

func loadEnv(ctx context.Context, flags map[string]cobraflags.Flag) (*env, error) {
	v := config.NewViper()
	applyFlags(v, flags)

	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(logging.Config{Level: cfg.LogLevel, Dir: cfg.LogDir})
	if err != nil {
		return nil, err
	}

	db, err := database.Open(ctx, cfg.DatabaseURL, database.Options{
		MaxOpenConns: cfg.DBMaxConns,
		BusyTimeout:  cfg.DBBusyTimeout,
	})
	if err != nil {
		logger.Error("open database", zap.String("path", database.TrimScheme(cfg.DatabaseURL)), zap.Error(err))
		_ = logger.Sync()
		return nil, err
	}
	logger.Debug("database opened", zap.String("path", database.TrimScheme(cfg.DatabaseURL)))

	return &env{cfg: cfg, logger: logger, db: db}, nil
}

func applyFlags(v *viper.Viper, flags map[string]cobraflags.Flag) {
	for name, f := range flags {
		if s := f.GetString(); s != "" {
			v.Set(flagKeys[name], s)
		}
	}
}

func migrate(ctx context.Context, e *env) error {
	if err := database.Migrate(ctx, e.db, e.logger.Named("migrate")); err != nil {
		e.logger.Error("migrations failed", zap.Error(err))
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
