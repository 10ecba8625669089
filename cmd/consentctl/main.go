// Package main is the consentctl admin CLI: schema migrations, role changes
// and delegation checks run against the service database.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/consentdac/backend/config"
	"github.com/consentdac/backend/internal/dars"
	"github.com/consentdac/backend/internal/roles"
	"github.com/consentdac/backend/internal/store"
	"github.com/consentdac/backend/pkg/database"
	"github.com/consentdac/backend/pkg/metrics"
)

const programName = "consentctl"

var globalFlags = struct {
	debug bool
}{}

func newLogger() *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if globalFlags.debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	logger, _ := cfg.Build()
	return logger.With(zap.String("component", programName))
}

// env is what every database-backed command needs.
type env struct {
	cfg    *config.Config
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func openEnv(ctx context.Context) (*env, error) {
	logger := newLogger()
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, logger)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	return &env{cfg: cfg, pool: pool, logger: logger}, nil
}

func (e *env) Close() {
	e.pool.Close()
	_ = e.logger.Sync()
}

// roleService builds the role service without a notifier: changes made from
// the CLI are not mailed.
func (e *env) roleService() *roles.Service {
	return roles.NewService(
		store.New(e.pool),
		dars.NewRepository(e.pool, nil, e.logger),
		nil,
		roles.Options{
			DACQuorum:       e.cfg.Voting.DACQuorum,
			DataOwnerQuorum: e.cfg.Voting.DataOwnerQuorum,
			MinAdmins:       e.cfg.Voting.MinAdmins,
		},
		metrics.New(prometheus.NewRegistry()),
		e.logger,
	)
}

func rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           programName,
		Short:         "Administer the DAC consent service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&globalFlags.debug, "debug", "D", false, "enable debug logging")
	root.AddCommand(
		migrateCommand(),
		rolesCommand(),
		delegationCommand(),
		tokenCommand(),
	)
	return root
}

func main() {
	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
