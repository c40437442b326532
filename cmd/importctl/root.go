package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/competency-import/internal/config"
	"github.com/JonMunkholm/competency-import/internal/core"
	"github.com/JonMunkholm/competency-import/internal/database"
	"github.com/JonMunkholm/competency-import/internal/logging"
	"github.com/JonMunkholm/competency-import/internal/schema"
)

type rootOptions struct {
	envFile  string
	logLevel string
}

func newRootCmd() *cobra.Command {
	var opts rootOptions

	cmd := &cobra.Command{
		Use:           "importctl",
		Short:         "Preview and run competency matrix imports",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.envFile != "" {
				if err := godotenv.Load(opts.envFile); err != nil {
					return withCode(exitUsage, fmt.Errorf("load %s: %w", opts.envFile, err))
				}
			} else {
				_ = godotenv.Load()
			}
			// Logs go to stderr so stdout stays parseable.
			slog.SetDefault(logging.New(cmd.ErrOrStderr(), opts.logLevel, "text"))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", "", "Load environment from this file (default: .env if present)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "Log level: debug, info, warn, error")

	cmd.AddCommand(newPreviewCmd())
	cmd.AddCommand(newImportCmd())
	cmd.AddCommand(newResetCmd())
	cmd.AddCommand(newCatalogCmd())
	return cmd
}

func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		code := exitCode(err)
		if code != exitRecords {
			fmt.Fprintln(os.Stderr, "importctl:", err.Error())
		}
		os.Exit(code)
	}
}

// env is what every database-backed command needs.
type env struct {
	cfg  *config.Config
	pool *pgxpool.Pool
	db   *database.DB
}

func (e *env) Close() {
	e.pool.Close()
}

func openEnv(ctx context.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, withCode(exitUsage, err)
	}
	pool, err := database.Open(ctx, database.PoolConfig{
		URL:             cfg.Database.URL,
		MaxConns:        2,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return nil, withCode(exitDB, err)
	}
	if cfg.Database.Migrate {
		if err := database.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, withCode(exitDB, err)
		}
	}
	return &env{cfg: cfg, pool: pool, db: database.New(pool)}, nil
}

func (e *env) importer() (*core.Importer, error) {
	labels, err := schema.Load(e.cfg.Import.LabelMapPath)
	if err != nil {
		return nil, withCode(exitUsage, err)
	}
	return core.NewImporter(e.db, e.db, e.db, labels, core.OptionsFromConfig(e.cfg.Import)), nil
}
