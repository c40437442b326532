package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/competency-import/internal/admin"
	"github.com/JonMunkholm/competency-import/internal/config"
	"github.com/JonMunkholm/competency-import/internal/core"
	"github.com/JonMunkholm/competency-import/internal/database"
	"github.com/JonMunkholm/competency-import/internal/logging"
	"github.com/JonMunkholm/competency-import/internal/progress"
	"github.com/JonMunkholm/competency-import/internal/schema"
	"github.com/JonMunkholm/competency-import/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("configuration loaded", "config", cfg.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := database.Open(ctx, database.PoolConfig{
		URL:             cfg.Database.URL,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
	})
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer pool.Close()

	if cfg.Database.Migrate {
		if err := database.Migrate(ctx, pool); err != nil {
			return err
		}
		slog.Info("schema applied")
	}
	db := database.New(pool)

	labels, err := schema.Load(cfg.Import.LabelMapPath)
	if err != nil {
		return err
	}
	slog.Info("label map loaded", "labels", labels.Len(), "path", cfg.Import.LabelMapPath)

	importer := core.NewImporter(db, db, db, labels, core.OptionsFromConfig(cfg.Import))
	svcOpts := core.ServiceOptionsFromConfig(cfg.Import)
	deps := web.Deps{
		DB:       db,
		Resetter: &admin.Resetter{Store: db, Active: svcOpts.Limiter},
	}

	if cfg.Redis.Enabled {
		rdb, err := progress.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		defer rdb.Close()
		mirror := progress.NewMirror(rdb, cfg.Redis.TTL)
		svcOpts.Publisher = mirror
		deps.Mirror = mirror
		slog.Info("progress mirror enabled")
	}

	service := core.NewService(importer, svcOpts)
	deps.Service = service
	server := web.NewServer(cfg, deps)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server starting", "addr", cfg.Server.Addr())
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Running imports stop after their current record and keep partial results.
		if status := service.LimiterStatus(); status.Active > 0 {
			slog.Info("cancelling active imports", "active", status.Active)
		}
		if err := service.Shutdown(shutdownCtx); err != nil {
			slog.Warn("imports did not stop in time", "error", err)
		}
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
