package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/sqldump/sqldump/internal/datasource"
	"github.com/sqldump/sqldump/internal/demo/seeder"
)

func main() {
	cfg, err := seeder.LoadConfigFromEnv(os.LookupEnv)
	if err != nil {
		slog.Error("failed to load demo seeder config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := datasource.Open(ctx, datasource.Config{Driver: cfg.Driver, DSN: cfg.DSN})
	if err != nil {
		logger.Error("failed to open demo data source", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	service, err := seeder.NewService(cfg, db, logger, nil)
	if err != nil {
		logger.Error("failed to initialize demo seeder", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info(
		"demo seeder started",
		slog.String("driver", cfg.Driver),
		slog.String("table", cfg.TableName),
		slog.Int("rows", cfg.Rows),
		slog.Bool("register_definition", cfg.RegisterDefinition),
	)
	summary, err := service.Run(ctx)
	if err != nil {
		logger.Error("demo seeder failed", slog.Any("error", err), slog.Any("summary", summary))
		os.Exit(1)
	}
	logger.Info("demo seeder finished", slog.Any("summary", summary))
}
