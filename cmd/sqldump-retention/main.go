package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	catalogpostgres "github.com/sqldump/sqldump/internal/catalog/postgres"
	"github.com/sqldump/sqldump/internal/config"
	"github.com/sqldump/sqldump/internal/datasource"
	"github.com/sqldump/sqldump/internal/export"
	"github.com/sqldump/sqldump/internal/maintenance"
	"github.com/sqldump/sqldump/internal/observability"
	s3store "github.com/sqldump/sqldump/internal/storage/s3"
)

func main() {
	once := flag.Bool("once", false, "run a single retention pass and exit")
	queryKey := flag.String("query", "", "limit the pass to one query key")
	flag.Parse()

	cfg, err := config.LoadFromEnv("sqldump-retention")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	db, err := datasource.Open(context.Background(), datasource.Config{
		Driver:          "pgx",
		DSN:             cfg.Catalog.DSN,
		MaxOpenConns:    cfg.Catalog.MaxOpenConns,
		MaxIdleConns:    cfg.Catalog.MaxIdleConns,
		ConnMaxIdleTime: cfg.Catalog.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Catalog.ConnMaxLifetime,
	})
	if err != nil {
		logger.Error("failed to open catalog db", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	store, err := s3store.New(context.Background(), s3store.Config{
		Endpoint:         cfg.ObjectStore.Endpoint,
		Region:           cfg.ObjectStore.Region,
		Bucket:           cfg.ObjectStore.Bucket,
		AccessKeyID:      cfg.ObjectStore.AccessKeyID,
		SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
		UseSSL:           cfg.ObjectStore.UseSSL,
		Prefix:           cfg.ObjectStore.Prefix,
		AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
	})
	if err != nil {
		logger.Error("failed to initialize object store", slog.Any("error", err))
		os.Exit(1)
	}

	svc := &maintenance.Service{
		Catalog: catalogpostgres.NewRepository(db),
		Exports: export.NewService(store, cfg.Export.Prefix),
		Config: maintenance.Config{
			RetentionInterval: cfg.Export.RetentionInterval,
			KeepExports:       cfg.Export.KeepPerQuery,
			MaxAge:            cfg.Export.MaxAge,
		},
		Logger: logger,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *once {
		summary, err := svc.RunRetentionOnce(ctx, *queryKey)
		if err != nil {
			logger.Error("retention pass failed", slog.Any("error", err), slog.Any("summary", summary))
			os.Exit(1)
		}
		logger.Info("retention pass completed", slog.Any("summary", summary))
		return
	}

	logger.Info("retention worker started")
	if err := svc.Run(ctx); err != nil {
		logger.Error("retention worker failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("retention worker stopped")
}
