package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/sqldump/sqldump/internal/api"
	"github.com/sqldump/sqldump/internal/auth"
	catalogpostgres "github.com/sqldump/sqldump/internal/catalog/postgres"
	"github.com/sqldump/sqldump/internal/config"
	"github.com/sqldump/sqldump/internal/datasource"
	"github.com/sqldump/sqldump/internal/dispatch"
	"github.com/sqldump/sqldump/internal/export"
	"github.com/sqldump/sqldump/internal/observability"
	"github.com/sqldump/sqldump/internal/query/sqldb"
	s3store "github.com/sqldump/sqldump/internal/storage/s3"
)

func main() {
	// Values already in the environment win over .env entries.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Error("failed to read .env file", slog.Any("error", err))
		os.Exit(1)
	}

	cfg, err := config.LoadFromEnv("sqldump-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	catalogDB, err := datasource.Open(context.Background(), datasource.Config{
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
	defer func() { _ = catalogDB.Close() }()

	dataDB, err := datasource.Open(context.Background(), datasource.Config{
		Driver:          cfg.DataSource.Driver,
		DSN:             cfg.DataSource.DSN,
		MaxOpenConns:    cfg.DataSource.MaxOpenConns,
		MaxIdleConns:    cfg.DataSource.MaxIdleConns,
		ConnMaxIdleTime: cfg.DataSource.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.DataSource.ConnMaxLifetime,
	})
	if err != nil {
		logger.Error("failed to open data source", slog.String("driver", cfg.DataSource.Driver), slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = dataDB.Close() }()

	catalogRepo := catalogpostgres.NewRepository(catalogDB)
	runner := sqldb.NewRunner(dataDB, sqldb.Options{
		QueryTimeout: cfg.DataSource.QueryTimeout,
		RowLimit:     cfg.DataSource.RowLimit,
		Logger:       logger,
	})
	dispatcher := dispatch.New(dispatch.DefaultRegistry(dispatch.RenderOptions{
		Charset:    cfg.Render.Charset,
		PrettyXML:  cfg.Render.PrettyXML,
		JSONIndent: cfg.Render.JSONIndent,
	}))
	dispatcher.ExpandWildcards = cfg.Render.ExpandWildcards
	dispatcher.ValidateXML = cfg.Render.ValidateXML

	deps := api.Dependencies{
		Logger:         logger,
		Definitions:    catalogRepo,
		Runner:         runner,
		Dispatcher:     dispatcher,
		Auditor:        catalogRepo,
		RestrictColumn: cfg.DataSource.RestrictColumn,
		Readiness: api.CombineReadinessChecks(
			api.CheckCatalog(catalogRepo),
			api.CheckDataSource(dataDB),
		),
		DependencyTimeout: time.Second,
	}

	if cfg.ObjectStore.Enabled {
		objectStore, err := s3store.New(context.Background(), s3store.Config{
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
		deps.Exports = export.NewService(objectStore, cfg.Export.Prefix)
	}

	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("datasource_driver", cfg.DataSource.Driver),
			slog.Bool("exports_enabled", deps.Exports != nil),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}
