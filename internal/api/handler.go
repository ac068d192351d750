package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sqldump/sqldump/internal/catalog"
	"github.com/sqldump/sqldump/internal/config"
	"github.com/sqldump/sqldump/internal/dispatch"
	"github.com/sqldump/sqldump/internal/export"
	"github.com/sqldump/sqldump/internal/observability"
	"github.com/sqldump/sqldump/internal/query"
)

type ReadinessCheck func(ctx context.Context) error

// ExportArchive stores rendered documents for later download.
type ExportArchive interface {
	Save(ctx context.Context, queryKey string, doc dispatch.Document) (export.Export, error)
	List(ctx context.Context, queryKey string, limit int) ([]export.Export, error)
	Open(ctx context.Context, queryKey, name string) (io.ReadCloser, export.Export, error)
	Delete(ctx context.Context, queryKey, name string) error
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Definitions       catalog.Store
	Runner            query.Runner
	Dispatcher        *dispatch.Dispatcher
	Auditor           catalog.Auditor
	Exports           ExportArchive
	// RestrictColumn is compared against the optional /q/{key}/{uuid} value.
	RestrictColumn string
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	runQuery := func(w http.ResponseWriter, r *http.Request) {
		handleRunQuery(deps, w, r)
	}
	mux.HandleFunc("GET /q/{key}", runQuery)
	mux.HandleFunc("GET /q/{key}/{$}", runQuery)
	mux.HandleFunc("GET /q/{key}/{uuid}", runQuery)
	mux.HandleFunc("GET /q/{key}/{uuid}/{$}", runQuery)
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		handleCatalogue(deps, w, r)
	})

	protected := http.NewServeMux()
	protected.HandleFunc("GET /v1/queries", func(w http.ResponseWriter, r *http.Request) {
		handleListDefinitions(deps, w, r)
	})
	protected.HandleFunc("GET /v1/queries/{key}", func(w http.ResponseWriter, r *http.Request) {
		handleGetDefinition(deps, w, r)
	})
	protected.HandleFunc("PUT /v1/queries/{key}", func(w http.ResponseWriter, r *http.Request) {
		handlePutDefinition(deps, w, r)
	})
	protected.HandleFunc("DELETE /v1/queries/{key}", func(w http.ResponseWriter, r *http.Request) {
		handleDeleteDefinition(deps, w, r)
	})
	protected.HandleFunc("POST /v1/exports/{key}", func(w http.ResponseWriter, r *http.Request) {
		handleCreateExport(deps, w, r)
	})
	protected.HandleFunc("GET /v1/exports/{key}", func(w http.ResponseWriter, r *http.Request) {
		handleListExports(deps, w, r)
	})
	protected.HandleFunc("GET /v1/exports/{key}/{name}", func(w http.ResponseWriter, r *http.Request) {
		handleDownloadExport(deps, w, r)
	})
	protected.HandleFunc("DELETE /v1/exports/{key}/{name}", func(w http.ResponseWriter, r *http.Request) {
		handleDeleteExport(deps, w, r)
	})

	var protectedHandler http.Handler = protected
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			protectedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
			})
		} else {
			protectedHandler = deps.AuthMiddleware(protectedHandler)
		}
	}
	mux.Handle("GET /v1/queries", protectedHandler)
	mux.Handle("GET /v1/queries/{key}", protectedHandler)
	mux.Handle("PUT /v1/queries/{key}", protectedHandler)
	mux.Handle("DELETE /v1/queries/{key}", protectedHandler)
	mux.Handle("POST /v1/exports/{key}", protectedHandler)
	mux.Handle("GET /v1/exports/{key}", protectedHandler)
	mux.Handle("GET /v1/exports/{key}/{name}", protectedHandler)
	mux.Handle("DELETE /v1/exports/{key}/{name}", protectedHandler)

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

// CheckCatalog pings the definition store when it supports it.
func CheckCatalog(store catalog.Store) ReadinessCheck {
	return func(ctx context.Context) error {
		checker, ok := store.(interface{ HealthCheck(context.Context) error })
		if !ok {
			return nil
		}
		return checker.HealthCheck(ctx)
	}
}

// CheckDataSource pings the pool queries run against.
func CheckDataSource(pinger interface{ PingContext(context.Context) error }) ReadinessCheck {
	return func(ctx context.Context) error {
		if pinger == nil {
			return errors.New("data source is not configured")
		}
		return pinger.PingContext(ctx)
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}
