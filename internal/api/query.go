package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/sqldump/sqldump/internal/catalog"
	"github.com/sqldump/sqldump/internal/dispatch"
	"github.com/sqldump/sqldump/internal/negotiate"
	"github.com/sqldump/sqldump/internal/observability"
	"github.com/sqldump/sqldump/internal/query"
	"github.com/sqldump/sqldump/internal/render"
)

const defaultRestrictColumn = "uuid"

func handleRunQuery(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Definitions == nil || deps.Runner == nil || deps.Dispatcher == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "QUERY_NOT_CONFIGURED", "query dependencies are not configured", false, nil)
		return
	}

	key := r.PathValue("key")
	details := observability.RequestDetailsFromContext(r.Context())
	details.SetQueryKey(key)
	restriction, ok := restrictionFor(deps, r.PathValue("uuid"))
	if !ok {
		writeError(r.Context(), w, http.StatusNotFound, "QUERY_NOT_FOUND", "no query matches this path", false, map[string]any{"key": key})
		return
	}

	def, err := deps.Definitions.GetDefinition(r.Context(), key)
	if err != nil {
		writeQueryError(r, w, key, err)
		return
	}

	entry, mediaType, err := resolveEntry(deps.Dispatcher, r)
	if err != nil {
		writeQueryError(r, w, key, err)
		return
	}
	details.SetDocument(entry.Name, mediaType)

	started := time.Now()
	rs, err := deps.Runner.Execute(r.Context(), def, restriction)
	if err != nil {
		recordExecution(deps, r, def.Key, restriction != "", mediaType, outcomeOf(err), 0, time.Since(started))
		writeQueryError(r, w, key, err)
		return
	}

	doc, err := deps.Dispatcher.RenderQuery(entry, mediaType, rs, def)
	if err != nil {
		recordExecution(deps, r, def.Key, restriction != "", mediaType, outcomeOf(err), rs.Len(), time.Since(started))
		writeQueryError(r, w, key, err)
		return
	}
	recordExecution(deps, r, def.Key, restriction != "", mediaType, "ok", rs.Len(), time.Since(started))
	writeDocument(w, http.StatusOK, doc)
}

func handleCatalogue(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Definitions == nil || deps.Dispatcher == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "QUERY_NOT_CONFIGURED", "query dependencies are not configured", false, nil)
		return
	}
	defs, err := deps.Definitions.ListDefinitions(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "CATALOG_ERROR", "failed to list query definitions", true, map[string]any{"details": err.Error()})
		return
	}
	params := r.URL.Query()
	doc, err := deps.Dispatcher.ServeCatalogue(negotiate.Rank(r.Header.Get("Accept"), params.Get("accept")), params.Get("format"), defs)
	if err != nil {
		writeQueryError(r, w, "", err)
		return
	}
	observability.RequestDetailsFromContext(r.Context()).SetDocument(doc.Format, doc.MediaType)
	writeDocument(w, http.StatusOK, doc)
}

// restrictionFor builds the WHERE fragment for a uuid restriction value.
// Only canonical hyphenated UUIDs are accepted; anything else does not name
// a resource.
func restrictionFor(deps Dependencies, value string) (string, bool) {
	if value == "" {
		return "", true
	}
	if len(value) != 36 {
		return "", false
	}
	if _, err := uuid.Parse(value); err != nil {
		return "", false
	}
	column := deps.RestrictColumn
	if column == "" {
		column = defaultRestrictColumn
	}
	return query.EqualsRestriction(column, value), true
}

func resolveEntry(d *dispatch.Dispatcher, r *http.Request) (dispatch.Entry, string, error) {
	params := r.URL.Query()
	ranked := negotiate.Rank(r.Header.Get("Accept"), params.Get("accept"))
	return d.Resolve(ranked, params.Get("format"))
}

func writeDocument(w http.ResponseWriter, status int, doc dispatch.Document) {
	w.Header().Set("Content-Type", doc.MediaType)
	w.Header().Set("Content-Length", strconv.Itoa(len(doc.Body)))
	w.Header().Add("Vary", "Accept")
	w.WriteHeader(status)
	_, _ = w.Write(doc.Body)
}

func writeQueryError(r *http.Request, w http.ResponseWriter, key string, err error) {
	ctx := r.Context()
	var (
		notAcceptable *dispatch.NotAcceptableError
		execErr       *query.ExecutionError
		serErr        *render.SerializationError
	)
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		writeError(ctx, w, http.StatusNotFound, "QUERY_NOT_FOUND", "query definition was not found", false, map[string]any{"key": key})
	case errors.As(err, &notAcceptable):
		writeError(ctx, w, http.StatusNotAcceptable, "NOT_ACCEPTABLE", notAcceptable.Error(), false, map[string]any{"requested": notAcceptable.Ranked})
	case errors.As(err, &execErr):
		status, code := http.StatusInternalServerError, "QUERY_EXECUTION_FAILED"
		switch execErr.Kind {
		case query.KindTimeout:
			status, code = http.StatusGatewayTimeout, "QUERY_TIMEOUT"
		case query.KindConnectivity:
			status, code = http.StatusServiceUnavailable, "DATASOURCE_UNAVAILABLE"
		}
		writeError(ctx, w, status, code, "query execution failed", execErr.Retryable(), map[string]any{
			"key":     key,
			"kind":    string(execErr.Kind),
			"details": execErr.Err.Error(),
		})
	case errors.As(err, &serErr):
		writeError(ctx, w, http.StatusInternalServerError, "SERIALIZATION_FAILED", "result could not be rendered", false, map[string]any{
			"format":  serErr.Format,
			"details": serErr.Err.Error(),
		})
	default:
		writeError(ctx, w, http.StatusInternalServerError, "CATALOG_ERROR", "failed to load query definition", true, map[string]any{"details": err.Error()})
	}
}

func outcomeOf(err error) string {
	var execErr *query.ExecutionError
	if errors.As(err, &execErr) {
		return string(execErr.Kind)
	}
	var serErr *render.SerializationError
	if errors.As(err, &serErr) {
		return "serialization"
	}
	return "error"
}

// recordExecution writes an audit row. Audit failures are logged and never
// change the response.
func recordExecution(deps Dependencies, r *http.Request, key string, restricted bool, mediaType, outcome string, rows int, elapsed time.Duration) {
	observability.RequestDetailsFromContext(r.Context()).SetExecution(outcome, rows)
	if deps.Auditor == nil {
		return
	}
	err := deps.Auditor.RecordExecution(r.Context(), catalog.AuditRecord{
		QueryKey:   key,
		Restricted: restricted,
		MediaType:  mediaType,
		Outcome:    outcome,
		RowCount:   rows,
		Duration:   elapsed,
		TraceID:    observability.TraceIDFromContext(r.Context()),
	})
	if err != nil && deps.Logger != nil {
		deps.Logger.WarnContext(r.Context(), "audit record failed",
			slog.String("query_key", key),
			slog.String("error", err.Error()),
		)
	}
}
