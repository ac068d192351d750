package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/sqldump/sqldump/internal/auth"
	"github.com/sqldump/sqldump/internal/export"
	"github.com/sqldump/sqldump/internal/observability"
)

const defaultExportListLimit = 100

// handleCreateExport runs a query like GET /q/{key} does and archives the
// rendered document instead of returning it. ?uuid= restricts the result.
func handleCreateExport(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Exports == nil || deps.Definitions == nil || deps.Runner == nil || deps.Dispatcher == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "EXPORTS_NOT_CONFIGURED", "export dependencies are not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleExporter); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	key := r.PathValue("key")
	details := observability.RequestDetailsFromContext(r.Context())
	details.SetQueryKey(key)
	restriction, ok := restrictionFor(deps, r.URL.Query().Get("uuid"))
	if !ok {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_RESTRICTION", "uuid must be a canonical UUID", false, nil)
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

	saved, err := deps.Exports.Save(r.Context(), def.Key, doc)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadGateway, "EXPORT_STORE_FAILED", "failed to store export", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"export":    saved,
		"row_count": rs.Len(),
	})
}

func handleListExports(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Exports == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "EXPORTS_NOT_CONFIGURED", "export dependencies are not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleExporter); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	limit := defaultExportListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 1000 {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be between 1 and 1000", false, nil)
			return
		}
		limit = parsed
	}

	key := r.PathValue("key")
	items, err := deps.Exports.List(r.Context(), key, limit)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadGateway, "EXPORT_STORE_FAILED", "failed to list exports", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"query_key": key,
		"exports":   items,
	})
}

func handleDownloadExport(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Exports == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "EXPORTS_NOT_CONFIGURED", "export dependencies are not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleExporter); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	key, name := r.PathValue("key"), r.PathValue("name")
	body, info, err := deps.Exports.Open(r.Context(), key, name)
	if err != nil {
		writeExportError(w, r, key, name, err)
		return
	}
	defer func() { _ = body.Close() }()

	if info.MediaType != "" {
		w.Header().Set("Content-Type", info.MediaType)
	} else {
		w.Header().Set("Content-Type", "application/octet-stream")
	}
	if info.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	w.Header().Set("Content-Disposition", `attachment; filename="`+info.Name+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, body)
}

func handleDeleteExport(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Exports == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "EXPORTS_NOT_CONFIGURED", "export dependencies are not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleQueryAdmin); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	key, name := r.PathValue("key"), r.PathValue("name")
	if err := deps.Exports.Delete(r.Context(), key, name); err != nil {
		writeExportError(w, r, key, name, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeExportError(w http.ResponseWriter, r *http.Request, key, name string, err error) {
	if errors.Is(err, export.ErrNotFound) {
		writeError(r.Context(), w, http.StatusNotFound, "EXPORT_NOT_FOUND", "export was not found", false, map[string]any{
			"query_key": key,
			"name":      name,
		})
		return
	}
	writeError(r.Context(), w, http.StatusBadGateway, "EXPORT_STORE_FAILED", "export store request failed", true, map[string]any{"details": err.Error()})
}
