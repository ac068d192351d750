package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sqldump/sqldump/internal/auth"
	"github.com/sqldump/sqldump/internal/catalog"
)

type definitionRequest struct {
	SQL     string `json:"sql"`
	RootTag string `json:"root"`
	RowTag  string `json:"row"`
}

type definitionResponse struct {
	Key       string    `json:"key"`
	SQL       string    `json:"sql"`
	RootTag   string    `json:"root"`
	RowTag    string    `json:"row"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type definitionAdmin interface {
	UpsertDefinition(ctx context.Context, in catalog.UpsertDefinitionInput) (catalog.Definition, error)
	DeleteDefinition(ctx context.Context, key string) (bool, error)
}

func handleListDefinitions(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Definitions == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "DEFINITIONS_NOT_CONFIGURED", "definition store is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleQueryReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	defs, err := deps.Definitions.ListDefinitions(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "CATALOG_ERROR", "failed to list query definitions", true, map[string]any{"details": err.Error()})
		return
	}
	items := make([]definitionResponse, 0, len(defs))
	for _, def := range defs {
		items = append(items, toDefinitionResponse(def))
	}
	writeJSON(w, http.StatusOK, map[string]any{"queries": items})
}

func handleGetDefinition(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Definitions == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "DEFINITIONS_NOT_CONFIGURED", "definition store is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleQueryReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	key := r.PathValue("key")
	def, err := deps.Definitions.GetDefinition(r.Context(), key)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "QUERY_NOT_FOUND", "query definition was not found", false, map[string]any{"key": key})
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "CATALOG_ERROR", "failed to load query definition", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, toDefinitionResponse(def))
}

func handlePutDefinition(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	admin, ok := deps.Definitions.(definitionAdmin)
	if !ok || deps.Definitions == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "DEFINITIONS_NOT_CONFIGURED", "definition admin operations are not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleQueryAdmin); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var request definitionRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid definition request body", false, map[string]any{"details": err.Error()})
		return
	}

	in, err := catalog.UpsertDefinitionInput{
		Key:     r.PathValue("key"),
		SQL:     request.SQL,
		RootTag: request.RootTag,
		RowTag:  request.RowTag,
	}.Normalize()
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_DEFINITION", err.Error(), false, nil)
		return
	}

	def, err := admin.UpsertDefinition(r.Context(), in)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "CATALOG_ERROR", "failed to store query definition", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, toDefinitionResponse(def))
}

func handleDeleteDefinition(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	admin, ok := deps.Definitions.(definitionAdmin)
	if !ok || deps.Definitions == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "DEFINITIONS_NOT_CONFIGURED", "definition admin operations are not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleQueryAdmin); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	key := r.PathValue("key")
	deleted, err := admin.DeleteDefinition(r.Context(), key)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "CATALOG_ERROR", "failed to delete query definition", true, map[string]any{"details": err.Error()})
		return
	}
	if !deleted {
		writeError(r.Context(), w, http.StatusNotFound, "QUERY_NOT_FOUND", "query definition was not found", false, map[string]any{"key": key})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func toDefinitionResponse(def catalog.Definition) definitionResponse {
	return definitionResponse{
		Key:       def.Key,
		SQL:       def.SQL,
		RootTag:   def.RootTag,
		RowTag:    def.RowTag,
		CreatedAt: def.CreatedAt,
		UpdatedAt: def.UpdatedAt,
	}
}

// requireRole passes when auth is disabled, since no identity is attached.
func requireRole(r *http.Request, role string) error {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return nil
	}
	if identity.HasRole(role) {
		return nil
	}
	return fmt.Errorf("missing required role %q", role)
}
