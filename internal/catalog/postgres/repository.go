package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sqldump/sqldump/internal/catalog"
)

type Repository struct {
	db *sql.DB
}

var (
	_ catalog.Repository = (*Repository)(nil)
	_ catalog.Auditor    = (*Repository)(nil)
)

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping catalog db: %w", err)
	}
	return nil
}

func (r *Repository) GetDefinition(ctx context.Context, key string) (catalog.Definition, error) {
	if !catalog.ValidKey(key) {
		return catalog.Definition{}, catalog.ErrNotFound
	}

	query := `
SELECT query_key, sql_text, root_tag, row_tag, created_at, updated_at
FROM query_definition
WHERE query_key = $1`

	var def catalog.Definition
	if err := r.db.QueryRowContext(ctx, query, key).Scan(
		&def.Key,
		&def.SQL,
		&def.RootTag,
		&def.RowTag,
		&def.CreatedAt,
		&def.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.Definition{}, catalog.ErrNotFound
		}
		return catalog.Definition{}, fmt.Errorf("get definition: %w", err)
	}
	return def, nil
}

func (r *Repository) ListDefinitions(ctx context.Context) ([]catalog.Definition, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT query_key, sql_text, root_tag, row_tag, created_at, updated_at
FROM query_definition
ORDER BY query_key ASC`)
	if err != nil {
		return nil, fmt.Errorf("list definitions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	defs := make([]catalog.Definition, 0)
	for rows.Next() {
		var def catalog.Definition
		if err := rows.Scan(&def.Key, &def.SQL, &def.RootTag, &def.RowTag, &def.CreatedAt, &def.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan definition row: %w", err)
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate definition rows: %w", err)
	}
	return defs, nil
}

func (r *Repository) UpsertDefinition(ctx context.Context, in catalog.UpsertDefinitionInput) (catalog.Definition, error) {
	in, err := in.Normalize()
	if err != nil {
		return catalog.Definition{}, err
	}

	query := `
INSERT INTO query_definition (query_key, sql_text, root_tag, row_tag)
VALUES ($1, $2, $3, $4)
ON CONFLICT (query_key)
DO UPDATE SET sql_text = EXCLUDED.sql_text, root_tag = EXCLUDED.root_tag, row_tag = EXCLUDED.row_tag, updated_at = NOW()
RETURNING created_at, updated_at`

	def := catalog.Definition{
		Key:     in.Key,
		SQL:     in.SQL,
		RootTag: in.RootTag,
		RowTag:  in.RowTag,
	}
	if err := r.db.QueryRowContext(ctx, query, in.Key, in.SQL, in.RootTag, in.RowTag).Scan(&def.CreatedAt, &def.UpdatedAt); err != nil {
		return catalog.Definition{}, fmt.Errorf("upsert definition: %w", err)
	}
	return def, nil
}

func (r *Repository) DeleteDefinition(ctx context.Context, key string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM query_definition WHERE query_key = $1`, key)
	if err != nil {
		return false, fmt.Errorf("delete definition: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete definition rows affected: %w", err)
	}
	return affected > 0, nil
}

func (r *Repository) RecordExecution(ctx context.Context, record catalog.AuditRecord) error {
	query := `
INSERT INTO query_audit (query_key, restricted, media_type, outcome, row_count, duration_ms, trace_id)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := r.db.ExecContext(ctx, query,
		record.QueryKey,
		record.Restricted,
		record.MediaType,
		record.Outcome,
		record.RowCount,
		record.Duration.Milliseconds(),
		record.TraceID,
	); err != nil {
		return fmt.Errorf("record execution: %w", err)
	}
	return nil
}
