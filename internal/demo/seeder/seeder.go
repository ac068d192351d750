package seeder

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// Service fills a demo table with generated citizens and optionally stores a
// query definition that serves it.
type Service struct {
	cfg       Config
	db        *sql.DB
	log       *slog.Logger
	http      *http.Client
	generator *Generator
}

type definitionRequest struct {
	SQL     string `json:"sql"`
	RootTag string `json:"root"`
	RowTag  string `json:"row"`
}

type Summary struct {
	Table              string `json:"table"`
	RowsInserted       int    `json:"rows_inserted"`
	DefinitionUploaded bool   `json:"definition_uploaded"`
}

func NewService(cfg Config, db *sql.DB, logger *slog.Logger, client *http.Client) (*Service, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	if !identifierPattern.MatchString(cfg.TableName) {
		return nil, fmt.Errorf("invalid table name %q", cfg.TableName)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.HTTPTimeout}
	}
	return &Service{
		cfg:       cfg,
		db:        db,
		log:       logger,
		http:      client,
		generator: NewGenerator(cfg.Seed),
	}, nil
}

func (s *Service) Run(ctx context.Context) (Summary, error) {
	summary := Summary{Table: s.cfg.TableName}
	if err := s.ensureTable(ctx); err != nil {
		return summary, err
	}
	inserted, err := s.insertRows(ctx)
	summary.RowsInserted = inserted
	if err != nil {
		return summary, err
	}
	s.log.Info("seeded demo table", slog.String("table", s.cfg.TableName), slog.Int("rows", inserted))

	if !s.cfg.RegisterDefinition {
		return summary, nil
	}
	if err := s.registerDefinition(ctx); err != nil {
		return summary, err
	}
	summary.DefinitionUploaded = true
	s.log.Info("stored demo query definition", slog.String("query_key", s.cfg.QueryKey))
	return summary, nil
}

// DefinitionSQL is the statement stored for the demo query.
func (s *Service) DefinitionSQL() string {
	return fmt.Sprintf("SELECT uuid, name, email, city, born_on, score, motto FROM %s ORDER BY name", s.cfg.TableName)
}

func (s *Service) ensureTable(ctx context.Context) error {
	statement := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	uuid VARCHAR(36) PRIMARY KEY,
	name TEXT NOT NULL,
	email TEXT NOT NULL,
	city TEXT NOT NULL,
	born_on VARCHAR(10) NOT NULL,
	score DOUBLE PRECISION NOT NULL,
	motto TEXT
)`, s.cfg.TableName)
	if _, err := s.db.ExecContext(ctx, statement); err != nil {
		return fmt.Errorf("create demo table: %w", err)
	}
	return nil
}

func (s *Service) insertRows(ctx context.Context) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	statement := fmt.Sprintf(
		"INSERT INTO %s (uuid, name, email, city, born_on, score, motto) VALUES (%s)",
		s.cfg.TableName, placeholders(s.cfg.Driver, 7),
	)
	inserted := 0
	for range s.cfg.Rows {
		c := s.generator.NextCitizen()
		motto := sql.NullString{}
		if c.Motto != nil {
			motto = sql.NullString{String: *c.Motto, Valid: true}
		}
		if _, err := tx.ExecContext(ctx, statement, c.UUID, c.Name, c.Email, c.City, c.BornOn, c.Score, motto); err != nil {
			return 0, fmt.Errorf("insert citizen %s: %w", c.UUID, err)
		}
		inserted++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit insert: %w", err)
	}
	return inserted, nil
}

func (s *Service) registerDefinition(ctx context.Context) error {
	raw, err := json.Marshal(definitionRequest{
		SQL:     s.DefinitionSQL(),
		RootTag: s.cfg.QueryKey,
		RowTag:  s.cfg.RowTag,
	})
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}

	endpoint := s.cfg.APIBaseURL + "/v1/queries/" + url.PathEscape(s.cfg.QueryKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", s.cfg.APIKey)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("store definition: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("store definition failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// placeholders returns n bind markers in the style the driver expects.
func placeholders(driver string, n int) string {
	marks := make([]string, n)
	for i := range marks {
		switch driver {
		case "pgx", "postgres":
			marks[i] = fmt.Sprintf("$%d", i+1)
		default:
			marks[i] = "?"
		}
	}
	return strings.Join(marks, ", ")
}
