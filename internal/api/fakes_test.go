package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sqldump/sqldump/internal/auth"
	"github.com/sqldump/sqldump/internal/catalog"
	"github.com/sqldump/sqldump/internal/config"
	"github.com/sqldump/sqldump/internal/dispatch"
	"github.com/sqldump/sqldump/internal/export"
	"github.com/sqldump/sqldump/internal/query"
)

type memoryDefinitions struct {
	mu     sync.Mutex
	defs   map[string]catalog.Definition
	health error
}

func newMemoryDefinitions(defs ...catalog.Definition) *memoryDefinitions {
	store := &memoryDefinitions{defs: map[string]catalog.Definition{}}
	for _, def := range defs {
		store.defs[def.Key] = def
	}
	return store
}

func (m *memoryDefinitions) HealthCheck(context.Context) error {
	return m.health
}

func (m *memoryDefinitions) GetDefinition(_ context.Context, key string) (catalog.Definition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	def, ok := m.defs[key]
	if !ok {
		return catalog.Definition{}, catalog.ErrNotFound
	}
	return def, nil
}

func (m *memoryDefinitions) ListDefinitions(context.Context) ([]catalog.Definition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defs := make([]catalog.Definition, 0, len(m.defs))
	for _, def := range m.defs {
		defs = append(defs, def)
	}
	slices.SortFunc(defs, func(a, b catalog.Definition) int {
		return strings.Compare(a.Key, b.Key)
	})
	return defs, nil
}

func (m *memoryDefinitions) UpsertDefinition(_ context.Context, in catalog.UpsertDefinitionInput) (catalog.Definition, error) {
	in, err := in.Normalize()
	if err != nil {
		return catalog.Definition{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	def := catalog.Definition{Key: in.Key, SQL: in.SQL, RootTag: in.RootTag, RowTag: in.RowTag, CreatedAt: now, UpdatedAt: now}
	if existing, ok := m.defs[in.Key]; ok {
		def.CreatedAt = existing.CreatedAt
	}
	m.defs[in.Key] = def
	return def, nil
}

func (m *memoryDefinitions) DeleteDefinition(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.defs[key]; !ok {
		return false, nil
	}
	delete(m.defs, key)
	return true, nil
}

type fakeRunner struct {
	result       query.ResultSet
	err          error
	calls        int
	restrictions []string
}

func (f *fakeRunner) Execute(_ context.Context, _ catalog.Definition, restriction string) (query.ResultSet, error) {
	f.calls++
	f.restrictions = append(f.restrictions, restriction)
	if f.err != nil {
		return query.ResultSet{}, f.err
	}
	return f.result, nil
}

type recordingAuditor struct {
	records []catalog.AuditRecord
}

func (a *recordingAuditor) RecordExecution(_ context.Context, record catalog.AuditRecord) error {
	a.records = append(a.records, record)
	return nil
}

type storedExport struct {
	info export.Export
	body []byte
}

type memoryArchive struct {
	exports []storedExport
	saveErr error
}

func (m *memoryArchive) Save(_ context.Context, queryKey string, doc dispatch.Document) (export.Export, error) {
	if m.saveErr != nil {
		return export.Export{}, m.saveErr
	}
	name := "20260301T120000Z-" + string(rune('a'+len(m.exports))) + "." + doc.Format
	info := export.Export{
		QueryKey:  queryKey,
		Name:      name,
		ObjectKey: "exports/" + queryKey + "/" + name,
		Format:    doc.Format,
		MediaType: doc.MediaType,
		Size:      int64(len(doc.Body)),
	}
	m.exports = append(m.exports, storedExport{info: info, body: doc.Body})
	return info, nil
}

func (m *memoryArchive) List(_ context.Context, queryKey string, limit int) ([]export.Export, error) {
	items := make([]export.Export, 0)
	for i := len(m.exports) - 1; i >= 0; i-- {
		if stored := m.exports[i]; stored.info.QueryKey == queryKey {
			items = append(items, stored.info)
		}
		if limit > 0 && len(items) == limit {
			break
		}
	}
	return items, nil
}

func (m *memoryArchive) Open(_ context.Context, queryKey, name string) (io.ReadCloser, export.Export, error) {
	for _, stored := range m.exports {
		if stored.info.QueryKey == queryKey && stored.info.Name == name {
			return io.NopCloser(bytes.NewReader(stored.body)), stored.info, nil
		}
	}
	return nil, export.Export{}, export.ErrNotFound
}

func (m *memoryArchive) Delete(_ context.Context, queryKey, name string) error {
	for i, stored := range m.exports {
		if stored.info.QueryKey == queryKey && stored.info.Name == name {
			m.exports = append(m.exports[:i], m.exports[i+1:]...)
			return nil
		}
	}
	return export.ErrNotFound
}

func citizensDefinition() catalog.Definition {
	return catalog.Definition{Key: "citizens", SQL: "SELECT name, age FROM citizen", RootTag: "citizens", RowTag: "citizen"}
}

func citizensResult() query.ResultSet {
	return query.ResultSet{
		Columns: []string{"name", "age"},
		Rows:    [][]any{{"Alice", int64(31)}, {`O'Brien <"Bob">`, int64(45)}},
	}
}

type testEnv struct {
	handler     http.Handler
	definitions *memoryDefinitions
	runner      *fakeRunner
	auditor     *recordingAuditor
	exports     *memoryArchive
	logs        *bytes.Buffer
}

// newTestEnv builds a handler over in-memory fakes. A non-empty keys value
// installs static API key auth.
func newTestEnv(t *testing.T, env map[string]string, keys string) *testEnv {
	t.Helper()
	cfg, err := config.Load("sqldump-api", mapLookup(env))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	te := &testEnv{
		definitions: newMemoryDefinitions(citizensDefinition()),
		runner:      &fakeRunner{result: citizensResult()},
		auditor:     &recordingAuditor{},
		exports:     &memoryArchive{},
		logs:        &bytes.Buffer{},
	}
	deps := Dependencies{
		Logger:         slog.New(slog.NewJSONHandler(te.logs, nil)),
		Definitions:    te.definitions,
		Runner:         te.runner,
		Dispatcher:     dispatch.New(dispatch.DefaultRegistry(dispatch.RenderOptions{Charset: "UTF-8", JSONIndent: 2})),
		Auditor:        te.auditor,
		Exports:        te.exports,
		RestrictColumn: "uuid",
	}
	if keys != "" {
		validator, err := auth.NewStaticAPIKeyValidator(keys)
		if err != nil {
			t.Fatalf("validator setup failed: %v", err)
		}
		deps.AuthMiddleware = auth.Middleware(nil, validator)
	}
	te.handler = NewHandler(cfg, deps)
	return te
}

func (te *testEnv) do(t *testing.T, method, target string, body io.Reader, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	for name, value := range header {
		req.Header.Set(name, value)
	}
	rr := httptest.NewRecorder()
	te.handler.ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rr.Body.String(), err)
	}
	return body
}

func mapLookup(values map[string]string) config.LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}

// accessRecord returns the last http_request log record.
func (te *testEnv) accessRecord(t *testing.T) map[string]any {
	t.Helper()
	var found map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(te.logs.Bytes()), []byte("\n")) {
		var record map[string]any
		if err := json.Unmarshal(line, &record); err != nil {
			t.Fatalf("decode log line %q: %v", line, err)
		}
		if record["msg"] == "http_request" {
			found = record
		}
	}
	if found == nil {
		t.Fatalf("no access record in %q", te.logs.String())
	}
	return found
}
