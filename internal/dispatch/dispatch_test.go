package dispatch

import (
	"errors"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"github.com/sqldump/sqldump/internal/catalog"
	"github.com/sqldump/sqldump/internal/negotiate"
	"github.com/sqldump/sqldump/internal/query"
	"github.com/sqldump/sqldump/internal/render"
)

func newDispatcher() *Dispatcher {
	d := New(DefaultRegistry(RenderOptions{JSONIndent: 2}))
	d.ValidateXML = true
	return d
}

func serveQuery(d *Dispatcher, ranked []string, rs query.ResultSet, def catalog.Definition) (Document, error) {
	entry, mediaType, err := d.Select(ranked)
	if err != nil {
		return Document{}, err
	}
	return d.RenderQuery(entry, mediaType, rs, def)
}

func sampleResult(t *testing.T) (query.ResultSet, catalog.Definition) {
	t.Helper()
	rs, err := query.NewResultSet([]string{"host", "vcpus"}, [][]any{{"node-1", int64(8)}, {"node-2", int64(16)}})
	if err != nil {
		t.Fatalf("NewResultSet() error = %v", err)
	}
	return rs, catalog.Definition{Key: "hosts", SQL: "SELECT * FROM hosts", RootTag: "hosts", RowTag: "host"}
}

func TestRenderQueryFirstRankedMatchWins(t *testing.T) {
	rs, def := sampleResult(t)
	doc, err := serveQuery(newDispatcher(), negotiate.Rank("application/json;q=0.2, application/xml", ""), rs, def)
	if err != nil {
		t.Fatalf("serveQuery() error = %v", err)
	}
	if doc.MediaType != "application/xml" || doc.Format != render.FormatXML {
		t.Fatalf("doc = %s/%s", doc.MediaType, doc.Format)
	}
	if !strings.Contains(string(doc.Body), `<host host="node-1" vcpus="8"></host>`) {
		t.Fatalf("body = %s", doc.Body)
	}
}

func TestRenderQueryEchoesRequestedAlias(t *testing.T) {
	rs, def := sampleResult(t)
	doc, err := serveQuery(newDispatcher(), []string{"text/xml"}, rs, def)
	if err != nil {
		t.Fatalf("serveQuery() error = %v", err)
	}
	if doc.MediaType != "text/xml" {
		t.Fatalf("MediaType = %q", doc.MediaType)
	}
}

func TestRenderQuerySkipsUnregisteredTypes(t *testing.T) {
	rs, def := sampleResult(t)
	doc, err := serveQuery(newDispatcher(), []string{"application/pdf", "application/json"}, rs, def)
	if err != nil {
		t.Fatalf("serveQuery() error = %v", err)
	}
	var rows []map[string]any
	if err := json.Unmarshal(doc.Body, &rows); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(rows) != 2 || rows[1]["host"] != "node-2" {
		t.Fatalf("rows = %#v", rows)
	}
}

func TestRenderQueryNotAcceptable(t *testing.T) {
	rs, def := sampleResult(t)
	_, err := serveQuery(newDispatcher(), negotiate.Rank("application/pdf", ""), rs, def)
	var notAcceptable *NotAcceptableError
	if !errors.As(err, &notAcceptable) {
		t.Fatalf("error = %v, want NotAcceptableError", err)
	}
	if len(notAcceptable.Ranked) != 1 || notAcceptable.Ranked[0] != "application/pdf" {
		t.Fatalf("Ranked = %v", notAcceptable.Ranked)
	}
	var serr *render.SerializationError
	if errors.As(err, &serr) {
		t.Fatal("not acceptable must not be a serialization error")
	}
}

func TestWildcardsAreLiteralByDefault(t *testing.T) {
	rs, def := sampleResult(t)
	_, err := serveQuery(newDispatcher(), []string{"*/*"}, rs, def)
	var notAcceptable *NotAcceptableError
	if !errors.As(err, &notAcceptable) {
		t.Fatalf("error = %v, want NotAcceptableError", err)
	}
}

func TestExpandWildcards(t *testing.T) {
	rs, def := sampleResult(t)
	d := newDispatcher()
	d.ExpandWildcards = true

	doc, err := serveQuery(d, []string{"*/*"}, rs, def)
	if err != nil {
		t.Fatalf("serveQuery(*/*) error = %v", err)
	}
	if doc.MediaType != "application/xml" {
		t.Fatalf("MediaType = %q", doc.MediaType)
	}

	doc, err = serveQuery(d, []string{"text/*"}, rs, def)
	if err != nil {
		t.Fatalf("serveQuery(text/*) error = %v", err)
	}
	if doc.MediaType != "text/xml" {
		t.Fatalf("MediaType = %q", doc.MediaType)
	}

	if _, err := serveQuery(d, []string{"image/*"}, rs, def); err == nil {
		t.Fatal("expected image/* to stay unacceptable")
	}
}

func TestByName(t *testing.T) {
	d := newDispatcher()
	entry, err := d.ByName("JSON")
	if err != nil {
		t.Fatalf("ByName() error = %v", err)
	}
	if entry.Types[0] != "application/json" {
		t.Fatalf("entry = %+v", entry)
	}

	_, err = d.ByName("yaml")
	var serr *render.SerializationError
	if !errors.As(err, &serr) || serr.Format != "yaml" {
		t.Fatalf("error = %v, want SerializationError", err)
	}
}

func TestResolve(t *testing.T) {
	d := newDispatcher()

	entry, mediaType, err := d.Resolve([]string{"application/xml"}, "json")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if entry.Name != render.FormatJSON || mediaType != "application/json" {
		t.Fatalf("format override: entry = %s, media type = %s", entry.Name, mediaType)
	}


	_, _, err = d.Resolve([]string{"application/json"}, "yaml")
	var serr *render.SerializationError
	if !errors.As(err, &serr) {
		t.Fatalf("error = %v, want SerializationError", err)
	}

	_, _, err = d.Resolve([]string{"application/pdf"}, "")
	var nae *NotAcceptableError
	if !errors.As(err, &nae) {
		t.Fatalf("error = %v, want NotAcceptableError", err)
	}
}

func TestResolveWithoutPreferenceIsNotAcceptable(t *testing.T) {
	d := newDispatcher()
	for _, ranked := range [][]string{nil, negotiate.Rank("", ""), negotiate.Rank("  ,  ", "")} {
		_, _, err := d.Resolve(ranked, "")
		var nae *NotAcceptableError
		if !errors.As(err, &nae) {
			t.Fatalf("Resolve(%q) error = %v, want NotAcceptableError", ranked, err)
		}
	}

	entry, mediaType, err := d.Resolve(nil, "xml")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if entry.Name != render.FormatXML || mediaType != "application/xml" {
		t.Fatalf("format without Accept: entry = %s, media type = %s", entry.Name, mediaType)
	}
}

func TestRenderFailureIsSerializationError(t *testing.T) {
	d := newDispatcher()
	rs, err := query.NewResultSet([]string{"count(*)"}, [][]any{{int64(3)}})
	if err != nil {
		t.Fatalf("NewResultSet() error = %v", err)
	}
	_, err = serveQuery(d, []string{"application/xml"}, rs, catalog.Definition{RootTag: "root", RowTag: "row"})
	var serr *render.SerializationError
	if !errors.As(err, &serr) {
		t.Fatalf("error = %v, want SerializationError", err)
	}
}

func TestServeCatalogue(t *testing.T) {
	defs := []catalog.Definition{
		{Key: "hosts", SQL: "SELECT * FROM hosts", RootTag: "hosts", RowTag: "host"},
		{Key: "instances", SQL: "SELECT * FROM instances WHERE state <> 'gone'", RootTag: "root", RowTag: "row"},
	}
	d := newDispatcher()

	doc, err := d.ServeCatalogue([]string{"application/xml"}, "", defs)
	if err != nil {
		t.Fatalf("ServeCatalogue() error = %v", err)
	}
	body := string(doc.Body)
	if !strings.Contains(body, "<!DOCTYPE queries [") || !strings.Contains(body, `key="instances"`) {
		t.Fatalf("body = %s", body)
	}
	if !strings.Contains(body, `sql="SELECT * FROM instances WHERE state &lt;&gt; &#39;gone&#39;"`) {
		t.Fatalf("sql attribute not escaped:\n%s", body)
	}

	doc, err = d.ServeCatalogue(nil, "json", defs)
	if err != nil {
		t.Fatalf("ServeCatalogue() error = %v", err)
	}
	var rows []map[string]string
	if err := json.Unmarshal(doc.Body, &rows); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(rows) != 2 || rows[0]["key"] != "hosts" || rows[0]["row"] != "host" {
		t.Fatalf("rows = %#v", rows)
	}
}

func TestServeCatalogueEmpty(t *testing.T) {
	doc, err := newDispatcher().ServeCatalogue([]string{"application/json"}, "", nil)
	if err != nil {
		t.Fatalf("ServeCatalogue() error = %v", err)
	}
	if string(doc.Body) != "[]" {
		t.Fatalf("body = %s", doc.Body)
	}
}
