package dispatch

import (
	"fmt"
	"strings"

	"github.com/sqldump/sqldump/internal/catalog"
	"github.com/sqldump/sqldump/internal/observability"
	"github.com/sqldump/sqldump/internal/query"
	"github.com/sqldump/sqldump/internal/render"
)

const (
	CatalogueRootTag = "queries"
	CatalogueRowTag  = "query"
)

// Entry maps a group of equivalent media types to one serializer.
type Entry struct {
	Name       string
	Types      []string
	Serializer render.Serializer
}

type Registry []Entry

type RenderOptions struct {
	Charset    string
	PrettyXML  bool
	JSONIndent int
}

// DefaultRegistry lists XML first, then JSON, then Parquet.
func DefaultRegistry(opts RenderOptions) Registry {
	return Registry{
		{
			Name:       render.FormatXML,
			Types:      []string{"application/xml", "text/xml"},
			Serializer: render.XMLSerializer{Charset: opts.Charset, Pretty: opts.PrettyXML},
		},
		{
			Name:       render.FormatJSON,
			Types:      []string{"application/json"},
			Serializer: render.JSONSerializer{Indent: opts.JSONIndent},
		},
		{
			Name:       render.FormatParquet,
			Types:      []string{render.ParquetMediaType},
			Serializer: render.ParquetSerializer{},
		},
	}
}

// Document is a rendered response body and the content type to send with it.
type Document struct {
	Body      []byte
	MediaType string
	Format    string
}

// NotAcceptableError means none of the ranked media types is served.
type NotAcceptableError struct {
	Ranked []string
}

func (e *NotAcceptableError) Error() string {
	if len(e.Ranked) == 0 {
		return "no acceptable media type requested"
	}
	return fmt.Sprintf("none of %s is available", strings.Join(e.Ranked, ", "))
}

// Dispatcher picks a serializer for a ranked list of media types.
//
// By default client entries are compared literally against registered
// types, so "*/*" only matches if it is registered itself. ExpandWildcards
// lets "*/*" and "type/*" select the first registered type they cover.
type Dispatcher struct {
	Registry        Registry
	ExpandWildcards bool
	// ValidateXML re-parses XML output against its own DTD before returning it.
	ValidateXML bool
}

func New(registry Registry) *Dispatcher {
	return &Dispatcher{Registry: registry}
}

// Select returns the first entry serving a ranked type, and the media type to
// answer with. In literal mode that is the client's own string.
func (d *Dispatcher) Select(ranked []string) (Entry, string, error) {
	for _, mediaType := range ranked {
		for _, entry := range d.Registry {
			for _, registered := range entry.Types {
				if mediaType == registered {
					return entry, mediaType, nil
				}
			}
		}
		if d.ExpandWildcards {
			if entry, concrete, ok := d.expand(mediaType); ok {
				return entry, concrete, nil
			}
		}
	}
	observability.IncrementNotAcceptable()
	return Entry{}, "", &NotAcceptableError{Ranked: ranked}
}

func (d *Dispatcher) expand(mediaType string) (Entry, string, bool) {
	major, minor, ok := strings.Cut(mediaType, "/")
	if !ok || minor != "*" {
		return Entry{}, "", false
	}
	for _, entry := range d.Registry {
		for _, registered := range entry.Types {
			if major == "*" || strings.HasPrefix(registered, major+"/") {
				return entry, registered, true
			}
		}
	}
	return Entry{}, "", false
}

// ByName resolves a short format name such as "json".
func (d *Dispatcher) ByName(name string) (Entry, error) {
	for _, entry := range d.Registry {
		if strings.EqualFold(entry.Name, name) {
			return entry, nil
		}
	}
	return Entry{}, &render.SerializationError{Format: name, Err: fmt.Errorf("unknown format %q", name)}
}

// Resolve picks the entry for a request. A short format name wins over the
// ranked list and answers with the entry's first media type. Otherwise the
// ranked list must name a registered type; an empty list is not acceptable.
func (d *Dispatcher) Resolve(ranked []string, format string) (Entry, string, error) {
	if format = strings.TrimSpace(format); format != "" {
		entry, err := d.ByName(format)
		if err != nil {
			return Entry{}, "", err
		}
		return entry, entry.Types[0], nil
	}
	return d.Select(ranked)
}

// RenderQuery renders a query result with the definition's tags.
func (d *Dispatcher) RenderQuery(entry Entry, mediaType string, rs query.ResultSet, def catalog.Definition) (Document, error) {
	return d.Render(entry, mediaType, rs, def.RootTag, def.RowTag)
}

// ServeCatalogue renders the list of definitions with columns key, sql, root
// and row.
func (d *Dispatcher) ServeCatalogue(ranked []string, format string, defs []catalog.Definition) (Document, error) {
	entry, mediaType, err := d.Resolve(ranked, format)
	if err != nil {
		return Document{}, err
	}
	return d.Render(entry, mediaType, CatalogueResultSet(defs), CatalogueRootTag, CatalogueRowTag)
}

// Render runs one entry's serializer. mediaType is reported as is.
func (d *Dispatcher) Render(entry Entry, mediaType string, rs query.ResultSet, rootTag, rowTag string) (Document, error) {
	body, err := entry.Serializer.Render(rs, rootTag, rowTag)
	if err == nil && d.ValidateXML && entry.Name == render.FormatXML {
		if verr := render.ValidateXML(body); verr != nil {
			err = &render.SerializationError{Format: entry.Name, Err: fmt.Errorf("validate against DTD: %w", verr)}
		}
	}
	if err != nil {
		observability.IncrementRenderFailure(entry.Name)
		return Document{}, err
	}
	observability.IncrementDocumentsRendered(entry.Name)
	return Document{Body: body, MediaType: mediaType, Format: entry.Name}, nil
}

// CatalogueResultSet lays definitions out as rows of key, sql, root and row.
func CatalogueResultSet(defs []catalog.Definition) query.ResultSet {
	rows := make([][]any, 0, len(defs))
	for _, def := range defs {
		rows = append(rows, []any{def.Key, def.SQL, def.RootTag, def.RowTag})
	}
	return query.ResultSet{Columns: []string{"key", "sql", "root", "row"}, Rows: rows}
}
