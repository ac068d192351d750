package observability

import (
	"context"
	"io"
	"log/slog"

	"github.com/sqldump/sqldump/internal/config"
)

type ctxKey string

const (
	traceIDKey        ctxKey = "trace_id"
	requestDetailsKey ctxKey = "request_details"
)

// NewLogger builds the service logger. Every record carries the service,
// the profile and the driver stored queries run against.
func NewLogger(cfg config.Config, writer io.Writer) *slog.Logger {
	if writer == nil {
		writer = io.Discard
	}
	options := &slog.HandlerOptions{Level: cfg.Observability.LogLevel}
	var handler slog.Handler
	if cfg.Observability.LogJSON {
		handler = slog.NewJSONHandler(writer, options)
	} else {
		handler = slog.NewTextHandler(writer, options)
	}
	return slog.New(handler).With(
		slog.String("service", cfg.Service.Name),
		slog.String("profile", string(cfg.Profile)),
		slog.String("datasource_driver", cfg.DataSource.Driver),
	)
}

func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

func TraceIDFromContext(ctx context.Context) string {
	value, ok := ctx.Value(traceIDKey).(string)
	if !ok {
		return ""
	}
	return value
}

// RequestDetails collects what a handler learns about a stored query request
// so the access log and response metrics can report it. A nil
// *RequestDetails ignores every call.
type RequestDetails struct {
	Principal string
	QueryKey  string
	Format    string
	MediaType string
	Outcome   string
	Rows      int
	executed  bool
}

// SetPrincipal records the authenticated caller.
func (d *RequestDetails) SetPrincipal(principal string) {
	if d == nil {
		return
	}
	d.Principal = principal
}

// SetQueryKey records the stored query the request addresses.
func (d *RequestDetails) SetQueryKey(key string) {
	if d == nil {
		return
	}
	d.QueryKey = key
}

// SetDocument records the negotiated representation.
func (d *RequestDetails) SetDocument(format, mediaType string) {
	if d == nil {
		return
	}
	d.Format = format
	d.MediaType = mediaType
}

// SetExecution records how the stored query ran.
func (d *RequestDetails) SetExecution(outcome string, rows int) {
	if d == nil {
		return
	}
	d.Outcome = outcome
	d.Rows = rows
	d.executed = true
}

func (d *RequestDetails) attrs() []slog.Attr {
	if d == nil {
		return nil
	}
	var attrs []slog.Attr
	if d.Principal != "" {
		attrs = append(attrs, slog.String("principal", d.Principal))
	}
	if d.QueryKey != "" {
		attrs = append(attrs, slog.String("query_key", d.QueryKey))
	}
	if d.Format != "" {
		attrs = append(attrs, slog.String("format", d.Format), slog.String("media_type", d.MediaType))
	}
	if d.executed {
		attrs = append(attrs, slog.String("outcome", d.Outcome), slog.Int("rows", d.Rows))
	}
	return attrs
}

// ContextWithRequestDetails attaches details, reusing ones already present.
func ContextWithRequestDetails(ctx context.Context) (context.Context, *RequestDetails) {
	if details := RequestDetailsFromContext(ctx); details != nil {
		return ctx, details
	}
	details := &RequestDetails{}
	return context.WithValue(ctx, requestDetailsKey, details), details
}

func RequestDetailsFromContext(ctx context.Context) *RequestDetails {
	details, _ := ctx.Value(requestDetailsKey).(*RequestDetails)
	return details
}
