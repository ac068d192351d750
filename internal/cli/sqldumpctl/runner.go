package sqldumpctl

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Options struct {
	BaseURL    string
	APIKey     string
	Accept     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

type request struct {
	method string
	path   string
	query  url.Values
	body   []byte
	// document responses are written as received instead of re-indented.
	document bool
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("sqldumpctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "sqldump API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for the admin endpoints")
	accept := fs.String("accept", firstNonEmpty(defaults.Accept, "application/xml"), "Accept header for document commands")
	format := fs.String("format", "", "short format name (xml, json, parquet); overrides -accept")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 30*time.Second), "HTTP timeout (e.g. 10s)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	req, err := buildRequest(fs.Arg(0), fs.Args()[1:], strings.TrimSpace(*format))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "%v\n\n", err)
		writeUsage(stderr)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}

	endpoint := strings.TrimRight(*baseURL, "/") + req.path
	if len(req.query) > 0 {
		endpoint += "?" + req.query.Encode()
	}
	acceptHeader := "application/json"
	if req.document {
		acceptHeader = *accept
	}
	code, responseBody, err := doRequest(ctx, client, req.method, endpoint, *apiKey, acceptHeader, req.body)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}

	if code >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, strings.TrimSpace(string(responseBody)))
		return 1
	}

	if req.document {
		_, _ = stdout.Write(responseBody)
		return 0
	}
	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return 0
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(stdout, string(responseBody))
	}
	return 0
}

func buildRequest(command string, args []string, format string) (request, error) {
	formatQuery := url.Values{}
	if format != "" {
		formatQuery.Set("format", format)
	}

	switch strings.TrimSpace(command) {
	case "health":
		return request{method: http.MethodGet, path: "/v1/health"}, nil
	case "ready":
		return request{method: http.MethodGet, path: "/v1/ready"}, nil
	case "catalogue":
		return request{method: http.MethodGet, path: "/", query: formatQuery, document: true}, nil
	case "queries":
		return request{method: http.MethodGet, path: "/v1/queries"}, nil
	case "show":
		if len(args) != 1 {
			return request{}, fmt.Errorf("show requires <key>")
		}
		return request{method: http.MethodGet, path: "/v1/queries/" + url.PathEscape(args[0])}, nil
	case "define":
		if len(args) < 2 || len(args) > 4 {
			return request{}, fmt.Errorf("define requires <key> <sql> [root] [row]")
		}
		payload := map[string]string{"sql": args[1]}
		if len(args) > 2 {
			payload["root"] = args[2]
		}
		if len(args) > 3 {
			payload["row"] = args[3]
		}
		body, err := json.Marshal(payload)
		if err != nil {
			return request{}, err
		}
		return request{method: http.MethodPut, path: "/v1/queries/" + url.PathEscape(args[0]), body: body}, nil
	case "delete":
		if len(args) != 1 {
			return request{}, fmt.Errorf("delete requires <key>")
		}
		return request{method: http.MethodDelete, path: "/v1/queries/" + url.PathEscape(args[0])}, nil
	case "run":
		if len(args) < 1 || len(args) > 2 {
			return request{}, fmt.Errorf("run requires <key> [uuid]")
		}
		path := "/q/" + url.PathEscape(args[0]) + "/"
		if len(args) == 2 {
			path += url.PathEscape(args[1]) + "/"
		}
		return request{method: http.MethodGet, path: path, query: formatQuery, document: true}, nil
	case "export":
		if len(args) < 1 || len(args) > 2 {
			return request{}, fmt.Errorf("export requires <key> [uuid]")
		}
		if len(args) == 2 {
			formatQuery.Set("uuid", args[1])
		}
		return request{method: http.MethodPost, path: "/v1/exports/" + url.PathEscape(args[0]), query: formatQuery}, nil
	case "exports":
		if len(args) != 1 {
			return request{}, fmt.Errorf("exports requires <key>")
		}
		return request{method: http.MethodGet, path: "/v1/exports/" + url.PathEscape(args[0])}, nil
	case "fetch-export":
		if len(args) != 2 {
			return request{}, fmt.Errorf("fetch-export requires <key> <name>")
		}
		return request{method: http.MethodGet, path: "/v1/exports/" + url.PathEscape(args[0]) + "/" + url.PathEscape(args[1]), document: true}, nil
	case "delete-export":
		if len(args) != 2 {
			return request{}, fmt.Errorf("delete-export requires <key> <name>")
		}
		return request{method: http.MethodDelete, path: "/v1/exports/" + url.PathEscape(args[0]) + "/" + url.PathEscape(args[1])}, nil
	default:
		return request{}, fmt.Errorf("unknown command %q", command)
	}
}

func doRequest(ctx context.Context, client *http.Client, method, url, apiKey, accept string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", accept)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(apiKey) != "" {
		req.Header.Set("X-API-Key", strings.TrimSpace(apiKey))
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, responseBody, nil
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: sqldumpctl [flags] <command> [args]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health                      GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready                       GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  catalogue                   GET /")
	_, _ = fmt.Fprintln(w, "  queries                     GET /v1/queries")
	_, _ = fmt.Fprintln(w, "  show <key>                  GET /v1/queries/{key}")
	_, _ = fmt.Fprintln(w, "  define <key> <sql> [root] [row]")
	_, _ = fmt.Fprintln(w, "                              PUT /v1/queries/{key}")
	_, _ = fmt.Fprintln(w, "  delete <key>                DELETE /v1/queries/{key}")
	_, _ = fmt.Fprintln(w, "  run <key> [uuid]            GET /q/{key}/[{uuid}/]")
	_, _ = fmt.Fprintln(w, "  export <key> [uuid]         POST /v1/exports/{key}")
	_, _ = fmt.Fprintln(w, "  exports <key>               GET /v1/exports/{key}")
	_, _ = fmt.Fprintln(w, "  fetch-export <key> <name>   GET /v1/exports/{key}/{name}")
	_, _ = fmt.Fprintln(w, "  delete-export <key> <name>  DELETE /v1/exports/{key}/{name}")
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
