// Package http provides the execution module for making HTTP requests from
// a node.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vk/grainload/internal/ctxlog"
	"github.com/vk/grainload/internal/plugin"
	"github.com/vk/grainload/internal/registry"
)

// DefaultTimeout applies when http_request_timeout is unset.
const DefaultTimeout = time.Hour

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register registers the http execution module.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterBuiltin("module", "http", func() plugin.Unit { return New() })
}

// Unit keeps one client per import so connections are reused across calls.
type Unit struct {
	*plugin.Native
	client *http.Client
}

// New returns a fresh http unit.
func New() *Unit {
	u := &Unit{
		Native: plugin.NewNative("http"),
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	u.Define("query", u.query)
	return u
}

// Request is one http.query call.
type Request struct {
	URL     string
	Method  string
	Data    string
	Headers map[string]string
	Decode  string // "", "json" or "yaml"
	Timeout time.Duration
}

// query(url, method="GET", data=null, header_dict=null, decode=false,
// decode_type="json")
func (u *Unit) query(ctx context.Context, args ...any) (any, error) {
	a, err := plugin.BindArgs(args, "url", "method", "data", "header_dict", "decode", "decode_type")
	if err != nil {
		return nil, fmt.Errorf("http.query: %w", err)
	}
	req := Request{
		URL:     a.String("url", ""),
		Method:  strings.ToUpper(a.String("method", http.MethodGet)),
		Data:    a.String("data", ""),
		Timeout: DefaultTimeout,
	}
	if req.URL == "" {
		return nil, fmt.Errorf("http.query: url is required")
	}
	if hd, ok := a["header_dict"].(map[string]any); ok {
		req.Headers = make(map[string]string, len(hd))
		for k, v := range hd {
			req.Headers[k] = plugin.ToString(v)
		}
	}
	if a.Bool("decode", false) {
		req.Decode = a.String("decode_type", "json")
	}
	if c := u.Shared(); c != nil {
		if v, ok := c.Opts["http_request_timeout"]; ok {
			if secs, err := toSeconds(v); err == nil {
				req.Timeout = secs
			}
		}
	}
	return Query(ctx, u.client, req)
}

func toSeconds(v any) (time.Duration, error) {
	switch t := v.(type) {
	case int:
		return time.Duration(t) * time.Second, nil
	case float64:
		return time.Duration(t * float64(time.Second)), nil
	default:
		return 0, fmt.Errorf("not a number of seconds: %v", v)
	}
}

// Query performs req and returns the status, the body text and, when asked,
// the decoded body under "dict". A non-2xx status is not an error; the
// caller inspects "status".
func Query(ctx context.Context, client *http.Client, req Request) (map[string]any, error) {
	logger := ctxlog.FromContext(ctx).With("method", req.Method, "url", req.URL)

	ctx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	var body io.Reader
	if req.Data != "" {
		body = bytes.NewBufferString(req.Data)
	}
	hreq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range req.Headers {
		hreq.Header.Set(k, v)
	}

	logger.Debug("Making HTTP request.")
	resp, err := client.Do(hreq)
	if err != nil {
		return map[string]any{"error": err.Error()}, nil
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	logger.Debug("Received HTTP response.", "status", resp.StatusCode, "bytes", len(raw))

	headers := make(map[string]any, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}
	out := map[string]any{
		"status":  resp.StatusCode,
		"body":    string(raw),
		"headers": headers,
	}

	switch req.Decode {
	case "":
	case "json":
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("failed to decode JSON response: %w", err)
		}
		out["dict"] = v
	case "yaml":
		var v any
		if err := yaml.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("failed to decode YAML response: %w", err)
		}
		out["dict"] = v
	default:
		return nil, fmt.Errorf("unsupported decode_type %q", req.Decode)
	}
	return out, nil
}
