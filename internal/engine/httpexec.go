package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Aryanpatel2001/voiceflow/internal/flow"
)

const (
	minHTTPTimeout     = 1 * time.Second
	maxHTTPTimeout     = 30 * time.Second
	defaultHTTPTimeout = 10 * time.Second
	maxHTTPBody        = 1 << 20
)

// HTTPExecutor runs http-type function nodes. URL, headers and body are
// template-resolved against the session variables before the request goes
// out.
type HTTPExecutor struct {
	Client *http.Client
}

func NewHTTPExecutor() *HTTPExecutor {
	return &HTTPExecutor{Client: &http.Client{Timeout: maxHTTPTimeout}}
}

// Execute performs the request and returns the variable updates produced by
// the node's response mappings. Any failure (transport, non-2xx, bad JSON,
// timeout) is returned as an error; the caller records it as a status
// variable rather than killing the call.
func (x *HTTPExecutor) Execute(ctx context.Context, p *flow.HTTPParams, vars map[string]any) (map[string]any, error) {
	if p == nil {
		return nil, fmt.Errorf("http function: missing parameters")
	}

	timeout := time.Duration(p.TimeoutSeconds) * time.Second
	if p.TimeoutSeconds == 0 {
		timeout = defaultHTTPTimeout
	} else if timeout < minHTTPTimeout {
		timeout = minHTTPTimeout
	} else if timeout > maxHTTPTimeout {
		timeout = maxHTTPTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := strings.ToUpper(p.Method)
	if method == "" {
		method = http.MethodGet
	}
	url := flow.Resolve(p.URL, vars)

	var body io.Reader
	if p.Body != "" {
		body = strings.NewReader(flow.Resolve(p.Body, vars))
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("http function: build request: %w", err)
	}
	if p.Body != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range p.Headers {
		req.Header.Set(k, flow.Resolve(v, vars))
	}

	resp, err := x.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http function: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxHTTPBody))
	if err != nil {
		return nil, fmt.Errorf("http function: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("http function: status %d", resp.StatusCode)
	}

	if len(p.ResponseMappings) == 0 {
		return nil, nil
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("http function: decode response: %w", err)
	}

	updates := make(map[string]any, len(p.ResponseMappings))
	for name, path := range p.ResponseMappings {
		if v, ok := flow.LookupPath(decoded, path); ok {
			updates[name] = v
		}
	}
	return updates, nil
}
