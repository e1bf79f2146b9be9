package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

// Client provides typed access to the counter API for interactive tools.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = "http://localhost:5000"
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// APIError represents an error response from the API.
type APIError struct {
	Status  int
	Message string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, headers map[string]string, v any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, val := range headers {
		req.Header.Set(k, val)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return APIError{Status: resp.StatusCode, Message: extractError(resp.Body)}
	}
	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func extractError(body io.Reader) string {
	if body == nil {
		return ""
	}
	var payload struct {
		Error string `json:"error"`
	}
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		return ""
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return strings.TrimSpace(string(data))
	}
	return strings.TrimSpace(payload.Error)
}

// SourceReport mirrors the per-source report payload.
type SourceReport struct {
	Rates map[string]int64 `json:"rates"`
	Total int64            `json:"total"`
	Repos map[string]int64 `json:"repos"`
}

// Point is one bucket of a decoded series.
type Point struct {
	At    time.Time
	Count int64
}

// Points returns the series oldest first. Labels that are not RFC 3339
// timestamps are skipped.
func (r SourceReport) Points() []Point {
	out := make([]Point, 0, len(r.Rates))
	for label, n := range r.Rates {
		at, err := time.Parse(time.RFC3339, label)
		if err != nil {
			continue
		}
		out = append(out, Point{At: at, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}

// RepoCount pairs a repository with its count.
type RepoCount struct {
	Repo  string
	Count int64
}

// TopRepos returns up to n repositories ordered by count, then name.
func (r SourceReport) TopRepos(n int) []RepoCount {
	out := make([]RepoCount, 0, len(r.Repos))
	for repo, count := range r.Repos {
		out = append(out, RepoCount{Repo: repo, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Repo < out[j].Repo
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Report fetches the report for every source. A single-source deployment is
// returned under the empty name.
func (c *Client) Report(ctx context.Context) (map[string]SourceReport, error) {
	var raw map[string]json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/report", nil, &raw); err != nil {
		return nil, err
	}
	if _, flat := raw["total"]; flat {
		var single SourceReport
		if err := decodeFlat(raw, &single); err != nil {
			return nil, err
		}
		return map[string]SourceReport{"": single}, nil
	}
	out := make(map[string]SourceReport, len(raw))
	for name, body := range raw {
		var rep SourceReport
		if err := json.Unmarshal(body, &rep); err != nil {
			return nil, fmt.Errorf("decode source %s: %w", name, err)
		}
		out[name] = rep
	}
	return out, nil
}

// ReportSource fetches the report for one source.
func (c *Client) ReportSource(ctx context.Context, name string) (SourceReport, error) {
	var rep SourceReport
	err := c.do(ctx, http.MethodGet, "/report/"+url.PathEscape(strings.TrimSpace(name)), nil, &rep)
	return rep, err
}

// ReloadResult is the summary returned by an admin reload.
type ReloadResult struct {
	Shape      string `json:"shape"`
	DurationMS int64  `json:"duration_ms"`
	Sources    map[string]struct {
		Repos   int `json:"repos"`
		Rates   int `json:"rates"`
		Skipped int `json:"skipped"`
	} `json:"sources"`
}

// Reload triggers a reload of the historical counters.
func (c *Client) Reload(ctx context.Context, adminToken string) (ReloadResult, error) {
	var res ReloadResult
	headers := map[string]string{"X-Admin-Token": strings.TrimSpace(adminToken)}
	err := c.do(ctx, http.MethodPost, "/admin/reload", headers, &res)
	return res, err
}

func decodeFlat(raw map[string]json.RawMessage, rep *SourceReport) error {
	if body, ok := raw["rates"]; ok {
		if err := json.Unmarshal(body, &rep.Rates); err != nil {
			return fmt.Errorf("decode rates: %w", err)
		}
	}
	if body, ok := raw["repos"]; ok {
		if err := json.Unmarshal(body, &rep.Repos); err != nil {
			return fmt.Errorf("decode repos: %w", err)
		}
	}
	if err := json.Unmarshal(raw["total"], &rep.Total); err != nil {
		return fmt.Errorf("decode total: %w", err)
	}
	return nil
}
