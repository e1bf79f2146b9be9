package reload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultFetchTimeout = 30 * time.Second
	maxDocumentSize     = 32 << 20
	maxErrorBodySize    = 4096
)

// ErrUnexpectedStatus indicates the data source answered with a non-2xx status.
var ErrUnexpectedStatus = errors.New("reload: unexpected status")

// Fetcher retrieves the raw historical document.
type Fetcher interface {
	Fetch(ctx context.Context) ([]byte, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context) ([]byte, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context) ([]byte, error) {
	return f(ctx)
}

// HTTPFetcher downloads the document with a GET request.
type HTTPFetcher struct {
	url    string
	client *http.Client
}

// NewHTTPFetcher creates a fetcher for url. A nil client or one without a
// timeout gets the default 30s timeout.
func NewHTTPFetcher(url string, client *http.Client) (*HTTPFetcher, error) {
	trimmed := strings.TrimSpace(url)
	if trimmed == "" {
		return nil, errors.New("reload url required")
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		return nil, fmt.Errorf("reload url must be http(s): %q", trimmed)
	}
	if client == nil {
		client = &http.Client{Timeout: defaultFetchTimeout}
	} else if client.Timeout == 0 {
		client.Timeout = defaultFetchTimeout
	}
	return &HTTPFetcher{url: trimmed, client: client}, nil
}

// URL returns the document location.
func (f *HTTPFetcher) URL() string {
	return f.url
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build reload request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch reload document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		buf, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		summary := strings.TrimSpace(string(buf))
		if summary == "" {
			summary = resp.Status
		}
		return nil, fmt.Errorf("%w %d: %s", ErrUnexpectedStatus, resp.StatusCode, summary)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize+1))
	if err != nil {
		return nil, fmt.Errorf("read reload document: %w", err)
	}
	if len(body) > maxDocumentSize {
		return nil, fmt.Errorf("reload document exceeds %d bytes", maxDocumentSize)
	}
	return body, nil
}
