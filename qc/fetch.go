package qc

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"
)

const (
	// DefaultFetchTimeout is the default HTTP request timeout for batch and
	// reference fetches.
	DefaultFetchTimeout = 30 * time.Second

	// DefaultMaxRetries is the default number of retry attempts.
	DefaultMaxRetries = 3

	// defaultBaseBackoff is the base delay for exponential backoff.
	defaultBaseBackoff = 500 * time.Millisecond

	// maxResponseBytes limits the response body to 200 MB; dense embedding
	// matrices for large batches are much bigger than typical JSON payloads.
	maxResponseBytes = 200 << 20
)

// FetchOption configures fetch behavior.
type FetchOption func(*fetchConfig)

type fetchConfig struct {
	timeout     time.Duration
	maxRetries  int
	baseBackoff time.Duration
	client      *http.Client
}

func defaultFetchConfig() fetchConfig {
	return fetchConfig{
		timeout:     DefaultFetchTimeout,
		maxRetries:  DefaultMaxRetries,
		baseBackoff: defaultBaseBackoff,
	}
}

// WithTimeout sets the HTTP request timeout.
func WithTimeout(d time.Duration) FetchOption {
	return func(c *fetchConfig) {
		c.timeout = d
	}
}

// WithMaxRetries sets the maximum number of retry attempts.
func WithMaxRetries(n int) FetchOption {
	return func(c *fetchConfig) {
		c.maxRetries = n
	}
}

// WithBaseBackoff sets the base delay for exponential backoff between retries.
func WithBaseBackoff(d time.Duration) FetchOption {
	return func(c *fetchConfig) {
		c.baseBackoff = d
	}
}

// WithHTTPClient overrides the default HTTP client (useful for testing).
func WithHTTPClient(client *http.Client) FetchOption {
	return func(c *fetchConfig) {
		c.client = client
	}
}

// FetchReference fetches and parses a reference model from an HTTP endpoint
// of the upstream integration pipeline.
func FetchReference(ctx context.Context, apiURL string, opts ...FetchOption) (*ReferenceModel, error) {
	body, err := fetchWithRetry(ctx, "reference", apiURL, opts...)
	if err != nil {
		return nil, err
	}
	m, err := ParseReferenceJSON(body)
	if err != nil {
		return nil, fmt.Errorf("fetch reference: %w", err)
	}
	return m, nil
}

// FetchObservations fetches and parses an observation batch from an HTTP
// endpoint of the upstream integration pipeline.
func FetchObservations(ctx context.Context, apiURL string, opts ...FetchOption) (*ObservationSet, error) {
	body, err := fetchWithRetry(ctx, "observations", apiURL, opts...)
	if err != nil {
		return nil, err
	}
	o, err := ParseObservationsJSON(body)
	if err != nil {
		return nil, fmt.Errorf("fetch observations: %w", err)
	}
	return o, nil
}

// fetchWithRetry performs a GET with exponential backoff on transient
// failures. Parse errors are handled by the callers and never retried.
func fetchWithRetry(ctx context.Context, what, apiURL string, opts ...FetchOption) ([]byte, error) {
	if apiURL == "" {
		return nil, fmt.Errorf("fetch %s: API URL is empty", what)
	}

	cfg := defaultFetchConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	client := cfg.client
	if client == nil {
		client = &http.Client{Timeout: cfg.timeout}
	}

	var lastErr error
	for attempt := range cfg.maxRetries {
		if attempt > 0 {
			backoff := cfg.baseBackoff * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("fetch %s: %w", what, ctx.Err())
			case <-time.After(backoff):
			}
		}

		body, err := doFetch(ctx, client, apiURL)
		if err != nil {
			lastErr = err
			continue
		}
		return body, nil
	}

	return nil, fmt.Errorf("fetch %s: all %d attempts failed: %w", what, cfg.maxRetries, lastErr)
}

// doFetch performs a single HTTP GET and returns the response body bytes.
func doFetch(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP GET %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP GET %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", url, err)
	}

	return body, nil
}
