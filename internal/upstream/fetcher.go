// Package upstream wraps the real-time prediction feed behind a reliability
// boundary: per-attempt timeouts, a bounded retry budget, and embedded
// error-code checking. It knows nothing about caching or shaping.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"trainwatch.transitboard.org/internal/logging"
)

const (
	// DefaultTimeout bounds a single attempt against the upstream.
	DefaultTimeout = 5 * time.Second
	// DefaultMaxRetries is the number of immediate re-attempts after the
	// first failure, so 3 attempts total.
	DefaultMaxRetries = 2

	maxBodySize = 10 * 1024 * 1024
)

// upstreamHTTPClient is a dedicated HTTP client for prediction fetches,
// configured with explicit transport limits to avoid the pitfalls of
// http.DefaultClient (no timeout, shared global state). The transport is
// cloned from http.DefaultTransport to preserve important defaults
// (ProxyFromEnvironment, DialContext, HTTP/2, keepalives).
var upstreamHTTPClient = newUpstreamHTTPClient()

func newUpstreamHTTPClient() *http.Client {
	var transport *http.Transport
	if t, ok := http.DefaultTransport.(*http.Transport); ok {
		transport = t.Clone()
	} else {
		transport = &http.Transport{}
	}
	transport.MaxIdleConns = 50
	transport.MaxIdleConnsPerHost = 10
	transport.IdleConnTimeout = 90 * time.Second
	transport.TLSHandshakeTimeout = 10 * time.Second
	transport.ExpectContinueTimeout = 1 * time.Second

	return &http.Client{
		// The per-attempt context deadline is the operative bound; this is
		// a safety net in case a caller forgets one.
		Timeout:   30 * time.Second,
		Transport: transport,
	}
}

// Config holds the upstream endpoint and reliability policy.
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
}

// Fetcher issues logical requests to the upstream prediction feed.
type Fetcher struct {
	config Config
	client *http.Client
	logger *slog.Logger
}

// NewFetcher creates a Fetcher. Zero Timeout/MaxRetries fall back to the
// package defaults.
func NewFetcher(config Config, logger *slog.Logger) *Fetcher {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = DefaultMaxRetries
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		config: config,
		client: upstreamHTTPClient,
		logger: logger.With(slog.String("component", "upstream_fetcher")),
	}
}

// FetchStations requests predictions for one or more parent stations.
func (f *Fetcher) FetchStations(ctx context.Context, stationIDs []string) ([]ArrivalRecord, error) {
	params := url.Values{}
	params.Set("mapid", strings.Join(stationIDs, ","))
	return f.fetch(ctx, params)
}

// FetchStop requests predictions for a single platform.
func (f *Fetcher) FetchStop(ctx context.Context, stopID string) ([]ArrivalRecord, error) {
	params := url.Values{}
	params.Set("stpid", stopID)
	return f.fetch(ctx, params)
}

// fetch runs the retry loop: immediate re-attempts on retryable failures up
// to the configured bound, surfacing the last attempt's error on exhaustion.
func (f *Fetcher) fetch(ctx context.Context, params url.Values) ([]ArrivalRecord, error) {
	requestURL, err := f.buildURL(params)
	if err != nil {
		// A malformed base URL cannot improve with retries.
		return nil, fmt.Errorf("invalid upstream URL: %w", err)
	}

	attempts := 1 + f.config.MaxRetries
	var lastErr *Error

	for attempt := 1; attempt <= attempts; attempt++ {
		records, attemptErr := f.attempt(ctx, requestURL)
		if attemptErr == nil {
			return records, nil
		}

		attemptErr.Attempts = attempt
		lastErr = attemptErr

		if !attemptErr.Retryable() {
			break
		}
		logging.LogError(f.logger, "upstream attempt failed", attemptErr,
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts))
	}

	return nil, lastErr
}

func (f *Fetcher) buildURL(params url.Values) (string, error) {
	u, err := url.Parse(f.config.BaseURL)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("base URL %q has no scheme or host", f.config.BaseURL)
	}
	q := u.Query()
	for key, values := range params {
		q[key] = values
	}
	if f.config.APIKey != "" {
		q.Set("key", f.config.APIKey)
	}
	q.Set("outputType", "JSON")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// attempt performs one bounded request/decode cycle.
func (f *Fetcher) attempt(ctx context.Context, requestURL string) ([]ArrivalRecord, *Error) {
	attemptCtx, cancel := context.WithTimeout(ctx, f.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, &Error{Kind: KindLogical, Message: "failed to build request", Err: err}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &Error{Kind: KindTimeout, Message: "request timed out", Err: err}
		}
		return nil, &Error{Kind: KindTransport, Message: "request failed", Err: err}
	}
	defer logging.SafeCloseWithLogging(resp.Body, f.logger, "http_response_body")

	if resp.StatusCode != http.StatusOK {
		return nil, &Error{
			Kind:    KindBadStatus,
			Status:  resp.StatusCode,
			Message: fmt.Sprintf("upstream returned %s", resp.Status),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
	if err != nil {
		return nil, &Error{Kind: KindTransport, Message: "failed to read response body", Err: err}
	}
	if int64(len(body)) > maxBodySize {
		return nil, &Error{Kind: KindLogical, Message: fmt.Sprintf("response exceeds size limit of %d bytes", maxBodySize)}
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &Error{Kind: KindLogical, Message: "failed to decode response", Err: err}
	}

	if env.Payload.ErrorCode != "" && env.Payload.ErrorCode != "0" {
		msg := "upstream reported error code " + env.Payload.ErrorCode
		if env.Payload.ErrorName != nil && *env.Payload.ErrorName != "" {
			msg += ": " + *env.Payload.ErrorName
		}
		return nil, &Error{Kind: KindLogical, Message: msg}
	}

	if env.Payload.Arrivals == nil {
		return nil, &Error{Kind: KindLogical, Message: "response is missing arrival data"}
	}

	return env.Payload.Arrivals, nil
}
