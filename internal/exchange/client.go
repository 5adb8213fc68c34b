package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// MaxWindowHours is the widest [from, to) span a single HourlyKlines call
// accepts, matching the exchange's per-request row limit. Callers split
// larger windows into batches.
const MaxWindowHours = 1000

// Request weights per the exchange's published limits.
const (
	weightKlines    = 2
	weightTicker24h = 40
)

// Client provides rate-limited access to the exchange's public REST API.
type Client struct {
	baseURL    string
	quoteAsset string
	httpClient *http.Client
	limiter    *WeightLimiter
	logger     *slog.Logger

	maxRetries   int
	retryBackoff time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a new exchange client. The limiter is required: all
// calls pass through its weight accounting before touching the network.
func NewClient(baseURL string, limiter *WeightLimiter, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		quoteAsset: "USDT",
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter:      limiter,
		logger:       slog.Default(),
		maxRetries:   3,
		retryBackoff: time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRetries sets the retry configuration.
func WithRetries(max int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = max
		c.retryBackoff = backoff
	}
}

// WithQuoteAsset sets the quote asset used to filter tradable pairs.
func WithQuoteAsset(quote string) ClientOption {
	return func(c *Client) {
		c.quoteAsset = quote
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// TopByVolume returns the top-N symbols quoted in the configured asset,
// ordered by 24h quote volume descending. Volume is a proxy for market
// capitalization; the public API does not expose the real figure.
func (c *Client) TopByVolume(ctx context.Context, limit int) ([]SymbolTicker, error) {
	body, err := c.get(ctx, "/api/v3/ticker/24hr", nil, weightTicker24h)
	if err != nil {
		return nil, err
	}

	var tickers []SymbolTicker
	if err := json.Unmarshal(body, &tickers); err != nil {
		return nil, fmt.Errorf("decode ticker response: %w", err)
	}

	filtered := tickers[:0]
	for _, t := range tickers {
		if strings.HasSuffix(t.Symbol, c.quoteAsset) {
			filtered = append(filtered, t)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].QuoteVolume.GreaterThan(filtered[j].QuoteVolume)
	})
	if len(filtered) > limit {
		filtered = filtered[:limit]
	}
	return filtered, nil
}

// HourlyKlines fetches hourly candles for symbol in [from, to). The span
// must not exceed MaxWindowHours.
func (c *Client) HourlyKlines(ctx context.Context, symbol string, from, to time.Time) ([]Kline, error) {
	from = from.UTC().Truncate(time.Hour)
	to = to.UTC().Truncate(time.Hour)
	if !to.After(from) {
		return nil, fmt.Errorf("invalid window [%s, %s)", from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	hours := int(to.Sub(from) / time.Hour)
	if hours > MaxWindowHours {
		return nil, fmt.Errorf("window of %d hours exceeds %d-hour request limit", hours, MaxWindowHours)
	}

	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("interval", "1h")
	query.Set("startTime", strconv.FormatInt(from.UnixMilli(), 10))
	// endTime is inclusive upstream; step back one millisecond to keep
	// the half-open window semantics.
	query.Set("endTime", strconv.FormatInt(to.UnixMilli()-1, 10))
	query.Set("limit", strconv.Itoa(MaxWindowHours))

	body, err := c.get(ctx, "/api/v3/klines", query, weightKlines)
	if err != nil {
		return nil, err
	}
	return parseKlines(body)
}

// get performs a rate-limited GET with retries, mapping failures onto
// the upstream error taxonomy.
func (c *Client) get(ctx context.Context, path string, query url.Values, weight int) ([]byte, error) {
	var lastErr error
	backoff := c.retryBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			// Jitter: backoff * (0.5 to 1.5)
			jitter := backoff/2 + time.Duration(rand.Int64N(int64(backoff)))
			c.logger.Debug("retrying exchange request",
				"attempt", attempt,
				"backoff", jitter,
				"path", path,
			)
			if err := sleepCtx(ctx, jitter); err != nil {
				return nil, err
			}
			backoff *= 2
		}

		if err := c.limiter.Wait(ctx, weight); err != nil {
			return nil, err
		}

		body, err := c.doRequest(ctx, path, query)
		if err == nil {
			return body, nil
		}
		lastErr = err

		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.Retryable() {
			break
		}
	}

	var apiErr *APIError
	if errors.As(lastErr, &apiErr) {
		if apiErr.RateLimited() {
			return nil, fmt.Errorf("%w: %v", ErrRateLimited, lastErr)
		}
		if apiErr.StatusCode >= 500 {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
		}
		return nil, lastErr
	}
	return nil, fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

func (c *Client) doRequest(ctx context.Context, path string, query url.Values) ([]byte, error) {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Body:       truncate(string(body), 200),
		}
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
