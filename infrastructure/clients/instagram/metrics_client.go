package instagram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"reel-tracker/domain/model"
	"reel-tracker/domain/repository"
	"reel-tracker/infrastructure/logger"

	"github.com/google/go-querystring/query"
)

const (
	UnknownUsername = "unknown"

	maxBodyBytes = 2 << 20
)

// Synthetic fallback bounds, inclusive.
const (
	fallbackMinViews    = 1000
	fallbackMaxViews    = 50000
	fallbackMinLikes    = 50
	fallbackMaxLikes    = 5000
	fallbackMinComments = 5
	fallbackMaxComments = 500
)

// Config represents the upstream metrics provider configuration
type Config struct {
	BaseURL string
	APIKey  string
	APIHost string
	Timeout time.Duration
}

// Client fetches reel metrics from a RapidAPI-style scraper endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	apiHost    string
	httpClient *http.Client
	int63n     func(n int64) int64
}

type metricsQuery struct {
	URL       string `url:"url"`
	Shortcode string `url:"shortcode"`
}

var _ repository.IMetricsFetcher = (*Client)(nil)

// NewClient creates a metrics client with a bounded per-request timeout.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "?"),
		apiKey:  cfg.APIKey,
		apiHost: cfg.APIHost,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   5 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 5 * time.Second,
				MaxIdleConns:        20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		int63n: rand.Int63n,
	}
}

// WithRandom replaces the source used for synthetic fallback numbers (fluent).
func (c *Client) WithRandom(int63n func(n int64) int64) *Client {
	c.int63n = int63n
	return c
}

// Fetch returns current metrics for one post URL.
//
// Invalid URLs return model.ErrInvalidReelURL and throttling returns a *model.RateLimitError.
// Every other upstream failure is absorbed into synthetic metrics flagged with Fallback.
func (c *Client) Fetch(ctx context.Context, sourceURL string) (*model.ReelMetrics, error) {
	shortcode, err := ExtractShortcode(sourceURL)
	if err != nil {
		return nil, err
	}
	lg := logger.GetLogger().WithField("shortcode", shortcode)

	if c.baseURL == "" {
		lg.Debug("metrics provider not configured, using fallback data")
		return c.fallback(shortcode), nil
	}

	metrics, err := c.request(ctx, sourceURL, shortcode)
	if err != nil {
		var rl *model.RateLimitError
		if errors.As(err, &rl) {
			lg.WithField("retry_after", rl.RetryAfter.String()).Warn("metrics provider rate limited")
			return nil, err
		}
		lg.WithField("error", err.Error()).Warn("metrics provider unusable, using fallback data")
		return c.fallback(shortcode), nil
	}

	metrics.Shortcode = shortcode
	if metrics.Username == "" {
		metrics.Username = UnknownUsername
	}
	if metrics.Thumbnail == "" {
		metrics.Thumbnail = PlaceholderThumbnail(shortcode)
	}
	return metrics, nil
}

func (c *Client) request(ctx context.Context, sourceURL, shortcode string) (*model.ReelMetrics, error) {
	values, err := query.Values(metricsQuery{URL: sourceURL, Shortcode: shortcode})
	if err != nil {
		return nil, err
	}
	sep := "?"
	if strings.Contains(c.baseURL, "?") {
		sep = "&"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+sep+values.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-RapidAPI-Key", c.apiKey)
	}
	if c.apiHost != "" {
		req.Header.Set("X-RapidAPI-Host", c.apiHost)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &model.RateLimitError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: upstream status %d", errProviderPayload, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	return normalizePayload(body)
}

func (c *Client) fallback(shortcode string) *model.ReelMetrics {
	return &model.ReelMetrics{
		Shortcode: shortcode,
		Username:  UnknownUsername,
		Views:     c.between(fallbackMinViews, fallbackMaxViews),
		Likes:     c.between(fallbackMinLikes, fallbackMaxLikes),
		Comments:  c.between(fallbackMinComments, fallbackMaxComments),
		Thumbnail: PlaceholderThumbnail(shortcode),
		Fallback:  true,
	}
}

func (c *Client) between(lo, hi int64) int64 {
	return lo + c.int63n(hi-lo+1)
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
