// Package market is a client for a market data service that serves price
// quotes and listing metadata for crypto assets. The service is
// self-hosted or proxied, so there is no default base URL.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// ErrNotFound means the API has no record of the symbol.
var ErrNotFound = eris.New("market: symbol not found")

// Client fetches market data.
type Client interface {
	Quote(ctx context.Context, symbol string) (*Quote, error)
	Listing(ctx context.Context, symbol string) (*Listing, error)
}

// Quote is the latest trading snapshot for a symbol.
type Quote struct {
	Symbol       string    `json:"symbol"`
	PriceUSD     float64   `json:"price_usd"`
	Change1hPct  float64   `json:"percent_change_1h"`
	Change24hPct float64   `json:"percent_change_24h"`
	Volume24hUSD float64   `json:"volume_24h_usd"`
	MarketCapUSD float64   `json:"market_cap_usd"`
	UpdatedAt    time.Time `json:"last_updated"`
}

// Listing is the registry metadata for a symbol.
type Listing struct {
	Symbol           string    `json:"symbol"`
	Name             string    `json:"name"`
	Active           bool      `json:"is_active"`
	FirstListedAt    time.Time `json:"first_data_at"`
	ExchangeCount    int       `json:"exchange_count"`
	ContractVerified bool      `json:"contract_verified"`
	Chain            string    `json:"platform"`
}

// StatusError is a non-200, non-404 response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("market: unexpected status %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether the status is worth retrying.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(url, "/")
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit caps outbound requests per second.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a market data client. apiKey may be empty for
// keyless tiers.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 15 * time.Second},
		limiter: rate.NewLimiter(10, 10),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Quote(ctx context.Context, symbol string) (*Quote, error) {
	var q Quote
	if err := c.get(ctx, "/quotes/"+url.PathEscape(normalize(symbol)), &q); err != nil {
		return nil, err
	}
	if q.Symbol == "" {
		q.Symbol = normalize(symbol)
	}
	return &q, nil
}

func (c *httpClient) Listing(ctx context.Context, symbol string) (*Listing, error) {
	var l Listing
	if err := c.get(ctx, "/assets/"+url.PathEscape(normalize(symbol)), &l); err != nil {
		return nil, err
	}
	if l.Symbol == "" {
		l.Symbol = normalize(symbol)
	}
	return &l, nil
}

func (c *httpClient) get(ctx context.Context, path string, out any) error {
	if c.baseURL == "" {
		return eris.New("market: base url not configured")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "market: rate limit wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return eris.Wrap(err, "market: create request")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "market: send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return eris.Wrap(err, "market: read response")
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return eris.Wrapf(ErrNotFound, "path %s", path)
	case resp.StatusCode != http.StatusOK:
		return &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return eris.Wrap(err, "market: unmarshal response")
	}
	return nil
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
