package fetch

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"
)

// DefaultUserAgent identifies outbound requests from the shell backend.
const DefaultUserAgent = "Tankoban-HTTP/1.0"

// Client wraps resty with retrying transport and rate limiting.
type Client struct {
	Resty   *resty.Client
	Limiter *rate.Limiter
	mu      sync.RWMutex
}

// NewClient creates the production HTTP client used for health probes,
// filter-list fetches, and local service APIs.
func NewClient() *Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 1 * time.Second
	retryClient.RetryWaitMax = 30 * time.Second
	retryClient.Logger = nil

	restyClient := resty.New()
	restyClient.
		SetTimeout(30 * time.Second).
		SetHeader("User-Agent", DefaultUserAgent).
		SetTransport(retryClient.HTTPClient.Transport)

	return &Client{
		Resty:   restyClient,
		Limiter: rate.NewLimiter(rate.Inf, 0),
	}
}

// NewLocalClient creates a client tuned for localhost service APIs: short
// timeout, no retries (callers own their retry policy).
func NewLocalClient() *Client {
	restyClient := resty.New().
		SetTimeout(10 * time.Second).
		SetHeader("User-Agent", DefaultUserAgent)

	return &Client{
		Resty:   restyClient,
		Limiter: rate.NewLimiter(rate.Inf, 0),
	}
}

// Request creates a rate-limited request bound to ctx.
func (c *Client) Request(ctx context.Context) (*resty.Request, error) {
	c.mu.RLock()
	limiter := c.Limiter
	c.mu.RUnlock()

	if err := limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return c.Resty.R().SetContext(ctx), nil
}

// SetRateLimit configures rate limiting (requests per second).
func (c *Client) SetRateLimit(rps float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rps <= 0 {
		c.Limiter = rate.NewLimiter(rate.Inf, 0)
	} else {
		c.Limiter = rate.NewLimiter(rate.Limit(rps), int(rps))
	}
}

// SetTimeout configures request timeout.
func (c *Client) SetTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Resty.SetTimeout(d)
}

// SetCookieJar attaches a shared cookie jar. Used by the headless navigator
// so page fetches read and write the browser profile's cookies.
func (c *Client) SetCookieJar(jar http.CookieJar) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Resty.SetCookieJar(jar)
}
