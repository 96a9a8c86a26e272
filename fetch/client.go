package fetch

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"
)

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientConfig tunes the outbound HTTP client.
type ClientConfig struct {
	Timeout   time.Duration
	RetryMax  int
	UserAgent string
	// RequestsPerSecond paces outbound requests. Zero disables pacing.
	RequestsPerSecond float64
	Burst             int
}

// DefaultClientConfig returns the client settings used when none are
// configured.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:           30 * time.Second,
		RetryMax:          2,
		UserAgent:         "mebooks/1.0",
		RequestsPerSecond: 8,
		Burst:             4,
	}
}

// noRedirect hands 3xx responses back to the caller unfollowed.
func noRedirect(*http.Request, []*http.Request) error {
	return http.ErrUseLastResponse
}

// NewHTTPClient builds the client every outbound request goes through:
// retries with backoff for transient failures, request pacing, a fixed
// User-Agent, and no automatic redirect following.
func NewHTTPClient(cfg ClientConfig, logger *slog.Logger) *http.Client {
	if logger == nil {
		logger = slog.Default()
	}
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.RetryMax
	retryClient.RetryWaitMin = 200 * time.Millisecond
	retryClient.RetryWaitMax = 2 * time.Second
	retryClient.Logger = logger
	// Hand back the final 429/5xx response so it can be classified.
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	retryClient.HTTPClient = &http.Client{
		Timeout:       cfg.Timeout,
		CheckRedirect: noRedirect,
		Transport: &pacedTransport{
			limiter:   limiter,
			userAgent: cfg.UserAgent,
			wrapped:   http.DefaultTransport,
		},
	}

	client := retryClient.StandardClient()
	client.CheckRedirect = noRedirect
	return client
}

type pacedTransport struct {
	limiter   *rate.Limiter
	userAgent string
	wrapped   http.RoundTripper
}

func (t *pacedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(req.Context()); err != nil {
			return nil, err
		}
	}
	if t.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.userAgent)
	}
	return t.wrapped.RoundTrip(req)
}

func isRedirect(status int) bool {
	return status >= 300 && status < 400
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}
