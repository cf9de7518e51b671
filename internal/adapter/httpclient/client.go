// Package httpclient is the outbound HTTP client used by commands that call
// third-party APIs. Calls go through a per-client circuit breaker.
package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker/v2"

	"lotus-md/internal/domain"
)

const (
	defaultTimeout     = 10 * time.Second
	defaultMaxFailures = uint32(5)
	defaultOpenTimeout = 30 * time.Second
	defaultInterval    = 60 * time.Second

	maxBodyBytes = 1 << 20
)

// Config configures timeouts and breaker thresholds.
type Config struct {
	Timeout time.Duration
	// MaxFailures is the number of consecutive failures before the circuit opens.
	MaxFailures uint32
	// OpenTimeout is how long the circuit stays open before a probe is allowed.
	OpenTimeout time.Duration
	// Interval clears failure counts while the circuit is closed.
	Interval time.Duration
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http status %d", e.Code)
	}
	return fmt.Sprintf("http status %d: %s", e.Code, e.Body)
}

// Unwrap maps 429 to domain.ErrRateLimit so callers can treat it as retryable.
func (e *StatusError) Unwrap() error {
	if e.Code == http.StatusTooManyRequests {
		return domain.ErrRateLimit
	}
	return nil
}

// Client performs JSON GET requests behind a circuit breaker.
type Client struct {
	name    string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	logger  *slog.Logger
}

// New creates a client. Zero config fields take defaults.
func New(name string, cfg Config, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = defaultMaxFailures
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = defaultOpenTimeout
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}

	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "http:" + name,
		MaxRequests: 1,
		Interval:    cfg.Interval,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		// Client errors say nothing about the upstream's health.
		IsSuccessful: func(err error) bool {
			var se *StatusError
			if errors.As(err, &se) {
				return se.Code < 500
			}
			return err == nil
		},
	})

	return &Client{
		name: name,
		http: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   cfg.Timeout,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				ForceAttemptHTTP2:   true,
			},
		},
		breaker: cb,
		logger:  logger,
	}
}

// GetJSON fetches base?query and decodes the JSON body into out.
func (c *Client) GetJSON(ctx context.Context, base string, query url.Values, out any) error {
	u, err := url.Parse(base)
	if err != nil {
		return fmt.Errorf("%w: bad url %q: %w", domain.ErrInvalidInput, base, err)
	}
	if len(query) > 0 {
		q := u.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.get(ctx, u.String())
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%s circuit open: %w: %w", c.name, domain.ErrProviderError, err)
		}
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", c.name, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// url.Error repeats the full URL, API keys included.
		var ue *url.Error
		if errors.As(err, &ue) {
			err = ue.Err
		}
		return nil, fmt.Errorf("%s request: %w", c.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%s read body: %w", c.name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return body, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

// State reports the breaker state.
func (c *Client) State() gobreaker.State { return c.breaker.State() }
