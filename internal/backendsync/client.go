// Package backendsync forwards push subscriptions to the backend that stores
// them for the authenticated user.
package backendsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/tinywideclouds/go-push-subscriber/pkg/subscription"
)

// RegisterPath is the backend route that upserts a web-push subscription.
const RegisterPath = "/api/v1/register/web"

// Config holds the client settings.
type Config struct {
	BaseURL string
	// AccessToken is sent as a bearer token when set.
	AccessToken string
	Timeout     time.Duration

	// BreakerTimeout is how long the breaker stays open before probing again.
	BreakerTimeout time.Duration
}

// statusError is a non-2xx backend response.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.code, e.body)
}

// Client implements subscription.BackendSync. It makes exactly one request per
// Persist call; the breaker only short-circuits while the backend is failing.
type Client struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
	breaker     *gobreaker.CircuitBreaker[struct{}]
	logger      *slog.Logger
}

func NewClient(cfg Config, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	breakerTimeout := cfg.BreakerTimeout
	if breakerTimeout <= 0 {
		breakerTimeout = 30 * time.Second
	}

	logger = logger.With("component", "BackendSync")
	breaker := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "backend-sync",
		MaxRequests: 1,
		Timeout:     breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		IsSuccessful: func(err error) bool {
			// A 4xx is the caller's problem, not the backend's health.
			var se *statusError
			if errors.As(err, &se) {
				return se.code < 500
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		accessToken: cfg.AccessToken,
		httpClient:  httpClient,
		breaker:     breaker,
		logger:      logger,
	}
}

// Persist posts the subscription. Every failure wraps ErrBackendPersist.
func (c *Client) Persist(ctx context.Context, req subscription.PersistRequest) error {
	if req.Endpoint == "" || req.P256dh == "" || req.Auth == "" {
		return fmt.Errorf("%w: incomplete subscription", subscription.ErrBackendPersist)
	}

	_, err := c.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, c.post(ctx, req)
	})
	if err != nil {
		c.logger.Error("Failed to persist subscription", "endpoint", req.Endpoint, "err", err)
		return fmt.Errorf("%w: %w", subscription.ErrBackendPersist, err)
	}

	c.logger.Debug("Subscription persisted", "endpoint", req.Endpoint)
	return nil
}

func (c *Client) post(ctx context.Context, req subscription.PersistRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal subscription: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+RegisterPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.accessToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("transport error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(msg))}
	}
	return nil
}
