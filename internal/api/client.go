package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/coinkiri/coinsync/internal/auth"
)

// Client provides authenticated access to the coinkiri REST API.
//
// Every request carries the current access token; on an authentication
// failure the client delegates to the auth.Manager for a single-flight
// reissue and retries the request exactly once. Recovered auth failures
// are invisible to callers.
type Client struct {
	baseURL    string
	auth       *auth.Manager
	httpClient *http.Client
	logger     *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a new REST API client.
func NewClient(baseURL string, mgr *auth.Manager, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		auth:    mgr,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: slog.Default(),
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
