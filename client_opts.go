package ociclient

import (
	"log/slog"
	"net/http"
	"time"
)

// Option configures a [Client].
type Option func(*Client)

// WithPlainHTTP makes the client speak unencrypted HTTP to every registry.
// Intended for local registries and tests; production registries require
// the HTTPS default.
func WithPlainHTTP(plainHTTP bool) Option {
	return func(c *Client) {
		c.plainHTTP = plainHTTP
	}
}

// WithHTTPClient replaces the underlying HTTP client. Use this to set
// per-request timeouts, proxies, or custom TLS configuration.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(userAgent string) Option {
	return func(c *Client) {
		if userAgent != "" {
			c.userAgent = userAgent
		}
	}
}

// WithLogger sets the logger for debug output. Logging is disabled when no
// logger is provided.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithPlatform overrides the platform used to resolve multi-platform image
// indexes. The default is the runtime's OS and architecture with no variant.
func WithPlatform(platform Platform) Option {
	return func(c *Client) {
		c.platform = platform
	}
}

// WithTokenCacheTTL sets the default lifetime for cached bearer tokens,
// used when the token service does not advertise expires_in. A zero or
// negative value disables token caching.
func WithTokenCacheTTL(ttl time.Duration) Option {
	return func(c *Client) {
		c.tokenTTL = ttl
	}
}
