package ociclient

import (
	"log/slog"
	"net/http"
	"runtime"
	"time"
)

const defaultUserAgent = "ociclient/1.0"

// Client is an OCI Distribution Specification client.
//
// A Client is safe for concurrent use: any number of operations may run at
// the same time against the same or different references. The only state
// shared across calls is the per-host credential cache and the bearer token
// cache; each operation otherwise builds its own requests.
type Client struct {
	httpClient *http.Client
	plainHTTP  bool
	userAgent  string
	platform   Platform
	tokenTTL   time.Duration
	logger     *slog.Logger

	transport *transport
}

// New creates a client with the given options.
//
// By default the client speaks HTTPS, resolves multi-platform indexes
// against the runtime's OS and architecture, and performs anonymous access
// until a call supplies credentials.
func New(opts ...Option) *Client {
	c := &Client{
		userAgent: defaultUserAgent,
		platform: Platform{
			OS:           runtime.GOOS,
			Architecture: runtime.GOARCH,
		},
		tokenTTL: defaultTokenCacheTTL,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}

	c.transport = &transport{
		client:    c.httpClient,
		userAgent: c.userAgent,
		plainHTTP: c.plainHTTP,
		creds:     newCredentialStore(),
		tokens:    newTokenCache(c.tokenTTL),
		logger:    c.logger,
	}

	return c
}
