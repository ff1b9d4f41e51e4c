package callback

import (
	"time"

	log "github.com/sirupsen/logrus"

	"cbox-guest/middleware"
	"cbox-guest/transport"
)

const (
	// DefaultTimeout bounds each blocking operation of a synchronous call.
	DefaultTimeout = 30 * time.Second

	// DefaultAsyncTimeout is the short deadline of fire-and-forget calls.
	DefaultAsyncTimeout = 5 * time.Second
)

// Option configures a Client.
type Option func(*Client)

// WithEndpoint targets a vsock endpoint other than the default host address.
func WithEndpoint(ep transport.Endpoint) Option {
	return func(c *Client) {
		c.dial = transport.VsockDialer(ep)
	}
}

// WithDialer replaces the dialer entirely. Tests use this to point the
// client at an ordinary TCP listener.
func WithDialer(dial transport.Dialer) Option {
	return func(c *Client) {
		c.dial = dial
	}
}

// WithTimeout sets the per-operation timeout of synchronous calls.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithAsyncTimeout sets the deadline of fire-and-forget calls.
func WithAsyncTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.asyncTimeout = d
	}
}

// WithMiddleware wraps every call made by the client, outermost first.
func WithMiddleware(middlewares ...middleware.Middleware) Option {
	return func(c *Client) {
		c.middlewares = append(c.middlewares, middlewares...)
	}
}

// WithLogger replaces the client's logger.
func WithLogger(logger log.FieldLogger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}
