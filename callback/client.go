// Package callback lets code running inside a guest VM invoke named
// operations implemented by the host-side listener, over the vsock channel.
//
// Usage:
//
//	cb := callback.New()
//
//	// Blocking call with no parameters.
//	result, err := cb.Call(ctx, "get_current_time", nil)
//
//	// Blocking call with parameters.
//	result, err = cb.Call(ctx, "process_data", map[string]any{
//		"input": "hello",
//		"count": 5,
//	})
//
//	// Fire-and-forget: the error may be inspected but is safe to ignore.
//	cb.CallAsync("task_started", nil)
//
// Every call opens its own connection, performs exactly one request/response
// exchange, and closes it. Calls hold no shared mutable state, so one Client
// may be used from any number of goroutines.
package callback

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	log "github.com/sirupsen/logrus"

	"cbox-guest/middleware"
	"cbox-guest/protocol"
	"cbox-guest/transport"
)

// Client makes callback RPCs to the host-side listener.
type Client struct {
	dial         transport.Dialer
	timeout      time.Duration
	asyncTimeout time.Duration
	middlewares  []middleware.Middleware
	logger       log.FieldLogger
}

// New creates a client targeting the well-known host endpoint. Options
// override the endpoint, timeouts, and middleware chain.
func New(opts ...Option) *Client {
	c := &Client{
		dial:         transport.VsockDialer(transport.DefaultEndpoint()),
		timeout:      DefaultTimeout,
		asyncTimeout: DefaultAsyncTimeout,
		logger:       log.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call invokes a callback method on the host and blocks for the result.
//
// params may be nil to send no parameter mapping at all; an empty non-nil
// map sends "{}". The returned value is the JSON-decoded response, or the
// raw response text when the listener replied with something that is not
// valid JSON.
//
// Failures are typed: *ConnectionError when the channel cannot be opened,
// *TimeoutError when a blocking operation exceeds the configured timeout,
// and *ProtocolError when the listener explicitly reported an error.
func (c *Client) Call(ctx context.Context, method string, params map[string]any) (any, error) {
	return c.call(ctx, method, params, c.timeout)
}

// CallAsync makes a best-effort, fire-and-forget call with a short deadline.
//
// It provides no delivery guarantee. The underlying outcome is returned for
// callers that want to inspect it, but it is safe to ignore: CallAsync never
// panics and never blocks beyond the async timeout per socket operation.
func (c *Client) CallAsync(method string, params map[string]any) error {
	_, err := c.call(context.Background(), method, params, c.asyncTimeout)
	if err != nil {
		c.logger.WithFields(log.Fields{
			"method": method,
		}).WithError(err).Debug("Fire-and-forget callback failed")
	}
	return err
}

func (c *Client) call(ctx context.Context, method string, params map[string]any, timeout time.Duration) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	req := &protocol.Request{Method: method, Params: params}
	handler := middleware.Chain(c.middlewares...)(func(ctx context.Context, req *protocol.Request) (any, error) {
		return c.roundTrip(req, timeout)
	})
	return handler(ctx, req)
}

// roundTrip performs the full exchange for one request: connect, send,
// receive, decode. The connection is scoped to this function and closed on
// every exit path.
func (c *Client) roundTrip(req *protocol.Request, timeout time.Duration) (any, error) {
	command, err := req.Encode()
	if err != nil {
		return nil, err
	}

	conn, err := c.dial(timeout)
	if err != nil {
		return nil, &ConnectionError{Err: err}
	}
	defer conn.Close()

	raw, err := transport.Exchange(conn, command, timeout)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, &TimeoutError{Method: req.Method, Timeout: timeout, Err: err}
		}
		return nil, fmt.Errorf("callback %q: %w", req.Method, err)
	}

	return protocol.DecodeResponse(raw)
}
