package middleware

import (
	"context"
	"errors"
	"net"
	"time"

	"cbox-guest/protocol"
)

// transientError is implemented by errors worth retrying: failures of the
// channel itself rather than of the remote handler.
type transientError interface {
	Transient() bool
}

func isTransient(err error) bool {
	var te transientError
	if errors.As(err, &te) {
		return te.Transient()
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Retry re-invokes the handler on transient failures (connection failures
// and timeouts) with exponential backoff. Protocol errors reported by the
// remote handler are never retried.
//
// The bare synchronous call performs no retries; this is strictly opt-in.
func Retry(maxRetries int, baseDelay time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *protocol.Request) (any, error) {
			result, err := next(ctx, req)
			for attempt := 0; attempt < maxRetries && err != nil && isTransient(err); attempt++ {
				select {
				case <-time.After(baseDelay * time.Duration(1<<attempt)):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
				result, err = next(ctx, req)
			}
			return result, err
		}
	}
}
