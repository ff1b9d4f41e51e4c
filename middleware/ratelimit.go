package middleware

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"cbox-guest/protocol"
)

// RateLimit rejects invocations beyond r per second with bursts of up to
// burst, using a shared token bucket. Useful on the listener side to keep a
// chatty guest from monopolizing the host handler.
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *protocol.Request) (any, error) {
			if !limiter.Allow() {
				return nil, fmt.Errorf("rate limit exceeded for callback %q", req.Method)
			}
			return next(ctx, req)
		}
	}
}
