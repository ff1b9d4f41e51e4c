package middleware

import (
	"context"
	"fmt"
	"time"

	"cbox-guest/protocol"
)

// Timeout caps a single invocation with a context deadline. The wrapped
// handler keeps running in its goroutine after the deadline fires; the
// connection-scoped socket timeouts below it bound how long that lingers.
func Timeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *protocol.Request) (any, error) {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()

			type outcome struct {
				result any
				err    error
			}
			done := make(chan outcome, 1)
			go func() {
				result, err := next(ctx, req)
				done <- outcome{result: result, err: err}
			}()

			select {
			case o := <-done:
				return o.result, o.err
			case <-ctx.Done():
				return nil, fmt.Errorf("callback %q: %w", req.Method, ctx.Err())
			}
		}
	}
}
