package middleware

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"cbox-guest/protocol"
)

// Logging logs each invocation with its duration and outcome.
func Logging(logger log.FieldLogger) Middleware {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *protocol.Request) (any, error) {
			start := time.Now()
			result, err := next(ctx, req)

			fields := log.Fields{
				"method":   req.Method,
				"duration": time.Since(start),
			}
			if err != nil {
				logger.WithFields(fields).WithError(err).Warn("Callback failed")
			} else {
				logger.WithFields(fields).Debug("Callback completed")
			}
			return result, err
		}
	}
}
