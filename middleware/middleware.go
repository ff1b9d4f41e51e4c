// Package middleware provides combinators over callback handlers.
//
// A HandlerFunc is the unit both sides share: on the client it is the network
// round trip for one invocation, on the listener it is the registered method
// handler. Middlewares wrap a handler to add behavior around it without
// either side knowing.
package middleware

import (
	"context"

	"cbox-guest/protocol"
)

// HandlerFunc processes one callback invocation and returns its decoded
// result or an error.
type HandlerFunc func(ctx context.Context, req *protocol.Request) (any, error)

// Middleware wraps a handler with additional behavior.
type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares into one. Chain(A, B, C)(h) runs A outermost:
// A before B before C before h.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
