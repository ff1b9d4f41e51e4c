// Package listener implements the host-side callback listener: it accepts
// stream connections from guests, reads line-delimited CALLBACK commands,
// dispatches them to registered handlers, and writes one line-delimited
// response per command.
//
// The listener is transport-agnostic: it serves any net.Listener, so
// production binds a vsock listener while tests bind loopback TCP.
package listener

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"cbox-guest/middleware"
	"cbox-guest/protocol"
)

// Server dispatches callback commands to registered handlers.
type Server struct {
	mu             sync.RWMutex
	handlers       map[string]middleware.HandlerFunc
	defaultHandler middleware.HandlerFunc

	middlewares []middleware.Middleware
	chain       middleware.HandlerFunc

	listener net.Listener
	wg       sync.WaitGroup // in-flight connections, for graceful shutdown
	shutdown atomic.Bool
}

// NewServer creates a listener with no handlers registered.
func NewServer() *Server {
	return &Server{
		handlers: make(map[string]middleware.HandlerFunc),
	}
}

// Handle registers the handler for one callback method. Registering the same
// method twice replaces the previous handler.
func (s *Server) Handle(method string, h middleware.HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = h
}

// HandleDefault registers a fallback handler invoked for methods with no
// dedicated handler. Without one, unknown methods produce an error response.
func (s *Server) HandleDefault(h middleware.HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaultHandler = h
}

// Use appends middlewares around every dispatched command, in registration
// order. Must be called before Serve.
func (s *Server) Use(middlewares ...middleware.Middleware) {
	s.middlewares = append(s.middlewares, middlewares...)
}

// Serve accepts connections on lis until Shutdown is called. It takes
// ownership of lis.
func (s *Server) Serve(lis net.Listener) error {
	s.listener = lis
	s.chain = middleware.Chain(s.middlewares...)(s.dispatch)

	log.WithFields(log.Fields{
		"addr": lis.Addr().String(),
	}).Info("Callback listener started")

	for {
		conn, err := lis.Accept()
		if err != nil {
			// Shutdown closes the listener, which surfaces here as an
			// Accept error.
			if s.shutdown.Load() {
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// Shutdown stops accepting connections and waits up to timeout for in-flight
// connections to drain.
func (s *Server) Shutdown(timeout time.Duration) error {
	// Set the flag before closing so Serve sees an intentional close.
	s.shutdown.Store(true)
	if s.listener != nil {
		s.listener.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for in-flight callbacks to finish")
	}
}

// handleConn serves one guest connection. Commands are processed strictly in
// order: the line protocol has no sequence numbers, so a response must be
// written before the next command is read. Guests that want concurrency open
// one connection per call.
func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	reader := bufio.NewReader(conn)

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			// EOF or reset; either way the conversation is over.
			return
		}

		response := s.serveLine(line)
		if _, err := conn.Write(append([]byte(response), '\n')); err != nil {
			log.WithFields(log.Fields{
				"remote": remote,
			}).WithError(err).Warn("Failed to write callback response")
			return
		}
	}
}

// serveLine turns one command line into one response line (without the
// trailing newline).
func (s *Server) serveLine(line string) string {
	if strings.TrimSpace(line) == "" {
		return protocol.ErrorPrefix + " empty command"
	}

	method, paramsJSON, err := protocol.ParseCommand(line)
	if err != nil {
		return fmt.Sprintf("%s %v", protocol.ErrorPrefix, err)
	}

	var params map[string]any
	if paramsJSON != "" {
		if err := json.Unmarshal([]byte(paramsJSON), &params); err != nil {
			return fmt.Sprintf("%s invalid params JSON: %v", protocol.ErrorPrefix, err)
		}
	}

	result, err := s.chain(context.Background(), &protocol.Request{Method: method, Params: params})
	if err != nil {
		return fmt.Sprintf("%s %v", protocol.ErrorPrefix, err)
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprintf("%s failed to encode result: %v", protocol.ErrorPrefix, err)
	}
	return string(encoded)
}

// dispatch is the terminal handler of the middleware chain: it routes the
// request to the registered method handler or the default handler.
func (s *Server) dispatch(ctx context.Context, req *protocol.Request) (any, error) {
	s.mu.RLock()
	h, ok := s.handlers[req.Method]
	if !ok {
		h = s.defaultHandler
	}
	s.mu.RUnlock()

	if h == nil {
		return nil, fmt.Errorf("unknown callback method %q", req.Method)
	}
	return h(ctx, req)
}
