// Package transport opens the guest-to-host stream channel and performs the
// single request/response exchange of the callback protocol.
//
// One connection carries exactly one exchange: the client dials, writes one
// command line, reads one response, and closes. Connections are never pooled
// or reused, so there is no multiplexing and no sequence numbering; framing
// is the newline terminator alone.
package transport

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/mdlayher/vsock"
)

const (
	// HostContextID is the reserved vsock context identifier for the host.
	HostContextID = 2

	// DefaultPort is the port the host-side listener binds. It is an
	// external coupling with the listener's configuration, not negotiated.
	DefaultPort = 4032

	readChunkSize = 4096
)

// Endpoint addresses the host-side listener on the vsock channel. It is
// plain configuration so deployments and tests can target other endpoints.
type Endpoint struct {
	ContextID uint32
	Port      uint32
}

// DefaultEndpoint returns the well-known host listener address.
func DefaultEndpoint() Endpoint {
	return Endpoint{ContextID: HostContextID, Port: DefaultPort}
}

func (e Endpoint) String() string {
	return fmt.Sprintf("vsock(cid=%d, port=%d)", e.ContextID, e.Port)
}

// Dialer opens one stream connection, bounded by the given timeout. The
// caller owns the returned connection and must close it.
type Dialer func(timeout time.Duration) (net.Conn, error)

// VsockDialer returns a Dialer for the given vsock endpoint.
//
// vsock.Dial has no deadline of its own, so the dial runs in a goroutine and
// is abandoned (and the late connection closed) when the timeout fires. A
// dial timeout is reported as a plain connect failure, matching how a refused
// or unsupported endpoint fails.
func VsockDialer(ep Endpoint) Dialer {
	return func(timeout time.Duration) (net.Conn, error) {
		type dialResult struct {
			conn *vsock.Conn
			err  error
		}

		done := make(chan dialResult, 1)
		go func() {
			conn, err := vsock.Dial(ep.ContextID, ep.Port, nil)
			done <- dialResult{conn: conn, err: err}
		}()

		select {
		case r := <-done:
			if r.err != nil {
				return nil, fmt.Errorf("connect to %s: %w", ep, r.err)
			}
			return r.conn, nil
		case <-time.After(timeout):
			// Reap the connection if the dial completes after all.
			go func() {
				if r := <-done; r.conn != nil {
					r.conn.Close()
				}
			}()
			return nil, fmt.Errorf("connect to %s: timed out after %s", ep, timeout)
		}
	}
}

// TCPDialer returns a Dialer for a TCP address. Used by tests and by
// deployments where the listener is reachable over an ordinary socket
// instead of vsock.
func TCPDialer(addr string) Dialer {
	return func(timeout time.Duration) (net.Conn, error) {
		conn, err := net.DialTimeout("tcp", addr, timeout)
		if err != nil {
			return nil, fmt.Errorf("connect to tcp(%s): %w", addr, err)
		}
		return conn, nil
	}
}

// Exchange writes the encoded command and accumulates the response until it
// ends with a newline byte or the peer closes the stream.
//
// Timeout policy: the timeout applies per operation, not to the exchange as
// a whole. A fresh deadline is set before the write and before every read
// iteration, so a peer that keeps trickling partial data can hold the
// exchange open longer than the nominal timeout. This mirrors the original
// per-operation socket timeout behavior.
func Exchange(conn net.Conn, command []byte, timeout time.Duration) ([]byte, error) {
	if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return nil, fmt.Errorf("set write deadline: %w", err)
	}
	if _, err := conn.Write(command); err != nil {
		return nil, fmt.Errorf("send command: %w", err)
	}

	var response []byte
	chunk := make([]byte, readChunkSize)
	for {
		if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return nil, fmt.Errorf("set read deadline: %w", err)
		}

		n, err := conn.Read(chunk)
		response = append(response, chunk[:n]...)

		if bytes.HasSuffix(response, []byte{'\n'}) {
			return response, nil
		}
		if err != nil {
			// EOF is an implicit terminator: whatever arrived is the
			// complete response.
			if errors.Is(err, io.EOF) {
				return response, nil
			}
			return nil, fmt.Errorf("read response: %w", err)
		}
	}
}
