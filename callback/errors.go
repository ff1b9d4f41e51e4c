package callback

import (
	"fmt"
	"time"

	"cbox-guest/protocol"
)

// ConnectionError indicates the channel to the host listener could not be
// established: refused, unreachable, unsupported address family, or a dial
// that exceeded its timeout.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to callback listener: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Transient marks connection failures as retryable for the retry middleware.
func (e *ConnectionError) Transient() bool { return true }

// TimeoutError indicates no complete response was observed within the
// configured deadline.
type TimeoutError struct {
	Method  string
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("callback %q timed out after %s", e.Method, e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// Transient marks timeouts as retryable for the retry middleware.
func (e *TimeoutError) Transient() bool { return true }

// ProtocolError is a failure the listener reported through the response
// channel. The server's full message, "Error:" prefix included, is preserved
// verbatim.
type ProtocolError = protocol.ServerError
