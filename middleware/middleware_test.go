package middleware

import (
	"context"
	"errors"
	"testing"
	"time"

	"cbox-guest/protocol"
)

func echoHandler(ctx context.Context, req *protocol.Request) (any, error) {
	return req.Method, nil
}

func slowHandler(ctx context.Context, req *protocol.Request) (any, error) {
	time.Sleep(200 * time.Millisecond)
	return req.Method, nil
}

type transientFailure struct{ msg string }

func (e *transientFailure) Error() string   { return e.msg }
func (e *transientFailure) Transient() bool { return true }

func TestChainOrder(t *testing.T) {
	var order []string
	tag := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, req *protocol.Request) (any, error) {
				order = append(order, name)
				return next(ctx, req)
			}
		}
	}

	handler := Chain(tag("a"), tag("b"), tag("c"))(echoHandler)
	if _, err := handler(context.Background(), &protocol.Request{Method: "ping"}); err != nil {
		t.Fatal(err)
	}

	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Fatalf("unexpected execution order: %v", order)
	}
}

func TestTimeoutPass(t *testing.T) {
	handler := Timeout(500 * time.Millisecond)(echoHandler)

	result, err := handler(context.Background(), &protocol.Request{Method: "ping"})
	if err != nil {
		t.Fatalf("expect no error, got %v", err)
	}
	if result != "ping" {
		t.Fatalf("expect %q, got %v", "ping", result)
	}
}

func TestTimeoutExceeded(t *testing.T) {
	handler := Timeout(50 * time.Millisecond)(slowHandler)

	_, err := handler(context.Background(), &protocol.Request{Method: "slow"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expect deadline exceeded, got %v", err)
	}
}

func TestRetryTransient(t *testing.T) {
	attempts := 0
	flaky := func(ctx context.Context, req *protocol.Request) (any, error) {
		attempts++
		if attempts < 3 {
			return nil, &transientFailure{msg: "connection refused"}
		}
		return "ok", nil
	}

	handler := Retry(3, time.Millisecond)(flaky)
	result, err := handler(context.Background(), &protocol.Request{Method: "flaky"})
	if err != nil {
		t.Fatalf("expect success after retries, got %v", err)
	}
	if result != "ok" || attempts != 3 {
		t.Fatalf("expect ok after 3 attempts, got %v after %d", result, attempts)
	}
}

func TestRetrySkipsServerErrors(t *testing.T) {
	attempts := 0
	failing := func(ctx context.Context, req *protocol.Request) (any, error) {
		attempts++
		return nil, &protocol.ServerError{Message: "Error: boom"}
	}

	handler := Retry(3, time.Millisecond)(failing)
	_, err := handler(context.Background(), &protocol.Request{Method: "boom"})
	if err == nil {
		t.Fatal("expect error, got none")
	}
	if attempts != 1 {
		t.Fatalf("server errors must not be retried, got %d attempts", attempts)
	}
}

func TestRateLimitRejects(t *testing.T) {
	handler := RateLimit(1, 1)(echoHandler)
	ctx := context.Background()
	req := &protocol.Request{Method: "ping"}

	if _, err := handler(ctx, req); err != nil {
		t.Fatalf("first call should pass, got %v", err)
	}
	if _, err := handler(ctx, req); err == nil {
		t.Fatal("second immediate call should be rejected")
	}
}

func TestLoggingPassesThrough(t *testing.T) {
	handler := Logging(nil)(echoHandler)

	result, err := handler(context.Background(), &protocol.Request{Method: "ping"})
	if err != nil {
		t.Fatal(err)
	}
	if result != "ping" {
		t.Fatalf("expect %q, got %v", "ping", result)
	}
}
