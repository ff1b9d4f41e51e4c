package test

import (
	"context"
	"errors"
	"net"
	"reflect"
	"sync"
	"testing"
	"time"

	"cbox-guest/callback"
	"cbox-guest/listener"
	"cbox-guest/middleware"
	"cbox-guest/protocol"
	"cbox-guest/transport"
)

// startListener runs a listener.Server on loopback TCP and returns a client
// wired to it. The link is the full stack: client → dialer → line protocol →
// listener dispatch → handler, exactly as in production minus the vsock
// address family.
func startListener(t *testing.T, srv *listener.Server, opts ...callback.Option) *callback.Client {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	go srv.Serve(lis)
	t.Cleanup(func() { srv.Shutdown(time.Second) })

	opts = append([]callback.Option{
		callback.WithDialer(transport.TCPDialer(lis.Addr().String())),
	}, opts...)
	return callback.New(opts...)
}

func TestEndToEndEcho(t *testing.T) {
	srv := listener.NewServer()
	srv.HandleDefault(func(ctx context.Context, req *protocol.Request) (any, error) {
		// Echo the parsed invocation back to the caller.
		reply := map[string]any{"method": req.Method}
		if req.Params != nil {
			reply["params"] = req.Params
		}
		return reply, nil
	})
	cb := startListener(t, srv)

	cases := []struct {
		method string
		params map[string]any
	}{
		{"get_current_time", nil},
		{"process_data", map[string]any{"input": "hello", "count": float64(5)}},
		{"nested", map[string]any{"a": map[string]any{"b": []any{float64(1), "two"}}}},
	}

	for _, tc := range cases {
		result, err := cb.Call(context.Background(), tc.method, tc.params)
		if err != nil {
			t.Fatalf("call %s failed: %v", tc.method, err)
		}

		reply, ok := result.(map[string]any)
		if !ok {
			t.Fatalf("unexpected reply type %T", result)
		}
		if reply["method"] != tc.method {
			t.Errorf("method mismatch: got %v, want %s", reply["method"], tc.method)
		}
		if tc.params == nil {
			if _, present := reply["params"]; present {
				t.Errorf("%s: params echoed despite omission", tc.method)
			}
		} else if !reflect.DeepEqual(reply["params"], tc.params) {
			t.Errorf("%s: params mismatch: got %v, want %v", tc.method, reply["params"], tc.params)
		}
	}
}

func TestEndToEndConcurrentMethods(t *testing.T) {
	// The listener serializes handling per connection; each call opens its
	// own connection, so concurrent calls must complete independently.
	srv := listener.NewServer()
	srv.Handle("alpha", func(ctx context.Context, req *protocol.Request) (any, error) {
		time.Sleep(30 * time.Millisecond)
		return "alpha-result", nil
	})
	srv.Handle("beta", func(ctx context.Context, req *protocol.Request) (any, error) {
		return "beta-result", nil
	})
	cb := startListener(t, srv)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		method := "alpha"
		if i%2 == 1 {
			method = "beta"
		}
		wg.Add(1)
		go func(method string) {
			defer wg.Done()
			result, err := cb.Call(context.Background(), method, nil)
			if err != nil {
				t.Errorf("call %s failed: %v", method, err)
				return
			}
			if result != method+"-result" {
				t.Errorf("cross-talk: called %s, got %v", method, result)
			}
		}(method)
	}
	wg.Wait()
}

func TestEndToEndClientRetryMiddleware(t *testing.T) {
	srv := listener.NewServer()
	srv.Handle("ping", func(ctx context.Context, req *protocol.Request) (any, error) {
		return "pong", nil
	})

	cb := startListener(t, srv, callback.WithMiddleware(
		middleware.Retry(2, 10*time.Millisecond),
		middleware.Logging(nil),
	))

	result, err := cb.Call(context.Background(), "ping", nil)
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}
	if result != "pong" {
		t.Fatalf("expect pong, got %v", result)
	}
}

func TestEndToEndAsyncAgainstRealListener(t *testing.T) {
	var mu sync.Mutex
	var seen []string

	srv := listener.NewServer()
	srv.HandleDefault(func(ctx context.Context, req *protocol.Request) (any, error) {
		mu.Lock()
		seen = append(seen, req.Method)
		mu.Unlock()
		return nil, nil
	})
	cb := startListener(t, srv)

	if err := cb.CallAsync("task_done", map[string]any{"id": 7}); err != nil {
		t.Fatalf("async call against healthy listener failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 || seen[0] != "task_done" {
		t.Fatalf("listener did not observe the async call: %v", seen)
	}
}

func TestEndToEndServerTimeoutMiddleware(t *testing.T) {
	srv := listener.NewServer()
	srv.Use(middleware.Timeout(50 * time.Millisecond))
	srv.Handle("slow", func(ctx context.Context, req *protocol.Request) (any, error) {
		time.Sleep(300 * time.Millisecond)
		return "too late", nil
	})
	cb := startListener(t, srv)

	_, err := cb.Call(context.Background(), "slow", nil)
	if err == nil {
		t.Fatal("expect a protocol error from the timed-out handler")
	}
	var protoErr *callback.ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("expect protocol error, got %T: %v", err, err)
	}
}
