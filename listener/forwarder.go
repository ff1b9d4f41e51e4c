package listener

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	log "github.com/sirupsen/logrus"

	"cbox-guest/middleware"
	"cbox-guest/protocol"
)

// forwardRequest is the JSON body posted to the upstream callback endpoint.
type forwardRequest struct {
	VMName string          `json:"vmName,omitempty"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// forwardResponse is the JSON body the upstream endpoint replies with.
type forwardResponse struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// HTTPForwarder returns a handler that relays callbacks to an HTTP endpoint
// as a JSON POST and maps the JSON response back into a callback result.
// Registered as the default handler, it turns the listener into a plain
// relay in front of a host service that owns the actual dispatch.
//
// vmName identifies the guest in the forwarded body and may be empty.
func HTTPForwarder(url string, vmName string, client *http.Client) middleware.HandlerFunc {
	if client == nil {
		client = http.DefaultClient
	}

	return func(ctx context.Context, req *protocol.Request) (any, error) {
		body := forwardRequest{VMName: vmName, Method: req.Method}
		if req.Params != nil {
			params, err := json.Marshal(req.Params)
			if err != nil {
				return nil, fmt.Errorf("marshal params: %w", err)
			}
			body.Params = params
		}

		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal forward request: %w", err)
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("create forward request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		log.WithFields(log.Fields{
			"url":    url,
			"method": req.Method,
			"vmName": vmName,
		}).Debug("Forwarding callback")

		resp, err := client.Do(httpReq)
		if err != nil {
			return nil, fmt.Errorf("forward callback: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read forward response: %w", err)
		}

		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("callback endpoint returned HTTP %d: %s", resp.StatusCode, string(respBody))
		}

		var fwdResp forwardResponse
		if err := json.Unmarshal(respBody, &fwdResp); err != nil {
			// Not the expected envelope; hand the raw body through.
			return string(respBody), nil
		}

		if fwdResp.Error != "" {
			return nil, fmt.Errorf("callback error: %s", fwdResp.Error)
		}

		if fwdResp.Result == nil {
			return map[string]any{}, nil
		}
		var result any
		if err := json.Unmarshal(fwdResp.Result, &result); err != nil {
			return string(fwdResp.Result), nil
		}
		return result, nil
	}
}
