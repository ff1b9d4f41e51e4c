// Package protocol implements the line-oriented callback wire format spoken
// between a guest VM and the host-side listener.
//
// A request is a single ASCII line:
//
//	CALLBACK <method>\n
//	CALLBACK <method> <json-params>\n
//
// The response is ASCII terminated by a newline (or by connection close):
// either a JSON-encoded value, or the literal prefix "Error:" followed by a
// human-readable message.
//
// There is no escaping and no length prefix. A method name containing
// whitespace, or a params serialization containing a raw newline, breaks the
// read-until-newline framing on the listener side. Method names are validated
// here; params are safe as long as they go through encoding/json, which never
// emits raw newlines inside a value.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	// CommandWord is the leading token of every request line.
	CommandWord = "CALLBACK"

	// ErrorPrefix marks a response carrying a handler failure instead of a
	// JSON result.
	ErrorPrefix = "Error:"
)

// Request is a single callback invocation to be sent to the listener.
//
// A nil Params is distinct from an empty one: nil omits the JSON token from
// the request line entirely, while an empty map encodes as "{}".
type Request struct {
	Method string
	Params map[string]any
}

// Encode serializes the request into one newline-terminated command line.
func (r *Request) Encode() ([]byte, error) {
	if err := ValidateMethod(r.Method); err != nil {
		return nil, err
	}

	if r.Params == nil {
		return []byte(CommandWord + " " + r.Method + "\n"), nil
	}

	params, err := json.Marshal(r.Params)
	if err != nil {
		return nil, fmt.Errorf("marshal params for %q: %w", r.Method, err)
	}

	return []byte(CommandWord + " " + r.Method + " " + string(params) + "\n"), nil
}

// ValidateMethod rejects method names the unescaped line format cannot carry.
func ValidateMethod(method string) error {
	if method == "" {
		return fmt.Errorf("callback method name is empty")
	}
	if strings.ContainsAny(method, " \t\r\n") {
		return fmt.Errorf("callback method name %q contains whitespace", method)
	}
	return nil
}

// ParseCommand splits a received command line into method and raw params
// JSON. This is the listener-side inverse of Request.Encode. The params
// string is empty when the line carried no params token.
func ParseCommand(line string) (method string, paramsJSON string, err error) {
	line = strings.TrimSpace(line)

	if !strings.HasPrefix(line, CommandWord+" ") {
		return "", "", fmt.Errorf("not a %s command: %q", CommandWord, line)
	}

	remainder := strings.TrimSpace(strings.TrimPrefix(line, CommandWord+" "))
	if remainder == "" {
		return "", "", fmt.Errorf("%s command requires a method name", CommandWord)
	}

	spaceIdx := strings.Index(remainder, " ")
	if spaceIdx == -1 {
		return remainder, "", nil
	}

	return remainder[:spaceIdx], strings.TrimSpace(remainder[spaceIdx+1:]), nil
}

// IsError reports whether a trimmed response line carries the error prefix.
func IsError(response string) bool {
	return strings.HasPrefix(response, ErrorPrefix)
}

// DecodeResponse classifies a raw response buffer.
//
// The buffer is trimmed of surrounding whitespace (including the newline
// terminator, which may be absent when the peer closed the stream instead).
// An "Error:"-prefixed response returns a *ServerError with the server's text
// preserved verbatim. Anything else is parsed as JSON; if parsing fails the
// trimmed text is returned unchanged as a string, so plain scalar replies
// from simple handlers remain usable.
func DecodeResponse(raw []byte) (any, error) {
	text := strings.TrimSpace(string(raw))

	if IsError(text) {
		return nil, &ServerError{Message: text}
	}

	var value any
	if err := json.Unmarshal([]byte(text), &value); err != nil {
		return text, nil
	}
	return value, nil
}

// ServerError is a failure the listener reported through the normal response
// channel, as opposed to a transport-level failure. Message holds the full
// response text including the "Error:" prefix.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return e.Message
}
