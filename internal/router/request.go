package router

import (
	"errors"
	"strings"

	"iot-panel-server/internal/query"
)

// ErrMalformedRequest means the request line had no target.
var ErrMalformedRequest = errors.New("malformed request line")

// Request is the only part of an incoming message the panel looks at: the
// request line. Headers and body are ignored.
type Request struct {
	Method string
	// Path is the raw request target including any query string.
	Path  string
	Query map[string]string
}

// ParseRequest tokenises the first line of raw on single spaces. A line with
// fewer than two tokens yields a Request for "/" together with
// ErrMalformedRequest, so the caller can still serve the control page.
func ParseRequest(raw []byte) (Request, error) {
	first, _, _ := strings.Cut(string(raw), "\r\n")
	first, _, _ = strings.Cut(first, "\n")

	parts := strings.Split(first, " ")
	if len(parts) < 2 {
		return Request{Method: parts[0], Path: "/", Query: map[string]string{}}, ErrMalformedRequest
	}
	return Request{
		Method: parts[0],
		Path:   parts[1],
		Query:  query.Parse(parts[1]),
	}, nil
}
