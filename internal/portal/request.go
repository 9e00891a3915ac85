package portal

import (
	"bytes"
	"errors"
	"strings"
)

// ErrMalformedRequest is returned when the request line cannot be parsed.
var ErrMalformedRequest = errors.New("malformed http request line")

// Request is the subset of an HTTP/1.x request the portal understands,
// parsed from a single read. Header keys are lower-cased.
type Request struct {
	Method string
	Path   string // without query string
	Proto  string
	Header map[string]string
	Body   []byte
}

// ParseRequest parses the bytes of one read. The body is whatever followed
// the header block in that read; Content-Length is not honoured.
func ParseRequest(data []byte) (*Request, error) {
	head, body, found := bytes.Cut(data, []byte("\r\n\r\n"))
	if !found {
		head, body, _ = bytes.Cut(data, []byte("\n\n"))
	}

	lines := strings.Split(string(head), "\n")
	parts := strings.Fields(strings.TrimSuffix(lines[0], "\r"))
	if len(parts) != 3 || !strings.HasPrefix(parts[2], "HTTP/") {
		return nil, ErrMalformedRequest
	}

	path, _, _ := strings.Cut(parts[1], "?")
	req := &Request{
		Method: parts[0],
		Path:   path,
		Proto:  parts[2],
		Header: make(map[string]string),
		Body:   body,
	}

	for _, line := range lines[1:] {
		key, value, ok := strings.Cut(strings.TrimSuffix(line, "\r"), ":")
		if !ok {
			continue
		}
		req.Header[strings.ToLower(strings.TrimSpace(key))] = strings.TrimSpace(value)
	}
	return req, nil
}
