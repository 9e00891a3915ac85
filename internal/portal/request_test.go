package portal

import (
	"errors"
	"testing"
)

func TestParseRequest(t *testing.T) {
	raw := "POST /provision?from=form HTTP/1.1\r\n" +
		"Host: 192.168.4.1\r\n" +
		"Content-Type: application/x-www-form-urlencoded\r\n" +
		"\r\n" +
		"ssid=Net&password=Secret"

	req, err := ParseRequest([]byte(raw))
	if err != nil {
		t.Fatalf("ParseRequest() error = %v", err)
	}
	if req.Method != "POST" || req.Path != "/provision" || req.Proto != "HTTP/1.1" {
		t.Errorf("request line = %s %s %s", req.Method, req.Path, req.Proto)
	}
	if req.Header["host"] != "192.168.4.1" {
		t.Errorf("host header = %q", req.Header["host"])
	}
	if string(req.Body) != "ssid=Net&password=Secret" {
		t.Errorf("body = %q", req.Body)
	}
}

func TestParseRequestNoBody(t *testing.T) {
	req, err := ParseRequest([]byte("GET /generate_204 HTTP/1.1\r\nHost: x\r\n\r\n"))
	if err != nil {
		t.Fatalf("ParseRequest() error = %v", err)
	}
	if req.Path != "/generate_204" || len(req.Body) != 0 {
		t.Errorf("got path %q body %q", req.Path, req.Body)
	}
}

func TestParseRequestMalformed(t *testing.T) {
	for _, raw := range []string{"", "garbage", "GET /\r\n\r\n", "GET / FTP/1.0\r\n\r\n"} {
		if _, err := ParseRequest([]byte(raw)); !errors.Is(err, ErrMalformedRequest) {
			t.Errorf("ParseRequest(%q) error = %v, want ErrMalformedRequest", raw, err)
		}
	}
}
