package probe

import (
	"errors"
	"net/url"
	"os"
	"strings"
	"syscall"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{"deadline", os.ErrDeadlineExceeded, ErrTypeTimeout},
		{"wrapped refused", &url.Error{Op: "Get", URL: "http://x", Err: syscall.ECONNREFUSED}, ErrTypeConnectionRefused},
		{"other", errors.New("no route"), ErrTypeNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := classify(StagePortal, "failed", tt.err)
			if e.Type != tt.want {
				t.Errorf("classify() type = %s, want %s", e.Type, tt.want)
			}
			if e.Stage != StagePortal {
				t.Errorf("classify() stage = %s", e.Stage)
			}
		})
	}
}

func TestErrorMessage(t *testing.T) {
	err := &Error{Type: ErrTypeHTTP, Stage: StageSubmit, Message: "submission returned 404"}
	if got := err.Error(); got != "submit: HTTP Error: submission returned 404" {
		t.Errorf("Error() = %q", got)
	}

	wrapped := classify(StageDNS, "query failed", syscall.ECONNREFUSED)
	if !errors.Is(wrapped, syscall.ECONNREFUSED) {
		t.Error("Unwrap() lost the cause")
	}
	if !strings.Contains(wrapped.Error(), "caused by") {
		t.Errorf("Error() = %q, want cause", wrapped.Error())
	}
}

func TestTroubleshooting(t *testing.T) {
	if Troubleshooting(errors.New("plain")) != nil {
		t.Error("plain errors have no hints")
	}
	server := Troubleshooting(&Error{Type: ErrTypeHTTP, StatusCode: 500})
	client := Troubleshooting(&Error{Type: ErrTypeHTTP, StatusCode: 404})
	if len(server) == 0 || len(client) == 0 || server[0] == client[0] {
		t.Errorf("HTTP hints should differ by status: %v / %v", server, client)
	}
}
