package probe

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"syscall"
)

// ErrorType represents the category of a probe failure
type ErrorType int

const (
	// ErrTypeNetwork indicates a network-level error
	ErrTypeNetwork ErrorType = iota
	// ErrTypeTimeout indicates the node did not answer in time
	ErrTypeTimeout
	// ErrTypeConnectionRefused indicates nothing listens on the port
	ErrTypeConnectionRefused
	// ErrTypeHTTP indicates an unexpected HTTP status
	ErrTypeHTTP
	// ErrTypeNotHijacked indicates DNS answered with an address other than
	// the node
	ErrTypeNotHijacked
	// ErrTypeProtocol indicates a malformed or unexpected response body
	ErrTypeProtocol
)

// String returns a human-readable name for the error type
func (et ErrorType) String() string {
	switch et {
	case ErrTypeNetwork:
		return "Network Error"
	case ErrTypeTimeout:
		return "Timeout"
	case ErrTypeConnectionRefused:
		return "Connection Refused"
	case ErrTypeHTTP:
		return "HTTP Error"
	case ErrTypeNotHijacked:
		return "DNS Not Hijacked"
	case ErrTypeProtocol:
		return "Protocol Error"
	default:
		return fmt.Sprintf("ErrorType(%d)", et)
	}
}

// Error is a failed probe stage.
type Error struct {
	Type       ErrorType
	Stage      Stage
	Message    string
	StatusCode int // HTTP status, when applicable
	Err        error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s (caused by: %v)", e.Stage, e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Stage, e.Type, e.Message)
}

// Unwrap returns the underlying error for error chain inspection
func (e *Error) Unwrap() error {
	return e.Err
}

// classify turns a transport error into an Error for stage.
func classify(stage Stage, message string, err error) *Error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}

	e := &Error{Type: ErrTypeNetwork, Stage: stage, Message: message, Err: err}
	var netErr net.Error
	switch {
	case os.IsTimeout(err), errors.As(err, &netErr) && netErr.Timeout():
		e.Type = ErrTypeTimeout
	case errors.Is(err, syscall.ECONNREFUSED):
		e.Type = ErrTypeConnectionRefused
	}
	return e
}

// Troubleshooting returns hints for a probe failure.
func Troubleshooting(err error) []string {
	var e *Error
	if !errors.As(err, &e) {
		return nil
	}

	switch e.Type {
	case ErrTypeTimeout:
		return []string{
			"Check that you are joined to the provisioning AP",
			"The node may still be bringing the AP up; retry in a few seconds",
			"Try increasing --timeout",
		}
	case ErrTypeConnectionRefused:
		return []string{
			"The node is not in portal mode; it may already be provisioned",
			"Verify --node and the port numbers",
		}
	case ErrTypeNotHijacked:
		return []string{
			"Your client is using another DNS server; disable private DNS or VPN",
			"Check that the DHCP lease named the node as DNS server",
		}
	case ErrTypeHTTP:
		if e.StatusCode >= 500 {
			return []string{"The portal page could not be loaded on the node; check http.page_path"}
		}
		return []string{"Check --submit-path matches http.submit_path on the node"}
	case ErrTypeProtocol:
		return []string{"Something other than provisiond answered; verify --node"}
	default:
		return []string{
			"Check your Wi-Fi connection",
			"Verify the node is powered on",
		}
	}
}
