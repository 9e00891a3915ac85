package radio

import "fmt"

// Kind classifies radio failures.
type Kind int

const (
	// KindActivation means a radio role could not be brought up. It is
	// fatal to provisioning.
	KindActivation Kind = iota
	// KindDeactivation means a radio role could not be torn down. It is
	// fatal too: the other role cannot be activated safely.
	KindDeactivation
	// KindJoin means the join request itself was rejected by the driver.
	KindJoin
	// KindConfig means driver configuration could not be prepared.
	KindConfig
)

// String returns a human-readable name for the kind
func (k Kind) String() string {
	switch k {
	case KindActivation:
		return "Activation Error"
	case KindDeactivation:
		return "Deactivation Error"
	case KindJoin:
		return "Join Error"
	case KindConfig:
		return "Configuration Error"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// Error reports a failed radio operation.
type Error struct {
	Kind    Kind
	Role    Role
	Message string
	Err     error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Kind, e.Role, e.Message, e.Err)
	}
	return fmt.Sprintf("%s (%s): %s", e.Kind, e.Role, e.Message)
}

// Unwrap returns the underlying error for error chain inspection
func (e *Error) Unwrap() error {
	return e.Err
}

// Fatal reports whether provisioning cannot continue after e.
func (e *Error) Fatal() bool {
	return e.Kind == KindActivation || e.Kind == KindDeactivation
}
