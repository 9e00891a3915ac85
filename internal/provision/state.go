package provision

import (
	"errors"
	"fmt"
	"time"
)

// State is a provisioning phase.
type State int

const (
	StateTryingSaved State = iota
	StateAPPortal
	StateConnecting
	StateConnected
	StateConfirmServing
)

// States lists every state in order.
var States = []State{StateTryingSaved, StateAPPortal, StateConnecting, StateConnected, StateConfirmServing}

// String returns the state name used in logs and metrics.
func (s State) String() string {
	switch s {
	case StateTryingSaved:
		return "trying_saved"
	case StateAPPortal:
		return "ap_portal"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateConfirmServing:
		return "confirm_serving"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateConfirmServing
}

// ErrInvalidTransition is returned for an edge the machine does not allow.
var ErrInvalidTransition = errors.New("invalid state transition")

// allowedTransition reports whether from may move to to.
func allowedTransition(from, to State) bool {
	switch from {
	case StateTryingSaved:
		return to == StateConnected || to == StateAPPortal
	case StateAPPortal:
		return to == StateConnecting
	case StateConnecting:
		return to == StateConnected || to == StateAPPortal
	case StateConnected:
		return to == StateConfirmServing
	}
	return false
}

func stateNames() []string {
	names := make([]string, len(States))
	for i, s := range States {
		names[i] = s.String()
	}
	return names
}

// Session is a snapshot of the machine's progress.
type Session struct {
	State       State
	EnteredAt   time.Time
	SSID        string // Network being joined or joined
	Attempts    int    // Join attempts started from the portal
	Failures    int    // Portal join attempts that failed
	LastError   string
	ConfirmPort int // Bound confirmation port once serving
}

// Transition describes one state change, passed to the OnTransition hook.
type Transition struct {
	From   State
	To     State
	Reason string
	At     time.Time
}
