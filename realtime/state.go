package realtime

import "errors"

// State is the channel connection state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// ErrConnectionUnavailable marks the terminal state change emitted when the
// reconnect budget is exhausted. The UI surfaces it as a degraded-mode
// banner; the channel itself stays quiet until an explicit Connect.
var ErrConnectionUnavailable = errors.New("realtime connection unavailable")

// StateChange is one transition on the state stream. Err is set when a
// failure caused the transition; subscribers distinguish a dropped
// connection (Err != nil) from an explicit disconnect (Err == nil).
type StateChange struct {
	State State
	Err   error
}
