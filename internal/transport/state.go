package transport

// State is the connection state of an Adapter.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	// StateClosed is terminal, entered only through Close.
	StateClosed
)

// String names the state for logs and health output.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
