// ABOUTME: Connection lifecycle state machine for the agent driver.
// ABOUTME: Transitions are a static table keyed by state and event; actions take the driver explicitly.

package agent

// State is the driver's view of its gateway connection.
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

// MarshalText renders the state name in JSON and logs.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Event is a connection lifecycle signal.
type Event string

const (
	EventStart         Event = "start"
	EventConnected     Event = "connected"
	EventConnectFailed Event = "connect_failed"
	EventDropped       Event = "dropped"
	EventReconnected   Event = "reconnected"
)

type transition struct {
	next   State
	action func(*Driver)
}

// transitions lists every accepted (state, event) pair. Anything else is ignored.
var transitions = map[State]map[Event]transition{
	StateDisconnected: {
		EventStart:       {next: StateConnecting},
		EventReconnected: {next: StateConnected, action: (*Driver).register},
	},
	StateConnecting: {
		EventConnected:     {next: StateConnected, action: (*Driver).register},
		EventConnectFailed: {next: StateDisconnected},
		EventDropped:       {next: StateDisconnected},
	},
	StateConnected: {
		EventDropped:     {next: StateDisconnected},
		EventReconnected: {next: StateConnected, action: (*Driver).register},
	},
}

var eventMessages = map[Event]string{
	EventStart:         "Connecting",
	EventConnected:     "Connected",
	EventConnectFailed: "Connect failed",
	EventDropped:       "Disconnected",
	EventReconnected:   "Reconnected",
}
