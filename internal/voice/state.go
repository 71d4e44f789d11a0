package voice

// State is the lifecycle state of a [Session].
//
//	Idle ──Connect──▶ Connecting ──open──▶ Active
//	  ▲                   │                  │
//	  │              setup failure      close/error/Disconnect
//	  │                   ▼                  ▼
//	  └───────────────── Idle ◀────────── Closing
type State int

const (
	// StateIdle means no resources are held and Connect is accepted.
	StateIdle State = iota

	// StateConnecting means devices and the remote session are being set up
	// or the remote open notification has not arrived yet.
	StateConnecting

	// StateActive means audio flows in both directions.
	StateActive

	// StateClosing means teardown is in progress.
	StateClosing
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}
