package runner

// State is the runner's protocol state.
type State int32

const (
	StateReady State = iota
	StateSpawning
	StateRunning
	StateStopped
)

// String returns the lower-case name the master expects in heartbeats.
func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateSpawning:
		return "spawning"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
