package message

const (
	TypeHeartbeat = "heartbeat"
	TypeQuit      = "quit"

	// master to worker

	TypeAck       = "ack"
	TypeSpawn     = "spawn"
	TypeStop      = "stop"
	TypeReconnect = "reconnect"

	// worker to master

	TypeClientReady      = "client_ready"
	TypeClientStopped    = "client_stopped"
	TypeSpawning         = "spawning"
	TypeSpawningComplete = "spawning_complete"
	TypeStats            = "stats"
	TypeException        = "exception"
)

// Envelope is the unit exchanged with the master. On the wire it is a
// 3-element array: type, payload (nil when absent), node ID.
//
// Payload values are restricted to nil, bool, int, int32, int64, float32,
// float64, string, []any, map[string]any and *Histogram.
type Envelope struct {
	Type    string
	Payload map[string]any
	NodeID  string
}

// New builds an envelope for the given node.
func New(typ string, payload map[string]any, nodeID string) Envelope {
	return Envelope{Type: typ, Payload: payload, NodeID: nodeID}
}
