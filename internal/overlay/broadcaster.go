package overlay

// Overlay event types
const (
	EventNodeJoin      = "node_join"
	EventNodeLeave     = "node_leave"
	EventLookupStarted = "lookup_started"
	EventLookupDone    = "lookup_done"
	EventFalseNegative = "false_negative"
	EventCacheRepair   = "cache_repair"
)

// EventBroadcaster is an interface for publishing overlay events. It lets
// the node and lookup layers notify external observers (like WebSocket
// clients) without creating circular dependencies.
type EventBroadcaster interface {
	// BroadcastEvent sends an overlay event notification.
	BroadcastEvent(event Event) error
}

// Event represents one overlay occurrence worth observing.
type Event struct {
	Type      string `json:"type"`
	NodeID    string `json:"node_id"`       // Short ID of the node that emitted the event
	LookupID  string `json:"lookup_id,omitempty"`
	Target    string `json:"target,omitempty"`    // Hex target key, for lookup events
	DeadNodes int    `json:"dead_nodes,omitempty"` // For false-negative events
	Timestamp int64  `json:"timestamp"` // Unix timestamp
	Message   string `json:"message"`   // Human-readable message
}

// nopBroadcaster drops all events. Used when no observer is attached.
type nopBroadcaster struct{}

func (nopBroadcaster) BroadcastEvent(Event) error { return nil }
