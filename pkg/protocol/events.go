package protocol

// Event topic names published on the fleet event bus and mirrored verbatim
// over the dashboard WebSocket.
const (
	EventFleetStatus       = "fleet:status"
	EventAgentUpdated      = "agent:updated"
	EventScheduleTriggered = "schedule:triggered"
	EventJobCreated        = "job:created"
	EventJobOutput         = "job:output"
	EventJobCompleted      = "job:completed"
	EventJobFailed         = "job:failed"
	EventJobCancelled      = "job:cancelled"
)

// Client→server WebSocket message types.
const (
	ClientSubscribe   = "subscribe"
	ClientUnsubscribe = "unsubscribe"
	ClientPing        = "ping"
)

// Server→client control message types (in addition to the event topics above).
const (
	ServerPong = "pong"
)

// ProtocolVersion is bumped whenever an event payload shape changes
// incompatibly.
const ProtocolVersion = 1
