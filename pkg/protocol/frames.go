package protocol

// ClientMessage is one client→server control frame.
type ClientMessage struct {
	Type string `json:"type"`

	// AgentName scopes subscribe/unsubscribe to one agent. Empty on
	// subscribe means all agents.
	AgentName string `json:"agent_name,omitempty"`
}

// ServerFrame is one server→client frame: an event topic with its payload, or
// a control message such as pong.
type ServerFrame struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// NewEventFrame wraps a bus event for the wire.
func NewEventFrame(topic string, payload any) ServerFrame {
	return ServerFrame{Type: topic, Payload: payload}
}
