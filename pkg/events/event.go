package events

// EventType classifies events for transport-specific encoding.
type EventType int

const (
	EvNotice  EventType = iota // NOTICE from a service to a user
	EvNumeric                  // Server numeric reply to a user
	EvTopic                    // Topic change issued by services
	EvMode                     // Mode change issued by services
	EvAudit                    // Audit record (no recipient)
)

// String returns a human-readable name for the event type.
func (t EventType) String() string {
	switch t {
	case EvNotice:
		return "notice"
	case EvNumeric:
		return "numeric"
	case EvTopic:
		return "topic"
	case EvMode:
		return "mode"
	case EvAudit:
		return "audit"
	default:
		return "unknown"
	}
}

// Event is a structured services event that flows through the bus.
// The uplink encodes it as a protocol line; the audit feed sends the
// structured form as JSON.
type Event struct {
	Type    EventType
	Target  string         // Recipient nick (empty for channel or audit events)
	Source  string         // Service or server that generated the event
	Channel string         // Channel context
	Numeric int            // Numeric code (EvNumeric)
	Text    string         // Message text, topic, or mode line
	Data    map[string]any // Structured data for JSON consumers
}
