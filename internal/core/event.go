package core

// EventKind is a notification the core emits to clients.
type EventKind int

const (
	// EventReceiveMessage notifies clients about a chat message in a channel.
	EventReceiveMessage EventKind = iota
	// EventUserJoined notifies clients about a user joining a channel's room.
	EventUserJoined
	// EventUserLeft notifies clients about a user leaving a channel's room.
	EventUserLeft
	// EventHistory delivers recent messages to a client upon joining.
	EventHistory
	// EventJoined acknowledges a join to the requesting client.
	EventJoined
	// EventLeft acknowledges a leave to the requesting client.
	EventLeft
	// EventError notifies a single client about a rejected request.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventReceiveMessage:
		return "receive-message"
	case EventUserJoined:
		return "user-joined"
	case EventUserLeft:
		return "user-left"
	case EventHistory:
		return "history"
	case EventJoined:
		return "joined"
	case EventLeft:
		return "left"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is sent to clients to describe what happened in the system.
type Event struct {
	Kind        EventKind
	ChannelID   string
	UserID      string
	DisplayName string
	Message     Message
	Messages    []Message // For EventHistory
	Error       *CoreError
}

func errorEvent(channelID string, err error) *Event {
	return &Event{Kind: EventError, ChannelID: channelID, Error: asCoreError(err)}
}
