package core

// CommandKind describes what the client wants to do.
type CommandKind int

const (
	// CommandSendMessage delivers a chat message to channel participants.
	CommandSendMessage CommandKind = iota
	// CommandJoinChannel subscribes the connection to a channel's live room.
	CommandJoinChannel
	// CommandLeaveChannel unsubscribes the connection from a channel's live room.
	CommandLeaveChannel
)

// Command represents an action requested by a client.
type Command struct {
	Kind      CommandKind
	ChannelID string
	Content   string
}
