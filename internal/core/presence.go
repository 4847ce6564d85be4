package core

import (
	"fmt"
	"time"
)

type roomBroadcaster interface {
	broadcast(channelID string, ev *Event, exclude *Client)
}

type messageRecorder interface {
	Enqueue(msg Message) bool
}

// ChannelClock returns the timestamp for the next entry in a channel's log.
type ChannelClock func(channelID string) time.Time

// PresenceNotifier tells channel participants about joins and leaves.
// With a recorder set, each transition is also kept as a system message.
type PresenceNotifier struct {
	out      roomBroadcaster
	recorder messageRecorder
	clock    ChannelClock
}

// NewPresenceNotifier builds a notifier. recorder may be nil.
func NewPresenceNotifier(out roomBroadcaster, recorder messageRecorder, clock ChannelClock) *PresenceNotifier {
	if clock == nil {
		clock = func(string) time.Time { return time.Now().UTC() }
	}
	return &PresenceNotifier{out: out, recorder: recorder, clock: clock}
}

// Joined notifies the room, excluding the subject.
func (p *PresenceNotifier) Joined(channelID string, subject *Client, id Identity) {
	p.notify(EventUserJoined, channelID, subject, id, "%s joined the channel")
}

// Left notifies the room, excluding the subject.
func (p *PresenceNotifier) Left(channelID string, subject *Client, id Identity) {
	p.notify(EventUserLeft, channelID, subject, id, "%s left the channel")
}

func (p *PresenceNotifier) notify(kind EventKind, channelID string, subject *Client, id Identity, format string) {
	p.out.broadcast(channelID, &Event{
		Kind:        kind,
		ChannelID:   channelID,
		UserID:      id.UserID,
		DisplayName: id.Name(),
	}, subject)

	if p.recorder == nil {
		return
	}
	p.recorder.Enqueue(Message{
		ChannelID:    channelID,
		AuthorUserID: id.UserID,
		Username:     id.Username,
		DisplayName:  id.Name(),
		Content:      fmt.Sprintf(format, id.Name()),
		Timestamp:    p.clock(channelID),
		IsSystem:     true,
	})
}
