package core

import "context"

// Envelope carries a channel event between server instances.
type Envelope struct {
	Origin      string    `json:"origin"`
	ChannelID   string    `json:"channelId"`
	Kind        EventKind `json:"kind"`
	UserID      string    `json:"userId,omitempty"`
	DisplayName string    `json:"displayName,omitempty"`
	Message     *Message  `json:"message,omitempty"`
}

// Bus relays channel events to other instances sharing the same storage.
type Bus interface {
	Publish(ctx context.Context, env Envelope) error
	Subscribe(ctx context.Context) (<-chan Envelope, error)
	Close() error
}

func envelopeFor(origin, channelID string, ev *Event) Envelope {
	env := Envelope{
		Origin:      origin,
		ChannelID:   channelID,
		Kind:        ev.Kind,
		UserID:      ev.UserID,
		DisplayName: ev.DisplayName,
	}
	if ev.Kind == EventReceiveMessage {
		msg := ev.Message
		env.Message = &msg
	}
	return env
}

func (e Envelope) event() *Event {
	ev := &Event{
		Kind:        e.Kind,
		ChannelID:   e.ChannelID,
		UserID:      e.UserID,
		DisplayName: e.DisplayName,
	}
	if e.Message != nil {
		ev.Message = *e.Message
	}
	return ev
}

// relayable reports whether an event kind fans out across instances.
func relayable(kind EventKind) bool {
	switch kind {
	case EventReceiveMessage, EventUserJoined, EventUserLeft:
		return true
	default:
		return false
	}
}
