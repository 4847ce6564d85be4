package core

import (
	"time"

	"github.com/vovakirdan/channelchat-server/internal/store"
)

// Message is the domain model for a chat message.
type Message struct {
	ID           int64     `json:"id,omitempty"`
	ChannelID    string    `json:"channelId"`
	AuthorUserID string    `json:"authorUserId,omitempty"` // empty for authorless system messages
	Username     string    `json:"username"`
	DisplayName  string    `json:"displayName,omitempty"`
	Avatar       string    `json:"avatar,omitempty"`
	Content      string    `json:"content"`
	Timestamp    time.Time `json:"timestamp"`
	IsSystem     bool      `json:"isSystem,omitempty"`
}

func (m *Message) toStore() *store.Message {
	rec := &store.Message{
		ChannelID: m.ChannelID,
		Username:  m.Username,
		Content:   m.Content,
		Timestamp: m.Timestamp,
		IsSystem:  m.IsSystem,
	}
	if m.AuthorUserID != "" {
		author := m.AuthorUserID
		rec.AuthorUserID = &author
	}
	return rec
}

func messageFromStore(rec *store.Message) Message {
	msg := Message{
		ID:        rec.ID,
		ChannelID: rec.ChannelID,
		Username:  rec.Username,
		Content:   rec.Content,
		Timestamp: rec.Timestamp,
		IsSystem:  rec.IsSystem,
	}
	if rec.AuthorUserID != nil {
		msg.AuthorUserID = *rec.AuthorUserID
	}
	return msg
}
