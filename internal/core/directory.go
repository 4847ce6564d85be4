package core

import (
	"context"
	"time"

	"github.com/vovakirdan/channelchat-server/internal/store"
)

// ChannelDirectory is the slice of persistent storage the core depends on.
// store.ErrNotFound from GetChannel means the channel does not exist.
type ChannelDirectory interface {
	GetChannel(ctx context.Context, channelID string) (*store.Channel, error)
	IsMember(ctx context.Context, channelID, userID string) (bool, error)
	AppendMessage(ctx context.Context, channelID string, msg *store.Message) error
	ListMessages(ctx context.Context, channelID string, limit int, before *time.Time) ([]*store.Message, error)
}
