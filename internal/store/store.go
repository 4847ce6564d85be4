package store

import (
	"context"
	"errors"
	"regexp"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a unique constraint would be violated.
var ErrConflict = errors.New("already exists")

// ChannelIDPattern constrains channel identifiers: "@" followed by 5-20 word characters.
var ChannelIDPattern = regexp.MustCompile(`^@[a-zA-Z0-9_]{5,20}$`)

// PublicChannelID is the channel created for everyone on first start.
const PublicChannelID = "@public"

// ActivationCodeTTL is how long an unused activation code stays valid.
const ActivationCodeTTL = 7 * 24 * time.Hour

// User represents a registered account.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	DisplayName  string
	Avatar       string
	IsAdmin      bool
	IsBanned     bool
	CreatedAt    time.Time
	LastLoginAt  *time.Time
}

// Channel represents a named chat channel.
type Channel struct {
	ChannelID   string
	Name        string
	Description string
	IsPublic    bool
	IsActive    bool
	IsBanned    bool
	CreatorID   string
	Members     []string
	CreatedAt   time.Time
}

// HasMember reports whether userID is in the persisted membership set.
func (c *Channel) HasMember(userID string) bool {
	for _, m := range c.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// Message is an entry in a channel's append-only log.
type Message struct {
	ID           int64
	ChannelID    string
	AuthorUserID *string // nil for system messages without an author
	Username     string
	Content      string
	Timestamp    time.Time
	IsSystem     bool
}

// ActivationCode is a single-use invite required to register.
type ActivationCode struct {
	Code      string
	IsUsed    bool
	CreatedBy string
	CreatedAt time.Time
}

// ExpiresAt returns the moment the code stops being accepted.
func (a *ActivationCode) ExpiresAt() time.Time {
	return a.CreatedAt.Add(ActivationCodeTTL)
}

// ChannelSummary is a channel with aggregate counters for listings.
type ChannelSummary struct {
	Channel
	MemberCount   int
	MessagesCount int
}

// UserStore handles user persistence.
type UserStore interface {
	// CreateUser inserts a user. Returns ErrConflict if the username is taken (case-insensitive).
	CreateUser(ctx context.Context, user *User) error

	// RedeemAndCreateUser consumes an activation code and creates the user in one transaction.
	RedeemAndCreateUser(ctx context.Context, user *User, code string, now time.Time) error

	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id string) (*User, error)

	// GetUserByUsername retrieves a user by username, case-insensitive.
	GetUserByUsername(ctx context.Context, username string) (*User, error)

	// SetUserBanned flips the ban flag.
	SetUserBanned(ctx context.Context, id string, banned bool) error

	// TouchLastLogin records a successful login.
	TouchLastLogin(ctx context.Context, id string, at time.Time) error
}

// ChannelStore is the durable Channel Directory.
type ChannelStore interface {
	// CreateChannel inserts a channel with its creator as the first member.
	CreateChannel(ctx context.Context, ch *Channel) error

	// GetChannel retrieves a channel and its member list by channel ID.
	GetChannel(ctx context.Context, channelID string) (*Channel, error)

	// ListPublicChannels returns non-banned public channels matching search, newest first.
	ListPublicChannels(ctx context.Context, search string, offset, limit int) ([]*ChannelSummary, int, error)

	// ListUserChannels returns channels userID is a member of.
	ListUserChannels(ctx context.Context, userID string) ([]*ChannelSummary, error)

	// CountChannelsByCreator returns how many channels userID created.
	CountChannelsByCreator(ctx context.Context, userID string) (int, error)

	// AddMember adds userID to the channel's member set. Adding twice is a no-op.
	AddMember(ctx context.Context, channelID, userID string) error

	// RemoveMember removes userID from the channel's member set.
	RemoveMember(ctx context.Context, channelID, userID string) error

	// IsMember checks persisted membership.
	IsMember(ctx context.Context, channelID, userID string) (bool, error)

	// SetChannelBanned flips the ban flag.
	SetChannelBanned(ctx context.Context, channelID string, banned bool) error

	// SetChannelActive flips the active flag.
	SetChannelActive(ctx context.Context, channelID string, active bool) error

	// DeleteChannel removes the channel, its members and its log.
	DeleteChannel(ctx context.Context, channelID string) error

	// AppendMessage appends msg to the channel's log and sets msg.ID.
	AppendMessage(ctx context.Context, channelID string, msg *Message) error

	// ListMessages returns up to limit messages older than before (if set), in chronological order.
	ListMessages(ctx context.Context, channelID string, limit int, before *time.Time) ([]*Message, error)

	// CountMessages returns the size of the channel's log.
	CountMessages(ctx context.Context, channelID string) (int, error)

	// CleanMessages deletes non-system messages older than cutoff and returns how many were removed.
	CleanMessages(ctx context.Context, channelID string, cutoff time.Time) (int, error)
}

// ActivationCodeStore handles invite codes.
type ActivationCodeStore interface {
	// CreateActivationCode inserts a new unused code.
	CreateActivationCode(ctx context.Context, code *ActivationCode) error

	// ConsumeActivationCode marks an unused, unexpired code as used. Returns ErrNotFound otherwise.
	ConsumeActivationCode(ctx context.Context, code string, now time.Time) error

	// ListActivationCodes returns all codes, newest first.
	ListActivationCodes(ctx context.Context) ([]*ActivationCode, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	ChannelStore
	ActivationCodeStore

	// Close closes the underlying database connection.
	Close() error
}
