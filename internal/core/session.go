package core

import (
	"sort"
	"strings"
)

type session struct {
	client   *Client
	identity Identity
	channels map[string]struct{}
	limiter  *rateLimiter
}

func (s *session) authenticated() bool {
	return !s.identity.IsZero()
}

func (s *session) inChannel(channelID string) bool {
	_, ok := s.channels[channelID]
	return ok
}

// joinedAs maps a client-supplied channel id onto the id the session joined
// under. Channel ids match case-insensitively, as the directory does.
func (s *session) joinedAs(channelID string) (string, bool) {
	if s.inChannel(channelID) {
		return channelID, true
	}
	for id := range s.channels {
		if strings.EqualFold(id, channelID) {
			return id, true
		}
	}
	return "", false
}

// SessionRegistry maps live connections to their identity and joined channels.
// It is not safe for concurrent use; the hub goroutine owns it.
type SessionRegistry struct {
	sessions     map[*Client]*session
	messageLimit int
}

// NewSessionRegistry returns an empty registry. messagesPerMinute <= 0 disables rate limiting.
func NewSessionRegistry(messagesPerMinute int) *SessionRegistry {
	return &SessionRegistry{
		sessions:     make(map[*Client]*session),
		messageLimit: messagesPerMinute,
	}
}

// Connect records an unauthenticated session for the client.
func (r *SessionRegistry) Connect(c *Client) {
	if _, ok := r.sessions[c]; ok {
		return
	}
	r.sessions[c] = &session{
		client:   c,
		channels: make(map[string]struct{}),
		limiter:  newRateLimiter(r.messageLimit),
	}
}

// Register binds an identity to a connected client.
func (r *SessionRegistry) Register(c *Client, id Identity) error {
	if id.IsZero() || id.IsBanned {
		return ErrUnauthenticated
	}
	s, ok := r.sessions[c]
	if !ok {
		return ErrUnauthenticated
	}
	s.identity = id
	return nil
}

// Identity returns the identity bound to the client, if any.
func (r *SessionRegistry) Identity(c *Client) (Identity, bool) {
	s, ok := r.sessions[c]
	if !ok || !s.authenticated() {
		return Identity{}, false
	}
	return s.identity, true
}

// CurrentChannels lists the channels the client has joined, sorted.
func (r *SessionRegistry) CurrentChannels(c *Client) []string {
	s, ok := r.sessions[c]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(s.channels))
	for id := range s.channels {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Unregister invokes leave for every joined channel, then forgets the session.
// Calling it twice is a no-op.
func (r *SessionRegistry) Unregister(c *Client, leave func(s *session, channelID string)) {
	s, ok := r.sessions[c]
	if !ok {
		return
	}
	for _, channelID := range r.CurrentChannels(c) {
		if leave != nil {
			leave(s, channelID)
		}
		delete(s.channels, channelID)
	}
	delete(r.sessions, c)
}

// Len returns the number of live sessions.
func (r *SessionRegistry) Len() int {
	return len(r.sessions)
}

func (r *SessionRegistry) get(c *Client) (*session, bool) {
	s, ok := r.sessions[c]
	return s, ok
}

func (r *SessionRegistry) all() []*session {
	out := make([]*session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}
