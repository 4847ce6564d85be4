package core

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/channelchat-server/internal/store"
)

const (
	busOutboundBuffer = 256
	directoryTimeout  = 5 * time.Second
)

// Options configure the hub's protocol behaviour.
type Options struct {
	MaxMessageLength  int
	MessagesPerMinute int
	HistoryOnJoin     int
	LogPresence       bool
	PersistFirst      bool

	// PersistTimeout bounds a persist-first write, retries included. The
	// write runs on the dispatch goroutine and stalls every room meanwhile.
	PersistTimeout time.Duration
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		MaxMessageLength:  2000,
		MessagesPerMinute: 120,
		HistoryOnJoin:     50,
		PersistTimeout:    2 * time.Second,
	}
}

// Deps are the collaborators a hub needs. Only Directory is required for channel operations.
type Deps struct {
	Directory ChannelDirectory
	Persister *Persister
	Bus       Bus
	Logger    *zerolog.Logger
	Now       func() time.Time
}

// Stats is a point-in-time view of the hub.
type Stats struct {
	Sessions int
	Rooms    int
}

type clientCommand struct {
	client *Client
	cmd    *Command
}

type authRequest struct {
	client   *Client
	identity Identity
	reply    chan error
}

// Hub coordinates sessions, rooms and message fan-out. All state is owned by
// the goroutine running Run; other goroutines talk to it over channels.
type Hub struct {
	directory  ChannelDirectory
	persister  *Persister
	presence   *PresenceNotifier
	sessions   *SessionRegistry
	rooms      *RoomIndex
	bus        Bus
	instanceID string
	opts       Options
	log        *zerolog.Logger
	now        func() time.Time

	register   chan *Client
	unregister chan *Client
	auth       chan authRequest
	inbox      chan clientCommand
	outbound   chan Envelope
	done       chan struct{}

	// lastStamp keeps per-channel timestamps non-decreasing.
	lastStamp map[string]time.Time

	sessionCount atomic.Int64
	roomCount    atomic.Int64
}

// NewHub creates a hub. Call Run to start processing.
func NewHub(deps Deps, opts Options) *Hub {
	logger := deps.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	if opts.MaxMessageLength <= 0 {
		opts.MaxMessageLength = DefaultOptions().MaxMessageLength
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = DefaultOptions().PersistTimeout
	}
	h := &Hub{
		directory:  deps.Directory,
		persister:  deps.Persister,
		sessions:   NewSessionRegistry(opts.MessagesPerMinute),
		rooms:      NewRoomIndex(),
		bus:        deps.Bus,
		instanceID: uuid.NewString(),
		opts:       opts,
		log:        logger,
		now:        now,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		auth:       make(chan authRequest),
		inbox:      make(chan clientCommand, 256),
		outbound:   make(chan Envelope, busOutboundBuffer),
		done:       make(chan struct{}),
		lastStamp:  make(map[string]time.Time),
	}
	var recorder messageRecorder
	if opts.LogPresence && deps.Persister != nil {
		recorder = deps.Persister
	}
	h.presence = NewPresenceNotifier(h, recorder, func(channelID string) time.Time {
		return h.stamp(channelID, h.now())
	})
	return h
}

// InstanceID identifies this hub on the bus.
func (h *Hub) InstanceID() string {
	return h.instanceID
}

// Run processes events until ctx is cancelled. On exit every client is released.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	remote := h.startBus(ctx)

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case c := <-h.register:
			h.connect(c)
		case c := <-h.unregister:
			h.disconnect(c)
		case req := <-h.auth:
			req.reply <- h.authenticate(req.client, req.identity)
		case cc := <-h.inbox:
			h.dispatch(ctx, cc.client, cc.cmd)
		case env, ok := <-remote:
			if !ok {
				remote = nil
				continue
			}
			h.deliverRemote(env)
		}
		h.sessionCount.Store(int64(h.sessions.Len()))
		h.roomCount.Store(int64(h.rooms.Len()))
	}
}

// RegisterClient adds an unauthenticated connection to the hub.
func (h *Hub) RegisterClient(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
	}
}

// UnregisterClient removes a connection, leaving every channel it joined. Safe to call twice.
func (h *Hub) UnregisterClient(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Authenticate binds an identity to a registered connection.
func (h *Hub) Authenticate(ctx context.Context, c *Client, id Identity) error {
	req := authRequest{client: c, identity: id, reply: make(chan error, 1)}
	select {
	case h.auth <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return ErrUnauthenticated
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats reports live session and room counts.
func (h *Hub) Stats() Stats {
	return Stats{
		Sessions: int(h.sessionCount.Load()),
		Rooms:    int(h.roomCount.Load()),
	}
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

func (h *Hub) connect(c *Client) {
	if c.closed {
		return
	}
	h.sessions.Connect(c)
	go h.forward(c)
}

// forward moves commands from one client into the shared inbox, preserving their order.
func (h *Hub) forward(c *Client) {
	for {
		select {
		case cmd := <-c.Commands:
			if cmd == nil {
				continue
			}
			select {
			case h.inbox <- clientCommand{client: c, cmd: cmd}:
			case <-c.done:
				return
			case <-h.done:
				return
			}
		case <-c.done:
			return
		case <-h.done:
			return
		}
	}
}

func (h *Hub) authenticate(c *Client, id Identity) error {
	if err := h.sessions.Register(c, id); err != nil {
		return err
	}
	h.log.Debug().Str("client", c.ID).Str("user", id.UserID).Msg("client authenticated")
	return nil
}

func (h *Hub) disconnect(c *Client) {
	h.sessions.Unregister(c, func(s *session, channelID string) {
		h.rooms.Leave(c, channelID)
		h.presence.Left(channelID, c, s.identity)
	})
	c.release()
}

func (h *Hub) shutdown() {
	for _, s := range h.sessions.all() {
		h.sessions.Unregister(s.client, nil)
		s.client.release()
	}
	h.rooms.releaseAll()
}

func (h *Hub) dispatch(ctx context.Context, c *Client, cmd *Command) {
	s, ok := h.sessions.get(c)
	if !ok {
		return
	}
	var err error
	switch cmd.Kind {
	case CommandJoinChannel:
		err = h.join(ctx, s, cmd.ChannelID)
	case CommandLeaveChannel:
		h.leave(s, cmd.ChannelID)
	case CommandSendMessage:
		err = h.send(ctx, s, cmd.ChannelID, cmd.Content)
	default:
		err = ErrBadRequest
	}
	if err != nil {
		c.deliver(errorEvent(cmd.ChannelID, err))
	}
}

func (h *Hub) join(ctx context.Context, s *session, channelID string) error {
	if !s.authenticated() {
		return ErrUnauthenticated
	}
	id := s.identity
	ch, err := h.lookupChannel(ctx, channelID)
	if err != nil {
		return err
	}
	if ch.IsBanned && !id.IsAdmin {
		return ErrChannelBanned
	}
	if !ch.IsActive {
		return ErrChannelInactive
	}
	if !id.IsAdmin {
		dctx, cancel := context.WithTimeout(ctx, directoryTimeout)
		member, err := h.directory.IsMember(dctx, ch.ChannelID, id.UserID)
		cancel()
		if err != nil {
			h.log.Error().Err(err).Str("channel", ch.ChannelID).Msg("membership lookup failed")
			return ErrInternal
		}
		if !member {
			return ErrNotAMember
		}
	}

	channelID = ch.ChannelID
	ack := &Event{Kind: EventJoined, ChannelID: channelID, UserID: id.UserID, DisplayName: id.Name()}
	if s.inChannel(channelID) {
		s.client.deliver(ack)
		return nil
	}

	h.rooms.Join(s.client, channelID)
	s.channels[channelID] = struct{}{}
	s.client.deliver(ack)
	h.presence.Joined(channelID, s.client, id)
	h.sendHistory(ctx, s.client, channelID)
	return nil
}

func (h *Hub) leave(s *session, channelID string) {
	joined, ok := s.joinedAs(channelID)
	if !ok {
		s.client.deliver(&Event{Kind: EventLeft, ChannelID: channelID})
		return
	}
	channelID = joined
	ack := &Event{Kind: EventLeft, ChannelID: channelID}
	h.rooms.Leave(s.client, channelID)
	delete(s.channels, channelID)
	s.client.deliver(ack)
	h.presence.Left(channelID, s.client, s.identity)
}

func (h *Hub) send(ctx context.Context, s *session, channelID, content string) error {
	if !s.authenticated() {
		return ErrUnauthenticated
	}
	joined, ok := s.joinedAs(channelID)
	if !ok {
		return ErrNotInRoom
	}
	channelID = joined
	content = strings.TrimSpace(content)
	if content == "" {
		return ErrEmptyMessage
	}
	if utf8.RuneCountInString(content) > h.opts.MaxMessageLength {
		return ErrMessageTooLong
	}
	now := h.now()
	if !s.limiter.allow(now) {
		return ErrRateLimited
	}

	// The channel may have been banned or deactivated since the join.
	ch, err := h.lookupChannel(ctx, channelID)
	if err != nil {
		return err
	}
	id := s.identity
	if ch.IsBanned && !id.IsAdmin {
		return ErrChannelBanned
	}
	if !ch.IsActive {
		return ErrChannelInactive
	}

	msg := Message{
		ChannelID:    channelID,
		AuthorUserID: id.UserID,
		Username:     id.Username,
		DisplayName:  id.Name(),
		Avatar:       id.Avatar,
		Content:      content,
		Timestamp:    h.stamp(channelID, now),
	}

	if h.opts.PersistFirst && h.persister != nil {
		pctx, cancel := context.WithTimeout(ctx, h.opts.PersistTimeout)
		err := h.persister.AppendNow(pctx, &msg)
		cancel()
		if err != nil {
			return ErrPersistence
		}
	}

	h.broadcast(channelID, &Event{
		Kind:        EventReceiveMessage,
		ChannelID:   channelID,
		UserID:      id.UserID,
		DisplayName: id.Name(),
		Message:     msg,
	}, nil)

	if !h.opts.PersistFirst && h.persister != nil {
		h.persister.Enqueue(msg)
	}
	return nil
}

func (h *Hub) lookupChannel(ctx context.Context, channelID string) (*store.Channel, error) {
	if h.directory == nil || channelID == "" {
		return nil, ErrChannelNotFound
	}
	dctx, cancel := context.WithTimeout(ctx, directoryTimeout)
	defer cancel()
	ch, err := h.directory.GetChannel(dctx, channelID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrChannelNotFound
	}
	if err != nil {
		h.log.Error().Err(err).Str("channel", channelID).Msg("channel lookup failed")
		return nil, ErrInternal
	}
	return ch, nil
}

func (h *Hub) sendHistory(ctx context.Context, c *Client, channelID string) {
	if h.opts.HistoryOnJoin <= 0 || h.directory == nil {
		return
	}
	dctx, cancel := context.WithTimeout(ctx, directoryTimeout)
	defer cancel()
	recs, err := h.directory.ListMessages(dctx, channelID, h.opts.HistoryOnJoin, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("channel", channelID).Msg("history lookup failed")
		return
	}
	msgs := make([]Message, 0, len(recs))
	for _, rec := range recs {
		msgs = append(msgs, messageFromStore(rec))
	}
	c.deliver(&Event{Kind: EventHistory, ChannelID: channelID, Messages: msgs})
}

// stamp returns a server timestamp that never goes backwards within a channel.
func (h *Hub) stamp(channelID string, now time.Time) time.Time {
	now = now.UTC()
	if last, ok := h.lastStamp[channelID]; ok && now.Before(last) {
		now = last
	}
	h.lastStamp[channelID] = now
	return now
}

// broadcast delivers to local room members and relays to other instances.
func (h *Hub) broadcast(channelID string, ev *Event, exclude *Client) {
	h.localBroadcast(channelID, ev, exclude)
	if h.bus == nil || !relayable(ev.Kind) {
		return
	}
	select {
	case h.outbound <- envelopeFor(h.instanceID, channelID, ev):
	default:
		h.log.Warn().Str("channel", channelID).Msg("bus outbound queue full, dropping relay")
	}
}

func (h *Hub) localBroadcast(channelID string, ev *Event, exclude *Client) {
	room, ok := h.rooms.Room(channelID)
	if !ok {
		return
	}
	if dropped := room.Broadcast(ev, exclude); dropped > 0 {
		h.log.Warn().Str("channel", channelID).Int("dropped", dropped).Str("event", ev.Kind.String()).Msg("slow consumers skipped")
	}
}

func (h *Hub) deliverRemote(env Envelope) {
	if env.Origin == h.instanceID || !relayable(env.Kind) {
		return
	}
	h.localBroadcast(env.ChannelID, env.event(), nil)
}

// startBus subscribes to remote events and starts the publisher. It returns nil without a bus.
func (h *Hub) startBus(ctx context.Context) <-chan Envelope {
	if h.bus == nil {
		return nil
	}
	remote, err := h.bus.Subscribe(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("bus subscribe failed, running standalone")
		h.bus = nil
		return nil
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case env := <-h.outbound:
				if err := h.bus.Publish(ctx, env); err != nil {
					h.log.Warn().Err(err).Str("channel", env.ChannelID).Msg("bus publish failed")
				}
			}
		}
	}()
	return remote
}
