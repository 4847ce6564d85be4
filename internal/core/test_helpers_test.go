package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vovakirdan/channelchat-server/internal/store"
)

func mustEvent(t *testing.T, ch <-chan *Event, kind EventKind) *Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev == nil {
				continue
			}
			if ev.Kind == kind {
				return ev
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected event kind %v not received", kind)
	return nil
}

func mustError(t *testing.T, ch <-chan *Event, code string) *Event {
	t.Helper()
	ev := mustEvent(t, ch, EventError)
	if ev.Error == nil || ev.Error.Code != code {
		t.Fatalf("expected %s error, got %+v", code, ev.Error)
	}
	return ev
}

// expectNoEvent fails if an event of the given kind shows up within a short window.
func expectNoEvent(t *testing.T, ch <-chan *Event, kind EventKind) {
	t.Helper()
	deadline := time.After(150 * time.Millisecond)
	for {
		select {
		case ev := <-ch:
			if ev != nil && ev.Kind == kind {
				t.Fatalf("unexpected %v event: %+v", kind, ev)
			}
		case <-deadline:
			return
		}
	}
}

type memDirectory struct {
	mu        sync.Mutex
	channels  map[string]*store.Channel
	messages  []*store.Message
	failures  int // remaining AppendMessage calls that fail
	appendErr error

	// appendDelay stalls AppendMessage until it elapses or the context ends.
	appendDelay time.Duration
	nextID      int64
}

func newMemDirectory() *memDirectory {
	return &memDirectory{channels: make(map[string]*store.Channel)}
}

func (d *memDirectory) addChannel(ch store.Channel) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := ch
	d.channels[ch.ChannelID] = &c
}

func (d *memDirectory) update(channelID string, fn func(*store.Channel)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(d.channels[channelID])
}

func (d *memDirectory) GetChannel(_ context.Context, channelID string) (*store.Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch, ok := d.channels[channelID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *ch
	cp.Members = append([]string(nil), ch.Members...)
	return &cp, nil
}

func (d *memDirectory) IsMember(_ context.Context, channelID, userID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch, ok := d.channels[channelID]
	if !ok {
		return false, store.ErrNotFound
	}
	return ch.HasMember(userID), nil
}

func (d *memDirectory) AppendMessage(ctx context.Context, channelID string, msg *store.Message) error {
	d.mu.Lock()
	delay := d.appendDelay
	d.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failures > 0 {
		d.failures--
		return errors.New("disk on fire")
	}
	if d.appendErr != nil {
		return d.appendErr
	}
	if _, ok := d.channels[channelID]; !ok {
		return store.ErrNotFound
	}
	d.nextID++
	msg.ID = d.nextID
	cp := *msg
	d.messages = append(d.messages, &cp)
	return nil
}

func (d *memDirectory) ListMessages(_ context.Context, channelID string, limit int, _ *time.Time) ([]*store.Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*store.Message
	for _, m := range d.messages {
		if m.ChannelID == channelID {
			out = append(out, m)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (d *memDirectory) stored() []*store.Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*store.Message(nil), d.messages...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met")
}

type hubFixture struct {
	hub       *Hub
	dir       *memDirectory
	persister *Persister
	ctx       context.Context
}

func newHubFixture(t *testing.T, opts Options) *hubFixture {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	dir := newMemDirectory()
	dir.addChannel(store.Channel{
		ChannelID: "@general",
		Name:      "General",
		IsPublic:  true,
		IsActive:  true,
		Members:   []string{"u-alice", "u-bob"},
	})
	persister := NewPersister(dir, PersisterOptions{QueueSize: 64, MaxRetries: 2, RetryBase: time.Millisecond}, nil)
	persister.Start()
	hub := NewHub(Deps{Directory: dir, Persister: persister}, opts)
	go hub.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-hub.Done()
		persister.Close()
	})
	return &hubFixture{hub: hub, dir: dir, persister: persister, ctx: ctx}
}

func (f *hubFixture) connect(t *testing.T, userID, name string, admin bool) *Client {
	t.Helper()
	c := NewClient("conn-" + userID)
	f.hub.RegisterClient(c)
	err := f.hub.Authenticate(f.ctx, c, Identity{UserID: userID, Username: name, DisplayName: name, IsAdmin: admin})
	if err != nil {
		t.Fatalf("authenticate %s: %v", userID, err)
	}
	return c
}

func (f *hubFixture) join(t *testing.T, c *Client, channelID string) {
	t.Helper()
	c.Commands <- &Command{Kind: CommandJoinChannel, ChannelID: channelID}
	mustEvent(t, c.Events, EventJoined)
}
