package core

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vovakirdan/channelchat-server/internal/store"
	"github.com/vovakirdan/channelchat-server/internal/store/sqlite"
)

func TestHubJoinBroadcastAndLeave(t *testing.T) {
	f := newHubFixture(t, DefaultOptions())

	alice := f.connect(t, "u-alice", "alice", false)
	bob := f.connect(t, "u-bob", "bob", false)

	f.join(t, alice, "@general")
	f.join(t, bob, "@general")

	// Alice sees Bob join.
	joinEv := mustEvent(t, alice.Events, EventUserJoined)
	if joinEv.UserID != "u-bob" || joinEv.ChannelID != "@general" || joinEv.DisplayName != "bob" {
		t.Fatalf("unexpected join event: %+v", joinEv)
	}

	before := time.Now().UTC()
	alice.Commands <- &Command{Kind: CommandSendMessage, ChannelID: "@general", Content: "  hello  "}

	for _, c := range []*Client{alice, bob} {
		msgEv := mustEvent(t, c.Events, EventReceiveMessage)
		if msgEv.Message.Content != "hello" || msgEv.Message.ChannelID != "@general" || msgEv.Message.AuthorUserID != "u-alice" {
			t.Fatalf("unexpected message event: %+v", msgEv)
		}
		if msgEv.Message.Timestamp.Before(before) {
			t.Fatalf("timestamp %v before submission %v", msgEv.Message.Timestamp, before)
		}
	}

	// Alice leaves; Bob should see user-left.
	alice.Commands <- &Command{Kind: CommandLeaveChannel, ChannelID: "@general"}
	mustEvent(t, alice.Events, EventLeft)
	leftEv := mustEvent(t, bob.Events, EventUserLeft)
	if leftEv.UserID != "u-alice" || leftEv.ChannelID != "@general" {
		t.Fatalf("unexpected leave event: %+v", leftEv)
	}
}

func TestHubJoinPresenceExcludesJoiner(t *testing.T) {
	f := newHubFixture(t, DefaultOptions())

	alice := f.connect(t, "u-alice", "alice", false)
	f.join(t, alice, "@general")

	expectNoEvent(t, alice.Events, EventUserJoined)
}

func TestHubJoinRejections(t *testing.T) {
	f := newHubFixture(t, DefaultOptions())
	f.dir.addChannel(store.Channel{ChannelID: "@banned", IsActive: true, IsBanned: true, Members: []string{"u-alice"}})
	f.dir.addChannel(store.Channel{ChannelID: "@sleepy", IsActive: false, Members: []string{"u-alice"}})
	f.dir.addChannel(store.Channel{ChannelID: "@private", IsActive: true})

	alice := f.connect(t, "u-alice", "alice", false)

	tests := []struct {
		name      string
		channelID string
		code      string
	}{
		{name: "unknown channel", channelID: "@ghost", code: ErrCodeChannelNotFound},
		{name: "banned channel", channelID: "@banned", code: ErrCodeChannelBanned},
		{name: "inactive channel", channelID: "@sleepy", code: ErrCodeChannelInactive},
		{name: "not a member", channelID: "@private", code: ErrCodeNotAMember},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alice.Commands <- &Command{Kind: CommandJoinChannel, ChannelID: tt.channelID}
			ev := mustError(t, alice.Events, tt.code)
			if ev.ChannelID != tt.channelID {
				t.Fatalf("error channel = %q, want %q", ev.ChannelID, tt.channelID)
			}
		})
	}

	// A follow-up round trip guarantees the stats from the last rejection are published.
	alice.Commands <- &Command{Kind: CommandLeaveChannel, ChannelID: "@nowhere"}
	mustEvent(t, alice.Events, EventLeft)
	if rooms := f.hub.Stats().Rooms; rooms != 0 {
		t.Fatalf("rejected joins created %d rooms", rooms)
	}
}

func TestHubAdminBypassesBanAndMembership(t *testing.T) {
	f := newHubFixture(t, DefaultOptions())
	f.dir.addChannel(store.Channel{ChannelID: "@banned", IsActive: true, IsBanned: true})

	admin := f.connect(t, "u-admin", "admin", true)
	f.join(t, admin, "@banned")

	admin.Commands <- &Command{Kind: CommandSendMessage, ChannelID: "@banned", Content: "moderating"}
	ev := mustEvent(t, admin.Events, EventReceiveMessage)
	if ev.Message.Content != "moderating" {
		t.Fatalf("unexpected message: %+v", ev.Message)
	}
}

func TestHubInactiveChannelRejectsAdmin(t *testing.T) {
	f := newHubFixture(t, DefaultOptions())
	f.dir.addChannel(store.Channel{ChannelID: "@sleepy", IsActive: false})

	admin := f.connect(t, "u-admin", "admin", true)
	admin.Commands <- &Command{Kind: CommandJoinChannel, ChannelID: "@sleepy"}
	mustError(t, admin.Events, ErrCodeChannelInactive)
}

func TestHubSendWithoutJoinProducesError(t *testing.T) {
	f := newHubFixture(t, DefaultOptions())

	alice := f.connect(t, "u-alice", "alice", false)
	bob := f.connect(t, "u-bob", "bob", false)
	f.join(t, bob, "@general")

	alice.Commands <- &Command{Kind: CommandSendMessage, ChannelID: "@general", Content: "hi"}
	mustError(t, alice.Events, ErrCodeNotInRoom)

	expectNoEvent(t, bob.Events, EventReceiveMessage)
	if n := len(f.dir.stored()); n != 0 {
		t.Fatalf("expected no persisted messages, got %d", n)
	}
}

func TestHubSendValidation(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxMessageLength = 5
	f := newHubFixture(t, opts)

	alice := f.connect(t, "u-alice", "alice", false)
	f.join(t, alice, "@general")

	tests := []struct {
		name    string
		content string
		code    string
	}{
		{name: "empty", content: "", code: ErrCodeEmptyMessage},
		{name: "whitespace only", content: " \t\n ", code: ErrCodeEmptyMessage},
		{name: "too long", content: "héllo!", code: ErrCodeMessageTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alice.Commands <- &Command{Kind: CommandSendMessage, ChannelID: "@general", Content: tt.content}
			mustError(t, alice.Events, tt.code)
		})
	}

	// Five runes with multibyte characters fit.
	alice.Commands <- &Command{Kind: CommandSendMessage, ChannelID: "@general", Content: " héllo "}
	ev := mustEvent(t, alice.Events, EventReceiveMessage)
	if ev.Message.Content != "héllo" {
		t.Fatalf("content = %q", ev.Message.Content)
	}
}

func TestHubUnauthenticatedConnection(t *testing.T) {
	f := newHubFixture(t, DefaultOptions())

	anon := NewClient("anon")
	f.hub.RegisterClient(anon)

	anon.Commands <- &Command{Kind: CommandJoinChannel, ChannelID: "@general"}
	mustError(t, anon.Events, ErrCodeUnauthenticated)

	anon.Commands <- &Command{Kind: CommandSendMessage, ChannelID: "@general", Content: "hi"}
	mustError(t, anon.Events, ErrCodeUnauthenticated)

	if err := f.hub.Authenticate(f.ctx, anon, Identity{}); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated for empty identity, got %v", err)
	}
	if err := f.hub.Authenticate(f.ctx, anon, Identity{UserID: "u-x", IsBanned: true}); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated for banned identity, got %v", err)
	}
}

func TestHubRejoinIsIdempotent(t *testing.T) {
	f := newHubFixture(t, DefaultOptions())

	alice := f.connect(t, "u-alice", "alice", false)
	bob := f.connect(t, "u-bob", "bob", false)
	f.join(t, bob, "@general")

	f.join(t, alice, "@general")
	alice.Commands <- &Command{Kind: CommandLeaveChannel, ChannelID: "@general"}
	mustEvent(t, alice.Events, EventLeft)
	f.join(t, alice, "@general")
	f.join(t, alice, "@general")

	bob.Commands <- &Command{Kind: CommandSendMessage, ChannelID: "@general", Content: "once"}
	mustEvent(t, alice.Events, EventReceiveMessage)
	expectNoEvent(t, alice.Events, EventReceiveMessage)

	// Leaving a channel that was never joined still acknowledges.
	alice.Commands <- &Command{Kind: CommandLeaveChannel, ChannelID: "@nowhere"}
	mustEvent(t, alice.Events, EventLeft)
	if rooms := f.hub.Stats().Rooms; rooms != 1 {
		t.Fatalf("rooms = %d, want 1", rooms)
	}
}

func TestHubDisconnectRemovesFromRooms(t *testing.T) {
	f := newHubFixture(t, DefaultOptions())

	alice := f.connect(t, "u-alice", "alice", false)
	bob := f.connect(t, "u-bob", "bob", false)
	f.join(t, alice, "@general")
	f.join(t, bob, "@general")

	alice.Commands <- &Command{Kind: CommandSendMessage, ChannelID: "@general", Content: "hello"}
	mustEvent(t, alice.Events, EventReceiveMessage)
	mustEvent(t, bob.Events, EventReceiveMessage)

	f.hub.UnregisterClient(bob)
	f.hub.UnregisterClient(bob) // second call is a no-op
	<-bob.Done()

	left := mustEvent(t, alice.Events, EventUserLeft)
	if left.UserID != "u-bob" {
		t.Fatalf("unexpected leave event: %+v", left)
	}

	alice.Commands <- &Command{Kind: CommandSendMessage, ChannelID: "@general", Content: "bye"}
	ev := mustEvent(t, alice.Events, EventReceiveMessage)
	if ev.Message.Content != "bye" {
		t.Fatalf("unexpected echo: %+v", ev.Message)
	}

	// Bob's event stream is closed after draining.
	for range bob.Events {
	}
	waitFor(t, func() bool { return f.hub.Stats().Sessions == 1 })
}

func TestHubMessageOrdering(t *testing.T) {
	f := newHubFixture(t, DefaultOptions())
	f.dir.update("@general", func(ch *store.Channel) { ch.Members = append(ch.Members, "u-carol") })

	alice := f.connect(t, "u-alice", "alice", false)
	bob := f.connect(t, "u-bob", "bob", false)
	carol := f.connect(t, "u-carol", "carol", false)
	f.join(t, alice, "@general")
	f.join(t, bob, "@general")
	f.join(t, carol, "@general")

	const n = 20
	var want strings.Builder
	for i := 0; i < n; i++ {
		sender := alice
		if i%2 == 1 {
			sender = bob
		}
		content := string(rune('a' + i))
		want.WriteString(content)
		sender.Commands <- &Command{Kind: CommandSendMessage, ChannelID: "@general", Content: content}
		// Wait until the observer has it so submissions are ordered across connections.
		ev := mustEvent(t, carol.Events, EventReceiveMessage)
		if ev.Message.Content != content {
			t.Fatalf("observer got %q, want %q", ev.Message.Content, content)
		}
	}

	for _, c := range []*Client{alice, bob} {
		var got strings.Builder
		var last time.Time
		for got.Len() < n {
			ev := mustEvent(t, c.Events, EventReceiveMessage)
			if ev.Message.Timestamp.Before(last) {
				t.Fatal("timestamps went backwards")
			}
			last = ev.Message.Timestamp
			got.WriteString(ev.Message.Content)
		}
		if got.String() != want.String() {
			t.Fatalf("%s observed %q, want %q", c.ID, got.String(), want.String())
		}
	}
}

func TestHubMessageOrderingSingleSender(t *testing.T) {
	f := newHubFixture(t, DefaultOptions())

	alice := f.connect(t, "u-alice", "alice", false)
	bob := f.connect(t, "u-bob", "bob", false)
	f.join(t, alice, "@general")
	f.join(t, bob, "@general")

	want := []string{"m1", "m2", "m3", "m4", "m5"}
	for _, content := range want {
		alice.Commands <- &Command{Kind: CommandSendMessage, ChannelID: "@general", Content: content}
	}
	for _, content := range want {
		ev := mustEvent(t, bob.Events, EventReceiveMessage)
		if ev.Message.Content != content {
			t.Fatalf("got %q, want %q", ev.Message.Content, content)
		}
	}
}

func TestHubRechecksChannelOnSend(t *testing.T) {
	f := newHubFixture(t, DefaultOptions())

	alice := f.connect(t, "u-alice", "alice", false)
	admin := f.connect(t, "u-admin", "admin", true)
	f.join(t, alice, "@general")
	f.join(t, admin, "@general")

	f.dir.update("@general", func(ch *store.Channel) { ch.IsBanned = true })

	alice.Commands <- &Command{Kind: CommandSendMessage, ChannelID: "@general", Content: "still here?"}
	mustError(t, alice.Events, ErrCodeChannelBanned)

	admin.Commands <- &Command{Kind: CommandSendMessage, ChannelID: "@general", Content: "channel banned"}
	mustEvent(t, admin.Events, EventReceiveMessage)

	f.dir.update("@general", func(ch *store.Channel) { ch.IsBanned = false; ch.IsActive = false })
	alice.Commands <- &Command{Kind: CommandSendMessage, ChannelID: "@general", Content: "hello?"}
	mustError(t, alice.Events, ErrCodeChannelInactive)
}

func TestHubRateLimit(t *testing.T) {
	opts := DefaultOptions()
	opts.MessagesPerMinute = 2
	f := newHubFixture(t, opts)

	alice := f.connect(t, "u-alice", "alice", false)
	f.join(t, alice, "@general")

	for i := 0; i < 2; i++ {
		alice.Commands <- &Command{Kind: CommandSendMessage, ChannelID: "@general", Content: "spam"}
		mustEvent(t, alice.Events, EventReceiveMessage)
	}
	alice.Commands <- &Command{Kind: CommandSendMessage, ChannelID: "@general", Content: "spam"}
	mustError(t, alice.Events, ErrCodeRateLimited)
}

func TestHubPersistsAfterBroadcast(t *testing.T) {
	f := newHubFixture(t, DefaultOptions())

	alice := f.connect(t, "u-alice", "alice", false)
	f.join(t, alice, "@general")

	// The first two writes fail and are retried.
	f.dir.mu.Lock()
	f.dir.failures = 2
	f.dir.mu.Unlock()

	alice.Commands <- &Command{Kind: CommandSendMessage, ChannelID: "@general", Content: "durable"}
	mustEvent(t, alice.Events, EventReceiveMessage)

	waitFor(t, func() bool { return len(f.dir.stored()) == 1 })
	rec := f.dir.stored()[0]
	if rec.Content != "durable" || rec.AuthorUserID == nil || *rec.AuthorUserID != "u-alice" || rec.IsSystem {
		t.Fatalf("unexpected stored message: %+v", rec)
	}
	if f.persister.Failures() != 0 {
		t.Fatalf("failures = %d, want 0", f.persister.Failures())
	}
}

func TestHubBroadcastSurvivesPersistenceFailure(t *testing.T) {
	f := newHubFixture(t, DefaultOptions())
	alice := f.connect(t, "u-alice", "alice", false)
	f.join(t, alice, "@general")

	f.dir.mu.Lock()
	f.dir.appendErr = errors.New("read-only")
	f.dir.mu.Unlock()

	alice.Commands <- &Command{Kind: CommandSendMessage, ChannelID: "@general", Content: "lost"}
	mustEvent(t, alice.Events, EventReceiveMessage)

	waitFor(t, func() bool { return f.persister.Failures() == 1 })
	expectNoEvent(t, alice.Events, EventError)
}

func TestHubPersistFirst(t *testing.T) {
	opts := DefaultOptions()
	opts.PersistFirst = true
	f := newHubFixture(t, opts)

	alice := f.connect(t, "u-alice", "alice", false)
	bob := f.connect(t, "u-bob", "bob", false)
	f.join(t, alice, "@general")
	f.join(t, bob, "@general")

	alice.Commands <- &Command{Kind: CommandSendMessage, ChannelID: "@general", Content: "stored"}
	ev := mustEvent(t, bob.Events, EventReceiveMessage)
	if ev.Message.ID == 0 {
		t.Fatal("expected stored message id in persist-first mode")
	}

	f.dir.mu.Lock()
	f.dir.appendErr = errors.New("read-only")
	f.dir.mu.Unlock()

	alice.Commands <- &Command{Kind: CommandSendMessage, ChannelID: "@general", Content: "not stored"}
	mustError(t, alice.Events, ErrCodePersistence)
	expectNoEvent(t, bob.Events, EventReceiveMessage)
}

func TestHubHistoryOnJoin(t *testing.T) {
	opts := DefaultOptions()
	opts.HistoryOnJoin = 2
	f := newHubFixture(t, opts)

	ctx := context.Background()
	for _, content := range []string{"one", "two", "three"} {
		author := "u-bob"
		if err := f.dir.AppendMessage(ctx, "@general", &store.Message{ChannelID: "@general", AuthorUserID: &author, Username: "bob", Content: content, Timestamp: time.Now()}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	alice := f.connect(t, "u-alice", "alice", false)
	alice.Commands <- &Command{Kind: CommandJoinChannel, ChannelID: "@general"}
	ev := mustEvent(t, alice.Events, EventHistory)
	if len(ev.Messages) != 2 || ev.Messages[0].Content != "two" || ev.Messages[1].Content != "three" {
		t.Fatalf("unexpected history: %+v", ev.Messages)
	}
}

func TestHubLogPresence(t *testing.T) {
	opts := DefaultOptions()
	opts.LogPresence = true
	f := newHubFixture(t, opts)

	alice := f.connect(t, "u-alice", "alice", false)
	f.join(t, alice, "@general")
	alice.Commands <- &Command{Kind: CommandLeaveChannel, ChannelID: "@general"}
	mustEvent(t, alice.Events, EventLeft)

	waitFor(t, func() bool { return len(f.dir.stored()) == 2 })
	msgs := f.dir.stored()
	if !msgs[0].IsSystem || msgs[0].Content != "alice joined the channel" {
		t.Fatalf("unexpected join record: %+v", msgs[0])
	}
	if !msgs[1].IsSystem || msgs[1].Content != "alice left the channel" {
		t.Fatalf("unexpected leave record: %+v", msgs[1])
	}
}

type steppingClock struct {
	mu    sync.Mutex
	times []time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.times[0]
	if len(c.times) > 1 {
		c.times = c.times[1:]
	}
	return now
}

func TestHubTimestampsNeverGoBackwards(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := &steppingClock{times: []time.Time{base, base.Add(-time.Minute)}}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	dir := newMemDirectory()
	dir.addChannel(store.Channel{ChannelID: "@general", IsActive: true, Members: []string{"u-alice"}})
	hub := NewHub(Deps{Directory: dir, Now: clock.Now}, DefaultOptions())
	go hub.Run(ctx)

	alice := NewClient("a")
	hub.RegisterClient(alice)
	if err := hub.Authenticate(ctx, alice, Identity{UserID: "u-alice", Username: "alice"}); err != nil {
		t.Fatal(err)
	}
	alice.Commands <- &Command{Kind: CommandJoinChannel, ChannelID: "@general"}
	mustEvent(t, alice.Events, EventJoined)

	alice.Commands <- &Command{Kind: CommandSendMessage, ChannelID: "@general", Content: "first"}
	first := mustEvent(t, alice.Events, EventReceiveMessage)
	alice.Commands <- &Command{Kind: CommandSendMessage, ChannelID: "@general", Content: "second"}
	second := mustEvent(t, alice.Events, EventReceiveMessage)

	if second.Message.Timestamp.Before(first.Message.Timestamp) {
		t.Fatalf("second %v before first %v", second.Message.Timestamp, first.Message.Timestamp)
	}
}

func TestHubShutdownReleasesClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(Deps{Directory: newMemDirectory()}, DefaultOptions())
	go hub.Run(ctx)

	c := NewClient("a")
	hub.RegisterClient(c)
	cancel()

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client not released on shutdown")
	}
	<-hub.Done()

	// Calls after shutdown return instead of blocking.
	hub.RegisterClient(NewClient("late"))
	hub.UnregisterClient(c)
}

func TestHubChannelIDCaseFollowsJoin(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.CreateChannel(ctx, &store.Channel{ChannelID: "@general", Name: "General", IsPublic: true, IsActive: true, CreatorID: "u-alice"}); err != nil {
		t.Fatalf("create channel: %v", err)
	}
	if err := st.AddMember(ctx, "@general", "u-bob"); err != nil {
		t.Fatalf("add member: %v", err)
	}

	hub := NewHub(Deps{Directory: st}, DefaultOptions())
	go hub.Run(ctx)

	connect := func(userID, name string) *Client {
		c := NewClient("conn-" + userID)
		hub.RegisterClient(c)
		if err := hub.Authenticate(ctx, c, Identity{UserID: userID, Username: name}); err != nil {
			t.Fatalf("authenticate %s: %v", userID, err)
		}
		return c
	}
	alice := connect("u-alice", "alice")
	bob := connect("u-bob", "bob")

	alice.Commands <- &Command{Kind: CommandJoinChannel, ChannelID: "@GENERAL"}
	if ev := mustEvent(t, alice.Events, EventJoined); ev.ChannelID != "@general" {
		t.Fatalf("join ack channel = %q, want stored id", ev.ChannelID)
	}
	bob.Commands <- &Command{Kind: CommandJoinChannel, ChannelID: "@general"}
	mustEvent(t, bob.Events, EventJoined)

	alice.Commands <- &Command{Kind: CommandSendMessage, ChannelID: "@GENERAL", Content: "shouting"}
	msg := mustEvent(t, bob.Events, EventReceiveMessage)
	if msg.ChannelID != "@general" || msg.Message.ChannelID != "@general" {
		t.Fatalf("message routed to %q/%q", msg.ChannelID, msg.Message.ChannelID)
	}
	expectNoEvent(t, alice.Events, EventError)

	alice.Commands <- &Command{Kind: CommandLeaveChannel, ChannelID: "@General"}
	if ev := mustEvent(t, alice.Events, EventLeft); ev.ChannelID != "@general" {
		t.Fatalf("leave ack channel = %q", ev.ChannelID)
	}
	mustEvent(t, bob.Events, EventUserLeft)

	bob.Commands <- &Command{Kind: CommandSendMessage, ChannelID: "@general", Content: "anyone?"}
	mustEvent(t, bob.Events, EventReceiveMessage)
	expectNoEvent(t, alice.Events, EventReceiveMessage)
}

func TestHubPresenceRecordsNeverGoBackwards(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := &steppingClock{times: []time.Time{base, base.Add(-time.Minute)}}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	dir := newMemDirectory()
	dir.addChannel(store.Channel{ChannelID: "@general", IsActive: true, Members: []string{"u-alice"}})
	persister := NewPersister(dir, PersisterOptions{QueueSize: 16, RetryBase: time.Millisecond}, nil)
	persister.Start()
	defer persister.Close()

	opts := DefaultOptions()
	opts.LogPresence = true
	hub := NewHub(Deps{Directory: dir, Persister: persister, Now: clock.Now}, opts)
	go hub.Run(ctx)

	alice := NewClient("a")
	hub.RegisterClient(alice)
	if err := hub.Authenticate(ctx, alice, Identity{UserID: "u-alice", Username: "alice"}); err != nil {
		t.Fatal(err)
	}
	alice.Commands <- &Command{Kind: CommandJoinChannel, ChannelID: "@general"}
	mustEvent(t, alice.Events, EventJoined)
	alice.Commands <- &Command{Kind: CommandSendMessage, ChannelID: "@general", Content: "hi"}
	mustEvent(t, alice.Events, EventReceiveMessage)
	alice.Commands <- &Command{Kind: CommandLeaveChannel, ChannelID: "@general"}
	mustEvent(t, alice.Events, EventLeft)

	waitFor(t, func() bool { return len(dir.stored()) == 3 })
	msgs := dir.stored()
	for i := 1; i < len(msgs); i++ {
		if msgs[i].Timestamp.Before(msgs[i-1].Timestamp) {
			t.Fatalf("record %d (%q) at %v before record %d at %v", i, msgs[i].Content, msgs[i].Timestamp, i-1, msgs[i-1].Timestamp)
		}
	}
}

func TestHubPersistFirstIsBounded(t *testing.T) {
	opts := DefaultOptions()
	opts.PersistFirst = true
	opts.PersistTimeout = 100 * time.Millisecond
	f := newHubFixture(t, opts)

	alice := f.connect(t, "u-alice", "alice", false)
	bob := f.connect(t, "u-bob", "bob", false)
	f.join(t, alice, "@general")

	f.dir.mu.Lock()
	f.dir.appendDelay = time.Minute
	f.dir.mu.Unlock()

	start := time.Now()
	alice.Commands <- &Command{Kind: CommandSendMessage, ChannelID: "@general", Content: "stuck"}
	mustError(t, alice.Events, ErrCodePersistence)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("persist-first write held the hub for %v", elapsed)
	}

	// The hub keeps serving other commands.
	f.join(t, bob, "@general")
}
