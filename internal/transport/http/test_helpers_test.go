package http

import (
	"bytes"
	"context"
	"encoding/json"
	stdhttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/channelchat-server/internal/auth"
	"github.com/vovakirdan/channelchat-server/internal/config"
	"github.com/vovakirdan/channelchat-server/internal/core"
	"github.com/vovakirdan/channelchat-server/internal/log"
	"github.com/vovakirdan/channelchat-server/internal/proto"
	"github.com/vovakirdan/channelchat-server/internal/store"
	"github.com/vovakirdan/channelchat-server/internal/store/sqlite"
)

const testAdminPassword = "admin-password"

type testEnv struct {
	ts      *httptest.Server
	store   *sqlite.SQLiteStore
	auth    *auth.Service
	hub     *core.Hub
	admin   *store.User
	adminTk string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithConfig(t, nil)
}

// newTestEnvWithConfig lets a test adjust the server config before the router is built.
func newTestEnvWithConfig(t *testing.T, configure func(*config.Config)) *testEnv {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	logger := log.Nop()
	authService := auth.NewService(st, &auth.JWTConfig{
		Secret:   []byte("test-secret"),
		Issuer:   "test",
		Audience: "test",
		TTL:      time.Hour,
	})

	persister := core.NewPersister(st, core.PersisterOptions{
		QueueSize:  64,
		MaxRetries: 1,
		RetryBase:  time.Millisecond,
	}, logger)
	persister.Start()
	t.Cleanup(persister.Close)

	hub := core.NewHub(core.Deps{Directory: st, Persister: persister, Logger: logger}, core.DefaultOptions())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	cfg := config.Default()
	cfg.PingInterval = 0
	if configure != nil {
		configure(&cfg)
	}
	server := NewServer(hub, authService, st, &cfg, logger)
	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)
	t.Cleanup(func() {
		cancel()
		<-hub.Done()
	})

	admin, _, err := authService.EnsureAdmin(context.Background(), "admin", testAdminPassword)
	if err != nil {
		t.Fatalf("ensure admin: %v", err)
	}
	_, token, err := authService.Login(context.Background(), "admin", testAdminPassword)
	if err != nil {
		t.Fatalf("admin login: %v", err)
	}

	return &testEnv{ts: ts, store: st, auth: authService, hub: hub, admin: admin, adminTk: token}
}

// registerUser creates a regular account through the auth service and returns it with a token.
func (e *testEnv) registerUser(t *testing.T, username string) (*store.User, string) {
	t.Helper()
	ctx := context.Background()
	code, err := e.auth.IssueActivationCode(ctx, e.admin.ID)
	if err != nil {
		t.Fatalf("issue code: %v", err)
	}
	user, token, err := e.auth.Register(ctx, auth.RegisterInput{
		Username:       username,
		Password:       "password123",
		ActivationCode: code.Code,
	})
	if err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	return user, token
}

// createChannel stores a channel owned by creator with the given extra members.
func (e *testEnv) createChannel(t *testing.T, channelID string, creator *store.User, members ...*store.User) {
	t.Helper()
	ctx := context.Background()
	err := e.store.CreateChannel(ctx, &store.Channel{
		ChannelID: channelID,
		Name:      strings.TrimPrefix(channelID, "@"),
		IsPublic:  true,
		IsActive:  true,
		CreatorID: creator.ID,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create channel: %v", err)
	}
	for _, m := range members {
		if err := e.store.AddMember(ctx, channelID, m.ID); err != nil {
			t.Fatalf("add member: %v", err)
		}
	}
}

// do sends a JSON request and decodes the JSON response into out when out is non-nil.
func (e *testEnv) do(t *testing.T, method, path, token string, body any, out any) int {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := stdhttp.NewRequest(method, e.ts.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s response: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

type wsPeer struct {
	t    *testing.T
	conn *websocket.Conn
	ctx  context.Context
}

func (e *testEnv) dial(t *testing.T) *wsPeer {
	t.Helper()

	wsURL := strings.Replace(e.ts.URL, "http", "ws", 1) + "/ws"
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "done") })
	return &wsPeer{t: t, conn: conn, ctx: ctx}
}

// connect dials and completes the hello handshake.
func (e *testEnv) connect(t *testing.T, token string) *wsPeer {
	t.Helper()
	p := e.dial(t)
	p.send(proto.InboundTypeHello, proto.HelloData{Token: token, Protocol: proto.ProtocolVersion})
	p.expect(proto.OutboundTypeWelcome)
	return p
}

func (p *wsPeer) send(typ string, data any) {
	p.t.Helper()
	payload, err := json.Marshal(data)
	if err != nil {
		p.t.Fatalf("marshal %s: %v", typ, err)
	}
	if err := wsjson.Write(p.ctx, p.conn, proto.Inbound{Type: typ, Data: payload}); err != nil {
		p.t.Fatalf("send %s: %v", typ, err)
	}
}

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (p *wsPeer) read() frame {
	p.t.Helper()
	var f frame
	if err := wsjson.Read(p.ctx, p.conn, &f); err != nil {
		p.t.Fatalf("read frame: %v", err)
	}
	return f
}

// expect reads frames until one of the given type arrives.
func (p *wsPeer) expect(typ string) frame {
	p.t.Helper()
	for {
		f := p.read()
		if f.Type == typ {
			return f
		}
	}
}

func (p *wsPeer) expectError(code string) proto.Error {
	p.t.Helper()
	f := p.expect(proto.OutboundTypeError)
	var perr proto.Error
	if err := json.Unmarshal(f.Data, &perr); err != nil {
		p.t.Fatalf("decode error frame: %v", err)
	}
	if perr.Code != code {
		p.t.Fatalf("expected error %s, got %+v", code, perr)
	}
	return perr
}

// join sends join-channel and waits for the acknowledgement.
func (p *wsPeer) join(channelID string) {
	p.t.Helper()
	p.send(proto.InboundTypeJoin, proto.JoinChannelData{ChannelID: channelID})
	p.expect(proto.OutboundTypeJoined)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
