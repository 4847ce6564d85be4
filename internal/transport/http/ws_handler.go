package http

import (
	"context"
	"errors"
	"io"
	stdhttp "net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/channelchat-server/internal/core"
	"github.com/vovakirdan/channelchat-server/internal/proto"
	"github.com/vovakirdan/channelchat-server/internal/utils"
)

const defaultHelloTimeout = 10 * time.Second

// WSOptions tune a websocket connection.
type WSOptions struct {
	MaxMessageBytes int64
	HelloTimeout    time.Duration
	PingInterval    time.Duration
	PingTimeout     time.Duration
}

// WSHandler upgrades HTTP connections and bridges them to core.Client.
type WSHandler struct {
	hub      *core.Hub
	resolver core.IdentityResolver
	opts     WSOptions
	log      *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(hub *core.Hub, resolver core.IdentityResolver, opts WSOptions, logger *zerolog.Logger) *WSHandler {
	if opts.HelloTimeout <= 0 {
		opts.HelloTimeout = defaultHelloTimeout
	}
	return &WSHandler{hub: hub, resolver: resolver, opts: opts, log: logger}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	ctx := r.Context()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")
	if h.opts.MaxMessageBytes > 0 {
		conn.SetReadLimit(h.opts.MaxMessageBytes)
	}

	identity, err := h.handshake(ctx, conn)
	if err != nil {
		h.log.Debug().Err(err).Msg("ws handshake failed")
		conn.Close(websocket.StatusPolicyViolation, "handshake failed")
		return
	}

	client := core.NewClient(utils.NewID())
	h.hub.RegisterClient(client)
	defer h.hub.UnregisterClient(client)

	if err := h.hub.Authenticate(ctx, client, identity); err != nil {
		_ = wsjson.Write(ctx, conn, proto.ErrorFrame(&proto.Error{Code: proto.ErrCodeUnauthenticated, Msg: err.Error()}))
		conn.Close(websocket.StatusPolicyViolation, "unauthenticated")
		return
	}
	welcome := proto.Outbound{Type: proto.OutboundTypeWelcome, Data: proto.Welcome{
		UserID:      identity.UserID,
		Username:    identity.Username,
		DisplayName: identity.Name(),
		IsAdmin:     identity.IsAdmin,
		Protocol:    proto.ProtocolVersion,
	}}
	if err := wsjson.Write(ctx, conn, welcome); err != nil {
		return
	}
	h.log.Info().Str("client_id", client.ID).Str("user_id", identity.UserID).Msg("ws client connected")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 3)
	go func() {
		errCh <- h.readLoop(ctx, conn, client)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client)
	}()
	go func() {
		errCh <- h.pingLoop(ctx, conn)
	}()

	err = <-errCh
	cancel() // stop the other goroutines
	<-errCh
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = "connection error"
			h.log.Warn().Err(err).Str("client_id", client.ID).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

// handshake waits for the hello frame and resolves its token into an identity.
// Failures are reported to the peer before returning.
func (h *WSHandler) handshake(ctx context.Context, conn *websocket.Conn) (core.Identity, error) {
	helloCtx, cancel := context.WithTimeout(ctx, h.opts.HelloTimeout)
	defer cancel()

	var inbound proto.Inbound
	if err := wsjson.Read(helloCtx, conn, &inbound); err != nil {
		return core.Identity{}, err
	}

	reject := func(perr *proto.Error) (core.Identity, error) {
		_ = wsjson.Write(ctx, conn, proto.ErrorFrame(perr))
		return core.Identity{}, perr
	}

	if inbound.Type != proto.InboundTypeHello {
		return reject(&proto.Error{Code: proto.ErrCodeUnauthenticated, Msg: "hello required"})
	}
	req, perr := proto.Parse(inbound)
	if perr != nil {
		return reject(perr)
	}
	hello := req.(proto.HelloData)

	identity, err := h.resolver.Resolve(helloCtx, hello.Token)
	if err != nil {
		return reject(&proto.Error{Code: proto.ErrCodeUnauthenticated, Msg: "invalid token"})
	}
	return identity, nil
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	for {
		var inbound proto.Inbound
		if err := wsjson.Read(ctx, conn, &inbound); err != nil {
			h.log.Debug().Err(err).Str("client_id", client.ID).Msg("read ws inbound")
			return err
		}

		req, protoErr := proto.Parse(inbound)
		var cmd *core.Command
		if protoErr == nil {
			cmd, protoErr = requestToCommand(req)
		}
		if protoErr != nil {
			if writeErr := wsjson.Write(ctx, conn, proto.ErrorFrame(protoErr)); writeErr != nil {
				return writeErr
			}
			continue
		}

		select {
		case client.Commands <- cmd:
		case <-client.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	for {
		select {
		case event, ok := <-client.Events:
			if !ok {
				return nil
			}
			if err := wsjson.Write(ctx, conn, outboundFromEvent(event)); err != nil {
				h.log.Error().Err(err).Str("client_id", client.ID).Msg("write ws event")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// pingLoop closes the connection when the peer stops answering pings.
func (h *WSHandler) pingLoop(ctx context.Context, conn *websocket.Conn) error {
	if h.opts.PingInterval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			timeout := h.opts.PingTimeout
			if timeout <= 0 {
				timeout = h.opts.PingInterval
			}
			pingCtx, cancel := context.WithTimeout(ctx, timeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
