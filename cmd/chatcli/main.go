package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	stdhttp "net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/channelchat-server/internal/proto"
)

type options struct {
	server   string
	username string
	password string
	channel  string
}

func main() {
	var opts options
	cmd := &cobra.Command{
		Use:           "chatcli",
		Short:         "Terminal client: log in, join a channel and chat",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			return run(opts)
		},
	}
	cmd.Flags().StringVar(&opts.server, "server", "http://localhost:8080", "server base URL")
	cmd.Flags().StringVarP(&opts.username, "user", "u", "", "username")
	cmd.Flags().StringVarP(&opts.password, "password", "p", "", "password")
	cmd.Flags().StringVar(&opts.channel, "channel", "@public", "channel to join")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("password")

	if err := cmd.Execute(); err != nil {
		log.Printf("chatcli: %v", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	token, err := login(ctx, opts)
	if err != nil {
		return err
	}

	wsURL := strings.Replace(strings.TrimRight(opts.server, "/"), "http", "ws", 1) + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	if err := send(ctx, conn, proto.InboundTypeHello, proto.HelloData{Token: token, Protocol: proto.ProtocolVersion}); err != nil {
		return err
	}
	if err := send(ctx, conn, proto.InboundTypeJoin, proto.JoinChannelData{ChannelID: opts.channel}); err != nil {
		return err
	}

	fmt.Printf("Connected to %s as %s in %s\n", wsURL, opts.username, opts.channel)
	fmt.Println("Type messages and press Enter to send. Ctrl+C to exit.")

	go func() {
		defer cancel()
		readLoop(ctx, conn)
	}()

	writeLoop(ctx, conn, opts.channel)

	cancel()
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	return nil
}

func login(ctx context.Context, opts options) (string, error) {
	body, err := json.Marshal(map[string]string{"username": opts.username, "password": opts.password})
	if err != nil {
		return "", err
	}
	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := stdhttp.NewRequestWithContext(reqCtx, stdhttp.MethodPost, strings.TrimRight(opts.server, "/")+"/api/auth/login", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := stdhttp.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()

	var out struct {
		Token string `json:"token"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode login response: %w", err)
	}
	if resp.StatusCode != stdhttp.StatusOK {
		return "", fmt.Errorf("login failed (%d): %s", resp.StatusCode, out.Error)
	}
	return out.Token, nil
}

func send(ctx context.Context, conn *websocket.Conn, typ string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", typ, err)
	}
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: typ, Data: payload}); err != nil {
		return fmt.Errorf("send %s: %w", typ, err)
	}
	return nil
}

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var f frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			// Treat expected shutdowns quietly.
			if errors.Is(err, context.Canceled) {
				return
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return
			}
			log.Printf("read error: %v", err)
			return
		}
		render(f)
	}
}

func render(f frame) {
	switch f.Type {
	case proto.OutboundTypeReceiveMessage:
		var msg proto.ChatMessage
		if err := json.Unmarshal(f.Data, &msg); err != nil {
			log.Printf("unmarshal message: %v", err)
			return
		}
		printMessage(msg)
	case proto.OutboundTypeHistory:
		var h proto.History
		if err := json.Unmarshal(f.Data, &h); err != nil {
			log.Printf("unmarshal history: %v", err)
			return
		}
		for _, msg := range h.Messages {
			printMessage(msg)
		}
	case proto.OutboundTypeUserJoined, proto.OutboundTypeUserLeft:
		var p proto.Presence
		if err := json.Unmarshal(f.Data, &p); err != nil {
			log.Printf("unmarshal presence: %v", err)
			return
		}
		verb := "joined"
		if f.Type == proto.OutboundTypeUserLeft {
			verb = "left"
		}
		fmt.Printf("[%s] %s %s\n", p.ChannelID, p.DisplayName, verb)
	case proto.OutboundTypeError:
		var e proto.Error
		if err := json.Unmarshal(f.Data, &e); err != nil {
			log.Printf("unmarshal error: %v", err)
			return
		}
		fmt.Printf("! %s: %s\n", e.Code, e.Msg)
	case proto.OutboundTypeWelcome, proto.OutboundTypeJoined, proto.OutboundTypeLeft:
	default:
		fmt.Printf("type=%s data=%s\n", f.Type, f.Data)
	}
}

func printMessage(msg proto.ChatMessage) {
	name := msg.DisplayName
	if name == "" {
		name = msg.Username
	}
	if msg.IsSystem {
		fmt.Printf("[%s] * %s\n", msg.ChannelID, msg.Content)
		return
	}
	fmt.Printf("[%s %s] %s: %s\n", msg.ChannelID, msg.Timestamp.Local().Format("15:04"), name, msg.Content)
}

func writeLoop(ctx context.Context, conn *websocket.Conn, channelID string) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}
			if err := send(ctx, conn, proto.InboundTypeMessage, proto.SendMessageData{ChannelID: channelID, Content: text}); err != nil {
				log.Printf("send error: %v", err)
				return
			}
		}
	}
}
