// Package realtime maintains the single authenticated push connection for a
// logged-in session and fans incoming new_message events out to whoever
// subscribed. Reconnecting after a credential refresh is the session
// owner's job; the channel itself never retries.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"forum-client/internal/credentials"
	"forum-client/internal/forum"
	"forum-client/internal/socketio"
)

const (
	writeTimeout     = 10 * time.Second
	handshakeTimeout = 10 * time.Second
	maxPayload       = 1000000
)

var ErrHandshake = errors.New("realtime: handshake rejected")

type connectAuth struct {
	Token string `json:"token"`
}

type Channel struct {
	endpoint string
	creds    credentials.Store
	log      *slog.Logger

	mu        sync.Mutex
	ws        *websocket.Conn
	connected bool

	sendMu sync.Mutex

	handlerMu     sync.RWMutex
	nextHandlerID int
	onNewMessage  map[int]func(forum.MessagePush)
}

// New builds a channel for the given base URL. http/https schemes are
// rewritten to their websocket equivalents.
func New(baseURL string, creds credentials.Store, log *slog.Logger) (*Channel, error) {
	endpoint, err := socketEndpoint(baseURL)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &Channel{
		endpoint:     endpoint,
		creds:        creds,
		log:          log,
		onNewMessage: make(map[int]func(forum.MessagePush)),
	}, nil
}

func socketEndpoint(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("realtime: invalid url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("realtime: unsupported scheme %q", u.Scheme)
	}
	u.Path = "/socket.io/"
	u.RawQuery = "EIO=4&transport=websocket"
	return u.String(), nil
}

// Connect dials and completes the engine.io + socket.io handshake with the
// stored access credential. Without a credential it is a logged no-op, not
// an error. An existing connection is torn down first.
func (c *Channel) Connect(ctx context.Context) error {
	cred, ok := c.creds.Credential()
	if !ok || cred.AccessToken == "" {
		c.log.Warn("realtime connect skipped, no credential stored")
		return nil
	}
	if credentials.IsExpired(cred.AccessToken) {
		// The session owner refreshes over REST and re-dials; still attempt
		// the handshake in case the clock is skewed.
		c.log.Warn("access credential looks expired, server may reject the handshake")
	}

	c.Close()

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	ws, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("realtime: dial: %w", err)
	}
	ws.SetReadLimit(maxPayload)

	if err := c.handshake(ws, cred.AccessToken); err != nil {
		_ = ws.Close()
		return err
	}

	c.mu.Lock()
	c.ws = ws
	c.connected = true
	c.mu.Unlock()

	go c.readLoop(ws)
	c.log.Info("realtime channel connected")
	return nil
}

func (c *Channel) handshake(ws *websocket.Conn, token string) error {
	deadline := time.Now().Add(handshakeTimeout)
	_ = ws.SetReadDeadline(deadline)
	defer func() { _ = ws.SetReadDeadline(time.Time{}) }()

	_, frame, err := ws.ReadMessage()
	if err != nil {
		return fmt.Errorf("realtime: reading open packet: %w", err)
	}
	if _, err := socketio.ParseOpenFrame(string(frame)); err != nil {
		return fmt.Errorf("realtime: %w", err)
	}

	connectPkt, err := socketio.BuildConnectPacket("/", connectAuth{Token: token})
	if err != nil {
		return err
	}
	if err := c.writeText(ws, string(socketio.EngineMessage)+connectPkt); err != nil {
		return fmt.Errorf("realtime: sending connect: %w", err)
	}

	// The server may interleave pings before acknowledging the namespace.
	for time.Now().Before(deadline) {
		_, frame, err := ws.ReadMessage()
		if err != nil {
			return fmt.Errorf("realtime: awaiting connect ack: %w", err)
		}
		msg := string(frame)
		if msg == "" {
			continue
		}
		switch socketio.EnginePacketType(msg[0]) {
		case socketio.EnginePing:
			if err := c.writeText(ws, string(socketio.EnginePong)); err != nil {
				return err
			}
		case socketio.EngineMessage:
			payload := msg[1:]
			if payload == "" {
				continue
			}
			switch socketio.SocketPacketType(payload[0]) {
			case socketio.SocketConnect:
				return nil
			case socketio.SocketConnectError:
				return ErrHandshake
			case socketio.SocketEvent:
				if pkt, err := socketio.ParseEventPacket(payload); err == nil && pkt.Event == "error" {
					return ErrHandshake
				}
			}
		case socketio.EngineClose:
			return ErrHandshake
		}
	}
	return errors.New("realtime: handshake timed out")
}

func (c *Channel) readLoop(ws *websocket.Conn) {
	defer func() {
		c.mu.Lock()
		if c.ws == ws {
			c.connected = false
			c.ws = nil
		}
		c.mu.Unlock()
		_ = ws.Close()
	}()

	for {
		_, frame, err := ws.ReadMessage()
		if err != nil {
			c.log.Debug("realtime channel closed", "error", err)
			return
		}
		msg := string(frame)
		if msg == "" {
			continue
		}
		switch socketio.EnginePacketType(msg[0]) {
		case socketio.EnginePing:
			_ = c.writeText(ws, string(socketio.EnginePong))
		case socketio.EngineMessage:
			c.handleSocketPayload(msg[1:])
		case socketio.EngineClose:
			return
		}
	}
}

func (c *Channel) handleSocketPayload(payload string) {
	if payload == "" || payload[0] != byte(socketio.SocketEvent) {
		return
	}
	pkt, err := socketio.ParseEventPacket(payload)
	if err != nil {
		c.log.Debug("realtime: dropping unparseable event", "error", err)
		return
	}
	if pkt.Event != "new_message" || len(pkt.Args) < 1 {
		return
	}

	var push forum.MessagePush
	if err := json.Unmarshal(pkt.Args[0], &push); err != nil {
		c.log.Warn("realtime: malformed new_message payload", "error", err)
		return
	}

	c.handlerMu.RLock()
	handlers := make([]func(forum.MessagePush), 0, len(c.onNewMessage))
	for _, h := range c.onNewMessage {
		handlers = append(handlers, h)
	}
	c.handlerMu.RUnlock()

	for _, h := range handlers {
		h(push)
	}
}

// Identify announces the user so the server can route events. It must be
// called after observing a successful Connect; before that it is a no-op
// and the announcement is simply dropped, never queued.
func (c *Channel) Identify(userID int64) error {
	c.mu.Lock()
	ws, connected := c.ws, c.connected
	c.mu.Unlock()
	if !connected {
		c.log.Warn("identify skipped, channel not connected")
		return nil
	}

	pkt, err := socketio.BuildEventPacket("/", nil, "set_user", userID)
	if err != nil {
		return err
	}
	return c.writeText(ws, string(socketio.EngineMessage)+pkt)
}

// OnNewMessage registers a handler and returns its cancellation func. The
// feed view and background-thread tracking both listen, so any number of
// handlers may be active at once.
func (c *Channel) OnNewMessage(handler func(forum.MessagePush)) (cancel func()) {
	c.handlerMu.Lock()
	c.nextHandlerID++
	id := c.nextHandlerID
	c.onNewMessage[id] = handler
	c.handlerMu.Unlock()

	return func() {
		c.handlerMu.Lock()
		delete(c.onNewMessage, id)
		c.handlerMu.Unlock()
	}
}

func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Close is idempotent.
func (c *Channel) Close() {
	c.mu.Lock()
	ws := c.ws
	c.ws = nil
	c.connected = false
	c.mu.Unlock()
	if ws != nil {
		_ = ws.Close()
	}
}

func (c *Channel) writeText(ws *websocket.Conn, msg string) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return ws.WriteMessage(websocket.TextMessage, []byte(msg))
}
