package stubserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"forum-client/internal/forum"
	"forum-client/internal/socketio"
)

var errNotConnect = errors.New("expected socket connect packet")

const (
	pushPingInterval = 25 * time.Second
	pushPingTimeout  = 20 * time.Second
	pushWriteTimeout = 10 * time.Second
	pushMaxPayload   = 1000000
)

// pushHub owns every live socket.io connection. Connections authenticate
// with an access token in the connect payload and may later claim a user
// id via set_user; broadcasts fan out to all of them with per-connection
// is_mine and align fields.
type pushHub struct {
	tokens   TokenConfig
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[string]*pushConn
}

type pushConn struct {
	sid    string
	ws     *websocket.Conn
	userID int64

	sendMu sync.Mutex
}

func newPushHub(tokens TokenConfig, log *slog.Logger) *pushHub {
	return &pushHub{
		tokens: tokens,
		log:    log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: make(map[string]*pushConn),
	}
}

func (h *pushHub) serve(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("push upgrade failed", "error", err)
		return
	}
	ws.SetReadLimit(pushMaxPayload)

	conn := &pushConn{sid: uuid.NewString(), ws: ws}
	if err := h.handshake(conn); err != nil {
		h.log.Debug("push handshake failed", "error", err)
		_ = ws.Close()
		return
	}

	h.mu.Lock()
	h.conns[conn.sid] = conn
	h.mu.Unlock()
	h.log.Debug("push connection established", "sid", conn.sid)

	go h.pingLoop(conn)
	h.readLoop(conn)
}

// handshake sends the engine open frame, then expects a socket connect
// packet whose payload carries a valid access token.
func (h *pushHub) handshake(conn *pushConn) error {
	open, err := socketio.BuildOpenFrame(socketio.OpenPayload{
		SID:          conn.sid,
		Upgrades:     []string{},
		PingInterval: int(pushPingInterval / time.Millisecond),
		PingTimeout:  int(pushPingTimeout / time.Millisecond),
		MaxPayload:   pushMaxPayload,
	})
	if err != nil {
		return err
	}
	if err := conn.writeText(open); err != nil {
		return err
	}

	_ = conn.ws.SetReadDeadline(time.Now().Add(pushPingTimeout))
	defer func() { _ = conn.ws.SetReadDeadline(time.Time{}) }()

	_, frame, err := conn.ws.ReadMessage()
	if err != nil {
		return err
	}
	msg := string(frame)
	if len(msg) < 2 || socketio.EnginePacketType(msg[0]) != socketio.EngineMessage {
		return errNotConnect
	}
	body, err := socketio.ParseConnectPayload(msg[1:])
	if err != nil {
		return err
	}

	var auth struct {
		Token string `json:"token"`
	}
	if body != "" {
		if err := json.Unmarshal([]byte(body), &auth); err != nil {
			return err
		}
	}
	userID, err := h.tokens.Verify(auth.Token, "access")
	if err != nil {
		reject, buildErr := socketio.BuildConnectErrorPacket("authentication failed")
		if buildErr == nil {
			_ = conn.writeText(string(socketio.EngineMessage) + reject)
		}
		return err
	}
	conn.userID = userID

	ack, err := socketio.BuildConnectAck(conn.sid)
	if err != nil {
		return err
	}
	return conn.writeText(string(socketio.EngineMessage) + ack)
}

func (h *pushHub) readLoop(conn *pushConn) {
	defer h.drop(conn)
	for {
		_, frame, err := conn.ws.ReadMessage()
		if err != nil {
			return
		}
		msg := string(frame)
		if msg == "" {
			continue
		}
		switch socketio.EnginePacketType(msg[0]) {
		case socketio.EnginePong:
		case socketio.EnginePing:
			_ = conn.writeText(string(socketio.EnginePong))
		case socketio.EngineMessage:
			h.handleEvent(conn, msg[1:])
		case socketio.EngineClose:
			return
		}
	}
}

func (h *pushHub) handleEvent(conn *pushConn, payload string) {
	if payload == "" || payload[0] != byte(socketio.SocketEvent) {
		return
	}
	pkt, err := socketio.ParseEventPacket(payload)
	if err != nil {
		h.log.Debug("push: dropping malformed event", "error", err)
		return
	}
	if pkt.Event == "set_user" && len(pkt.Args) >= 1 {
		var userID int64
		if err := json.Unmarshal(pkt.Args[0], &userID); err == nil && userID > 0 {
			h.mu.Lock()
			conn.userID = userID
			h.mu.Unlock()
			h.log.Debug("push connection identified", "sid", conn.sid, "user_id", userID)
		}
	}
}

func (h *pushHub) pingLoop(conn *pushConn) {
	ticker := time.NewTicker(pushPingInterval)
	defer ticker.Stop()
	for range ticker.C {
		if err := conn.writeText(string(socketio.EnginePing)); err != nil {
			return
		}
	}
}

func (h *pushHub) drop(conn *pushConn) {
	h.mu.Lock()
	delete(h.conns, conn.sid)
	h.mu.Unlock()
	_ = conn.ws.Close()
}

// broadcastNewMessage delivers a new_message event to every connection,
// marking the sender's own copy so the client can style it.
func (h *pushHub) broadcastNewMessage(msg forum.Message, threadTitle, categoryName string, categoryID int64) {
	h.mu.Lock()
	conns := make([]*pushConn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		push := forum.MessagePush{
			Message:      msg,
			IsMine:       c.userID == msg.UserID,
			ThreadTitle:  threadTitle,
			CategoryName: categoryName,
			CategoryID:   categoryID,
		}
		if push.IsMine {
			push.Align = forum.AlignRight
		} else {
			push.Align = forum.AlignLeft
		}
		pkt, err := socketio.BuildEventPacket("/", nil, "new_message", push)
		if err != nil {
			h.log.Warn("push: encoding new_message failed", "error", err)
			return
		}
		if err := c.writeText(string(socketio.EngineMessage) + pkt); err != nil {
			h.log.Debug("push: write failed, dropping connection", "sid", c.sid, "error", err)
			h.drop(c)
		}
	}
}

func (c *pushConn) writeText(msg string) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(pushWriteTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, []byte(msg))
}
