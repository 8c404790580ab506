package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMessageSize    = 16384 // SDP offers with candidates run to a few KB
	sendBufSize       = 256
	maxMessagesPerSec = 50
	maxNameLen        = 30
)

// Client represents a WebSocket connection
type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	id         string
	remoteAddr string
	binary     atomic.Bool
	msgCount   int
	msgResetAt time.Time

	mu        sync.Mutex
	sessionID string
	role      PeerRole
}

// NewClient creates a new Client
func NewClient(hub *Hub, conn *websocket.Conn, remoteAddr string) *Client {
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBufSize),
		id:         GenerateID(8),
		remoteAddr: remoteAddr,
	}
}

// SessionID returns the room the client is in, or ""
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Client) session() *Session {
	sid := c.SessionID()
	if sid == "" {
		return nil
	}
	return c.hub.sessions.GetSession(sid)
}

// ReadPump reads messages from the WebSocket connection
func (c *Client) ReadPump() {
	defer func() {
		c.hub.TrackDisconnect(c.remoteAddr)
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("ws read", "addr", c.remoteAddr, "err", err)
			}
			break
		}

		// Rate limiting
		now := time.Now()
		if now.After(c.msgResetAt) {
			c.msgCount = 0
			c.msgResetAt = now.Add(time.Second)
		}
		c.msgCount++
		if c.msgCount > maxMessagesPerSec {
			slog.Warn("rate limit exceeded, disconnecting", "addr", c.remoteAddr)
			break
		}

		c.handleMessage(message)
	}
}

// WritePump writes messages to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// Check for binary marker (0xFF prefix from SendBinary)
			var err error
			if len(message) > 0 && message[0] == 0xFF {
				err = c.conn.WriteMessage(websocket.BinaryMessage, message[1:])
			} else {
				err = c.conn.WriteMessage(websocket.TextMessage, message)
			}
			if err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendJSON sends a JSON message to the client
func (c *Client) SendJSON(msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("marshal", "err", err)
		return
	}
	c.SendRaw(data)
}

// SendRaw sends pre-marshaled bytes as a text message to the client
func (c *Client) SendRaw(data []byte) {
	defer func() { recover() }() // send may already be closed by the hub
	select {
	case c.send <- data:
	default:
		// Client too slow, drop message
	}
}

// SendBinary sends pre-marshaled bytes as a binary WebSocket message.
// Prefixes with 0xFF marker byte so WritePump can distinguish from text.
func (c *Client) SendBinary(data []byte) {
	defer func() { recover() }()
	msg := make([]byte, len(data)+1)
	msg[0] = 0xFF
	copy(msg[1:], data)
	select {
	case c.send <- msg:
	default:
	}
}

// WantsBinary reports whether snapshots go out as msgpack frames
func (c *Client) WantsBinary() bool { return c.binary.Load() }

func (c *Client) sendError(msg string) {
	c.SendJSON(Envelope{T: MsgError, Data: ErrorMsg{Msg: msg}})
}

// handleMessage routes incoming messages (single-pass decode via InEnvelope)
func (c *Client) handleMessage(raw []byte) {
	var env InEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		slog.Debug("unmarshal", "addr", c.remoteAddr, "err", err)
		return
	}

	switch env.T {
	case MsgList:
		c.SendJSON(Envelope{T: MsgSessions, Data: c.hub.sessions.ListSessions()})
	case MsgCreate:
		c.handleCreate(env.D)
	case MsgJoin:
		c.handleJoin(env.D)
	case MsgLeave:
		c.handleLeave()
	case MsgKey:
		c.handleKey(env.D)
	case MsgCmd:
		c.handleCmd(env.D)
	case MsgSignal:
		c.handleSignal(env.D)
	}
}

func (c *Client) handleCreate(data json.RawMessage) {
	var msg CreateMsg
	if len(data) > 0 {
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
	}
	name := msg.Name
	if name == "" {
		name = "Arena"
	}
	if len(name) > maxNameLen {
		name = name[:maxNameLen]
	}

	sess, err := c.hub.sessions.CreateSession(name, msg.Passcode)
	if err != nil {
		c.sendError(err.Error())
		return
	}
	ticket, err := c.hub.auth.IssueTicket(sess.ID, RoleResponder)
	if err != nil {
		slog.Error("issue ticket", "sid", sess.ID, "err", err)
	}
	c.SendJSON(Envelope{T: MsgCreated, Data: CreatedMsg{SID: sess.ID, Ticket: ticket}})
}

func (c *Client) handleJoin(data json.RawMessage) {
	var msg JoinMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}

	req := JoinRequest{SID: msg.SID, ID: c.id, Passcode: msg.Passcode, Out: c}
	role, ok := ParsePeerRole(msg.Role)
	if !ok {
		role = RoleResponder
	}
	req.Role = role
	if msg.Ticket != "" {
		tsid, trole, err := c.hub.auth.ParseTicket(msg.Ticket)
		if err != nil || (msg.SID != "" && tsid != msg.SID) {
			c.sendError(ErrInvalidTicket.Error())
			return
		}
		req.SID, req.Role, req.Ticketed = tsid, trole, true
	}

	if cur := c.SessionID(); cur != "" {
		c.hub.sessions.Leave(cur, c.id)
		c.mu.Lock()
		c.sessionID = ""
		c.mu.Unlock()
	}

	c.binary.Store(msg.Binary)
	sess, err := c.hub.sessions.Join(req)
	if err != nil {
		c.sendError(err.Error())
		return
	}
	role = req.Role

	c.mu.Lock()
	c.sessionID = sess.ID
	c.role = role
	c.mu.Unlock()

	c.SendJSON(Envelope{T: MsgJoined, Data: JoinedMsg{SID: sess.ID, PID: c.id, Role: role.String()}})
	snap := sess.Game.Snapshot()
	c.SendJSON(Envelope{T: MsgState, Data: snap})
}

func (c *Client) handleLeave() {
	sid := c.SessionID()
	if sid == "" {
		return
	}
	c.hub.sessions.Leave(sid, c.id)
	c.mu.Lock()
	c.sessionID = ""
	c.mu.Unlock()
}

func (c *Client) handleKey(data json.RawMessage) {
	sess := c.session()
	if sess == nil {
		return
	}
	var msg KeyMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	key := ParseKey(msg.Key)
	if key == KeyNone {
		return
	}
	c.hub.sessions.MarkActive(sess.ID)
	sess.Game.Send(KeyCmd{Event: KeyEvent{Key: key, Down: msg.Down}})
}

func (c *Client) handleCmd(data json.RawMessage) {
	sess := c.session()
	if sess == nil {
		return
	}
	var msg CmdMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	switch msg.Action {
	case ActionStart, ActionPause, ActionResume, ActionQuit, ActionRestart, ActionResetBall:
	default:
		c.sendError("unknown command")
		return
	}
	c.hub.sessions.MarkActive(sess.ID)
	if !sess.Game.Send(ControlCmd{Action: msg.Action}) {
		c.sendError("session busy")
	}
}

func (c *Client) handleSignal(data json.RawMessage) {
	sid := c.SessionID()
	if sid == "" {
		return
	}
	var msg SignalMsg
	if err := json.Unmarshal(data, &msg); err != nil || len(msg.Payload) == 0 {
		return
	}
	if err := c.hub.sessions.Relay(sid, c.id, msg.Payload); err != nil {
		if errors.Is(err, ErrNoPeer) {
			slog.Debug("signal dropped, no peer yet", "sid", sid)
		}
		c.sendError(err.Error())
	}
}
