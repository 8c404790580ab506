package main

import "encoding/json"

// Client -> Server message types
const (
	MsgCreate = "create" // create room, caller becomes host
	MsgJoin   = "join"
	MsgLeave  = "leave"
	MsgKey    = "key"    // key down/up
	MsgCmd    = "cmd"    // start, pause, resume, quit, restart, reset_ball
	MsgSignal = "signal" // opaque peer payload, relayed to the other participant
	MsgList   = "list"   // list rooms
)

// Server -> Client message types
const (
	MsgCreated    = "created"
	MsgJoined     = "joined"
	MsgState      = "state"
	MsgError      = "error"
	MsgPeerJoined = "peer_joined"
	MsgPeerLeft   = "peer_left"
	MsgSessions   = "sessions"
)

// Envelope wraps all outgoing messages with a type field
type Envelope struct {
	T    string      `json:"t"`
	Data interface{} `json:"d,omitempty"`
}

// InEnvelope is used for incoming messages; json.RawMessage avoids double-unmarshal
type InEnvelope struct {
	T string          `json:"t"`
	D json.RawMessage `json:"d,omitempty"`
}

// CreateMsg opens a new room
type CreateMsg struct {
	Name     string `json:"name"`
	Passcode string `json:"passcode,omitempty"`
}

// CreatedMsg answers CreateMsg. Ticket is a signed join ticket for the joiner.
type CreatedMsg struct {
	SID    string `json:"sid"`
	Ticket string `json:"ticket"`
}

// JoinMsg enters an existing room. Role is "host" or "joiner"; a ticket's
// role claim wins over it.
type JoinMsg struct {
	SID      string `json:"sid"`
	Role     string `json:"role,omitempty"`
	Ticket   string `json:"ticket,omitempty"`
	Passcode string `json:"passcode,omitempty"`
	Binary   bool   `json:"binary,omitempty"`
}

// JoinedMsg confirms a join
type JoinedMsg struct {
	SID  string `json:"sid"`
	PID  string `json:"pid"`
	Role string `json:"role"`
}

// KeyMsg is a browser key transition
type KeyMsg struct {
	Key  string `json:"key"`
	Down bool   `json:"down"`
}

// CmdMsg is a session command
type CmdMsg struct {
	Action string `json:"action"`
}

// SignalMsg carries an opaque signaling payload
type SignalMsg struct {
	From    string          `json:"from,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// PeerMsg announces the other participant
type PeerMsg struct {
	Role string `json:"role"`
}

// SessionInfo is used in the room list
type SessionInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Players  int    `json:"players"`
	Locked   bool   `json:"locked,omitempty"`
	HasHost  bool   `json:"host"`
	HasGuest bool   `json:"guest"`
}

// ErrorMsg sends error to client
type ErrorMsg struct {
	Msg string `json:"msg"`
}
