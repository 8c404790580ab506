package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const maxSessions = 100

// SessionIdleTimeout is how long a room may go without activity before the
// reaper closes it. A var so tests can shorten it.
var SessionIdleTimeout = 10 * time.Minute

var (
	ErrTooManySessions = errors.New("too many active sessions")
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionFull     = errors.New("session full")
	ErrRoleTaken       = errors.New("role already taken")
	ErrNoPeer          = errors.New("no peer in session")
	ErrNotMember       = errors.New("not a member of this session")
)

type member struct {
	id   string
	role PeerRole
	out  Broadcaster
}

// Session is a room: one Game plus at most a host and a joiner
type Session struct {
	ID       string
	Name     string
	Game     *Game
	passHash []byte

	mu         sync.Mutex
	members    map[PeerRole]*member
	lastActive time.Time
	rounds     int
}

// Locked reports whether the room needs a passcode
func (s *Session) Locked() bool { return len(s.passHash) > 0 }

// Rounds returns how many rounds have ended in this room
func (s *Session) Rounds() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rounds
}

// MemberCount returns the number of participants
func (s *Session) MemberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.members)
}

func (s *Session) other(id string) (*member, *member) {
	var self, peer *member
	for _, m := range s.members {
		if m.id == id {
			self = m
		} else {
			peer = m
		}
	}
	return self, peer
}

// SessionManager handles creation and lookup of rooms
type SessionManager struct {
	ctx       context.Context
	cfg       GameConfig
	db        *DB
	analytics *Analytics

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewSessionManager creates a manager. Games started by it stop when ctx is
// done. db and analytics may be nil.
func NewSessionManager(ctx context.Context, cfg GameConfig, db *DB, analytics *Analytics) *SessionManager {
	return &SessionManager{
		ctx:       ctx,
		cfg:       cfg,
		db:        db,
		analytics: analytics,
		sessions:  make(map[string]*Session),
	}
}

// CreateSession creates a new room and starts its game loop
func (sm *SessionManager) CreateSession(name, passcode string) (*Session, error) {
	hash, err := HashPasscode(passcode)
	if err != nil {
		return nil, err
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()
	if len(sm.sessions) >= maxSessions {
		return nil, ErrTooManySessions
	}

	game, err := NewGame(sm.cfg)
	if err != nil {
		return nil, fmt.Errorf("create game: %w", err)
	}
	sess := &Session{
		ID:         GenerateUUID(),
		Name:       name,
		Game:       game,
		passHash:   hash,
		members:    make(map[PeerRole]*member),
		lastActive: time.Now(),
	}
	game.OnTransition(sm.roundObserver(sess))
	sm.sessions[sess.ID] = sess
	sm.analytics.Track(EvtSessionStart, sess.ID, nil)
	slog.Info("session created", "sid", sess.ID, "name", name, "locked", sess.Locked())
	go game.Run(sm.ctx)
	return sess, nil
}

// roundObserver records transitions. It runs on the game goroutine, so the
// database write is handed off.
func (sm *SessionManager) roundObserver(sess *Session) func(from, to GameState, stats SessionStats, elapsed time.Duration) {
	return func(from, to GameState, stats SessionStats, elapsed time.Duration) {
		if evt := transitionEvent(from, to); evt != "" {
			sm.analytics.Track(evt, sess.ID, map[string]interface{}{
				"score":    stats.Score,
				"timeLeft": stats.TimeLeft,
			})
		}
		if to != StateEnd {
			return
		}
		sess.mu.Lock()
		sess.rounds++
		sess.mu.Unlock()
		if sm.db == nil {
			return
		}
		row := RoundRow{SessionID: sess.ID, Name: sess.Name, Score: stats.Score, Duration: elapsed.Seconds()}
		go func() {
			if _, err := sm.db.RecordRound(row); err != nil {
				slog.Error("record round", "sid", row.SessionID, "err", err)
			}
		}()
	}
}

// GetSession returns a room by ID
func (sm *SessionManager) GetSession(id string) *Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.sessions[id]
}

// JoinRequest describes one participant entering a room
type JoinRequest struct {
	SID      string
	ID       string
	Role     PeerRole
	Passcode string
	Ticketed bool // admitted by a valid join ticket; the passcode is not checked
	Out      Broadcaster
}

// Join admits a participant into a room
func (sm *SessionManager) Join(req JoinRequest) (*Session, error) {
	sid, id, role, out := req.SID, req.ID, req.Role, req.Out
	sess := sm.GetSession(sid)
	if sess == nil {
		return nil, ErrSessionNotFound
	}
	if !req.Ticketed {
		if err := CheckPasscode(sess.passHash, req.Passcode); err != nil {
			return nil, err
		}
	}

	sess.mu.Lock()
	if cur, ok := sess.members[role]; ok && cur.id != id {
		sess.mu.Unlock()
		return nil, ErrRoleTaken
	}
	if err := sess.Game.SetClient(id, out); err != nil {
		sess.mu.Unlock()
		return nil, err
	}
	sess.members[role] = &member{id: id, role: role, out: out}
	sess.lastActive = time.Now()
	_, peer := sess.other(id)
	sess.mu.Unlock()

	if peer != nil {
		peer.out.SendJSON(Envelope{T: MsgPeerJoined, Data: PeerMsg{Role: role.String()}})
		out.SendJSON(Envelope{T: MsgPeerJoined, Data: PeerMsg{Role: peer.role.String()}})
	}
	sm.analytics.Track(EvtPeerJoin, sid, map[string]string{"role": role.String()})
	return sess, nil
}

// Leave removes participant id; an empty room is closed
func (sm *SessionManager) Leave(sid, id string) {
	sess := sm.GetSession(sid)
	if sess == nil {
		return
	}
	sess.Game.RemoveClient(id)

	sess.mu.Lock()
	self, peer := sess.other(id)
	if self != nil {
		delete(sess.members, self.role)
	}
	empty := len(sess.members) == 0
	sess.mu.Unlock()

	if self != nil {
		sm.analytics.Track(EvtPeerLeave, sid, map[string]string{"role": self.role.String()})
		if peer != nil {
			peer.out.SendJSON(Envelope{T: MsgPeerLeft, Data: PeerMsg{Role: self.role.String()}})
		}
	}
	if empty {
		sm.remove(sid)
	}
}

// Relay forwards an opaque signaling payload from participant id to the
// other participant of the room
func (sm *SessionManager) Relay(sid, id string, payload json.RawMessage) error {
	sess := sm.GetSession(sid)
	if sess == nil {
		return ErrSessionNotFound
	}
	sess.mu.Lock()
	self, peer := sess.other(id)
	sess.lastActive = time.Now()
	sess.mu.Unlock()
	if self == nil {
		return ErrNotMember
	}
	if peer == nil {
		return ErrNoPeer
	}
	peer.out.SendJSON(Envelope{T: MsgSignal, Data: SignalMsg{From: self.role.String(), Payload: payload}})
	return nil
}

// MarkActive refreshes the idle timer of a room
func (sm *SessionManager) MarkActive(sid string) {
	if sess := sm.GetSession(sid); sess != nil {
		sess.mu.Lock()
		sess.lastActive = time.Now()
		sess.mu.Unlock()
	}
}

// ReapIdle closes rooms idle for longer than SessionIdleTimeout and returns
// how many it closed
func (sm *SessionManager) ReapIdle(now time.Time) int {
	sm.mu.RLock()
	var idle []string
	for id, sess := range sm.sessions {
		sess.mu.Lock()
		if now.Sub(sess.lastActive) > SessionIdleTimeout {
			idle = append(idle, id)
		}
		sess.mu.Unlock()
	}
	sm.mu.RUnlock()
	for _, id := range idle {
		slog.Info("reaping idle session", "sid", id)
		sm.remove(id)
	}
	return len(idle)
}

// RunReaper calls ReapIdle periodically until ctx is done
func (sm *SessionManager) RunReaper(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			sm.ReapIdle(now)
		}
	}
}

func (sm *SessionManager) remove(sid string) {
	sm.mu.Lock()
	sess, ok := sm.sessions[sid]
	delete(sm.sessions, sid)
	sm.mu.Unlock()
	if !ok {
		return
	}
	sess.Game.Stop()
	sm.analytics.Track(EvtSessionEnd, sid, map[string]int{"rounds": sess.Rounds()})
}

// Close stops every room
func (sm *SessionManager) Close() {
	sm.mu.RLock()
	ids := make([]string, 0, len(sm.sessions))
	for id := range sm.sessions {
		ids = append(ids, id)
	}
	sm.mu.RUnlock()
	for _, id := range ids {
		sm.remove(id)
	}
}

// Count returns the number of rooms
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// ListSessions returns info about all active rooms
func (sm *SessionManager) ListSessions() []SessionInfo {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	list := make([]SessionInfo, 0, len(sm.sessions))
	for _, sess := range sm.sessions {
		sess.mu.Lock()
		_, host := sess.members[RoleInitiator]
		_, guest := sess.members[RoleResponder]
		n := len(sess.members)
		sess.mu.Unlock()
		list = append(list, SessionInfo{
			ID:       sess.ID,
			Name:     sess.Name,
			Players:  n,
			Locked:   sess.Locked(),
			HasHost:  host,
			HasGuest: guest,
		})
	}
	return list
}
