package main

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrNoPeerSession is returned when a signal arrives while no session exists
var ErrNoPeerSession = errors.New("no active peer session")

// PeerLink ties the peer session lifetime to the game state. A session
// exists while the game is Playing or Paused; it is created on entry into
// Playing and destroyed on End, on a return to Start, when the shared local
// stream changes, and on Close.
type PeerLink struct {
	ctx      context.Context
	role     PeerRole
	factory  PeerConnFactory
	onSignal SignalFunc

	mu       sync.Mutex
	state    GameState
	local    *MediaHandle
	session  *PeerSession
	sessions int
	closed   bool
	onRemote func(*MediaHandle)
}

// NewPeerLink creates a link with no session. ctx bounds offer/answer work.
func NewPeerLink(ctx context.Context, role PeerRole, factory PeerConnFactory, onSignal SignalFunc) *PeerLink {
	return &PeerLink{
		ctx:      ctx,
		role:     role,
		factory:  factory,
		onSignal: onSignal,
		state:    StateStart,
	}
}

// OnRemoteStream registers fn for remote streams of every future session
func (l *PeerLink) OnRemoteStream(fn func(*MediaHandle)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onRemote = fn
}

// Session returns the live session, or nil
func (l *PeerLink) Session() *PeerSession {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.session
}

// SessionsCreated returns how many sessions this link has opened
func (l *PeerLink) SessionsCreated() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sessions
}

// SetGameState reacts to a game state change
func (l *PeerLink) SetGameState(state GameState) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	prev := l.state
	l.state = state
	var old, fresh *PeerSession
	switch state {
	case StatePlaying:
		if l.session == nil || (prev != StatePaused && prev != StatePlaying) {
			old = l.session
			fresh = l.newSessionLocked()
		}
	case StateStart, StateEnd:
		old = l.session
		l.session = nil
	}
	l.mu.Unlock()
	l.swap(old, fresh)
}

// SetLocalStream replaces the shared local stream. A live session is
// rebuilt around the new stream.
func (l *PeerLink) SetLocalStream(m *MediaHandle) {
	l.mu.Lock()
	if l.closed || l.local == m {
		l.mu.Unlock()
		return
	}
	l.local = m
	var old, fresh *PeerSession
	if l.session != nil {
		old = l.session
		l.session = nil
		if l.state == StatePlaying || l.state == StatePaused {
			fresh = l.newSessionLocked()
		}
	}
	l.mu.Unlock()
	l.swap(old, fresh)
}

// LocalStream returns the shared local stream
func (l *PeerLink) LocalStream() *MediaHandle {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.local
}

// ReceiveSignal forwards an inbound payload to the live session
func (l *PeerLink) ReceiveSignal(payload []byte) error {
	s := l.Session()
	if s == nil {
		return ErrNoPeerSession
	}
	return s.ReceiveSignal(l.ctx, payload)
}

// Close destroys any live session; later state changes are ignored
func (l *PeerLink) Close() {
	l.mu.Lock()
	old := l.session
	l.session = nil
	l.closed = true
	l.mu.Unlock()
	if old != nil {
		old.Close()
	}
}

func (l *PeerLink) newSessionLocked() *PeerSession {
	s := NewPeerSession(l.role, l.local, l.factory, l.onSignal)
	if l.onRemote != nil {
		s.OnRemoteStream(l.onRemote)
	}
	l.session = s
	l.sessions++
	return s
}

func (l *PeerLink) swap(old, fresh *PeerSession) {
	if old != nil {
		old.Close()
	}
	if fresh == nil {
		return
	}
	if err := fresh.Open(l.ctx); err != nil {
		slog.Warn("peer session open failed", "role", l.role, "err", err)
	}
}
