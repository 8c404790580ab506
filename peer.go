package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

var (
	ErrPeerClosed  = errors.New("peer session closed")
	ErrPeerNotOpen = errors.New("peer session not opened")
)

// PeerRole says which side produces the offer
type PeerRole int

const (
	RoleInitiator PeerRole = iota // host
	RoleResponder                 // joiner
)

func (r PeerRole) String() string {
	if r == RoleInitiator {
		return "host"
	}
	return "joiner"
}

// ParsePeerRole accepts "host"/"initiator" and "joiner"/"responder"
func ParsePeerRole(s string) (PeerRole, bool) {
	switch s {
	case "host", "initiator":
		return RoleInitiator, true
	case "joiner", "responder", "guest":
		return RoleResponder, true
	}
	return RoleResponder, false
}

// PeerState is the lifecycle of one peer session
type PeerState int

const (
	PeerIdle PeerState = iota
	PeerConnecting
	PeerConnected
	PeerClosed
)

func (s PeerState) String() string {
	switch s {
	case PeerIdle:
		return "idle"
	case PeerConnecting:
		return "connecting"
	case PeerConnected:
		return "connected"
	case PeerClosed:
		return "closed"
	}
	return "unknown"
}

// ConnEvent is a state report from a connection primitive
type ConnEvent int

const (
	ConnConnected ConnEvent = iota
	ConnDisconnected
	ConnFailed
	ConnClosed
)

func (e ConnEvent) String() string {
	switch e {
	case ConnConnected:
		return "connected"
	case ConnDisconnected:
		return "disconnected"
	case ConnFailed:
		return "failed"
	case ConnClosed:
		return "closed"
	}
	return "unknown"
}

// SignalFunc hands an outbound signaling payload to the transport
type SignalFunc func(payload []byte)

// PeerConn is the connection primitive underneath a PeerSession
type PeerConn interface {
	AddStream(m *MediaHandle) error
	// CreateOffer returns a complete offer, candidates included
	CreateOffer(ctx context.Context) ([]byte, error)
	// HandleSignal applies an inbound payload and returns the reply to send
	// back, or nil when none is due
	HandleSignal(ctx context.Context, payload []byte) ([]byte, error)
	OnRemoteStream(fn func(*MediaHandle))
	OnEvent(fn func(ConnEvent))
	Close() error
}

// PeerConnFactory creates a fresh connection primitive
type PeerConnFactory func() (PeerConn, error)

// PeerSession drives one peer-to-peer media link from Idle to Closed.
// Closed is terminal; a new session is needed to reconnect.
type PeerSession struct {
	mu       sync.Mutex
	role     PeerRole
	state    PeerState
	local    *MediaHandle
	remote   *MediaHandle
	conn     PeerConn
	factory  PeerConnFactory
	onSignal SignalFunc

	onRemote []func(*MediaHandle)
	onState  []func(PeerState)

	closeOnce sync.Once
}

// NewPeerSession creates an Idle session. local may be nil.
func NewPeerSession(role PeerRole, local *MediaHandle, factory PeerConnFactory, onSignal SignalFunc) *PeerSession {
	return &PeerSession{
		role:     role,
		local:    local,
		factory:  factory,
		onSignal: onSignal,
	}
}

// Role returns initiator or responder
func (s *PeerSession) Role() PeerRole { return s.role }

// State returns the current state
func (s *PeerSession) State() PeerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LocalStream returns the stream attached at creation
func (s *PeerSession) LocalStream() *MediaHandle { return s.local }

// RemoteStream returns the first remote stream, or nil
func (s *PeerSession) RemoteStream() *MediaHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remote
}

// OnRemoteStream registers fn for the arrival of the remote stream
func (s *PeerSession) OnRemoteStream(fn func(*MediaHandle)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRemote = append(s.onRemote, fn)
}

// OnStateChange registers fn for every state change
func (s *PeerSession) OnStateChange(fn func(PeerState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onState = append(s.onState, fn)
}

// Open builds the connection primitive and, for the initiator, emits the offer
func (s *PeerSession) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.state == PeerClosed {
		s.mu.Unlock()
		return ErrPeerClosed
	}
	if s.state != PeerIdle {
		s.mu.Unlock()
		return nil
	}
	conn, err := s.factory()
	if err != nil {
		s.mu.Unlock()
		s.fail(fmt.Errorf("create connection: %w", err))
		return err
	}
	s.conn = conn
	conn.OnRemoteStream(s.handleRemote)
	conn.OnEvent(s.handleEvent)
	if s.local != nil {
		if err := conn.AddStream(s.local); err != nil {
			s.mu.Unlock()
			s.fail(fmt.Errorf("add local stream: %w", err))
			return err
		}
	}
	fire := s.setStateLocked(PeerConnecting)
	s.mu.Unlock()
	fire()

	if s.role != RoleInitiator {
		return nil
	}
	offer, err := conn.CreateOffer(ctx)
	if err != nil {
		s.fail(fmt.Errorf("create offer: %w", err))
		return err
	}
	s.emit(offer)
	return nil
}

// ReceiveSignal feeds an inbound signaling payload to the primitive
func (s *PeerSession) ReceiveSignal(ctx context.Context, payload []byte) error {
	s.mu.Lock()
	state, conn := s.state, s.conn
	s.mu.Unlock()
	switch state {
	case PeerClosed:
		return ErrPeerClosed
	case PeerIdle:
		return ErrPeerNotOpen
	}
	reply, err := conn.HandleSignal(ctx, payload)
	if err != nil {
		s.fail(fmt.Errorf("handle signal: %w", err))
		return err
	}
	if reply != nil {
		s.emit(reply)
	}
	return nil
}

// Close tears the session down. Safe to call any number of times.
func (s *PeerSession) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		conn := s.conn
		fire := s.setStateLocked(PeerClosed)
		s.mu.Unlock()
		if conn != nil {
			if err := conn.Close(); err != nil {
				slog.Warn("peer connection close", "err", err)
			}
		}
		fire()
	})
}

func (s *PeerSession) fail(err error) {
	slog.Warn("peer session failed", "role", s.role, "err", err)
	s.Close()
}

func (s *PeerSession) emit(payload []byte) {
	if s.State() == PeerClosed || s.onSignal == nil {
		return
	}
	s.onSignal(payload)
}

func (s *PeerSession) handleRemote(m *MediaHandle) {
	s.mu.Lock()
	if s.state == PeerClosed || s.remote != nil {
		s.mu.Unlock()
		return
	}
	s.remote = m
	hooks := append(([]func(*MediaHandle))(nil), s.onRemote...)
	s.mu.Unlock()
	for _, fn := range hooks {
		fn(m)
	}
}

func (s *PeerSession) handleEvent(ev ConnEvent) {
	switch ev {
	case ConnConnected:
		s.mu.Lock()
		if s.state != PeerConnecting {
			s.mu.Unlock()
			return
		}
		fire := s.setStateLocked(PeerConnected)
		s.mu.Unlock()
		fire()
	case ConnDisconnected, ConnFailed, ConnClosed:
		// Close marks the session closed before releasing the primitive,
		// so the primitive's own close report stops here
		if s.State() == PeerClosed {
			return
		}
		slog.Info("peer connection ended", "role", s.role, "event", ev)
		s.Close()
	}
}

// setStateLocked changes state and returns a func that runs the observers;
// call it after releasing mu
func (s *PeerSession) setStateLocked(to PeerState) func() {
	if s.state == to {
		return func() {}
	}
	s.state = to
	hooks := append(([]func(PeerState))(nil), s.onState...)
	return func() {
		for _, fn := range hooks {
			fn(to)
		}
	}
}
