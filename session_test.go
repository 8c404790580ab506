package main

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, cfg GameConfig, db *DB, a *Analytics) *SessionManager {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	sm := NewSessionManager(ctx, cfg, db, a)
	t.Cleanup(func() {
		sm.Close()
		cancel()
	})
	return sm
}

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// envelopes returns the JSON messages of type typ sent to m
func (m *mockBroadcaster) envelopes(typ string) []Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Envelope
	for _, msg := range m.messages {
		if env, ok := msg.(Envelope); ok && env.T == typ {
			out = append(out, env)
		}
	}
	return out
}

func TestSessionJoinAndPeerNotice(t *testing.T) {
	sm := newTestManager(t, DefaultGameConfig(), nil, nil)
	sess, err := sm.CreateSession("room", "")
	require.NoError(t, err)
	assert.False(t, sess.Locked())

	host, guest := &mockBroadcaster{}, &mockBroadcaster{}
	_, err = sm.Join(JoinRequest{SID: sess.ID, ID: "h", Role: RoleInitiator, Out: host})
	require.NoError(t, err)
	assert.Empty(t, host.envelopes(MsgPeerJoined), "no notice while alone")

	_, err = sm.Join(JoinRequest{SID: sess.ID, ID: "g", Role: RoleResponder, Out: guest})
	require.NoError(t, err)
	assert.Equal(t, 2, sess.MemberCount())
	assert.Equal(t, 2, sess.Game.ClientCount())

	require.Len(t, host.envelopes(MsgPeerJoined), 1)
	assert.Equal(t, PeerMsg{Role: "joiner"}, host.envelopes(MsgPeerJoined)[0].Data)
	require.Len(t, guest.envelopes(MsgPeerJoined), 1)
	assert.Equal(t, PeerMsg{Role: "host"}, guest.envelopes(MsgPeerJoined)[0].Data)

	list := sm.ListSessions()
	require.Len(t, list, 1)
	assert.Equal(t, SessionInfo{ID: sess.ID, Name: "room", Players: 2, HasHost: true, HasGuest: true}, list[0])
}

func TestSessionJoinErrors(t *testing.T) {
	sm := newTestManager(t, DefaultGameConfig(), nil, nil)
	sess, err := sm.CreateSession("locked", "1234")
	require.NoError(t, err)
	assert.True(t, sess.Locked())

	_, err = sm.Join(JoinRequest{SID: "nope", ID: "x", Out: &mockBroadcaster{}})
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = sm.Join(JoinRequest{SID: sess.ID, ID: "h", Role: RoleInitiator, Passcode: "0000", Out: &mockBroadcaster{}})
	assert.ErrorIs(t, err, ErrBadPasscode)

	_, err = sm.Join(JoinRequest{SID: sess.ID, ID: "h", Role: RoleInitiator, Passcode: "1234", Out: &mockBroadcaster{}})
	require.NoError(t, err)

	_, err = sm.Join(JoinRequest{SID: sess.ID, ID: "h2", Role: RoleInitiator, Passcode: "1234", Out: &mockBroadcaster{}})
	assert.ErrorIs(t, err, ErrRoleTaken)

	// a ticket stands in for the passcode
	_, err = sm.Join(JoinRequest{SID: sess.ID, ID: "g", Role: RoleResponder, Ticketed: true, Out: &mockBroadcaster{}})
	assert.NoError(t, err)

	// rejoining the same seat is allowed
	_, err = sm.Join(JoinRequest{SID: sess.ID, ID: "g", Role: RoleResponder, Ticketed: true, Out: &mockBroadcaster{}})
	assert.NoError(t, err)
	assert.Equal(t, 2, sess.MemberCount())
}

func TestSessionRelay(t *testing.T) {
	sm := newTestManager(t, DefaultGameConfig(), nil, nil)
	sess, _ := sm.CreateSession("room", "")
	host, guest := &mockBroadcaster{}, &mockBroadcaster{}
	sm.Join(JoinRequest{SID: sess.ID, ID: "h", Role: RoleInitiator, Out: host})

	payload := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	assert.ErrorIs(t, sm.Relay(sess.ID, "h", payload), ErrNoPeer)
	assert.ErrorIs(t, sm.Relay(sess.ID, "stranger", payload), ErrNotMember)
	assert.ErrorIs(t, sm.Relay("nope", "h", payload), ErrSessionNotFound)

	sm.Join(JoinRequest{SID: sess.ID, ID: "g", Role: RoleResponder, Out: guest})
	require.NoError(t, sm.Relay(sess.ID, "h", payload))

	got := guest.envelopes(MsgSignal)
	require.Len(t, got, 1)
	assert.Equal(t, SignalMsg{From: "host", Payload: payload}, got[0].Data)
	assert.Empty(t, host.envelopes(MsgSignal), "sender does not get its own signal")
}

func TestSessionLeave(t *testing.T) {
	sm := newTestManager(t, DefaultGameConfig(), nil, nil)
	sess, _ := sm.CreateSession("room", "")
	host, guest := &mockBroadcaster{}, &mockBroadcaster{}
	sm.Join(JoinRequest{SID: sess.ID, ID: "h", Role: RoleInitiator, Out: host})
	sm.Join(JoinRequest{SID: sess.ID, ID: "g", Role: RoleResponder, Out: guest})

	sm.Leave(sess.ID, "g")
	require.Len(t, host.envelopes(MsgPeerLeft), 1)
	assert.Equal(t, PeerMsg{Role: "joiner"}, host.envelopes(MsgPeerLeft)[0].Data)
	assert.Equal(t, 1, sm.Count())
	assert.Equal(t, 1, sess.Game.ClientCount())

	sm.Leave(sess.ID, "h")
	assert.Equal(t, 0, sm.Count(), "empty room is closed")
	assert.False(t, sess.Game.Send(ControlCmd{Action: ActionStart}), "closed room's game is stopped")

	sm.Leave(sess.ID, "h") // unknown room is ignored
}

func TestSessionReapIdle(t *testing.T) {
	sm := newTestManager(t, DefaultGameConfig(), nil, nil)
	idle, _ := sm.CreateSession("idle", "")
	busy, _ := sm.CreateSession("busy", "")

	later := time.Now().Add(SessionIdleTimeout / 2)
	assert.Equal(t, 0, sm.ReapIdle(later))

	busy.mu.Lock()
	busy.lastActive = later
	busy.mu.Unlock()

	assert.Equal(t, 1, sm.ReapIdle(time.Now().Add(SessionIdleTimeout+time.Second)))
	assert.Nil(t, sm.GetSession(idle.ID))
	assert.NotNil(t, sm.GetSession(busy.ID))
}

func TestSessionLimit(t *testing.T) {
	sm := newTestManager(t, DefaultGameConfig(), nil, nil)
	for i := 0; i < maxSessions; i++ {
		_, err := sm.CreateSession("r", "")
		require.NoError(t, err)
	}
	_, err := sm.CreateSession("one too many", "")
	assert.ErrorIs(t, err, ErrTooManySessions)
}

func TestSessionRoundRecorded(t *testing.T) {
	db := openTestDB(t)
	analytics := NewAnalytics(db)
	cfg := DefaultGameConfig()
	cfg.RoundSeconds = 1
	sm := newTestManager(t, cfg, db, analytics)

	sess, err := sm.CreateSession("speedrun", "")
	require.NoError(t, err)
	reply := make(chan bool, 1)
	require.True(t, sess.Game.Send(ControlCmd{Action: ActionStart, Reply: reply}))
	require.True(t, <-reply)

	require.Eventually(t, func() bool {
		rows, err := db.RoundsForSession(sess.ID)
		return err == nil && len(rows) == 1
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, 1, sess.Rounds())

	rows, err := db.RoundsForSession(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "speedrun", rows[0].Name)
	assert.InDelta(t, 1.0, rows[0].Duration, 0.1)

	analytics.Stop()
	counts, err := analytics.EventCounts(1)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[EvtSessionStart])
	assert.Equal(t, 1, counts[EvtRoundStart])
	assert.Equal(t, 1, counts[EvtRoundEnd])
}
