package main

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func inEnv(t *testing.T, typ string, d interface{}) InEnvelope {
	t.Helper()
	raw, err := json.Marshal(d)
	require.NoError(t, err)
	return InEnvelope{T: typ, D: raw}
}

func nextOut(t *testing.T, p *peerClient) Envelope {
	t.Helper()
	select {
	case data := <-p.out:
		var env struct {
			T string          `json:"t"`
			D json.RawMessage `json:"d"`
		}
		require.NoError(t, json.Unmarshal(data, &env))
		return Envelope{T: env.T, Data: env.D}
	default:
		t.Fatal("nothing queued for the server")
		return Envelope{}
	}
}

// runQueued applies the link work queued so far
func runQueued(p *peerClient) int {
	n := 0
	for {
		select {
		case fn := <-p.work:
			fn()
			n++
		default:
			return n
		}
	}
}

func TestPeerClientStartsRoundOnJoin(t *testing.T) {
	ctx := context.Background()
	f := &fakeFactory{}
	link := NewPeerLink(ctx, RoleInitiator, f.New, nil)
	p := newPeerClient(link, RoleInitiator, true)

	require.NoError(t, p.handle(ctx, inEnv(t, MsgJoined, JoinedMsg{SID: "s", PID: "p", Role: "host"})))
	env := nextOut(t, p)
	assert.Equal(t, MsgCmd, env.T)
	assert.JSONEq(t, `{"action":"start"}`, string(env.Data.(json.RawMessage)))

	quiet := newPeerClient(link, RoleInitiator, false)
	require.NoError(t, quiet.handle(ctx, inEnv(t, MsgJoined, JoinedMsg{SID: "s"})))
	assert.Empty(t, quiet.out)
}

func TestPeerClientStateDrivesLink(t *testing.T) {
	ctx := context.Background()
	f := &fakeFactory{}
	var p *peerClient
	link := NewPeerLink(ctx, RoleInitiator, f.New, func(b []byte) { p.signal(b) })
	p = newPeerClient(link, RoleInitiator, false)

	require.NoError(t, p.handle(ctx, inEnv(t, MsgState, map[string]string{"state": "playing"})))
	assert.Nil(t, link.Session(), "link work waits for the worker")
	assert.Equal(t, 1, runQueued(p))
	require.NotNil(t, link.Session())

	// the initiator's offer goes out as a signal message
	env := nextOut(t, p)
	assert.Equal(t, MsgSignal, env.T)
	var sig SignalMsg
	require.NoError(t, json.Unmarshal(env.Data.(json.RawMessage), &sig))
	assert.JSONEq(t, `{"type":"offer"}`, string(sig.Payload))

	// repeated frames of the same state queue nothing
	require.NoError(t, p.handle(ctx, inEnv(t, MsgState, map[string]string{"state": "playing"})))
	assert.Equal(t, 0, runQueued(p))

	require.NoError(t, p.handle(ctx, inEnv(t, MsgState, map[string]string{"state": "end"})))
	runQueued(p)
	assert.Nil(t, link.Session())

	assert.Error(t, p.handle(ctx, inEnv(t, MsgState, map[string]string{"state": "lobby"})))
}

func TestPeerClientForwardsSignals(t *testing.T) {
	ctx := context.Background()
	f := &fakeFactory{}
	link := NewPeerLink(ctx, RoleResponder, f.New, nil)
	p := newPeerClient(link, RoleResponder, false)

	// no session yet: logged, not fatal
	payload := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	require.NoError(t, p.handle(ctx, inEnv(t, MsgSignal, SignalMsg{From: "host", Payload: payload})))
	runQueued(p)

	require.NoError(t, p.handle(ctx, inEnv(t, MsgState, map[string]string{"state": "playing"})))
	require.NoError(t, p.handle(ctx, inEnv(t, MsgSignal, SignalMsg{From: "host", Payload: payload})))
	assert.Equal(t, 2, runQueued(p), "state and signal are applied in arrival order")
	require.Len(t, f.last().signals, 1)
	assert.JSONEq(t, string(payload), string(f.last().signals[0]))
}

func TestPeerClientRejectsMalformedNotices(t *testing.T) {
	ctx := context.Background()
	p := newPeerClient(NewPeerLink(ctx, RoleResponder, (&fakeFactory{}).New, nil), RoleResponder, false)

	assert.NoError(t, p.handle(ctx, inEnv(t, MsgPeerLeft, PeerMsg{Role: "host"})))
	assert.NoError(t, p.handle(ctx, inEnv(t, MsgError, ErrorMsg{Msg: "nope"})))

	for _, typ := range []string{MsgPeerJoined, MsgPeerLeft, MsgError} {
		err := p.handle(ctx, InEnvelope{T: typ, D: json.RawMessage(`[1,2]`)})
		assert.Error(t, err, typ)
	}
}

func TestPeerClientKeepsReadingWhileLinkOpens(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := &fakeFactory{}
	release := make(chan struct{})
	gathering := func() (PeerConn, error) {
		<-release
		return f.New()
	}
	var p *peerClient
	link := NewPeerLink(ctx, RoleInitiator, gathering, func(b []byte) { p.signal(b) })
	defer link.Close()
	var once sync.Once
	open := func() { once.Do(func() { close(release) }) }
	defer open()
	p = newPeerClient(link, RoleInitiator, false)
	go p.follow(ctx)

	done := make(chan error, 1)
	go func() {
		frames := []InEnvelope{
			inEnv(t, MsgState, map[string]string{"state": "playing"}),
			inEnv(t, MsgPeerJoined, PeerMsg{Role: "joiner"}),
			inEnv(t, MsgState, map[string]string{"state": "playing"}),
			inEnv(t, MsgSignal, SignalMsg{From: "joiner", Payload: json.RawMessage(`{"type":"answer"}`)}),
			inEnv(t, MsgState, map[string]string{"state": "playing"}),
		}
		for _, env := range frames {
			if err := p.handle(ctx, env); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("server frames stalled behind the opening peer session")
	}

	open()
	require.Eventually(t, func() bool {
		c := f.last()
		if c == nil {
			return false
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.offers == 1 && len(c.signals) == 1
	}, 2*time.Second, 10*time.Millisecond, "queued work should run once the session opens")
}
