package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
)

// NewPionFactory returns a PeerConnFactory backed by pion PeerConnections
func NewPionFactory(iceServers []string) PeerConnFactory {
	return newPionFactory(nil, iceServers)
}

// newPionFactory builds connections through api, or through pion's default
// API when api is nil
func newPionFactory(api *webrtc.API, iceServers []string) PeerConnFactory {
	cfg := webrtc.Configuration{}
	if len(iceServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}
	return func() (PeerConn, error) {
		var pc *webrtc.PeerConnection
		var err error
		if api != nil {
			pc, err = api.NewPeerConnection(cfg)
		} else {
			pc, err = webrtc.NewPeerConnection(cfg)
		}
		if err != nil {
			return nil, err
		}
		return newPionConn(pc), nil
	}
}

// pionConn is a non-trickle PeerConn: every description it emits already
// carries all gathered candidates, so one offer and one answer suffice
type pionConn struct {
	pc *webrtc.PeerConnection

	mu       sync.Mutex
	hasLocal bool
	remote   *MediaHandle
	onRemote func(*MediaHandle)
	onEvent  func(ConnEvent)
}

func newPionConn(pc *webrtc.PeerConnection) *pionConn {
	c := &pionConn{pc: pc}
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		c.mu.Lock()
		first := c.remote == nil
		if first {
			c.remote = &MediaHandle{ID: track.StreamID()}
		}
		c.remote.Remote = append(c.remote.Remote, track)
		m, fn := c.remote, c.onRemote
		c.mu.Unlock()
		if first && fn != nil {
			fn(m)
		}
	})
	pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		var ev ConnEvent
		switch st {
		case webrtc.PeerConnectionStateConnected:
			ev = ConnConnected
		case webrtc.PeerConnectionStateDisconnected:
			ev = ConnDisconnected
		case webrtc.PeerConnectionStateFailed:
			ev = ConnFailed
		case webrtc.PeerConnectionStateClosed:
			ev = ConnClosed
		default:
			return
		}
		c.mu.Lock()
		fn := c.onEvent
		c.mu.Unlock()
		if fn != nil {
			fn(ev)
		}
	})
	return c
}

func (c *pionConn) AddStream(m *MediaHandle) error {
	for _, t := range m.Local {
		if _, err := c.pc.AddTrack(t); err != nil {
			return fmt.Errorf("add track %s: %w", t.ID(), err)
		}
	}
	c.mu.Lock()
	c.hasLocal = len(m.Local) > 0
	c.mu.Unlock()
	return nil
}

func (c *pionConn) CreateOffer(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	hasLocal := c.hasLocal
	c.mu.Unlock()
	if !hasLocal {
		// receive-only so the offer still negotiates the peer's media
		for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeVideo, webrtc.RTPCodecTypeAudio} {
			if _, err := c.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}); err != nil {
				return nil, err
			}
		}
	}
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	return c.setLocalAndGather(ctx, offer)
}

func (c *pionConn) HandleSignal(ctx context.Context, payload []byte) ([]byte, error) {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(payload, &desc); err != nil {
		return nil, fmt.Errorf("decode description: %w", err)
	}
	if err := c.pc.SetRemoteDescription(desc); err != nil {
		return nil, err
	}
	if desc.Type != webrtc.SDPTypeOffer {
		return nil, nil
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}
	return c.setLocalAndGather(ctx, answer)
}

func (c *pionConn) setLocalAndGather(ctx context.Context, desc webrtc.SessionDescription) ([]byte, error) {
	gathered := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(desc); err != nil {
		return nil, err
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return json.Marshal(c.pc.LocalDescription())
}

func (c *pionConn) OnRemoteStream(fn func(*MediaHandle)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onRemote = fn
}

func (c *pionConn) OnEvent(fn func(ConnEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEvent = fn
}

func (c *pionConn) Close() error {
	return c.pc.Close()
}
