package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// ErrNoMedia is returned by sources that have no device to offer
var ErrNoMedia = errors.New("no media device available")

// MediaHandle is an opaque audio/video stream, local or remote
type MediaHandle struct {
	ID     string
	Local  []webrtc.TrackLocal
	Remote []*webrtc.TrackRemote
}

// Kinds lists the track kinds carried by the stream
func (m *MediaHandle) Kinds() []string {
	if m == nil {
		return nil
	}
	var kinds []string
	for _, t := range m.Local {
		kinds = append(kinds, t.Kind().String())
	}
	for _, t := range m.Remote {
		kinds = append(kinds, t.Kind().String())
	}
	return kinds
}

// MediaSource acquires the local camera/microphone stream
type MediaSource interface {
	Acquire(ctx context.Context) (*MediaHandle, error)
}

// MediaResult is delivered by AcquireAsync
type MediaResult struct {
	Handle *MediaHandle
	Err    error
}

// AcquireAsync runs src.Acquire on its own goroutine and delivers exactly one
// result on the returned channel
func AcquireAsync(ctx context.Context, src MediaSource) <-chan MediaResult {
	out := make(chan MediaResult, 1)
	go func() {
		h, err := src.Acquire(ctx)
		out <- MediaResult{Handle: h, Err: err}
	}()
	return out
}

// SampleMediaSource produces a VP8 video and Opus audio track pair that the
// caller feeds with media.Sample writes
type SampleMediaSource struct {
	StreamID string
	NoAudio  bool
}

// Acquire creates the local tracks
func (s SampleMediaSource) Acquire(ctx context.Context) (*MediaHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id := s.StreamID
	if id == "" {
		id = "ballgoal-" + GenerateID(4)
	}
	video, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", id)
	if err != nil {
		return nil, fmt.Errorf("video track: %w", err)
	}
	h := &MediaHandle{ID: id, Local: []webrtc.TrackLocal{video}}
	if !s.NoAudio {
		audio, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", id)
		if err != nil {
			return nil, fmt.Errorf("audio track: %w", err)
		}
		h.Local = append(h.Local, audio)
	}
	return h, nil
}

// NoMediaSource stands in when no capture device is configured
type NoMediaSource struct{}

// Acquire always fails with ErrNoMedia
func (NoMediaSource) Acquire(context.Context) (*MediaHandle, error) {
	return nil, ErrNoMedia
}
