package session

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/mirror/internal/media"
	"github.com/1ureka/mirror/internal/negotiation"
)

// fakeCap is a capability that negotiates nothing but records every call
// and lets the test fire its callbacks.
type fakeCap struct {
	name string

	mu         sync.Mutex
	remote     []webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	tracks     int
	closed     int

	onCandidate func(webrtc.ICECandidateInit)
	onState     func(webrtc.PeerConnectionState)
	onTrack     func(media.RemoteTrack)
}

func (f *fakeCap) CreateOffer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: f.name + "-offer"}, nil
}

func (f *fakeCap) CreateAnswer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: f.name + "-answer"}, nil
}

func (f *fakeCap) SetLocalDescription(webrtc.SessionDescription) error { return nil }

func (f *fakeCap) SetRemoteDescription(d webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remote = append(f.remote, d)
	return nil
}

func (f *fakeCap) AddICECandidate(c webrtc.ICECandidateInit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidates = append(f.candidates, c)
	return nil
}

func (f *fakeCap) AddTrack(webrtc.TrackLocal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracks++
	return nil
}

func (f *fakeCap) OnICECandidate(fn func(webrtc.ICECandidateInit))           { f.onCandidate = fn }
func (f *fakeCap) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) { f.onState = fn }
func (f *fakeCap) OnTrack(fn func(media.RemoteTrack))                          { f.onTrack = fn }

func (f *fakeCap) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeCap) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeCap) remoteCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.remote)
}

func (f *fakeCap) candidateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.candidates)
}

// capFactory hands out fakeCaps and remembers them.
type capFactory struct {
	name   string
	err    error
	before func() // runs before each capability is created

	mu   sync.Mutex
	caps []*fakeCap
}

func (f *capFactory) New(context.Context) (negotiation.Capability, error) {
	if f.before != nil {
		f.before()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	c := &fakeCap{name: f.name}
	f.caps = append(f.caps, c)
	return c, nil
}

func (f *capFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.caps)
}

func (s *fakeSource) last() *media.Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream
}

func (f *capFactory) last() *fakeCap {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.caps[len(f.caps)-1]
}

// fakeSource returns a stream with one VP8 track.
type fakeSource struct {
	err    error
	before func() // runs before each capture

	mu     sync.Mutex
	stream *media.Stream
}

func (s *fakeSource) Capture(context.Context, media.Constraints) (*media.Stream, error) {
	if s.before != nil {
		s.before()
	}
	if s.err != nil {
		return nil, s.err
	}
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "screen")
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stream = media.NewStream("screen", []webrtc.TrackLocal{track}, nil)
	return s.stream, nil
}

type fakeRemoteTrack struct{}

func (fakeRemoteTrack) ID() string                { return "video" }
func (fakeRemoteTrack) StreamID() string          { return "screen" }
func (fakeRemoteTrack) Kind() webrtc.RTPCodecType { return webrtc.RTPCodecTypeVideo }
func (fakeRemoteTrack) Codec() webrtc.RTPCodecParameters {
	return webrtc.RTPCodecParameters{RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}}
}
func (fakeRemoteTrack) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	return nil, nil, errors.New("no media")
}
