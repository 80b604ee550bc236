package negotiation

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/mirror/internal/media"
	"github.com/1ureka/mirror/internal/record"
)

// fakeCap records every call made by the engine.
type fakeCap struct {
	mu sync.Mutex

	local, remote []webrtc.SessionDescription
	candidates    []webrtc.ICECandidateInit
	tracks        []webrtc.TrackLocal
	closed        int

	failRemote error
	failAdd    error

	onCandidate func(webrtc.ICECandidateInit)
	onState     func(webrtc.PeerConnectionState)
	onTrack     func(media.RemoteTrack)
}

func (f *fakeCap) CreateOffer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer-sdp"}, nil
}

func (f *fakeCap) CreateAnswer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-sdp"}, nil
}

func (f *fakeCap) SetLocalDescription(d webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.local = append(f.local, d)
	return nil
}

func (f *fakeCap) SetRemoteDescription(d webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRemote != nil {
		return f.failRemote
	}
	f.remote = append(f.remote, d)
	return nil
}

func (f *fakeCap) AddICECandidate(c webrtc.ICECandidateInit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAdd != nil {
		return f.failAdd
	}
	f.candidates = append(f.candidates, c)
	return nil
}

func (f *fakeCap) AddTrack(t webrtc.TrackLocal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracks = append(f.tracks, t)
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

func (f *fakeCap) addCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.candidates)
}

// fakeSignaler records writes the engine makes.
type fakeSignaler struct {
	mu       sync.Mutex
	offers   []record.Description
	answers  []record.Description
	statuses []record.Status
}

func (s *fakeSignaler) SetOffer(_ context.Context, d record.Description) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.offers) > 0 {
		return record.ErrAlreadySet
	}
	s.offers = append(s.offers, d)
	return nil
}

func (s *fakeSignaler) SetAnswer(_ context.Context, d record.Description) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.answers) > 0 {
		return record.ErrAlreadySet
	}
	s.answers = append(s.answers, d)
	return nil
}

func (s *fakeSignaler) SetStatus(_ context.Context, st record.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, st)
	return nil
}

// fakeSource hands out a stream with a single VP8 track.
type fakeSource struct {
	err    error
	stream *media.Stream
}

func (s *fakeSource) Capture(context.Context, media.Constraints) (*media.Stream, error) {
	if s.err != nil {
		return nil, s.err
	}
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "screen")
	if err != nil {
		return nil, err
	}
	s.stream = media.NewStream("screen", []webrtc.TrackLocal{track}, nil)
	return s.stream, nil
}

// fakeRemoteTrack is an inbound track that never yields packets.
type fakeRemoteTrack struct {
	id, stream string
	kind       webrtc.RTPCodecType // video when zero
}

func (t *fakeRemoteTrack) ID() string                { return t.id }
func (t *fakeRemoteTrack) StreamID() string          { return t.stream }
func (t *fakeRemoteTrack) Kind() webrtc.RTPCodecType {
	if t.kind == 0 {
		return webrtc.RTPCodecTypeVideo
	}
	return t.kind
}
func (t *fakeRemoteTrack) Codec() webrtc.RTPCodecParameters {
	return webrtc.RTPCodecParameters{RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}}
}
func (t *fakeRemoteTrack) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	return nil, nil, errors.New("no media")
}

func strPtr(s string) *string { return &s }
func u16Ptr(v uint16) *uint16 { return &v }
