// Package media provides the local display source (what the sender shares)
// and the sink for remote streams on the receiving side.
package media

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

var (
	// ErrPermissionDenied is returned when the source exists but may not be
	// read.
	ErrPermissionDenied = errors.New("media source permission denied")

	// ErrNotAvailable is returned when there is nothing to capture.
	ErrNotAvailable = errors.New("media source not available")
)

// Constraints describe the requested capture. Sources treat them as
// preferences.
type Constraints struct {
	Width     int
	Height    int
	FrameRate int
	Audio     bool
}

// DefaultConstraints asks for 1080p30 with audio.
func DefaultConstraints() Constraints {
	return Constraints{Width: 1920, Height: 1080, FrameRate: 30, Audio: true}
}

// Source captures a display.
type Source interface {
	Capture(ctx context.Context, c Constraints) (*Stream, error)
}

// Stream is a captured local stream. Tracks stay valid until Stop.
type Stream struct {
	id     string
	tracks []webrtc.TrackLocal

	stopFn  func()
	once    sync.Once
	endOnce sync.Once
	ended   chan struct{}

	mu      sync.Mutex
	stopped bool
}

// NewStream wraps tracks as a stream. stop, if non-nil, runs once on Stop.
func NewStream(id string, tracks []webrtc.TrackLocal, stop func()) *Stream {
	return &Stream{
		id:     id,
		tracks: tracks,
		stopFn: stop,
		ended:  make(chan struct{}),
	}
}

func (s *Stream) ID() string { return s.id }

// Tracks returns the local tracks to attach to the transport.
func (s *Stream) Tracks() []webrtc.TrackLocal { return s.tracks }

// Ended is closed when the stream stops producing, either because Stop was
// called or the source ran out.
func (s *Stream) Ended() <-chan struct{} { return s.ended }

// End marks the stream as ended by its source.
func (s *Stream) End() {
	s.endOnce.Do(func() { close(s.ended) })
}

// Stop stops every track. Safe to call more than once.
func (s *Stream) Stop() {
	s.once.Do(func() {
		if s.stopFn != nil {
			s.stopFn()
		}
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
		s.End()
	})
}

// Stopped reports whether Stop has run.
func (s *Stream) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// RemoteTrack is the inbound side of a media track; *webrtc.TrackRemote
// satisfies it.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
	Codec() webrtc.RTPCodecParameters
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// RemoteStream is surfaced once per remote stream id. Tracks of the same
// stream that arrive later are added to it.
type RemoteStream struct {
	ID string

	mu     sync.Mutex
	tracks []RemoteTrack
	video  chan struct{} // closed once a video track is present
}

// NewRemoteStream starts a stream with the track that announced it.
func NewRemoteStream(id string, first RemoteTrack) *RemoteStream {
	s := &RemoteStream{ID: id, video: make(chan struct{})}
	s.Add(first)
	return s
}

// Add appends a track of this stream.
func (s *RemoteStream) Add(track RemoteTrack) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks = append(s.tracks, track)
	if track.Kind() == webrtc.RTPCodecTypeVideo && len(s.videoTracks()) == 1 {
		close(s.video)
	}
}

// Tracks returns the tracks received so far, in arrival order.
func (s *RemoteStream) Tracks() []RemoteTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RemoteTrack(nil), s.tracks...)
}

// Video returns the stream's first video track, waiting for it if only
// other kinds have arrived yet.
func (s *RemoteStream) Video(ctx context.Context) (RemoteTrack, error) {
	select {
	case <-s.video:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.videoTracks()[0], nil
}

func (s *RemoteStream) videoTracks() []RemoteTrack {
	var v []RemoteTrack
	for _, t := range s.tracks {
		if t.Kind() == webrtc.RTPCodecTypeVideo {
			v = append(v, t)
		}
	}
	return v
}
