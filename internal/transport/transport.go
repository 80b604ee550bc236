// Package transport wraps a pion PeerConnection as the local transport
// capability: it produces and consumes descriptions and candidates, carries
// media tracks, and reports connection state.
package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/mirror/internal/media"
	"github.com/1ureka/mirror/internal/negotiation"
	"github.com/1ureka/mirror/internal/util"
)

var log = util.Scoped("transport")

// Transport wraps a single PeerConnection.
//
// It is closed by Close or when the context passed to New ends, whichever
// comes first.
type Transport struct {
	pc        *webrtc.PeerConnection
	stopWatch func() bool

	mu      sync.Mutex
	onState []func(webrtc.PeerConnectionState)
	senders []*webrtc.RTPSender
}

var _ negotiation.Capability = (*Transport)(nil)

// New creates a Transport backed by a new PeerConnection. The caller drives
// signaling through CreateOffer / CreateAnswer / Set*Description /
// AddICECandidate.
func New(ctx context.Context, cfg Config) (*Transport, error) {
	pc, err := newPeerConnection(cfg)
	if err != nil {
		return nil, err
	}

	t := &Transport{pc: pc}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		t.mu.Lock()
		handlers := append([]func(webrtc.PeerConnectionState){}, t.onState...)
		t.mu.Unlock()

		for _, fn := range handlers {
			fn(state)
		}
	})

	t.stopWatch = context.AfterFunc(ctx, func() {
		if err := t.Close(); err != nil {
			log.Warn("close on context end: %v", err)
		}
	})

	return t, nil
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Close stops the outbound tracks and shuts down the PeerConnection. Safe
// to call more than once.
func (t *Transport) Close() error {
	t.stopWatch()

	t.mu.Lock()
	senders := t.senders
	t.senders = nil
	t.mu.Unlock()

	errs := make([]error, 0, len(senders)+1)
	for _, s := range senders {
		errs = append(errs, s.Stop())
	}
	return errors.Join(append(errs, t.pc.Close())...)
}

// OnConnectionStateChange registers a handler for every state change.
// Handlers accumulate; none replaces another.
func (t *Transport) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	t.mu.Lock()
	t.onState = append(t.onState, fn)
	t.mu.Unlock()
}

// ---------------------------------------------------------------------------
// Signaling
// ---------------------------------------------------------------------------

// CreateOffer generates an SDP offer.
func (t *Transport) CreateOffer() (webrtc.SessionDescription, error) {
	return t.pc.CreateOffer(nil)
}

// CreateAnswer generates an SDP answer.
func (t *Transport) CreateAnswer() (webrtc.SessionDescription, error) {
	return t.pc.CreateAnswer(nil)
}

// SetLocalDescription applies the local SDP.
func (t *Transport) SetLocalDescription(sdp webrtc.SessionDescription) error {
	return t.pc.SetLocalDescription(sdp)
}

// SetRemoteDescription applies the remote SDP.
func (t *Transport) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	return t.pc.SetRemoteDescription(sdp)
}

// OnICECandidate registers a callback invoked for each newly gathered local
// ICE candidate, already in its signaling form. End of gathering is not
// reported.
func (t *Transport) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	t.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		fn(c.ToJSON())
	})
}

// AddICECandidate adds a remote ICE candidate received through signaling.
func (t *Transport) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return t.pc.AddICECandidate(candidate)
}

// ---------------------------------------------------------------------------
// Media
// ---------------------------------------------------------------------------

// AddTrack attaches a local track and drains RTCP for it until the
// transport shuts down; pion's interceptors need RTCP to be read.
func (t *Transport) AddTrack(track webrtc.TrackLocal) error {
	sender, err := t.pc.AddTrack(track)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.senders = append(t.senders, sender)
	t.mu.Unlock()

	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

// OnTrack registers a callback for inbound media tracks.
func (t *Transport) OnTrack(fn func(media.RemoteTrack)) {
	t.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		fn(track)
	})
}
