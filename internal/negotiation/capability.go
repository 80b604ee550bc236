// Package negotiation drives one endpoint's side of the offer/answer
// exchange. The Engine owns the local transport capability, turns its
// callbacks into events, and consumes the peer's half of each record
// snapshot.
package negotiation

import (
	"context"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/mirror/internal/media"
	"github.com/1ureka/mirror/internal/record"
)

var (
	// ErrCapability wraps failures to acquire or drive the local transport
	// or media source. Fatal to the attempt; the user may retry.
	ErrCapability = errors.New("local capability failed")

	// ErrWrongRole is returned when an operation is invoked on an engine of
	// the other role, e.g. StartShare on the answerer.
	ErrWrongRole = errors.New("operation not valid for this role")
)

// CandidateApplyError reports a remote candidate the capability refused.
// It is logged and never fails the session.
type CandidateApplyError struct {
	Candidate record.Candidate
	Err       error
}

func (e *CandidateApplyError) Error() string {
	return fmt.Sprintf("apply candidate %q: %v", e.Candidate.Candidate, e.Err)
}

func (e *CandidateApplyError) Unwrap() error { return e.Err }

// Capability is the local transport primitive. *transport.Transport
// implements it over a pion PeerConnection.
type Capability interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	AddTrack(webrtc.TrackLocal) error

	OnICECandidate(func(webrtc.ICECandidateInit))
	OnConnectionStateChange(func(webrtc.PeerConnectionState))
	OnTrack(func(media.RemoteTrack))

	Close() error
}

// Signaler is the write side of the signaling channel the engine needs.
// Local candidates are not written here; they leave the engine as events.
type Signaler interface {
	SetOffer(ctx context.Context, d record.Description) error
	SetAnswer(ctx context.Context, d record.Description) error
	SetStatus(ctx context.Context, s record.Status) error
}

func toSessionDescription(d record.Description) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.NewSDPType(d.Type), SDP: d.SDP}
}

func fromSessionDescription(sd webrtc.SessionDescription) record.Description {
	return record.Description{Type: sd.Type.String(), SDP: sd.SDP}
}

func toCandidateInit(c record.Candidate) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

func fromCandidateInit(c webrtc.ICECandidateInit) record.Candidate {
	return record.Candidate{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}
