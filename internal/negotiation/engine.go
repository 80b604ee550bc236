package negotiation

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/mirror/internal/media"
	"github.com/1ureka/mirror/internal/record"
	"github.com/1ureka/mirror/internal/util"
)

// State is the engine's negotiation state.
type State int

const (
	StateNew State = iota
	StateHaveLocalDescription
	StateHaveRemoteDescription
	StateConnecting
	StateConnected
	StateDisconnected
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateHaveLocalDescription:
		return "have-local-description"
	case StateHaveRemoteDescription:
		return "have-remote-description"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// EventKind identifies what an Event carries.
type EventKind int

const (
	EventLocalCandidate EventKind = iota + 1
	EventConnectionState
	EventRemoteStream
)

// Event is produced by capability callbacks and consumed by the session
// event loop.
type Event struct {
	Kind      EventKind
	Candidate record.Candidate           // EventLocalCandidate
	State     webrtc.PeerConnectionState // EventConnectionState
	Stream    *media.RemoteStream        // EventRemoteStream
}

// Options tune engine behavior.
type Options struct {
	// DeferConnectedStatus makes the offerer leave status=connected to the
	// caller, to be written once the transport reports connected. By
	// default it is written right after the offer.
	DeferConnectedStatus bool

	Constraints media.Constraints
}

const eventBuffer = 64

// Engine is one endpoint's negotiation state machine.
type Engine struct {
	role  record.Role
	cap   Capability
	sig   Signaler
	opts  Options
	dedup *Deduplicator
	log   *util.FieldLogger

	events chan Event
	done   chan struct{}
	once   sync.Once

	mu        sync.Mutex
	state     State
	remoteSet bool
	streams   map[string]*media.RemoteStream
}

// NewEngine builds an engine for role over c, writing descriptions and
// status through sig.
func NewEngine(role record.Role, c Capability, sig Signaler, opts Options) *Engine {
	if opts.Constraints == (media.Constraints{}) {
		opts.Constraints = media.DefaultConstraints()
	}
	return &Engine{
		role:    role,
		cap:     c,
		sig:     sig,
		opts:    opts,
		dedup:   NewDeduplicator(),
		log:     util.Scoped("engine").With("role", string(role)),
		events:  make(chan Event, eventBuffer),
		done:    make(chan struct{}),
		streams: make(map[string]*media.RemoteStream),
	}
}

// Events delivers local candidates, connection state changes and remote
// streams in the order the capability reported them.
func (e *Engine) Events() <-chan Event { return e.events }

// Dedup exposes the engine's candidate deduplicator.
func (e *Engine) Dedup() *Deduplicator { return e.dedup }

// State returns the current negotiation state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	if e.state != StateClosed {
		e.state = s
	}
	e.mu.Unlock()
}

// HasRemoteDescription reports whether a remote description was applied.
func (e *Engine) HasRemoteDescription() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.remoteSet
}

// emit queues ev unless the engine is closed.
func (e *Engine) emit(ev Event) {
	select {
	case e.events <- ev:
	case <-e.done:
	}
}

// Initialize registers the capability callbacks. Call it once, before any
// description is set.
func (e *Engine) Initialize() {
	e.cap.OnICECandidate(func(c webrtc.ICECandidateInit) {
		e.emit(Event{Kind: EventLocalCandidate, Candidate: fromCandidateInit(c)})
	})

	e.cap.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateConnecting:
			e.setState(StateConnecting)
		case webrtc.PeerConnectionStateConnected:
			e.setState(StateConnected)
		case webrtc.PeerConnectionStateDisconnected:
			e.setState(StateDisconnected)
		case webrtc.PeerConnectionStateFailed:
			e.setState(StateFailed)
		case webrtc.PeerConnectionStateClosed:
			e.setState(StateClosed)
		}
		e.log.Debug("connection state: %s", s)
		e.emit(Event{Kind: EventConnectionState, State: s})
	})

	e.cap.OnTrack(func(track media.RemoteTrack) {
		id := track.StreamID()

		e.mu.Lock()
		stream, seen := e.streams[id]
		if seen {
			stream.Add(track)
		} else {
			stream = media.NewRemoteStream(id, track)
			e.streams[id] = stream
		}
		e.mu.Unlock()

		if seen {
			e.log.Debug("additional %s track on stream %s", track.Kind(), id)
			return
		}
		e.log.Info("remote stream %s (%s)", id, track.Codec().MimeType)
		e.emit(Event{Kind: EventRemoteStream, Stream: stream})
	})
}

// StartShare captures src, attaches its tracks, and writes the offer. The
// returned stream is the local preview; the caller owns stopping it.
func (e *Engine) StartShare(ctx context.Context, src media.Source) (*media.Stream, error) {
	if e.role != record.RoleOfferer {
		return nil, fmt.Errorf("start share: %w", ErrWrongRole)
	}

	stream, err := src.Capture(ctx, e.opts.Constraints)
	if err != nil {
		return nil, fmt.Errorf("%w: capture: %w", ErrCapability, err)
	}

	for _, track := range stream.Tracks() {
		if err := e.cap.AddTrack(track); err != nil {
			stream.Stop()
			return nil, fmt.Errorf("%w: add track: %w", ErrCapability, err)
		}
	}

	offer, err := e.cap.CreateOffer()
	if err != nil {
		stream.Stop()
		return nil, fmt.Errorf("%w: create offer: %w", ErrCapability, err)
	}
	if err := e.cap.SetLocalDescription(offer); err != nil {
		stream.Stop()
		return nil, fmt.Errorf("%w: set local description: %w", ErrCapability, err)
	}
	e.setState(StateHaveLocalDescription)

	if err := e.sig.SetOffer(ctx, fromSessionDescription(offer)); err != nil {
		stream.Stop()
		return nil, fmt.Errorf("write offer: %w", err)
	}

	if !e.opts.DeferConnectedStatus {
		if err := e.sig.SetStatus(ctx, record.StatusConnected); err != nil {
			stream.Stop()
			return nil, fmt.Errorf("write status: %w", err)
		}
	}

	e.log.Info("offer written (%d tracks)", len(stream.Tracks()))
	return stream, nil
}

// OnRemoteDescription applies the peer's description. Only the first one
// is applied; later arrivals are no-ops. The answerer then creates, applies
// and writes its answer.
func (e *Engine) OnRemoteDescription(ctx context.Context, d record.Description) error {
	e.mu.Lock()
	if e.remoteSet || e.state == StateClosed {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	if err := e.cap.SetRemoteDescription(toSessionDescription(d)); err != nil {
		return fmt.Errorf("%w: set remote description: %w", ErrCapability, err)
	}

	e.mu.Lock()
	e.remoteSet = true
	e.mu.Unlock()
	e.setState(StateHaveRemoteDescription)
	e.log.Debug("remote %s applied", d.Type)

	if e.role != record.RoleAnswerer {
		return nil
	}

	answer, err := e.cap.CreateAnswer()
	if err != nil {
		return fmt.Errorf("%w: create answer: %w", ErrCapability, err)
	}
	if err := e.cap.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("%w: set local description: %w", ErrCapability, err)
	}
	if err := e.sig.SetAnswer(ctx, fromSessionDescription(answer)); err != nil {
		return fmt.Errorf("write answer: %w", err)
	}

	e.log.Info("answer written")
	return nil
}

// OnRemoteCandidate hands one remote candidate to the capability. Failures
// come back as *CandidateApplyError.
func (e *Engine) OnRemoteCandidate(c record.Candidate) error {
	if err := e.cap.AddICECandidate(toCandidateInit(c)); err != nil {
		return &CandidateApplyError{Candidate: c, Err: err}
	}
	util.Stats.AddCandidateApplied()
	return nil
}

// HandleSnapshot consumes the peer's half of rec: its description first,
// then any candidates not applied before. Candidates wait in the record
// until a remote description exists, so none is lost to an early failure.
func (e *Engine) HandleSnapshot(ctx context.Context, rec *record.Record) error {
	if e.State() == StateClosed {
		return nil
	}

	peer := e.role.Peer()
	if d := rec.DescriptionFrom(peer); d != nil {
		if err := e.OnRemoteDescription(ctx, *d); err != nil {
			return err
		}
	}
	if !e.HasRemoteDescription() {
		return nil
	}

	for _, c := range rec.CandidatesFrom(peer) {
		if !e.dedup.ShouldApply(c) {
			util.Stats.AddCandidateSkipped()
			continue
		}
		if err := e.OnRemoteCandidate(c); err != nil {
			e.log.Warn("%v", err)
		}
	}
	return nil
}

// Close releases the capability and forgets applied candidates. Safe to
// call more than once; only the first call closes the capability.
func (e *Engine) Close() error {
	var err error
	e.once.Do(func() {
		e.mu.Lock()
		e.state = StateClosed
		e.mu.Unlock()

		close(e.done)
		e.dedup.Reset()
		err = e.cap.Close()
	})
	return err
}
