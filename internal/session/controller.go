// Package session runs one endpoint's whole session: it creates or joins the
// record, drives the negotiation engine from a single event loop, maps
// transport states to what the user sees, and guarantees teardown on every
// exit path.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/mirror/internal/media"
	"github.com/1ureka/mirror/internal/negotiation"
	"github.com/1ureka/mirror/internal/record"
	"github.com/1ureka/mirror/internal/signaling"
	"github.com/1ureka/mirror/internal/store"
	"github.com/1ureka/mirror/internal/util"
)

// State is what the user observes.
type State string

const (
	StateInitializing State = "initializing"
	StateWaiting      State = "waiting"
	StateConnected    State = "connected"
	StateStreaming    State = "streaming"
	StateDisconnected State = "disconnected"
	StateError        State = "error"
	StateClosedByUser State = "closed-by-user"
)

// Terminal reports whether s ends the session.
func (s State) Terminal() bool {
	return s == StateDisconnected || s == StateError || s == StateClosedByUser
}

// CapabilityFactory creates the local transport capability.
type CapabilityFactory func(ctx context.Context) (negotiation.Capability, error)

// Config wires a controller to its collaborators.
type Config struct {
	Store         store.Store
	NewCapability CapabilityFactory
	Source        media.Source // sender only
	Engine        negotiation.Options
}

// closeTimeout bounds the best-effort status=closed write during teardown.
const closeTimeout = 5 * time.Second

// Controller is the lifecycle shared by Receiver and Sender.
type Controller struct {
	role    record.Role
	cfg     Config
	channel *signaling.Channel
	log     *util.FieldLogger

	mu     sync.Mutex
	state  State
	err    error
	down   bool // teardown has started
	cap    negotiation.Capability
	engine *negotiation.Engine
	local  *media.Stream

	onState  observers[State]
	onConn   observers[string]
	onStream observers[*media.RemoteStream]

	stop     chan struct{}
	stopOnce sync.Once
	torn     sync.Once
	done     chan struct{}
}

func newController(role record.Role, cfg Config) *Controller {
	return &Controller{
		role:    role,
		cfg:     cfg,
		channel: signaling.New(cfg.Store),
		log:     util.Scoped("session").With("role", string(role)),
		state:   StateInitializing,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// ---------------------------------------------------------------------------
// Observation
// ---------------------------------------------------------------------------

// OnState registers fn for every state change.
func (c *Controller) OnState(fn func(State)) (unsubscribe func()) {
	return c.onState.add(fn)
}

// OnConnectionState registers fn for every transport state, verbatim
// ("new", "connecting", "connected", "disconnected", "failed", "closed").
func (c *Controller) OnConnectionState(fn func(string)) (unsubscribe func()) {
	return c.onConn.add(fn)
}

// OnRemoteStream registers fn for each inbound stream, surfaced once per
// stream id.
func (c *Controller) OnRemoteStream(fn func(*media.RemoteStream)) (unsubscribe func()) {
	return c.onStream.add(fn)
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the error that ended the session, if any.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Code returns the session code once bound.
func (c *Controller) Code() string { return c.channel.Code() }

// Done is closed after teardown has completed.
func (c *Controller) Done() <-chan struct{} { return c.done }

func (c *Controller) setState(s State) {
	c.mu.Lock()
	if c.state == s || c.state.Terminal() {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()

	c.log.Info("state → %s", s)
	c.onState.notify(s)
}

// finish moves to a terminal state (keeping an earlier one) and tears
// down.
func (c *Controller) finish(s State, err error) {
	c.mu.Lock()
	if c.err == nil && !c.state.Terminal() {
		c.err = err
	}
	c.mu.Unlock()

	if err != nil {
		c.log.Error("%v", err)
	}
	c.setState(s)
	c.teardown()
}

// ---------------------------------------------------------------------------
// Setup
// ---------------------------------------------------------------------------

// attach creates the capability and engine and subscribes to the record.
// Anything acquired after teardown has started is released here, since
// teardown only sees what existed when it ran.
func (c *Controller) attach(ctx context.Context) (<-chan *record.Record, error) {
	capability, err := c.cfg.NewCapability(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", negotiation.ErrCapability, err)
	}

	engine := negotiation.NewEngine(c.role, capability, c.channel, c.cfg.Engine)
	engine.Initialize()

	c.mu.Lock()
	if c.down {
		c.mu.Unlock()
		if err := engine.Close(); err != nil {
			c.log.Warn("%v", &TeardownError{Step: "close capability", Err: err})
		}
		return nil, ErrStopped
	}
	c.cap = capability
	c.engine = engine
	c.mu.Unlock()

	feed, err := c.channel.Subscribe(ctx)
	if err != nil {
		return nil, err
	}
	if c.stopped() {
		if err := c.channel.Unsubscribe(); err != nil {
			c.log.Warn("%v", &TeardownError{Step: "unsubscribe", Err: err})
		}
		return nil, ErrStopped
	}
	return feed, nil
}

// stopped reports whether teardown has started.
func (c *Controller) stopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.down
}

// fail ends a Start or Connect that could not complete. If Stop got there
// first, the record bound in the meantime is closed and ErrStopped is
// returned instead of err.
func (c *Controller) fail(err error) error {
	if c.stopped() {
		return c.abandon()
	}
	c.finish(StateError, err)
	return err
}

// abandon closes a record bound after teardown already ran.
func (c *Controller) abandon() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := c.channel.Close(ctx); err != nil {
		c.log.Warn("%v", &TeardownError{Step: "close record", Err: err})
	}
	return ErrStopped
}

// ---------------------------------------------------------------------------
// Event loop
// ---------------------------------------------------------------------------

// run is the endpoint's single thread of control. ended is the local
// stream's end signal (nil on the receiver).
func (c *Controller) run(ctx context.Context, feed <-chan *record.Record, ended <-chan struct{}) {
	events := c.engine.Events()

	for {
		select {
		case <-c.stop:
			return

		case <-ctx.Done():
			c.finish(StateClosedByUser, nil)
			return

		case rec, ok := <-feed:
			if !ok {
				c.log.Warn("signaling feed ended")
				feed = nil
				continue
			}
			c.handleSnapshot(ctx, rec)

		case ev := <-events:
			c.handleEvent(ctx, ev)

		case <-ended:
			c.log.Info("shared source ended")
			c.finish(StateClosedByUser, nil)
			return
		}
	}
}

func (c *Controller) handleSnapshot(ctx context.Context, rec *record.Record) {
	if rec.Status == record.StatusClosed {
		c.finish(StateDisconnected, fmt.Errorf("%w: peer closed the session", ErrConnectionLost))
		return
	}
	if err := c.engine.HandleSnapshot(ctx, rec); err != nil {
		c.finish(StateError, err)
	}
}

func (c *Controller) handleEvent(ctx context.Context, ev negotiation.Event) {
	switch ev.Kind {
	case negotiation.EventLocalCandidate:
		if err := c.channel.AppendCandidate(ctx, c.role, ev.Candidate); err != nil {
			c.log.Warn("write candidate: %v", err)
			return
		}
		util.Stats.AddCandidateSent()

	case negotiation.EventConnectionState:
		c.onConn.notify(ev.State.String())
		c.handleConnectionState(ctx, ev.State)

	case negotiation.EventRemoteStream:
		c.onStream.notify(ev.Stream)
		c.setState(StateStreaming)
	}
}

func (c *Controller) handleConnectionState(ctx context.Context, s webrtc.PeerConnectionState) {
	switch s {
	case webrtc.PeerConnectionStateConnected:
		if c.role == record.RoleOfferer {
			if c.cfg.Engine.DeferConnectedStatus {
				if err := c.channel.SetStatus(ctx, record.StatusConnected); err != nil {
					c.log.Warn("write status: %v", err)
				}
			}
			c.setState(StateStreaming)
			return
		}
		if c.State() != StateStreaming {
			c.setState(StateConnected)
		}

	case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateFailed:
		c.finish(StateDisconnected, fmt.Errorf("%w: transport %s", ErrConnectionLost, s))
	}
}

// ---------------------------------------------------------------------------
// Teardown
// ---------------------------------------------------------------------------

// Stop ends the session at the user's request. Safe to call at any time,
// any number of times.
func (c *Controller) Stop() {
	c.setState(StateClosedByUser)
	c.teardown()
}

// teardown releases everything the session holds. It runs once; later
// calls return immediately. Failures are logged, never returned.
func (c *Controller) teardown() {
	c.torn.Do(func() {
		c.stopOnce.Do(func() { close(c.stop) })

		c.mu.Lock()
		c.down = true
		local, engine, capability := c.local, c.engine, c.cap
		c.mu.Unlock()

		var errs []error
		if local != nil {
			local.Stop()
		}
		switch {
		case engine != nil:
			if err := engine.Close(); err != nil {
				errs = append(errs, &TeardownError{Step: "close capability", Err: err})
			}
		case capability != nil:
			if err := capability.Close(); err != nil {
				errs = append(errs, &TeardownError{Step: "close capability", Err: err})
			}
		}
		if err := c.channel.Unsubscribe(); err != nil {
			errs = append(errs, &TeardownError{Step: "unsubscribe", Err: err})
		}

		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := c.channel.Close(ctx); err != nil {
			errs = append(errs, &TeardownError{Step: "close record", Err: err})
		}

		for _, err := range errs {
			c.log.Warn("%v", err)
		}
		c.log.Debug("teardown complete")
		close(c.done)
	})
}
