// Package signaling wraps the shared session record for one code. It is the
// only path between the two endpoints: it creates or looks up the record,
// writes deltas, and feeds post-mutation snapshots to the local state
// machine.
package signaling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/1ureka/mirror/internal/record"
	"github.com/1ureka/mirror/internal/store"
	"github.com/1ureka/mirror/internal/util"
)

var (
	// ErrCreateFailed is returned when the store rejects a new session.
	ErrCreateFailed = errors.New("failed to create session")

	// ErrConnectFailed is returned when a code does not name an open
	// session, or the lookup itself fails.
	ErrConnectFailed = errors.New("failed to connect to session")
)

// ErrEmptyMutation is returned by Patch for a mutation that changes nothing.
var ErrEmptyMutation = errors.New("signaling: empty mutation")

var log = util.Scoped("signaling")

// Channel binds a store to one session code.
type Channel struct {
	store store.Store

	mu   sync.Mutex
	code string
	sub  store.Subscription
	feed *store.Mailbox
	stop chan struct{}
	last uint64 // highest revision delivered
}

// New returns a Channel over st. The code is bound by CreateSession or
// Lookup.
func New(st store.Store) *Channel {
	return &Channel{store: st}
}

// Code returns the bound session code, or "".
func (c *Channel) Code() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.code
}

// CreateSession inserts a fresh waiting record for code. There is no retry:
// a collision with an open session is as fatal as a backend error.
func (c *Channel) CreateSession(ctx context.Context, code string) (*record.Record, error) {
	rec, err := c.store.Insert(ctx, record.New(code, time.Now().UTC()))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCreateFailed, err)
	}

	c.mu.Lock()
	c.code = code
	c.last = rec.Revision
	c.mu.Unlock()

	log.With("code", code).Debug("session record created (id=%s)", rec.ID)
	return rec, nil
}

// Lookup binds the channel to an existing open session.
func (c *Channel) Lookup(ctx context.Context, code string) (*record.Record, error) {
	rec, err := c.store.Get(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}
	if !rec.Open() {
		return nil, fmt.Errorf("%w: session %s is closed", ErrConnectFailed, code)
	}

	c.mu.Lock()
	c.code = code
	c.last = rec.Revision
	c.mu.Unlock()

	return rec, nil
}

// Subscribe starts the snapshot feed for the bound code. The current record
// is delivered first, so nothing written between Lookup and Subscribe is
// missed. Snapshots older than one already delivered are dropped; equal
// revisions may repeat.
//
// The returned channel is closed by Unsubscribe or when the store ends the
// feed.
func (c *Channel) Subscribe(ctx context.Context) (<-chan *record.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.code == "" {
		return nil, errors.New("signaling: no session bound")
	}
	if c.sub != nil {
		return c.feed.C(), nil
	}

	sub, err := c.store.Subscribe(ctx, c.code)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", c.code, err)
	}

	c.sub = sub
	c.feed = store.NewMailbox()
	c.stop = make(chan struct{})
	go c.forward(ctx, sub, c.feed, c.stop)

	return c.feed.C(), nil
}

// forward is the only producer for feed.
func (c *Channel) forward(ctx context.Context, sub store.Subscription, feed *store.Mailbox, stop <-chan struct{}) {
	defer feed.Close()

	if rec, err := c.store.Get(ctx, c.Code()); err == nil {
		c.offer(feed, rec)
	}

	for {
		select {
		case rec, ok := <-sub.Updates():
			if !ok {
				return
			}
			c.offer(feed, rec)
		case <-stop:
			return
		}
	}
}

func (c *Channel) offer(feed *store.Mailbox, rec *record.Record) {
	c.mu.Lock()
	stale := rec.Revision < c.last
	if !stale {
		c.last = rec.Revision
	}
	c.mu.Unlock()

	if stale {
		log.Debug("dropping stale snapshot rev=%d", rec.Revision)
		return
	}
	util.Stats.AddSnapshot()
	feed.Put(rec)
}

// Unsubscribe releases the feed. Safe to call any number of times.
func (c *Channel) Unsubscribe() error {
	c.mu.Lock()
	sub, stop := c.sub, c.stop
	c.sub, c.stop = nil, nil
	c.mu.Unlock()

	if sub == nil {
		return nil
	}
	close(stop)
	return sub.Close()
}

// Patch applies m to the bound record.
func (c *Channel) Patch(ctx context.Context, m record.Mutation) (*record.Record, error) {
	code := c.Code()
	if code == "" {
		return nil, errors.New("signaling: no session bound")
	}
	if m.Empty() {
		return nil, ErrEmptyMutation
	}
	return c.store.Update(ctx, code, m)
}

// SetOffer writes the offer. A second write fails with record.ErrAlreadySet.
func (c *Channel) SetOffer(ctx context.Context, d record.Description) error {
	_, err := c.Patch(ctx, record.SetDescription(record.RoleOfferer, d))
	return err
}

// SetAnswer writes the answer. A second write fails with record.ErrAlreadySet.
func (c *Channel) SetAnswer(ctx context.Context, d record.Description) error {
	_, err := c.Patch(ctx, record.SetDescription(record.RoleAnswerer, d))
	return err
}

// AppendCandidate appends one local candidate to role's sequence.
func (c *Channel) AppendCandidate(ctx context.Context, role record.Role, cand record.Candidate) error {
	_, err := c.Patch(ctx, record.AppendCandidate(role, cand))
	return err
}

// SetStatus moves the record status forward.
func (c *Channel) SetStatus(ctx context.Context, s record.Status) error {
	_, err := c.Patch(ctx, record.Mutation{Status: s})
	return err
}

// Close marks the session closed. A missing or already closed record is
// not an error.
func (c *Channel) Close(ctx context.Context) error {
	if c.Code() == "" {
		return nil
	}
	err := c.SetStatus(ctx, record.StatusClosed)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}
