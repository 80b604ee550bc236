package session

import (
	"context"

	"github.com/1ureka/mirror/internal/code"
	"github.com/1ureka/mirror/internal/media"
	"github.com/1ureka/mirror/internal/record"
)

// Sender is the offerer: it joins a session by code and shares its display.
type Sender struct {
	*Controller
}

func NewSender(cfg Config) *Sender {
	return &Sender{Controller: newController(record.RoleOfferer, cfg)}
}

// Connect joins the session named by rawCode (any formatting) and starts
// sharing. The returned stream is the local preview. A bad or unknown code
// fails before any capability is created. If Stop runs first, Connect
// returns ErrStopped.
func (s *Sender) Connect(ctx context.Context, rawCode string) (*media.Stream, error) {
	sessionCode, err := code.Normalize(rawCode)
	if err != nil {
		return nil, s.fail(err)
	}

	if _, err := s.channel.Lookup(ctx, sessionCode); err != nil {
		return nil, s.fail(err)
	}
	if s.stopped() {
		return nil, s.abandon()
	}

	feed, err := s.attach(ctx)
	if err != nil {
		return nil, s.fail(err)
	}

	stream, err := s.engine.StartShare(ctx, s.cfg.Source)
	if err != nil {
		return nil, s.fail(err)
	}

	s.mu.Lock()
	if s.down {
		s.mu.Unlock()
		stream.Stop()
		return nil, s.abandon()
	}
	s.local = stream
	s.mu.Unlock()

	s.setState(StateWaiting)
	go s.run(ctx, feed, stream.Ended())

	return stream, nil
}
