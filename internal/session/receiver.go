package session

import (
	"context"

	"github.com/1ureka/mirror/internal/code"
	"github.com/1ureka/mirror/internal/record"
)

// Receiver is the answerer: it creates the session, shows its code, and
// waits for a sender to share.
type Receiver struct {
	*Controller
}

func NewReceiver(cfg Config) *Receiver {
	return &Receiver{Controller: newController(record.RoleAnswerer, cfg)}
}

// Start creates a session under a fresh code and begins waiting for an
// offer. It returns once the session is listening; progress is reported
// through the observers. If Stop runs first, Start returns ErrStopped.
func (r *Receiver) Start(ctx context.Context) (string, error) {
	sessionCode := code.Generate()

	if _, err := r.channel.CreateSession(ctx, sessionCode); err != nil {
		return "", r.fail(err)
	}
	if r.stopped() {
		return "", r.abandon()
	}

	feed, err := r.attach(ctx)
	if err != nil {
		return "", r.fail(err)
	}

	r.setState(StateWaiting)
	go r.run(ctx, feed, nil)

	r.log.Info("waiting for sender on %s", code.Format(sessionCode))
	return sessionCode, nil
}
