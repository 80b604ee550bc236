package app

import (
	"context"

	"github.com/1ureka/mirror/internal/config"
	"github.com/1ureka/mirror/internal/media"
	"github.com/1ureka/mirror/internal/negotiation"
	"github.com/1ureka/mirror/internal/session"
	"github.com/1ureka/mirror/internal/store"
	"github.com/1ureka/mirror/internal/transport"
	"github.com/1ureka/mirror/internal/util"
)

// sessionConfig builds the controller configuration shared by both roles.
func sessionConfig(cfg *config.Config, st store.Store) (session.Config, error) {
	ice, err := ParseICEServers(cfg.ICEServers)
	if err != nil {
		return session.Config{}, err
	}
	tcfg := transport.Config{ICEServers: ice}

	return session.Config{
		Store: st,
		NewCapability: func(ctx context.Context) (negotiation.Capability, error) {
			return transport.New(ctx, tcfg)
		},
		Engine: negotiation.Options{
			DeferConnectedStatus: cfg.DeferConnectedStatus,
			Constraints: media.Constraints{
				Width:     cfg.Capture.Width,
				Height:    cfg.Capture.Height,
				FrameRate: cfg.Capture.FrameRate,
				Audio:     cfg.Capture.Audio,
			},
		},
	}, nil
}

// observe logs the controller's progress.
func observe(c *session.Controller) {
	c.OnState(func(s session.State) {
		switch s {
		case session.StateConnected, session.StateStreaming:
			util.LogSuccess("session %s", s)
		case session.StateDisconnected, session.StateError:
			util.LogWarning("session %s", s)
		default:
			util.LogInfo("session %s", s)
		}
	})
	c.OnConnectionState(func(s string) {
		util.LogDebug("transport %s", s)
	})
}

// wait blocks until the session has torn down and reports how it ended.
func wait(ctx context.Context, c *session.Controller) error {
	select {
	case <-c.Done():
	case <-ctx.Done():
		c.Stop()
		<-c.Done()
	}
	if err := c.Err(); err != nil {
		return userError(err)
	}
	return nil
}

// userErr carries the message the user should see ahead of its cause.
type userErr struct {
	msg string
	err error
}

func (e *userErr) Error() string { return e.msg + " (" + e.err.Error() + ")" }
func (e *userErr) Unwrap() error { return e.err }

// userError maps err to one of the user-facing messages.
func userError(err error) error {
	return &userErr{msg: session.UserMessage(err), err: err}
}
