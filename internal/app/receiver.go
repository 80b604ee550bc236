package app

import (
	"context"

	"github.com/pterm/pterm"

	"github.com/1ureka/mirror/internal/code"
	"github.com/1ureka/mirror/internal/config"
	"github.com/1ureka/mirror/internal/media"
	"github.com/1ureka/mirror/internal/session"
	"github.com/1ureka/mirror/internal/util"
)

// RunReceiver orchestrates the full receiver lifecycle:
//  1. Connect to the record store
//  2. Create a session under a fresh code and show it
//  3. Wait for a sender's offer and answer it
//  4. Record the incoming stream (if -out is set)
//  5. Tear down on disconnect or Ctrl+C
func RunReceiver(ctx context.Context, cfg *config.Config) error {
	// ── 1. Record store ────────────────────────────────────────────────
	st, err := OpenStore(ctx, cfg.Store, cfg.Token)
	if err != nil {
		return err
	}
	defer st.Close()

	scfg, err := sessionConfig(cfg, st)
	if err != nil {
		return err
	}

	rx := session.NewReceiver(scfg)
	observe(rx.Controller)
	defer rx.Stop()

	// ── 4. Sink ────────────────────────────────────────────────────────
	rx.OnRemoteStream(func(s *media.RemoteStream) {
		util.LogSuccess("receiving stream %s", s.ID)
		if cfg.Out == "" {
			return
		}
		go func() {
			// The video track may follow an audio track of the same stream.
			track, err := s.Video(ctx)
			if err != nil {
				return
			}
			util.LogInfo("recording %s to %s", track.Codec().MimeType, cfg.Out)
			if err := media.Record(ctx, track, cfg.Out); err != nil {
				util.LogError("recording failed: %v", err)
			}
		}()
	})

	// ── 2. Session ─────────────────────────────────────────────────────
	sessionCode, err := rx.Start(ctx)
	if err != nil {
		return userError(err)
	}
	printCode(sessionCode, cfg.JoinURL)

	util.StartStatsReporter(ctx)

	// ── 3 & 5. Negotiate until the session ends ────────────────────────
	return wait(ctx, rx.Controller)
}

func printCode(sessionCode, joinURL string) {
	lines := "Code : " + code.Format(sessionCode)
	if joinURL != "" {
		if payload, err := session.QRPayload(joinURL, sessionCode); err == nil {
			lines += "\nQR   : " + payload
		}
	}
	pterm.DefaultBox.WithTitle("Mirror session").Println(lines)
	pterm.Println()
	pterm.Info.Println("Waiting for a sender...")
}
