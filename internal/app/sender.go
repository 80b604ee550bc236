package app

import (
	"context"

	"github.com/1ureka/mirror/internal/config"
	"github.com/1ureka/mirror/internal/media"
	"github.com/1ureka/mirror/internal/session"
	"github.com/1ureka/mirror/internal/util"
)

// RunSender orchestrates the full sender lifecycle:
//  1. Connect to the record store
//  2. Join the session named by the code
//  3. Share the display source and negotiate
//  4. Tear down when the source ends, the peer leaves, or on Ctrl+C
func RunSender(ctx context.Context, cfg *config.Config) error {
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
	scfg.Source = &media.IVFSource{Path: cfg.Media}

	tx := session.NewSender(scfg)
	observe(tx.Controller)
	defer tx.Stop()

	// ── 2 & 3. Join and share ──────────────────────────────────────────
	stream, err := tx.Connect(ctx, cfg.Code)
	if err != nil {
		return userError(err)
	}
	util.LogSuccess("sharing %d track(s) on session %s", len(stream.Tracks()), tx.Code())

	util.StartStatsReporter(ctx)

	// ── 4. Until the session ends ──────────────────────────────────────
	return wait(ctx, tx.Controller)
}
