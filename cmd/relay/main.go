// Relay is the session record server.
//
// Exposes a record store (in-memory, Redis or MongoDB) to mirror endpoints
// over WebSocket, so two endpoints that cannot reach the backend directly can
// still exchange their session record.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"

	"github.com/1ureka/mirror/internal/app"
	"github.com/1ureka/mirror/internal/config"
	"github.com/1ureka/mirror/internal/relay"
	"github.com/1ureka/mirror/internal/store"
	"github.com/1ureka/mirror/internal/util"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	configPath := flag.String("config", "", "Path to a YAML config file")
	listen := flag.String("listen", "", "Listen address (default :8080)")
	backend := flag.String("backend", "", "Record backend: memory, redis or mongo")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.LoadRelay(*configPath)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *backend != "" {
		cfg.Backend = *backend
	}
	if *debugMode || cfg.Debug {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Mirror relay — v%s", version))
	pterm.Println()

	st, err := openBackend(ctx, cfg)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	defer st.Close()

	srv := relay.NewServer(st, cfg.Token)
	port, err := srv.Start(cfg.Listen)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	util.LogSuccess("relay listening on port %d (backend: %s)", port, cfg.Backend)

	<-ctx.Done()
	if err := srv.Close(); err != nil {
		util.LogWarning("relay shutdown: %v", err)
	}
	util.LogInfo("relay stopped")
}

func openBackend(ctx context.Context, cfg *config.RelayConfig) (store.Store, error) {
	switch cfg.Backend {
	case "redis":
		st, err := app.OpenRedis(ctx, cfg.RedisURL, cfg.RedisTTL)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "mongo":
		st, err := app.OpenMongo(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "memory":
		return store.NewMemory(), nil
	}
	return nil, fmt.Errorf("unknown backend %q (want memory, redis or mongo)", cfg.Backend)
}
