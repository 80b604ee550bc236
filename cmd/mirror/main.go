// Mirror is the CLI entry point.
//
// A receiver shows a 6-digit code and records whatever is shared to it; a
// sender enters that code and shares an IVF-encoded display feed. The two
// negotiate WebRTC through a shared session record (relay, Redis or
// MongoDB), after which media flows peer to peer.
//
// It can be launched interactively (no -role) or non-interactively via
// flags, a YAML config file, or MIRROR_* environment variables.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/pterm/pterm"

	"github.com/1ureka/mirror/internal/app"
	"github.com/1ureka/mirror/internal/code"
	"github.com/1ureka/mirror/internal/config"
	"github.com/1ureka/mirror/internal/util"
)

var version = "dev"

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// CLI flags.
	configPath := flag.String("config", "", "Path to a YAML config file")
	role := flag.String("role", "", "Role: receiver or sender")
	codeFlag := flag.String("code", "", "Session code to join (sender only)")
	storeURL := flag.String("store", "", "Record store URL (ws://, redis://, mongodb://, memory:)")
	token := flag.String("token", "", "Relay access token")
	mediaPath := flag.String("media", "", "IVF file to share (sender only)")
	out := flag.String("out", "", "IVF file to record into (receiver only)")
	deferStatus := flag.Bool("defer-status", false, "Write status=connected only once the transport connects")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	applyFlags(cfg, map[string]string{
		"role":  *role,
		"code":  *codeFlag,
		"store": *storeURL,
		"token": *token,
		"media": *mediaPath,
		"out":   *out,
	})
	if *deferStatus {
		cfg.DeferConnectedStatus = true
	}
	if *debugMode {
		cfg.Debug = true
	}

	if cfg.Debug {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Mirror — v%s", version))
	pterm.Println()

	if cfg.Role == "" {
		// No role anywhere → interactive mode.
		askInteractive(cfg)
	}

	if err := run(ctx, cfg); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	util.LogInfo("session closed")
}

func run(ctx context.Context, cfg *config.Config) error {
	switch cfg.Role {
	case config.RoleReceiver:
		return app.RunReceiver(ctx, cfg)

	case config.RoleSender:
		if cfg.Media == "" {
			return fmt.Errorf("missing -media for sender role")
		}
		if cfg.Code == "" {
			return fmt.Errorf("missing -code for sender role")
		}
		return app.RunSender(ctx, cfg)
	}
	return fmt.Errorf("invalid -role %q: must be 'receiver' or 'sender'", cfg.Role)
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

// applyFlags overrides cfg with every flag that was given a value.
func applyFlags(cfg *config.Config, flags map[string]string) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	if v := flags["role"]; v != "" {
		cfg.Role = config.Role(v)
	}
	set(&cfg.Code, flags["code"])
	set(&cfg.Store, flags["store"])
	set(&cfg.Token, flags["token"])
	set(&cfg.Media, flags["media"])
	set(&cfg.Out, flags["out"])
}

// askInteractive fills in the role and whatever that role still lacks.
func askInteractive(cfg *config.Config) {
	role, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"Receiver — Show a code and watch", "Sender   — Enter a code and share"}).
		WithDefaultText("Select your role").
		Show()

	pterm.Println()

	if strings.HasPrefix(role, "Receiver") {
		cfg.Role = config.RoleReceiver
		return
	}

	cfg.Role = config.RoleSender
	if cfg.Code == "" {
		cfg.Code = askCode()
	}
	if cfg.Media == "" {
		cfg.Media = askText("IVF file to share (e.g. screen.ivf)")
	}
}

// askCode prompts for a session code until a well-formed one is entered.
func askCode() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Session code (e.g. 482 913)").
			Show()

		c, err := code.Normalize(raw)
		if err == nil {
			pterm.Println()
			return c
		}

		pterm.Println()
		util.LogWarning("invalid code: enter the 6 digits shown on the receiver")
	}
}

// askText prompts until a non-empty value is entered.
func askText(prompt string) string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText(prompt).
			Show()

		if v := strings.TrimSpace(raw); v != "" {
			pterm.Println()
			return v
		}
		pterm.Println()
	}
}
