package app

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/1ureka/mirror/internal/session"
	"github.com/1ureka/mirror/internal/signaling"
	"github.com/1ureka/mirror/internal/store"
)

func TestParseICEServers(t *testing.T) {
	servers, err := ParseICEServers([]string{
		"stun:stun.l.google.com:19302",
		" ",
		"turn:turn.example.org:3478|alice|s3cret",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(servers) != 2 {
		t.Fatalf("servers = %d, want 2", len(servers))
	}
	if servers[1].Username != "alice" || servers[1].Credential != "s3cret" {
		t.Errorf("turn server = %+v", servers[1])
	}

	bad := []string{
		"turn:x|only-user",
		"turn:turn.example.org:3478",
		"http://example.org",
	}
	for _, e := range bad {
		if _, err := ParseICEServers([]string{e}); err == nil {
			t.Errorf("ParseICEServers(%q) accepted", e)
		}
	}
}

func TestOpenStore(t *testing.T) {
	st, err := OpenStore(context.Background(), "memory:", "")
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	if _, ok := st.(*store.Memory); !ok {
		t.Fatalf("memory: opened %T", st)
	}

	mr := miniredis.RunT(t)
	rst, err := OpenStore(context.Background(), "redis://"+mr.Addr()+"/0", "")
	if err != nil {
		t.Fatal(err)
	}
	defer rst.Close()
	if _, ok := rst.(*store.Redis); !ok {
		t.Fatalf("redis:// opened %T", rst)
	}

	if _, err := OpenStore(context.Background(), "ftp://example.org", ""); err == nil {
		t.Fatal("unsupported scheme accepted")
	}
}

func TestUserError(t *testing.T) {
	err := userError(signaling.ErrConnectFailed)
	if !errors.Is(err, signaling.ErrConnectFailed) {
		t.Fatal("cause lost")
	}
	if got := err.Error(); got[:len(session.MessageInvalidCode)] != session.MessageInvalidCode {
		t.Fatalf("message = %q", got)
	}
}
