package transport

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
)

func newPair(t *testing.T) (*Transport, *Transport) {
	t.Helper()
	ctx := context.Background()

	offerer, err := New(ctx, Config{HostOnly: true})
	if err != nil {
		t.Fatalf("New offerer: %v", err)
	}
	answerer, err := New(ctx, Config{HostOnly: true})
	if err != nil {
		offerer.Close()
		t.Fatalf("New answerer: %v", err)
	}
	t.Cleanup(func() {
		offerer.Close()
		answerer.Close()
	})
	return offerer, answerer
}

func TestIceServersDefault(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want int
	}{
		{"default", Config{}, 1},
		{"host only", Config{HostOnly: true}, 0},
		{"custom", Config{ICEServers: []webrtc.ICEServer{{URLs: []string{"stun:a"}}, {URLs: []string{"stun:b"}}}}, 2},
	}
	for _, tt := range tests {
		if got := len(tt.cfg.iceServers()); got != tt.want {
			t.Errorf("%s: %d servers, want %d", tt.name, got, tt.want)
		}
	}
	if got := (Config{}).iceServers()[0].URLs; len(got) != len(DefaultSTUNServers) {
		t.Errorf("default URLs = %v", got)
	}
}

func TestOfferAnswerExchange(t *testing.T) {
	offerer, answerer := newPair(t)

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "screen")
	if err != nil {
		t.Fatal(err)
	}
	if err := offerer.AddTrack(track); err != nil {
		t.Fatalf("AddTrack: %v", err)
	}

	offer, err := offerer.CreateOffer()
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	if !strings.Contains(offer.SDP, "m=video") {
		t.Fatalf("offer has no video section:\n%s", offer.SDP)
	}
	if err := offerer.SetLocalDescription(offer); err != nil {
		t.Fatal(err)
	}

	if err := answerer.SetRemoteDescription(offer); err != nil {
		t.Fatalf("SetRemoteDescription(offer): %v", err)
	}
	answer, err := answerer.CreateAnswer()
	if err != nil {
		t.Fatalf("CreateAnswer: %v", err)
	}
	if err := answerer.SetLocalDescription(answer); err != nil {
		t.Fatal(err)
	}
	if err := offerer.SetRemoteDescription(answer); err != nil {
		t.Fatalf("SetRemoteDescription(answer): %v", err)
	}
}

func TestAddCandidateWithoutRemoteDescriptionFails(t *testing.T) {
	offerer, _ := newPair(t)

	err := offerer.AddICECandidate(webrtc.ICECandidateInit{
		Candidate: "candidate:1 1 udp 2130706431 192.0.2.1 50000 typ host",
	})
	if err == nil {
		t.Fatal("expected error adding a candidate before any remote description")
	}
}

func TestCloseIdempotent(t *testing.T) {
	tr, err := New(context.Background(), Config{HostOnly: true})
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		if err := tr.Close(); err != nil {
			t.Fatalf("Close #%d: %v", i+1, err)
		}
	}
	if _, err := tr.CreateOffer(); err == nil {
		t.Fatal("CreateOffer succeeded after Close")
	}
}

func TestContextEndClosesTransport(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tr, err := New(ctx, Config{HostOnly: true})
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()

	if _, err := tr.CreateOffer(); err != nil {
		t.Fatalf("CreateOffer before cancel: %v", err)
	}
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := tr.CreateOffer(); err != nil {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("transport still open after its context ended")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
