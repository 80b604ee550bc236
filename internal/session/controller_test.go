package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/mirror/internal/code"
	"github.com/1ureka/mirror/internal/media"
	"github.com/1ureka/mirror/internal/negotiation"
	"github.com/1ureka/mirror/internal/record"
	"github.com/1ureka/mirror/internal/signaling"
	"github.com/1ureka/mirror/internal/store"
)

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitDone(t *testing.T, c *Controller) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("teardown did not complete")
	}
}

func status(t *testing.T, st store.Store, sessionCode string) record.Status {
	t.Helper()
	rec, err := st.Get(context.Background(), sessionCode)
	if err != nil {
		t.Fatalf("Get %s: %v", sessionCode, err)
	}
	return rec.Status
}

// stateLog collects every state a controller reports.
type stateLog struct {
	mu     sync.Mutex
	states []State
}

func (l *stateLog) add(s State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, s)
}

func (l *stateLog) count(s State) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, v := range l.states {
		if v == s {
			n++
		}
	}
	return n
}

type pair struct {
	st       *store.Memory
	rxCaps   *capFactory
	txCaps   *capFactory
	src      *fakeSource
	receiver *Receiver
	sender   *Sender
}

func newPair(opts negotiation.Options) *pair {
	p := &pair{
		st:     store.NewMemory(),
		rxCaps: &capFactory{name: "rx"},
		txCaps: &capFactory{name: "tx"},
		src:    &fakeSource{},
	}
	p.receiver = NewReceiver(Config{Store: p.st, NewCapability: p.rxCaps.New, Engine: opts})
	p.sender = NewSender(Config{Store: p.st, NewCapability: p.txCaps.New, Source: p.src, Engine: opts})
	return p
}

func TestSessionNegotiates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := newPair(negotiation.Options{})
	defer p.receiver.Stop()
	defer p.sender.Stop()

	var (
		mu      sync.Mutex
		streams []*media.RemoteStream
	)
	p.receiver.OnRemoteStream(func(s *media.RemoteStream) {
		mu.Lock()
		streams = append(streams, s)
		mu.Unlock()
	})

	sessionCode, err := p.receiver.Start(ctx)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if p.receiver.State() != StateWaiting {
		t.Fatalf("receiver state = %s", p.receiver.State())
	}

	// The sender types the code as displayed.
	stream, err := p.sender.Connect(ctx, code.Format(sessionCode))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if stream == nil || p.txCaps.last().tracks != 1 {
		t.Fatal("local stream not attached")
	}
	if got := status(t, p.st, sessionCode); got != record.StatusConnected {
		t.Errorf("status after offer = %s, want connected", got)
	}

	rx, tx := p.rxCaps.last(), p.txCaps.last()
	eventually(t, "receiver applies offer", func() bool { return rx.remoteCount() == 1 })
	eventually(t, "sender applies answer", func() bool { return tx.remoteCount() == 1 })

	cand := webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 2130706431 192.0.2.1 50000 typ host"}
	tx.onCandidate(cand)
	tx.onCandidate(cand) // gathered twice, written twice, applied once
	eventually(t, "receiver applies sender candidate", func() bool { return rx.candidateCount() == 1 })

	rx.onCandidate(webrtc.ICECandidateInit{Candidate: "candidate:2 1 udp 2130706431 192.0.2.2 50001 typ host"})
	eventually(t, "sender applies receiver candidate", func() bool { return tx.candidateCount() == 1 })

	tx.onState(webrtc.PeerConnectionStateConnected)
	eventually(t, "sender streaming", func() bool { return p.sender.State() == StateStreaming })

	rx.onState(webrtc.PeerConnectionStateConnected)
	eventually(t, "receiver connected", func() bool { return p.receiver.State() == StateConnected })

	rx.onTrack(fakeRemoteTrack{})
	rx.onTrack(fakeRemoteTrack{})
	eventually(t, "receiver streaming", func() bool { return p.receiver.State() == StateStreaming })

	time.Sleep(20 * time.Millisecond)
	if rx.candidateCount() != 1 {
		t.Errorf("receiver applied %d candidates, want 1", rx.candidateCount())
	}
	mu.Lock()
	defer mu.Unlock()
	if len(streams) != 1 || streams[0].ID != "screen" {
		t.Errorf("remote streams surfaced = %d", len(streams))
	}
}

func TestConnectUnknownCode(t *testing.T) {
	p := newPair(negotiation.Options{})

	_, err := p.sender.Connect(context.Background(), "000000")
	if !errors.Is(err, signaling.ErrConnectFailed) {
		t.Fatalf("got %v, want ErrConnectFailed", err)
	}
	if UserMessage(err) != MessageInvalidCode {
		t.Errorf("message = %q", UserMessage(err))
	}
	if p.txCaps.count() != 0 {
		t.Error("capability created for an unknown code")
	}
	if p.sender.State() != StateError {
		t.Errorf("state = %s", p.sender.State())
	}
	waitDone(t, p.sender.Controller)
}

func TestConnectMalformedCode(t *testing.T) {
	p := newPair(negotiation.Options{})

	_, err := p.sender.Connect(context.Background(), "12-34")
	if !errors.Is(err, code.ErrInvalid) {
		t.Fatalf("got %v, want code.ErrInvalid", err)
	}
	if UserMessage(err) != MessageInvalidCode || p.txCaps.count() != 0 {
		t.Fatal("malformed code must fail before any capability is created")
	}
}

func TestStopMidNegotiation(t *testing.T) {
	ctx := context.Background()
	p := newPair(negotiation.Options{})

	// A waiting record nobody will answer.
	const sessionCode = "482913"
	if _, err := p.st.Insert(ctx, record.New(sessionCode, time.Now())); err != nil {
		t.Fatal(err)
	}

	stream, err := p.sender.Connect(ctx, sessionCode)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	p.sender.Stop()
	waitDone(t, p.sender.Controller)

	if !stream.Stopped() {
		t.Error("local tracks not stopped")
	}
	if got := p.txCaps.last().closeCount(); got != 1 {
		t.Errorf("capability closed %d times", got)
	}
	if got := status(t, p.st, sessionCode); got != record.StatusClosed {
		t.Errorf("status = %s, want closed", got)
	}
	if p.sender.State() != StateClosedByUser || p.sender.Err() != nil {
		t.Errorf("state = %s, err = %v", p.sender.State(), p.sender.Err())
	}
}

func TestStopDuringStartReleasesCapability(t *testing.T) {
	ctx := context.Background()
	p := newPair(negotiation.Options{})
	p.rxCaps.before = p.receiver.Stop

	sessionCode, err := p.receiver.Start(ctx)
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("Start: got %q, %v; want ErrStopped", sessionCode, err)
	}
	waitDone(t, p.receiver.Controller)

	if got := p.rxCaps.count(); got != 1 {
		t.Fatalf("capabilities created = %d, want 1", got)
	}
	if got := p.rxCaps.last().closeCount(); got != 1 {
		t.Errorf("capability closed %d times, want 1", got)
	}
	if got := status(t, p.st, p.receiver.Code()); got != record.StatusClosed {
		t.Errorf("status = %s, want closed", got)
	}
	if p.receiver.State() != StateClosedByUser {
		t.Errorf("state = %s", p.receiver.State())
	}
}

func TestStopDuringConnectReleasesEverything(t *testing.T) {
	tests := []struct {
		name     string
		arm      func(p *pair)
		captured bool
	}{
		{"while creating the capability", func(p *pair) { p.txCaps.before = p.sender.Stop }, false},
		{"while capturing", func(p *pair) { p.src.before = p.sender.Stop }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			p := newPair(negotiation.Options{})

			const sessionCode = "482913"
			if _, err := p.st.Insert(ctx, record.New(sessionCode, time.Now())); err != nil {
				t.Fatal(err)
			}
			tt.arm(p)

			stream, err := p.sender.Connect(ctx, sessionCode)
			if stream != nil || !errors.Is(err, ErrStopped) {
				t.Fatalf("Connect: got %v, %v; want ErrStopped", stream, err)
			}
			waitDone(t, p.sender.Controller)

			if got := p.txCaps.last().closeCount(); got != 1 {
				t.Errorf("capability closed %d times, want 1", got)
			}
			if got := status(t, p.st, sessionCode); got != record.StatusClosed {
				t.Errorf("status = %s, want closed", got)
			}
			if tt.captured {
				if s := p.src.last(); s == nil || !s.Stopped() {
					t.Error("captured stream left running")
				}
			}
			if p.sender.State() != StateClosedByUser {
				t.Errorf("state = %s", p.sender.State())
			}
		})
	}
}

func TestTransportFailureTearsDownOnce(t *testing.T) {
	ctx := context.Background()
	p := newPair(negotiation.Options{})

	var log stateLog
	p.receiver.OnState(log.add)

	sessionCode, err := p.receiver.Start(ctx)
	if err != nil {
		t.Fatal(err)
	}
	rx := p.rxCaps.last()

	rx.onState(webrtc.PeerConnectionStateFailed)
	waitDone(t, p.receiver.Controller)

	if p.receiver.State() != StateDisconnected {
		t.Fatalf("state = %s", p.receiver.State())
	}
	if UserMessage(p.receiver.Err()) != MessageConnectionLost {
		t.Errorf("message = %q", UserMessage(p.receiver.Err()))
	}

	p.receiver.Stop()
	p.receiver.Stop()

	if got := rx.closeCount(); got != 1 {
		t.Errorf("capability closed %d times", got)
	}
	if got := status(t, p.st, sessionCode); got != record.StatusClosed {
		t.Errorf("status = %s", got)
	}
	if log.count(StateDisconnected) != 1 || log.count(StateClosedByUser) != 0 {
		t.Errorf("states = %v", log.states)
	}
}

func TestStopWithoutSession(t *testing.T) {
	p := newPair(negotiation.Options{})

	p.receiver.Stop()
	p.receiver.Stop()
	waitDone(t, p.receiver.Controller)

	if p.rxCaps.count() != 0 {
		t.Fatal("capability created by Stop")
	}
	if _, err := p.st.Get(context.Background(), "000000"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("unexpected record: %v", err)
	}
}

func TestPeerCloseDisconnects(t *testing.T) {
	ctx := context.Background()
	p := newPair(negotiation.Options{})

	sessionCode, err := p.receiver.Start(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.sender.Connect(ctx, sessionCode); err != nil {
		t.Fatal(err)
	}

	p.sender.Stop()
	waitDone(t, p.receiver.Controller)

	if p.receiver.State() != StateDisconnected {
		t.Fatalf("receiver state = %s", p.receiver.State())
	}
	if !errors.Is(p.receiver.Err(), ErrConnectionLost) {
		t.Fatalf("receiver err = %v", p.receiver.Err())
	}
}

func TestCapabilityFailure(t *testing.T) {
	ctx := context.Background()
	p := newPair(negotiation.Options{})
	p.rxCaps.err = errors.New("no transport")

	_, err := p.receiver.Start(ctx)
	if !errors.Is(err, negotiation.ErrCapability) {
		t.Fatalf("got %v, want ErrCapability", err)
	}
	if UserMessage(err) != MessageInitFailed {
		t.Errorf("message = %q", UserMessage(err))
	}
	waitDone(t, p.receiver.Controller)
	if got := status(t, p.st, p.receiver.Code()); got != record.StatusClosed {
		t.Errorf("status = %s", got)
	}
}

func TestSharePermissionDenied(t *testing.T) {
	ctx := context.Background()
	p := newPair(negotiation.Options{})
	p.src.err = media.ErrPermissionDenied

	sessionCode, err := p.receiver.Start(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer p.receiver.Stop()

	_, err = p.sender.Connect(ctx, sessionCode)
	if !errors.Is(err, negotiation.ErrCapability) || !errors.Is(err, media.ErrPermissionDenied) {
		t.Fatalf("got %v", err)
	}
	waitDone(t, p.sender.Controller)
	if got := p.txCaps.last().closeCount(); got != 1 {
		t.Errorf("capability closed %d times", got)
	}
}

func TestSourceEndTearsDown(t *testing.T) {
	ctx := context.Background()
	p := newPair(negotiation.Options{})

	sessionCode, err := p.receiver.Start(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer p.receiver.Stop()

	stream, err := p.sender.Connect(ctx, sessionCode)
	if err != nil {
		t.Fatal(err)
	}
	stream.End()

	waitDone(t, p.sender.Controller)
	if p.sender.State() != StateClosedByUser {
		t.Fatalf("state = %s", p.sender.State())
	}
}

func TestDeferredConnectedStatus(t *testing.T) {
	ctx := context.Background()
	p := newPair(negotiation.Options{DeferConnectedStatus: true})
	defer p.receiver.Stop()
	defer p.sender.Stop()

	sessionCode, err := p.receiver.Start(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.sender.Connect(ctx, sessionCode); err != nil {
		t.Fatal(err)
	}
	if got := status(t, p.st, sessionCode); got != record.StatusWaiting {
		t.Fatalf("status before transport connects = %s", got)
	}

	p.txCaps.last().onState(webrtc.PeerConnectionStateConnected)
	eventually(t, "status connected", func() bool {
		return status(t, p.st, sessionCode) == record.StatusConnected
	})
}

func TestObserversAreIndependent(t *testing.T) {
	p := newPair(negotiation.Options{})

	var a, b stateLog
	p.receiver.OnState(a.add)
	unsubB := p.receiver.OnState(b.add)

	if _, err := p.receiver.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	unsubB()
	unsubB()
	p.receiver.Stop()

	if a.count(StateWaiting) != 1 || a.count(StateClosedByUser) != 1 {
		t.Errorf("first observer saw %v", a.states)
	}
	if b.count(StateWaiting) != 1 || b.count(StateClosedByUser) != 0 {
		t.Errorf("second observer saw %v", b.states)
	}
}
