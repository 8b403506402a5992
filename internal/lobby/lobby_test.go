package lobby

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/DoyleJ11/storyforge-backend/internal/engine"
	"github.com/DoyleJ11/storyforge-backend/internal/game"
)

// fakeSource records the listener so tests can push upstream updates.
type fakeSource struct {
	mu       sync.Mutex
	listener game.Listener
	unsubbed int
}

func (f *fakeSource) Subscribe(_ context.Context, _ string, l game.Listener) (func(), error) {
	f.mu.Lock()
	f.listener = l
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.unsubbed++
		f.mu.Unlock()
	}, nil
}

func (f *fakeSource) pushSession(s engine.Session) {
	f.mu.Lock()
	l := f.listener
	f.mu.Unlock()
	l.Session(s)
}

func (f *fakeSource) pushStatus(s game.Status) {
	f.mu.Lock()
	l := f.listener
	f.mu.Unlock()
	l.Status(s)
}

func (f *fakeSource) unsubscribed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unsubbed
}

// helper: receive one snapshot with a timeout so tests never hang
func recvSnapshot(t *testing.T, ch <-chan Snapshot, within time.Duration) Snapshot {
	t.Helper()
	select {
	case snap, ok := <-ch:
		if !ok {
			t.Fatalf("client outbox closed unexpectedly")
		}
		return snap
	case <-time.After(within):
		t.Fatalf("timed out waiting for snapshot")
		return Snapshot{} // unreachable
	}
}

func recvClosed(t *testing.T, ch <-chan Snapshot, within time.Duration) {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("outbox not closed within %v", within)
		}
	}
}

func recvView(t *testing.T, ch <-chan View, within time.Duration) View {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(within):
		t.Fatalf("timed out waiting for view")
		return View{} // unreachable
	}
}

func newTestLobby(t *testing.T) (*Lobby, *fakeSource) {
	t.Helper()
	src := &fakeSource{}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	l, err := NewLobby(ctx, "ABC123", src, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("new lobby: %v", err)
	}
	return l, src
}

func TestLobby_UpstreamUpdateIsBroadcast(t *testing.T) {
	l, src := newTestLobby(t)

	clientOut := make(chan Snapshot, 2) // small buffer so broadcast doesn’t block
	l.Inbox() <- Join{ClientID: "ch1", Outbox: clientOut}

	first := recvSnapshot(t, clientOut, 100*time.Millisecond)
	if first.Version != 0 || first.Session != nil || first.Changed != ChangedAll {
		t.Fatalf("after join: unexpected snapshot %+v", first)
	}

	src.pushSession(engine.Session{ID: "ABC123", Phase: engine.PhaseLobby, Version: 4})

	next := recvSnapshot(t, clientOut, 100*time.Millisecond)
	if next.Version != 1 {
		t.Fatalf("after update: want version=1, got %d", next.Version)
	}
	if next.Changed != ChangedSession || next.Session == nil || next.Session.Version != 4 {
		t.Fatalf("after update: unexpected snapshot %+v", next)
	}

	l.Inbox() <- Shutdown{}
}

func TestLobby_StatusOnlyOnChange(t *testing.T) {
	l, src := newTestLobby(t)

	out := make(chan Snapshot, 4)
	l.Inbox() <- Join{ClientID: "ch1", Outbox: out}
	_ = recvSnapshot(t, out, 100*time.Millisecond)

	src.pushStatus(game.StatusConnected)
	src.pushStatus(game.StatusConnected)
	snap := recvSnapshot(t, out, 100*time.Millisecond)
	if snap.Status != game.StatusConnected || snap.Changed != ChangedStatus {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	reply := make(chan View, 1)
	l.Inbox() <- GetState{Reply: reply}
	if v := recvView(t, reply, 100*time.Millisecond); v.Version != 1 {
		t.Fatalf("repeated status should not bump version, got %d", v.Version)
	}
}

func TestLobby_DropSlowClient(t *testing.T) {
	l, src := newTestLobby(t)

	clientOut := make(chan Snapshot, 1)
	l.Inbox() <- Join{ClientID: "ch1", Outbox: clientOut}

	src.pushSession(engine.Session{ID: "ABC123"})

	reply := make(chan View, 1)
	l.Inbox() <- GetState{Reply: reply}
	view := recvView(t, reply, 100*time.Millisecond)

	if view.NumClients != 0 {
		t.Fatalf("expected slow client to be dropped; NumClients=%d", view.NumClients)
	}
}

func TestLobby_LastLeaveShutsDownAndUnsubscribes(t *testing.T) {
	l, src := newTestLobby(t)

	a := make(chan Snapshot, 2)
	b := make(chan Snapshot, 2)
	l.Inbox() <- Join{ClientID: "a", Outbox: a}
	l.Inbox() <- Join{ClientID: "b", Outbox: b}
	_ = recvSnapshot(t, a, 100*time.Millisecond)
	_ = recvSnapshot(t, b, 100*time.Millisecond)

	l.Inbox() <- Leave{ClientID: "a"}
	recvClosed(t, a, 100*time.Millisecond)

	select {
	case <-l.Closed():
		t.Fatal("lobby closed while a client remains")
	case <-time.After(50 * time.Millisecond):
	}

	l.Inbox() <- Leave{ClientID: "b"}
	recvClosed(t, b, 100*time.Millisecond)

	select {
	case <-l.Closed():
	case <-time.After(time.Second):
		t.Fatal("lobby did not shut down")
	}
	if got := src.unsubscribed(); got != 1 {
		t.Fatalf("want 1 upstream unsubscribe, got %d", got)
	}
	if l.Send(Join{ClientID: "late", Outbox: make(chan Snapshot, 1)}) {
		t.Fatal("closed lobby accepted a join")
	}
}

func TestLobby_Shutdown_ClosesClients(t *testing.T) {
	l, src := newTestLobby(t)

	out := make(chan Snapshot, 2)
	l.Inbox() <- Join{ClientID: "c1", Outbox: out}
	_ = recvSnapshot(t, out, 500*time.Millisecond) // drain join snapshot

	l.Inbox() <- Shutdown{}
	recvClosed(t, out, 500*time.Millisecond)
	<-l.Closed()

	// late upstream callbacks must not block
	done := make(chan struct{})
	go func() {
		for range 100 {
			src.pushSession(engine.Session{ID: "ABC123"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("upstream callback blocked after shutdown")
	}
}
