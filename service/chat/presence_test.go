package chat

import (
	"context"
	"sync"
	"testing"
	"time"
)

type recordingSink struct {
	mu  sync.Mutex
	got []Transition
}

func (r *recordingSink) Name() string { return "recording" }

func (r *recordingSink) OnPresence(_ context.Context, t Transition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, t)
	return nil
}

func (r *recordingSink) transitions() []Transition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Transition(nil), r.got...)
}

func TestPresenceSnapshotAndDeltas(t *testing.T) {
	s := newTestServer(t)

	a := join(t, s, "alice")
	fa := drain(t, a)
	if len(fa) != 1 || fa[0].Type != TypeUsersOnline {
		t.Fatalf("alice frames = %v", fa)
	}
	if snap := decodeInto[UsersOnlinePayload](t, fa[0]); len(snap.UserIDs) != 1 || snap.UserIDs[0] != "alice" {
		t.Fatalf("snapshot = %v", snap.UserIDs)
	}

	b := join(t, s, "bob")
	fa = drain(t, a)
	if len(fa) != 1 || fa[0].Type != TypeUserOnline || decodeInto[UserPayload](t, fa[0]).UserID != "bob" {
		t.Fatalf("alice should see user:online bob, got %v", fa)
	}
	fb := drain(t, b)
	if len(fb) != 1 || fb[0].Type != TypeUsersOnline {
		t.Fatalf("bob frames = %v", fb)
	}
	if snap := decodeInto[UsersOnlinePayload](t, fb[0]); len(snap.UserIDs) != 2 {
		t.Fatalf("bob snapshot = %v", snap.UserIDs)
	}

	leave(s, b)
	fa = drain(t, a)
	if len(fa) != 1 || fa[0].Type != TypeUserOffline || decodeInto[UserPayload](t, fa[0]).UserID != "bob" {
		t.Fatalf("alice should see user:offline bob, got %v", fa)
	}
}

func TestPresenceSecondDeviceGetsSnapshot(t *testing.T) {
	s := newTestServer(t)
	a := join(t, s, "alice")
	b1 := join(t, s, "bob")
	drain(t, a)
	drain(t, b1)

	b2 := join(t, s, "bob")
	if f := drain(t, a); len(f) != 0 {
		t.Fatalf("second device announced: %v", f)
	}
	if f := drain(t, b1); len(f) != 0 {
		t.Fatalf("first device got frames: %v", f)
	}
	f := drain(t, b2)
	if len(f) != 1 || f[0].Type != TypeUsersOnline {
		t.Fatalf("second device frames = %v", f)
	}
	if snap := decodeInto[UsersOnlinePayload](t, f[0]); len(snap.UserIDs) != 2 || snap.UserIDs[0] != "alice" || snap.UserIDs[1] != "bob" {
		t.Fatalf("second device snapshot = %v", snap.UserIDs)
	}

	leave(s, b1)
	if f := drain(t, a); len(f) != 0 {
		t.Fatalf("bob still has a device, got %v", f)
	}
	leave(s, b2)
	if f := ofType(drain(t, a), TypeUserOffline); len(f) != 1 {
		t.Fatalf("expected one user:offline, got %v", f)
	}
}

// runPresence starts the presence worker and its sink workers.
func runPresence(t *testing.T, s *Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Presence().Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPresenceSinksSeeOrderedTransitions(t *testing.T) {
	sink := &recordingSink{}
	s := newTestServer(t, func(o *Options) { o.Sinks = []PresenceSink{sink} })
	runPresence(t, s)

	a := join(t, s, "alice")
	leave(s, a)
	join(t, s, "alice")

	want := []Transition{{"alice", true}, {"alice", false}, {"alice", true}}
	waitFor(t, "sink transitions", func() bool { return len(sink.transitions()) >= len(want) })
	got := sink.transitions()
	if len(got) != len(want) {
		t.Fatalf("sink got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sink[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

// stuckSink blocks every call until its context expires.
type stuckSink struct{}

func (stuckSink) Name() string { return "stuck" }

func (stuckSink) OnPresence(ctx context.Context, _ Transition) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestPresenceSlowSinkDoesNotStallFanout(t *testing.T) {
	s := newTestServer(t, func(o *Options) { o.Sinks = []PresenceSink{stuckSink{}} })
	runPresence(t, s)

	watcher := join(t, s, "watcher")
	drain(t, watcher)

	start := time.Now()
	for _, u := range []string{"u1", "u2", "u3", "u4"} {
		join(t, s, u)
	}
	if took := time.Since(start); took > sinkTimeout {
		t.Fatalf("fan-out of 4 transitions took %v", took)
	}
	if got := ofType(drain(t, watcher), TypeUserOnline); len(got) != 4 {
		t.Fatalf("watcher user:online frames = %v", got)
	}
}

func TestPresenceRunDrainsQueue(t *testing.T) {
	s := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Presence().Run(ctx)
		close(done)
	}()

	c := s.ConnMgr().Add(nil)
	if err := s.Join(c, "carol"); err != nil {
		t.Fatal(err)
	}
	select {
	case raw := <-c.SendChan:
		f, _ := ParseFrameJSON(raw)
		if f.Type != TypeUsersOnline {
			t.Fatalf("got %s", f.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("presence worker did not deliver snapshot")
	}
	cancel()
	<-done
	if s.Presence().Pending() != 0 {
		t.Fatal("queue not drained")
	}
}
