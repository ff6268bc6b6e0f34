package chat

import "testing"

func TestRelayNewReachesEveryDeviceOnce(t *testing.T) {
	s := newTestServer(t)
	a1 := join(t, s, "alice")
	a2 := join(t, s, "alice")
	b := join(t, s, "bob")
	c := join(t, s, "carol")
	for _, x := range []*WsConn{a1, a2, b, c} {
		drain(t, x)
	}

	msg := map[string]any{"id": "m1", "senderId": "alice", "receiverId": "bob", "content": "hi"}
	if n := s.Relay().RelayNew("alice", "bob", msg); n != 3 {
		t.Fatalf("delivered to %d connections, want 3", n)
	}
	for name, x := range map[string]*WsConn{"a1": a1, "a2": a2, "b": b} {
		got := ofType(drain(t, x), TypeNewMessage)
		if len(got) != 1 {
			t.Fatalf("%s got %d new-message", name, len(got))
		}
		body := decodeInto[map[string]any](t, got[0])
		if body["id"] != "m1" || body["content"] != "hi" {
			t.Fatalf("%s body = %v", name, body)
		}
	}
	if f := drain(t, c); len(f) != 0 {
		t.Fatalf("bystander got %v", f)
	}
}

func TestRelaySelfMessageNotDuplicated(t *testing.T) {
	s := newTestServer(t)
	a := join(t, s, "alice")
	drain(t, a)
	s.Relay().RelayNew("alice", "alice", map[string]any{"id": "m"})
	if got := ofType(drain(t, a), TypeNewMessage); len(got) != 1 {
		t.Fatalf("self message delivered %d times", len(got))
	}
}

func TestRelayEditDeleteReceiverOnly(t *testing.T) {
	s := newTestServer(t)
	a := join(t, s, "alice")
	b := join(t, s, "bob")
	drain(t, a)
	drain(t, b)

	s.Relay().RelayEdited("m1", "edited", "alice", "bob")
	s.Relay().RelayDeleted("m2", "alice", "bob")

	if f := drain(t, a); len(f) != 0 {
		t.Fatalf("sender got %v", f)
	}
	fb := drain(t, b)
	if len(fb) != 2 || fb[0].Type != TypeMsgEdited || fb[1].Type != TypeMsgDeleted {
		t.Fatalf("receiver frames = %v", fb)
	}
	if e := decodeInto[EditedPayload](t, fb[0]); e.ID != "m1" || e.Content != "edited" || e.From != "alice" {
		t.Fatalf("edited payload = %+v", e)
	}
}

func TestRelayToOfflineIsSilent(t *testing.T) {
	s := newTestServer(t)
	a := join(t, s, "alice")
	drain(t, a)
	if n := s.Relay().RelayEdited("m1", "x", "alice", "ghost"); n != 0 {
		t.Fatalf("offline delivery count = %d", n)
	}
	if f := drain(t, a); len(f) != 0 {
		t.Fatalf("sender got %v", f)
	}
}
