package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"PPRelay/tools/errs"
)

func TestStatusRank(t *testing.T) {
	cases := []struct {
		from, to MessageStatus
		want     bool
	}{
		{StatusSending, StatusSent, true},
		{StatusSent, StatusDelivered, true},
		{StatusSent, StatusSeen, true},
		{StatusDelivered, StatusSeen, true},
		{StatusSeen, StatusDelivered, false},
		{StatusDelivered, StatusSent, false},
		{StatusSeen, StatusSeen, false},
		{MessageStatus("bogus"), StatusSeen, false},
		{StatusSent, MessageStatus("bogus"), false},
	}
	for _, c := range cases {
		if got := c.from.CanAdvance(c.to); got != c.want {
			t.Errorf("%s -> %s = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestOfflineReceiverFetchesSentMessage(t *testing.T) {
	ctx := context.Background()
	s := NewMemMessages()

	m, err := s.Create(ctx, "alice", "bob", NewMessage{Content: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if m.Status != StatusSent {
		t.Fatalf("status = %s", m.Status)
	}
	hist, err := s.Conversation(ctx, "bob", "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 1 || hist[0].ID != m.ID || hist[0].Status != StatusSent {
		t.Fatalf("history = %+v", hist)
	}
	if _, err := s.Create(ctx, "alice", "bob", NewMessage{}); !errors.Is(err, errs.ErrMalformedPayload) {
		t.Fatalf("empty message err = %v", err)
	}
}

func TestStatusNeverRegresses(t *testing.T) {
	ctx := context.Background()
	s := NewMemMessages()
	for i := 0; i < 3; i++ {
		if _, err := s.Create(ctx, "alice", "bob", NewMessage{Content: "x"}); err != nil {
			t.Fatal(err)
		}
	}

	if n, _ := s.MarkSeen(ctx, "bob", "alice"); n != 3 {
		t.Fatalf("seen flipped %d", n)
	}
	if n, _ := s.MarkDelivered(ctx, "bob", "alice"); n != 0 {
		t.Fatalf("delivered after seen flipped %d", n)
	}
	if senders, _ := s.MarkAllDelivered(ctx, "bob"); len(senders) != 0 {
		t.Fatalf("mark all delivered after seen = %v", senders)
	}
	hist, _ := s.Conversation(ctx, "alice", "bob")
	for _, m := range hist {
		if m.Status != StatusSeen || m.SeenAt == nil {
			t.Fatalf("message %s regressed to %s", m.ID, m.Status)
		}
	}
	if counts, _ := s.UnreadCounts(ctx, "bob"); len(counts) != 0 {
		t.Fatalf("unread = %v", counts)
	}
}

func TestMarkAllDeliveredDistinctSenders(t *testing.T) {
	ctx := context.Background()
	s := NewMemMessages()
	for _, from := range []string{"carol", "alice", "carol", "dave"} {
		if _, err := s.Create(ctx, from, "bob", NewMessage{Content: "x"}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.Create(ctx, "bob", "alice", NewMessage{Content: "outgoing"}); err != nil {
		t.Fatal(err)
	}

	senders, err := s.MarkAllDelivered(ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"alice", "carol", "dave"}
	if len(senders) != len(want) {
		t.Fatalf("senders = %v", senders)
	}
	for i := range want {
		if senders[i] != want[i] {
			t.Fatalf("senders = %v, want %v", senders, want)
		}
	}
	counts, _ := s.UnreadCounts(ctx, "bob")
	if counts["carol"] != 2 || counts["alice"] != 1 || counts["dave"] != 1 {
		t.Fatalf("unread = %v", counts)
	}
	if n, _ := s.MarkSeen(ctx, "bob", "carol"); n != 2 {
		t.Fatalf("seen carol = %d", n)
	}
	if _, ok := mustUnread(t, s, "bob")["carol"]; ok {
		t.Fatal("carol still unread")
	}
}

func mustUnread(t *testing.T, s *MemMessages, user string) map[string]int {
	t.Helper()
	counts, err := s.UnreadCounts(context.Background(), user)
	if err != nil {
		t.Fatal(err)
	}
	return counts
}

func TestEditDeleteOwnOnly(t *testing.T) {
	ctx := context.Background()
	s := NewMemMessages()
	m, _ := s.Create(ctx, "alice", "bob", NewMessage{Content: "v1"})

	if _, err := s.Edit(ctx, m.ID, "bob", "hijack"); !errors.Is(err, errs.ErrRecordNotFound) {
		t.Fatalf("foreign edit err = %v", err)
	}
	got, err := s.Edit(ctx, m.ID, "alice", "v2")
	if err != nil || got.Content != "v2" {
		t.Fatalf("edit = %+v %v", got, err)
	}
	if _, err := s.Delete(ctx, m.ID, "bob"); !errors.Is(err, errs.ErrRecordNotFound) {
		t.Fatalf("foreign delete err = %v", err)
	}
	if _, err := s.Delete(ctx, m.ID, "alice"); err != nil {
		t.Fatal(err)
	}
	if hist, _ := s.Conversation(ctx, "alice", "bob"); len(hist) != 0 {
		t.Fatalf("deleted message still listed: %+v", hist)
	}
	if _, err := s.Edit(ctx, "missing", "alice", "x"); !errors.Is(err, errs.ErrRecordNotFound) {
		t.Fatalf("missing edit err = %v", err)
	}
}

func TestLastMessagePerPeer(t *testing.T) {
	ctx := context.Background()
	s := NewMemMessages()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	_, _ = s.Create(ctx, "alice", "bob", NewMessage{Content: "first"})
	_, _ = s.Create(ctx, "carol", "alice", NewMessage{Content: "from carol"})
	_, _ = s.Create(ctx, "bob", "alice", NewMessage{Content: "reply"})
	_, _ = s.Create(ctx, "bob", "carol", NewMessage{Content: "unrelated"})

	convs, err := s.LastMessagePerPeer(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 2 {
		t.Fatalf("conversations = %+v", convs)
	}
	if convs[0].PeerID != "bob" || convs[0].Content != "reply" || convs[0].SenderID != "bob" {
		t.Fatalf("newest conversation = %+v", convs[0])
	}
	if convs[1].PeerID != "carol" || convs[1].Content != "from carol" {
		t.Fatalf("second conversation = %+v", convs[1])
	}
}
