package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"PPRelay/tools/errs"

	"github.com/google/uuid"
)

// MemMessages keeps messages in process memory. Used when no database is
// configured and in tests.
type MemMessages struct {
	mu   sync.RWMutex
	byID map[string]*Message
	last time.Time
	now  func() time.Time
}

func NewMemMessages() *MemMessages {
	return &MemMessages{byID: make(map[string]*Message), now: time.Now}
}

func (s *MemMessages) Create(_ context.Context, senderID, receiverID string, in NewMessage) (Message, error) {
	if senderID == "" || receiverID == "" || in.Empty() {
		return Message{}, errs.ErrMalformedPayload.WrapMsg("incomplete message", "sender", senderID, "receiver", receiverID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m := &Message{
		ID:           uuid.NewString(),
		SenderID:     senderID,
		ReceiverID:   receiverID,
		Content:      in.Content,
		ImageURL:     in.ImageURL,
		AudioURL:     in.AudioURL,
		DocumentURL:  in.DocumentURL,
		DocumentName: in.DocumentName,
		VideoURL:     in.VideoURL,
		Status:       StatusSent,
		CreatedAt:    s.tick(),
	}
	s.byID[m.ID] = m
	return *m, nil
}

// tick returns a strictly increasing timestamp so ordering is stable even
// when two messages land in the same clock reading. Caller holds mu.
func (s *MemMessages) tick() time.Time {
	t := s.now()
	if !t.After(s.last) {
		t = s.last.Add(time.Microsecond)
	}
	s.last = t
	return t
}

func (s *MemMessages) Conversation(_ context.Context, userID, peerID string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Message
	for _, m := range s.byID {
		if (m.SenderID == userID && m.ReceiverID == peerID) || (m.SenderID == peerID && m.ReceiverID == userID) {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemMessages) Edit(_ context.Context, id, senderID, content string) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[id]
	if !ok || m.SenderID != senderID {
		return Message{}, errs.ErrRecordNotFound.WrapMsg("", "id", id, "sender", senderID)
	}
	m.Content = content
	return *m, nil
}

func (s *MemMessages) Delete(_ context.Context, id, senderID string) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[id]
	if !ok || m.SenderID != senderID {
		return Message{}, errs.ErrRecordNotFound.WrapMsg("", "id", id, "sender", senderID)
	}
	delete(s.byID, id)
	return *m, nil
}

// advance moves every matching row to next when that is a forward step and
// returns the rows it changed. Caller holds mu.
func (s *MemMessages) advance(match func(*Message) bool, next MessageStatus) []*Message {
	now := s.now()
	var changed []*Message
	for _, m := range s.byID {
		if !match(m) || !m.Status.CanAdvance(next) {
			continue
		}
		m.Status = next
		t := now
		switch next {
		case StatusDelivered:
			m.DeliveredAt = &t
		case StatusSeen:
			m.SeenAt = &t
		}
		changed = append(changed, m)
	}
	return changed
}

func (s *MemMessages) MarkDelivered(_ context.Context, receiverID, senderID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.advance(func(m *Message) bool {
		return m.ReceiverID == receiverID && m.SenderID == senderID && m.Status == StatusSent
	}, StatusDelivered)), nil
}

func (s *MemMessages) MarkAllDelivered(_ context.Context, receiverID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := s.advance(func(m *Message) bool {
		return m.ReceiverID == receiverID && m.Status == StatusSent
	}, StatusDelivered)
	seen := make(map[string]struct{})
	var senders []string
	for _, m := range changed {
		if _, dup := seen[m.SenderID]; dup {
			continue
		}
		seen[m.SenderID] = struct{}{}
		senders = append(senders, m.SenderID)
	}
	sort.Strings(senders)
	return senders, nil
}

func (s *MemMessages) MarkSeen(_ context.Context, receiverID, senderID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.advance(func(m *Message) bool {
		return m.ReceiverID == receiverID && m.SenderID == senderID &&
			(m.Status == StatusSent || m.Status == StatusDelivered)
	}, StatusSeen)), nil
}

func (s *MemMessages) LastMessagePerPeer(_ context.Context, userID string) ([]Conversation, error) {
	s.mu.RLock()
	latest := make(map[string]*Message)
	for _, m := range s.byID {
		if m.SenderID != userID && m.ReceiverID != userID {
			continue
		}
		p := peerOf(m, userID)
		if cur := latest[p]; cur == nil || m.CreatedAt.After(cur.CreatedAt) {
			latest[p] = m
		}
	}
	out := make([]Conversation, 0, len(latest))
	for p, m := range latest {
		out = append(out, Conversation{
			PeerID:      p,
			Content:     m.Content,
			SenderID:    m.SenderID,
			CreatedAt:   m.CreatedAt,
			Status:      m.Status,
			ImageURL:    m.ImageURL,
			AudioURL:    m.AudioURL,
			VideoURL:    m.VideoURL,
			DocumentURL: m.DocumentURL,
		})
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemMessages) UnreadCounts(_ context.Context, userID string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[string]int)
	for _, m := range s.byID {
		if m.ReceiverID == userID && m.Status != StatusSeen {
			counts[m.SenderID]++
		}
	}
	return counts, nil
}

func (s *MemMessages) Close() {}
