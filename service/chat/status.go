package chat

import (
	"sync"

	"PPRelay/tools/errs"
)

// Ack statuses relayed to the message sender.
const (
	AckDelivered = "delivered"
	AckSeen      = "seen"
)

// Status relays read receipts and typing indicators. Receipts are opaque here:
// ordering of statuses is enforced where they are persisted.
type Status struct {
	emit *Emitter

	mu     sync.Mutex
	typing map[string]map[string]struct{} // from -> peers currently shown "typing"
}

func NewStatus(emit *Emitter) *Status {
	return &Status{emit: emit, typing: make(map[string]map[string]struct{})}
}

func (s *Status) Typing(from, to string) int {
	s.mu.Lock()
	peers := s.typing[from]
	if peers == nil {
		peers = make(map[string]struct{})
		s.typing[from] = peers
	}
	peers[to] = struct{}{}
	s.mu.Unlock()
	return s.emit.ToUser(to, TypeTyping, FromPayload{From: from})
}

func (s *Status) StopTyping(from, to string) int {
	s.forget(from, to)
	return s.emit.ToUser(to, TypeStopTyping, FromPayload{From: from})
}

// Ack relays message:status-update{from,status} to `to`, the party whose
// messages were acknowledged.
func (s *Status) Ack(status, from, to string) (int, error) {
	switch status {
	case AckDelivered, AckSeen:
	default:
		return 0, errs.ErrMalformedPayload.WrapMsg("unknown ack status", "status", status)
	}
	return s.emit.ToUser(to, TypeStatusUpdate, StatusUpdatePayload{From: from, Status: status}), nil
}

// ClearTyping sends stop-typing to every peer `from` was typing to. Called
// when `from` goes offline.
func (s *Status) ClearTyping(from string) int {
	s.mu.Lock()
	peers := s.typing[from]
	delete(s.typing, from)
	s.mu.Unlock()

	n := 0
	for to := range peers {
		n += s.emit.ToUser(to, TypeStopTyping, FromPayload{From: from})
	}
	return n
}

// TypingTo reports the peers `from` is currently marked as typing to.
func (s *Status) TypingTo(from string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.typing[from]))
	for to := range s.typing[from] {
		out = append(out, to)
	}
	return out
}

func (s *Status) forget(from, to string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if peers := s.typing[from]; peers != nil {
		delete(peers, to)
		if len(peers) == 0 {
			delete(s.typing, from)
		}
	}
}
