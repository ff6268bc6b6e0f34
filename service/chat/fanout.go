package chat

import (
	"PPRelay/service/metrics"

	"go.uber.org/zap"
)

// Sender delivers an encoded frame to one connection without blocking.
// It reports false when the frame was not queued.
type Sender interface {
	SendOne(connID string, data []byte) bool
}

// Emitter 所有出站事件都经过这里：user -> Registry.Route -> 每条连接非阻塞入队。
type Emitter struct {
	reg *Registry
	out Sender
	m   *metrics.Metrics
	log *zap.Logger
}

func NewEmitter(reg *Registry, out Sender, m *metrics.Metrics, log *zap.Logger) *Emitter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Emitter{reg: reg, out: out, m: m, log: log}
}

// ToUser sends to every connection of userID and returns how many accepted it.
// An offline target is not an error.
func (e *Emitter) ToUser(userID string, t Type, payload any) int {
	conns := e.reg.Route(userID)
	if len(conns) == 0 {
		e.m.Drop("offline")
		return 0
	}
	return e.ToConns(conns, t, payload)
}

// ToUsers sends to the union of the users' connections, each connection once.
func (e *Emitter) ToUsers(userIDs []string, t Type, payload any) int {
	var conns []string
	seen := make(map[string]struct{})
	for _, u := range userIDs {
		for _, id := range e.reg.Route(u) {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			conns = append(conns, id)
		}
	}
	if len(conns) == 0 {
		e.m.Drop("offline")
		return 0
	}
	return e.ToConns(conns, t, payload)
}

func (e *Emitter) ToConns(conns []string, t Type, payload any) int {
	if len(conns) == 0 {
		return 0
	}
	data, err := EncodeFrame(t, payload)
	if err != nil {
		e.log.Error("[emit] encode failed", zap.String("event", string(t)), zap.Error(err))
		return 0
	}
	n := 0
	for _, id := range conns {
		if e.out.SendOne(id, data) {
			n++
		}
	}
	e.m.Out(string(t), n)
	return n
}
