package natsx

import (
	"context"
	"encoding/json"
	"time"

	"PPRelay/service/chat"
)

// Publisher is the part of Client the presence sink needs.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte, hdr map[string]string) error
}

// PresenceEvent 发布到 presence subject 的消息体
type PresenceEvent struct {
	Type   chat.Type `json:"type"`
	UserID string    `json:"userId"`
	Node   string    `json:"node"`
	TS     int64     `json:"ts"`
}

// PresencePublisher is a chat.PresenceSink that announces transitions on the
// bus for cross-node consumers.
type PresencePublisher struct {
	pub     Publisher
	subject string
	nodeID  string
	now     func() time.Time
}

func NewPresencePublisher(pub Publisher, subject, nodeID string) *PresencePublisher {
	return &PresencePublisher{pub: pub, subject: subject, nodeID: nodeID, now: time.Now}
}

func (p *PresencePublisher) Name() string { return "nats" }

func (p *PresencePublisher) OnPresence(ctx context.Context, t chat.Transition) error {
	ev := PresenceEvent{Type: chat.TypeUserOffline, UserID: t.UserID, Node: p.nodeID, TS: p.now().UnixMilli()}
	if t.Online {
		ev.Type = chat.TypeUserOnline
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.pub.Publish(ctx, p.subject, data, map[string]string{"X-Node": p.nodeID})
}
