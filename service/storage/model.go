package storage

import (
	"context"
	"time"
)

// MessageStatus 消息状态只会前进：sending < sent < delivered < seen
type MessageStatus string

const (
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusSeen      MessageStatus = "seen"
)

func (s MessageStatus) Rank() int {
	switch s {
	case StatusSending:
		return 0
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusSeen:
		return 3
	}
	return -1
}

// CanAdvance reports whether moving from s to next is a forward step.
func (s MessageStatus) CanAdvance(next MessageStatus) bool {
	return next.Rank() > s.Rank() && s.Rank() >= 0
}

type Message struct {
	ID           string        `json:"id"`
	SenderID     string        `json:"senderId"`
	ReceiverID   string        `json:"receiverId"`
	Content      string        `json:"content"`
	ImageURL     string        `json:"imageUrl,omitempty"`
	AudioURL     string        `json:"audioUrl,omitempty"`
	DocumentURL  string        `json:"documentUrl,omitempty"`
	DocumentName string        `json:"documentName,omitempty"`
	VideoURL     string        `json:"videoUrl,omitempty"`
	Status       MessageStatus `json:"status"`
	CreatedAt    time.Time     `json:"createdAt"`
	DeliveredAt  *time.Time    `json:"deliveredAt,omitempty"`
	SeenAt       *time.Time    `json:"seenAt,omitempty"`
}

// NewMessage is what a sender submits.
type NewMessage struct {
	Content      string `json:"content"`
	ImageURL     string `json:"imageUrl,omitempty"`
	AudioURL     string `json:"audioUrl,omitempty"`
	DocumentURL  string `json:"documentUrl,omitempty"`
	DocumentName string `json:"documentName,omitempty"`
	VideoURL     string `json:"videoUrl,omitempty"`
}

func (n NewMessage) Empty() bool {
	return n.Content == "" && n.ImageURL == "" && n.AudioURL == "" &&
		n.DocumentURL == "" && n.VideoURL == ""
}

// Conversation is the newest message exchanged with one peer.
type Conversation struct {
	PeerID      string        `json:"otherUserId"`
	Content     string        `json:"content"`
	SenderID    string        `json:"senderId"`
	CreatedAt   time.Time     `json:"createdAt"`
	Status      MessageStatus `json:"status"`
	ImageURL    string        `json:"imageUrl,omitempty"`
	AudioURL    string        `json:"audioUrl,omitempty"`
	VideoURL    string        `json:"videoUrl,omitempty"`
	DocumentURL string        `json:"documentUrl,omitempty"`
}

// MessageStore persists direct messages. Edit and Delete only touch the
// sender's own rows and return errs.ErrRecordNotFound otherwise. Status
// updates never move a row backwards.
type MessageStore interface {
	Create(ctx context.Context, senderID, receiverID string, m NewMessage) (Message, error)
	Conversation(ctx context.Context, userID, peerID string) ([]Message, error)
	Edit(ctx context.Context, id, senderID, content string) (Message, error)
	Delete(ctx context.Context, id, senderID string) (Message, error)
	MarkDelivered(ctx context.Context, receiverID, senderID string) (int, error)
	MarkAllDelivered(ctx context.Context, receiverID string) ([]string, error)
	MarkSeen(ctx context.Context, receiverID, senderID string) (int, error)
	LastMessagePerPeer(ctx context.Context, userID string) ([]Conversation, error)
	UnreadCounts(ctx context.Context, userID string) (map[string]int, error)
	Close()
}

func peerOf(m *Message, user string) string {
	if m.SenderID == user {
		return m.ReceiverID
	}
	return m.SenderID
}
