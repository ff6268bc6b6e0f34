package chat

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Type is the wire name of an event. Inbound and outbound share the namespace.
type Type string

// inbound
const (
	TypeJoin          Type = "join"
	TypeSendMessage   Type = "send-message"
	TypeEditMessage   Type = "edit-message"
	TypeDeleteMessage Type = "delete-message"
	TypeTyping        Type = "typing"
	TypeStopTyping    Type = "stop-typing"
	TypeDelivered     Type = "message:delivered"
	TypeSeen          Type = "message:seen"
	TypeCall          Type = "call"
	TypeCancelCall    Type = "cancel-call"
	TypeAcceptCall    Type = "accept-call"
	TypeDeclineCall   Type = "decline-call"
	TypeEndCall       Type = "end-call"
	TypeSignal        Type = "signal"
)

// outbound
const (
	TypeNewMessage    Type = "new-message"
	TypeMsgEdited     Type = "message:edited"
	TypeMsgDeleted    Type = "message:deleted"
	TypeStatusUpdate  Type = "message:status-update"
	TypeUsersOnline   Type = "users:online"
	TypeUserOnline    Type = "user:online"
	TypeUserOffline   Type = "user:offline"
	TypeIncomingCall  Type = "incoming-call"
	TypeCallCancelled Type = "call-cancelled"
	TypeCallAccepted  Type = "call-accepted"
	TypeCallDeclined  Type = "call-declined"
	TypeCallEnded     Type = "call-ended"
)

// Frame 线上格式：{"type": "...", "payload": ...}
type Frame struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func ParseFrameJSON(raw []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(bytes.TrimSpace(raw), &f); err != nil {
		return nil, fmt.Errorf("unmarshal frame failed: %w", err)
	}
	if f.Type == "" {
		return nil, fmt.Errorf("frame without type")
	}
	return &f, nil
}

func EncodeFrame(t Type, payload any) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", t, err)
		}
		raw = b
	}
	return json.Marshal(Frame{Type: t, Payload: raw})
}

// ---- inbound payloads ----

type SendMessagePayload struct {
	ReceiverID string         `json:"receiverId"`
	Message    map[string]any `json:"message"`
}

type EditMessagePayload struct {
	ID         string `json:"id"`
	Content    string `json:"content"`
	ReceiverID string `json:"receiverId"`
}

type DeleteMessagePayload struct {
	ID         string `json:"id"`
	ReceiverID string `json:"receiverId"`
}

// PeerPayload covers typing, acks and the call control events.
type PeerPayload struct {
	To   string `json:"to"`
	From string `json:"from"`
}

type CallPayload struct {
	To     string `json:"to"`
	From   string `json:"from"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

type SignalPayload struct {
	To     string `json:"to"`
	From   string `json:"from"`
	Signal any    `json:"signal"`
}

// ---- outbound payloads ----

type FromPayload struct {
	From string `json:"from"`
}

type UserPayload struct {
	UserID string `json:"userId"`
}

type UsersOnlinePayload struct {
	UserIDs []string `json:"userIds"`
}

type EditedPayload struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	From    string `json:"from"`
}

type DeletedPayload struct {
	ID   string `json:"id"`
	From string `json:"from"`
}

type StatusUpdatePayload struct {
	From   string `json:"from"`
	Status string `json:"status"`
}

type IncomingCallPayload struct {
	From   string `json:"from"`
	Name   string `json:"name,omitempty"`
	Avatar string `json:"avatar,omitempty"`
	CallID string `json:"callId"`
}

type SignalOutPayload struct {
	From   string `json:"from"`
	Signal any    `json:"signal"`
}
