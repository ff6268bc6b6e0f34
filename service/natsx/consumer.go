package natsx

import (
	"context"

	"PPRelay/service/chat"
	"PPRelay/tools/decode"
	"PPRelay/tools/errs"

	"go.uber.org/zap"
)

// ingress 消息体
type (
	ingressNew struct {
		SenderID   string         `json:"senderId"`
		ReceiverID string         `json:"receiverId"`
		Message    map[string]any `json:"message"`
	}
	ingressEdited struct {
		ID         string `json:"id"`
		Content    string `json:"content"`
		From       string `json:"from"`
		ReceiverID string `json:"receiverId"`
	}
	ingressDeleted struct {
		ID         string `json:"id"`
		From       string `json:"from"`
		ReceiverID string `json:"receiverId"`
	}
	ingressStatus struct {
		From   string `json:"from"`
		To     string `json:"to"`
		Status string `json:"status"`
	}
)

// Ingress feeds envelopes published by an out-of-process collaborator into
// the relay. The collaborator has already persisted the change, so nothing
// here checks ownership.
type Ingress struct {
	s   *chat.Server
	log *zap.Logger
}

func NewIngress(s *chat.Server, log *zap.Logger) *Ingress {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ingress{s: s, log: log}
}

// Handle is the natsx.Handler for the ingress subject.
func (in *Ingress) Handle(_ context.Context, msg Message) error {
	f, err := chat.ParseFrameJSON(msg.Data)
	if err != nil {
		return errs.ErrMalformedPayload.WrapMsg(err.Error(), "subject", msg.Subject)
	}
	n := 0
	switch f.Type {
	case chat.TypeNewMessage:
		p, err := decode.Payload[ingressNew](f.Payload)
		if err != nil || p.SenderID == "" || p.ReceiverID == "" || p.Message == nil {
			return errs.ErrMalformedPayload.WrapMsg("bad new-message envelope", "err", err)
		}
		p.Message["senderId"] = p.SenderID
		p.Message["receiverId"] = p.ReceiverID
		n = in.s.Relay().RelayNew(p.SenderID, p.ReceiverID, p.Message)
	case chat.TypeMsgEdited:
		p, err := decode.Payload[ingressEdited](f.Payload)
		if err != nil || p.ID == "" || p.ReceiverID == "" {
			return errs.ErrMalformedPayload.WrapMsg("bad message:edited envelope", "err", err)
		}
		n = in.s.Relay().RelayEdited(p.ID, p.Content, p.From, p.ReceiverID)
	case chat.TypeMsgDeleted:
		p, err := decode.Payload[ingressDeleted](f.Payload)
		if err != nil || p.ID == "" || p.ReceiverID == "" {
			return errs.ErrMalformedPayload.WrapMsg("bad message:deleted envelope", "err", err)
		}
		n = in.s.Relay().RelayDeleted(p.ID, p.From, p.ReceiverID)
	case chat.TypeStatusUpdate:
		p, err := decode.Payload[ingressStatus](f.Payload)
		if err != nil || p.From == "" || p.To == "" {
			return errs.ErrMalformedPayload.WrapMsg("bad status envelope", "err", err)
		}
		if n, err = in.s.Status().Ack(p.Status, p.From, p.To); err != nil {
			return err
		}
	default:
		return errs.ErrNoHandler.WrapMsg("", "type", f.Type, "subject", msg.Subject)
	}
	in.log.Debug("[nats] ingress relayed", zap.String("type", string(f.Type)), zap.Int("conns", n))
	return nil
}
