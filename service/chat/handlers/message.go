package handlers

import (
	"PPRelay/service/chat"
	"PPRelay/tools/errs"
)

// SendMessageHandler relays a message the client has already persisted
// through the collaborator. The message body is forwarded untouched apart from
// filling in missing sender/receiver ids.
type SendMessageHandler struct{}

func NewSendMessageHandler() chat.Handler { return &SendMessageHandler{} }

func (h *SendMessageHandler) Type() chat.Type { return chat.TypeSendMessage }

func (h *SendMessageHandler) Handle(ctx *chat.ChatContext, f *chat.Frame, conn *chat.WsConn) error {
	p, err := payload[chat.SendMessagePayload](f)
	if err != nil {
		return err
	}
	if len(p.Message) == 0 {
		return errs.ErrMalformedPayload.WrapMsg("missing message", "type", f.Type)
	}
	claimed, _ := p.Message["senderId"].(string)
	sender, err := chat.Identity(conn, claimed)
	if err != nil {
		return err
	}
	receiver := p.ReceiverID
	inner, _ := p.Message["receiverId"].(string)
	switch {
	case receiver == "":
		receiver = inner
	case inner != "" && inner != receiver:
		return errs.ErrMalformedPayload.WrapMsg("receiver mismatch", "receiverId", receiver, "message.receiverId", inner)
	}
	if receiver == "" {
		return errs.ErrMalformedPayload.WrapMsg("missing receiverId", "type", f.Type)
	}
	p.Message["senderId"] = sender
	p.Message["receiverId"] = receiver
	ctx.S.Relay().RelayNew(sender, receiver, p.Message)
	return nil
}

type EditMessageHandler struct{}

func NewEditMessageHandler() chat.Handler { return &EditMessageHandler{} }

func (h *EditMessageHandler) Type() chat.Type { return chat.TypeEditMessage }

func (h *EditMessageHandler) Handle(ctx *chat.ChatContext, f *chat.Frame, conn *chat.WsConn) error {
	p, err := payload[chat.EditMessagePayload](f)
	if err != nil {
		return err
	}
	if p.ID == "" || p.ReceiverID == "" {
		return errs.ErrMalformedPayload.WrapMsg("missing id or receiverId", "type", f.Type)
	}
	from, err := chat.Identity(conn, "")
	if err != nil {
		return err
	}
	ctx.S.Relay().RelayEdited(p.ID, p.Content, from, p.ReceiverID)
	return nil
}

type DeleteMessageHandler struct{}

func NewDeleteMessageHandler() chat.Handler { return &DeleteMessageHandler{} }

func (h *DeleteMessageHandler) Type() chat.Type { return chat.TypeDeleteMessage }

func (h *DeleteMessageHandler) Handle(ctx *chat.ChatContext, f *chat.Frame, conn *chat.WsConn) error {
	p, err := payload[chat.DeleteMessagePayload](f)
	if err != nil {
		return err
	}
	if p.ID == "" || p.ReceiverID == "" {
		return errs.ErrMalformedPayload.WrapMsg("missing id or receiverId", "type", f.Type)
	}
	from, err := chat.Identity(conn, "")
	if err != nil {
		return err
	}
	ctx.S.Relay().RelayDeleted(p.ID, from, p.ReceiverID)
	return nil
}
