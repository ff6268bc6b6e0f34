package handlers

import (
	"PPRelay/service/chat"
	"PPRelay/tools/errs"
)

type CallHandler struct{}

func NewCallHandler() chat.Handler { return &CallHandler{} }

func (h *CallHandler) Type() chat.Type { return chat.TypeCall }

func (h *CallHandler) Handle(ctx *chat.ChatContext, f *chat.Frame, conn *chat.WsConn) error {
	p, err := payload[chat.CallPayload](f)
	if err != nil {
		return err
	}
	from, err := chat.Identity(conn, p.From)
	if err != nil {
		return err
	}
	_, err = ctx.S.Calls().Call(from, p.To, p.Name, p.Avatar)
	return err
}

// CallControlHandler covers cancel-call, accept-call, decline-call and end-call.
type CallControlHandler struct {
	t  chat.Type
	op func(c *chat.Calls, from, to string) error
}

func NewCancelCallHandler() chat.Handler {
	return &CallControlHandler{t: chat.TypeCancelCall, op: (*chat.Calls).Cancel}
}

func NewAcceptCallHandler() chat.Handler {
	return &CallControlHandler{t: chat.TypeAcceptCall, op: (*chat.Calls).Accept}
}

func NewDeclineCallHandler() chat.Handler {
	return &CallControlHandler{t: chat.TypeDeclineCall, op: (*chat.Calls).Decline}
}

func NewEndCallHandler() chat.Handler {
	return &CallControlHandler{t: chat.TypeEndCall, op: (*chat.Calls).End}
}

func (h *CallControlHandler) Type() chat.Type { return h.t }

func (h *CallControlHandler) Handle(ctx *chat.ChatContext, f *chat.Frame, conn *chat.WsConn) error {
	from, to, err := peer(f, conn)
	if err != nil {
		return err
	}
	return h.op(ctx.S.Calls(), from, to)
}

// SignalHandler relays SDP offers/answers and ICE candidates verbatim.
type SignalHandler struct{}

func NewSignalHandler() chat.Handler { return &SignalHandler{} }

func (h *SignalHandler) Type() chat.Type { return chat.TypeSignal }

func (h *SignalHandler) Handle(ctx *chat.ChatContext, f *chat.Frame, conn *chat.WsConn) error {
	p, err := payload[chat.SignalPayload](f)
	if err != nil {
		return err
	}
	from, err := chat.Identity(conn, p.From)
	if err != nil {
		return err
	}
	if p.To == "" || p.Signal == nil {
		return errs.ErrMalformedPayload.WrapMsg("missing to or signal", "type", f.Type)
	}
	return ctx.S.Calls().Signal(from, p.To, p.Signal)
}
