package handlers

import "PPRelay/service/chat"

// TypingHandler serves both typing and stop-typing.
type TypingHandler struct{ t chat.Type }

func NewTypingHandler() chat.Handler     { return &TypingHandler{t: chat.TypeTyping} }
func NewStopTypingHandler() chat.Handler { return &TypingHandler{t: chat.TypeStopTyping} }

func (h *TypingHandler) Type() chat.Type { return h.t }

func (h *TypingHandler) Handle(ctx *chat.ChatContext, f *chat.Frame, conn *chat.WsConn) error {
	from, to, err := peer(f, conn)
	if err != nil {
		return err
	}
	if h.t == chat.TypeTyping {
		ctx.S.Status().Typing(from, to)
	} else {
		ctx.S.Status().StopTyping(from, to)
	}
	return nil
}

// AckHandler relays message:delivered / message:seen to the original sender.
type AckHandler struct {
	t      chat.Type
	status string
}

func NewDeliveredHandler() chat.Handler {
	return &AckHandler{t: chat.TypeDelivered, status: chat.AckDelivered}
}

func NewSeenHandler() chat.Handler {
	return &AckHandler{t: chat.TypeSeen, status: chat.AckSeen}
}

func (h *AckHandler) Type() chat.Type { return h.t }

func (h *AckHandler) Handle(ctx *chat.ChatContext, f *chat.Frame, conn *chat.WsConn) error {
	from, to, err := peer(f, conn)
	if err != nil {
		return err
	}
	_, err = ctx.S.Status().Ack(h.status, from, to)
	return err
}
