package handlers

import (
	"PPRelay/service/chat"
	"PPRelay/tools/decode"
	"PPRelay/tools/errs"
)

func payload[T any](f *chat.Frame) (*T, error) {
	p, err := decode.Payload[T](f.Payload)
	if err != nil {
		return nil, errs.ErrMalformedPayload.WrapMsg(err.Error(), "type", f.Type)
	}
	return p, nil
}

// peer decodes {to, from} and resolves the sender from the connection.
func peer(f *chat.Frame, conn *chat.WsConn) (from, to string, err error) {
	p, err := payload[chat.PeerPayload](f)
	if err != nil {
		return "", "", err
	}
	if from, err = chat.Identity(conn, p.From); err != nil {
		return "", "", err
	}
	if p.To == "" {
		return "", "", errs.ErrMalformedPayload.WrapMsg("missing to", "type", f.Type)
	}
	return from, p.To, nil
}
