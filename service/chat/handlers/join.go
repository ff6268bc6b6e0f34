package handlers

import (
	"strings"

	"PPRelay/service/chat"
	"PPRelay/tools/decode"
	"PPRelay/tools/errs"
)

// JoinHandler binds the connection to a user. The payload is the bare user id
// string or {"userId": "..."}.
type JoinHandler struct{}

func NewJoinHandler() chat.Handler { return &JoinHandler{} }

func (h *JoinHandler) Type() chat.Type { return chat.TypeJoin }
func (h *JoinHandler) AllowBeforeJoin() bool { return true }

func (h *JoinHandler) Handle(ctx *chat.ChatContext, f *chat.Frame, conn *chat.WsConn) error {
	user, err := decode.String(f.Payload, "userId")
	if err != nil {
		return errs.ErrMalformedPayload.WrapMsg(err.Error(), "type", f.Type)
	}
	user = strings.TrimSpace(user)
	if user == "" {
		return errs.ErrMalformedPayload.WrapMsg("empty user id", "type", f.Type)
	}
	return ctx.S.Join(conn, user)
}
