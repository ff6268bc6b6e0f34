package chat

// Handler handles one inbound event type. Handlers are stateless; everything
// they touch hangs off the ChatContext.
type Handler interface {
	Type() Type
	Handle(*ChatContext, *Frame, *WsConn) error
}

// PreJoin marks handlers that accept frames from connections that have not
// joined yet.
type PreJoin interface {
	AllowBeforeJoin() bool
}

type ChatContext struct {
	S *Server
}
