package chat

import (
	"PPRelay/tools/errs"
	"PPRelay/tools/safe"

	"go.uber.org/zap"
)

type Dispatcher struct {
	handlers map[Type]Handler
	log      *zap.Logger
}

func NewDispatcher(log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{handlers: make(map[Type]Handler), log: log}
}

// Register must happen before the server starts accepting connections.
func (d *Dispatcher) Register(h Handler) { d.handlers[h.Type()] = h }

func (d *Dispatcher) Dispatch(ctx *ChatContext, f *Frame, conn *WsConn) error {
	h := d.GetHandler(f.Type)
	if h == nil {
		return errs.ErrNoHandler.WrapMsg("", "type", f.Type)
	}
	if !conn.Authorized {
		if p, ok := h.(PreJoin); !ok || !p.AllowBeforeJoin() {
			return errs.ErrNotJoined.WrapMsg("", "type", f.Type, "conn", conn.SnowID)
		}
	}
	ctx.S.metrics().In(string(f.Type))
	// 单个事件 panic 不影响连接
	return safe.Call(func() error { return h.Handle(ctx, f, conn) })
}

func (d *Dispatcher) GetHandler(t Type) Handler {
	h, ok := d.handlers[t]
	if !ok {
		d.log.Debug("no handler", zap.String("type", string(t)))
		return nil
	}
	return h
}

func (d *Dispatcher) Types() []Type {
	out := make([]Type, 0, len(d.handlers))
	for t := range d.handlers {
		out = append(out, t)
	}
	return out
}
