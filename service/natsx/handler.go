package natsx

import (
	"context"
	"time"

	"PPRelay/tools/safe"

	"go.uber.org/zap"
)

// Message 统一消息对象
type Message struct {
	Subject string
	Data    []byte
	Header  map[string]string
}

// Handler 业务处理函数
type Handler func(ctx context.Context, msg Message) error

// Middleware 中间件（日志、幂等等）
type Middleware func(Handler) Handler

// Chain 组合中间件，第一个在最外层
func Chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// Logging 记录处理失败与 panic，不向上抛
func Logging(log *zap.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, msg Message) error {
			start := time.Now()
			err := safe.Call(func() error { return next(ctx, msg) })
			if err != nil {
				log.Warn("[nats] handle failed", zap.String("subject", msg.Subject),
					zap.Duration("took", time.Since(start)), zap.Error(err))
			}
			return err
		}
	}
}
