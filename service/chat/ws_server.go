package chat

import (
	"errors"
	"net"
	"time"

	"PPRelay/tools/errs"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// HandleWS upgrades the request and runs the connection until it closes.
func (s *Server) HandleWS(c *gin.Context) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// 常见：非 WebSocket 请求/握手失败，Upgrade 已经写了响应
		s.log.Info("[WS] upgrade failed", zap.String("remote", c.ClientIP()), zap.Error(err))
		return
	}

	rec := s.conns.Add(ws)
	ws.SetReadLimit(s.opts.WS.ReadLimit)
	_ = ws.SetReadDeadline(time.Now().Add(s.opts.WS.PongWait))
	s.conns.AttachPongHandler(ws, rec.SnowID, s.opts.WS.PongWait)
	s.log.Debug("[WS] connected", zap.String("conn", rec.SnowID), zap.String("remote", rec.Remote))

	go s.writePump(rec)
	s.readLoop(rec)

	// ---- 退出阶段：注销路由、结束通话、关闭连接 ----
	user, off := s.Leave(rec)
	s.conns.Remove(rec.SnowID)
	s.log.Debug("[WS] closed", zap.String("conn", rec.SnowID), zap.String("user", user), zap.Bool("offline", off))
}

// readLoop 只读不写；出错即退出，写协程收尾
func (s *Server) readLoop(rec *WsConn) {
	ws := rec.Conn
	for {
		mt, data, rerr := ws.ReadMessage()
		if rerr != nil {
			var ne net.Error
			switch {
			case websocket.IsCloseError(rerr,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived):
				s.log.Debug("[WS] peer closed", zap.String("conn", rec.SnowID))
			case errors.As(rerr, &ne) && ne.Timeout():
				s.log.Info("[WS] read timeout", zap.String("conn", rec.SnowID), zap.String("user", rec.UserId))
			case errors.Is(rerr, websocket.ErrReadLimit):
				s.log.Warn("[WS] frame over read limit", zap.String("conn", rec.SnowID), zap.Int64("limit", s.opts.WS.ReadLimit))
			default:
				s.log.Debug("[WS] read err", zap.String("conn", rec.SnowID), zap.Error(rerr))
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		_ = s.conns.Heartbeat(rec.SnowID)
		_ = ws.SetReadDeadline(time.Now().Add(s.opts.WS.PongWait))

		if err := s.HandleFrame(rec, data); err != nil {
			s.reportDrop(rec, data, err)
		}
	}
}

// reportDrop 所有被丢弃的入站事件都在这里记一笔，连接保持打开
func (s *Server) reportDrop(rec *WsConn, data []byte, err error) {
	fields := []zap.Field{zap.String("conn", rec.SnowID), zap.String("user", rec.UserId), zap.Error(err)}
	switch errs.Code(err) {
	case errs.StaleSignalError, errs.CallBusyError:
		s.m.Drop("stale")
		s.log.Debug("[WS] stale signaling event", fields...)
	case errs.RateLimitedError:
		s.m.Drop("rate_limited")
		s.log.Debug("[WS] rate limited", fields...)
	case errs.NotJoinedError:
		s.m.Drop("not_joined")
		s.log.Warn("[WS] event before join", fields...)
	case errs.NoHandlerError:
		s.m.Drop("no_handler")
		s.log.Warn("[WS] unknown event", fields...)
	case errs.ServerInternalError:
		s.m.Drop("panic")
		s.log.Error("[WS] handler panic", fields...)
	default:
		s.m.Drop("malformed")
		// 只打印简短样本
		sample := data
		if len(sample) > 256 {
			sample = sample[:256]
		}
		s.log.Warn("[WS] malformed event", append(fields, zap.ByteString("sample", sample), zap.Int("len", len(data)))...)
	}
}
