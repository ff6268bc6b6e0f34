package chat

import (
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// 首个 ping 延后，避免刚连上即写超时
const firstPingDelay = 5 * time.Second

// writePump is the only goroutine that writes to rec.Conn. It drains the send
// queue and keeps the peer alive with pings.
func (s *Server) writePump(rec *WsConn) {
	writeWait := s.opts.WS.WriteWait
	ticker := time.NewTicker(s.opts.WS.PingInterval)
	first := time.NewTimer(firstPingDelay)
	defer func() {
		ticker.Stop()
		first.Stop()
		rec.Close()
		_ = rec.Conn.Close()
	}()

	ping := func() bool {
		if err := rec.Conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
			s.log.Debug("[WS] ping err", zap.String("conn", rec.SnowID), zap.Error(err))
			return false
		}
		return true
	}

	for {
		select {
		case <-rec.Done():
			// 统一由写协程发 Close
			_ = rec.Conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return

		case payload := <-rec.SendChan:
			_ = rec.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := rec.Conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				s.log.Debug("[WS] write payload err", zap.String("conn", rec.SnowID), zap.Error(err))
				return
			}

		case <-first.C:
			if !ping() {
				return
			}

		case <-ticker.C:
			if !ping() {
				return
			}
		}
	}
}
