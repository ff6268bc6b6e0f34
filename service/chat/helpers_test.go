package chat

import (
	"encoding/json"
	"testing"

	"PPRelay/config"
)

func newTestServer(t *testing.T, mut ...func(*Options)) *Server {
	t.Helper()
	ws := config.Default().WS
	ws.RatePerSec = 0
	opts := Options{NodeID: "test", WS: ws}
	for _, m := range mut {
		m(&opts)
	}
	return NewServer(opts)
}

// join opens a socketless connection for user and flushes presence.
func join(t *testing.T, s *Server, user string) *WsConn {
	t.Helper()
	c := s.ConnMgr().Add(nil)
	if err := s.Join(c, user); err != nil {
		t.Fatalf("join %s: %v", user, err)
	}
	s.Presence().Flush()
	return c
}

func leave(s *Server, c *WsConn) {
	s.Leave(c)
	s.ConnMgr().Remove(c.SnowID)
	s.Presence().Flush()
}

func drain(t *testing.T, c *WsConn) []Frame {
	t.Helper()
	var out []Frame
	for {
		select {
		case raw := <-c.SendChan:
			f, err := ParseFrameJSON(raw)
			if err != nil {
				t.Fatalf("bad outbound frame %q: %v", raw, err)
			}
			out = append(out, *f)
		default:
			return out
		}
	}
}

func ofType(frames []Frame, t Type) []Frame {
	var out []Frame
	for _, f := range frames {
		if f.Type == t {
			out = append(out, f)
		}
	}
	return out
}

func decodeInto[T any](t *testing.T, f Frame) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(f.Payload, &v); err != nil {
		t.Fatalf("decode %s payload: %v", f.Type, err)
	}
	return v
}
