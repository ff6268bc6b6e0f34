package handlers

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"PPRelay/config"
	"PPRelay/service/chat"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

func startWS(t *testing.T) (*chat.Server, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ws := config.Default().WS
	ws.RatePerSec = 0
	s := chat.NewServer(chat.Options{NodeID: "ws-test", WS: ws})
	RegisterAll(s.Disp())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()

	r := gin.New()
	r.GET("/ws", s.HandleWS)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		cancel()
		<-done
		srv.Close()
	})
	return s, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func write(t *testing.T, c *websocket.Conn, typ chat.Type, payload any) {
	t.Helper()
	raw, err := chat.EncodeFrame(typ, payload)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

// await reads until a frame of type want arrives, skipping everything else.
func await(t *testing.T, c *websocket.Conn, want chat.Type) chat.Frame {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		_ = c.SetReadDeadline(deadline)
		_, raw, err := c.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", want, err)
		}
		f, err := chat.ParseFrameJSON(raw)
		if err != nil {
			t.Fatalf("bad frame %q: %v", raw, err)
		}
		if f.Type == want {
			return *f
		}
	}
}

func TestWebSocketEndToEnd(t *testing.T) {
	s, url := startWS(t)

	alice := dial(t, url)
	write(t, alice, chat.TypeJoin, "alice")
	await(t, alice, chat.TypeUsersOnline)

	bob := dial(t, url)
	write(t, bob, chat.TypeJoin, map[string]string{"userId": "bob"})
	snap := await(t, bob, chat.TypeUsersOnline)
	var online chat.UsersOnlinePayload
	if err := json.Unmarshal(snap.Payload, &online); err != nil {
		t.Fatal(err)
	}
	if len(online.UserIDs) != 2 {
		t.Fatalf("bob snapshot = %v", online.UserIDs)
	}
	await(t, alice, chat.TypeUserOnline)

	// 非法帧不断开连接
	if err := alice.WriteMessage(websocket.TextMessage, []byte("{broken")); err != nil {
		t.Fatal(err)
	}
	write(t, alice, chat.TypeSendMessage, chat.SendMessagePayload{
		ReceiverID: "bob",
		Message:    map[string]any{"id": "m1", "content": "hello"},
	})
	f := await(t, bob, chat.TypeNewMessage)
	var msg map[string]any
	if err := json.Unmarshal(f.Payload, &msg); err != nil {
		t.Fatal(err)
	}
	if msg["senderId"] != "alice" || msg["content"] != "hello" {
		t.Fatalf("message = %v", msg)
	}

	_ = bob.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	off := await(t, alice, chat.TypeUserOffline)
	var u chat.UserPayload
	if err := json.Unmarshal(off.Payload, &u); err != nil {
		t.Fatal(err)
	}
	if u.UserID != "bob" {
		t.Fatalf("offline user = %q", u.UserID)
	}
	if s.Registry().IsOnline("bob") {
		t.Fatal("bob still registered")
	}
}
