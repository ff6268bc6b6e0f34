package message

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"PPRelay/config"
	"PPRelay/middleware"
	midsec "PPRelay/middleware/security"
	"PPRelay/service/chat"
	"PPRelay/service/storage"
	"PPRelay/tools/security"

	"github.com/gin-gonic/gin"
	jwtlib "github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

type fixture struct {
	t     *testing.T
	relay *chat.Server
	store *storage.MemMessages
	r     *gin.Engine
	opts  security.Options
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ws := config.Default().WS
	ws.RatePerSec = 0
	relay := chat.NewServer(chat.Options{NodeID: "test", WS: ws})
	store := storage.NewMemMessages()
	opts := security.DefaultOptions([]byte("jwt-secret"))

	api := &Server{
		Store: store,
		Relay: relay.Relay(),
		Stat:  relay.Status(),
		Call:  CallConfig{APIKey: "key-1", APISecret: "call-secret", TokenTTL: time.Hour},
		Log:   zap.NewNop(),
	}
	r := gin.New()
	api.Register(middleware.NewRoutes(r, midsec.Middleware(opts)))
	return &fixture{t: t, relay: relay, store: store, r: r, opts: opts}
}

func (f *fixture) online(user string) *chat.WsConn {
	f.t.Helper()
	c := f.relay.ConnMgr().Add(nil)
	if err := f.relay.Join(c, user); err != nil {
		f.t.Fatal(err)
	}
	f.relay.Presence().Flush()
	for len(c.SendChan) > 0 {
		<-c.SendChan
	}
	return c
}

func (f *fixture) do(method, path, user string, body any) *httptest.ResponseRecorder {
	f.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		tok, _, err := security.Generate(f.opts, user)
		if err != nil {
			f.t.Fatal(err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	f.r.ServeHTTP(w, req)
	return w
}

func frames(c *chat.WsConn) []chat.Frame {
	var out []chat.Frame
	for len(c.SendChan) > 0 {
		f, err := chat.ParseFrameJSON(<-c.SendChan)
		if err == nil {
			out = append(out, *f)
		}
	}
	return out
}

func TestSendPersistsThenRelays(t *testing.T) {
	f := newFixture(t)
	a := f.online("alice")
	b := f.online("bob")

	w := f.do(http.MethodPost, "/api/messages", "alice", map[string]any{"receiverId": "bob", "content": "hi"})
	if w.Code != http.StatusCreated {
		t.Fatalf("code = %d %s", w.Code, w.Body.String())
	}
	var m storage.Message
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatal(err)
	}
	if m.SenderID != "alice" || m.Status != storage.StatusSent {
		t.Fatalf("message = %+v", m)
	}
	for name, c := range map[string]*chat.WsConn{"alice": a, "bob": b} {
		got := frames(c)
		if len(got) != 1 || got[0].Type != chat.TypeNewMessage {
			t.Fatalf("%s frames = %v", name, got)
		}
	}
}

func TestOfflineReceiverReadsHistory(t *testing.T) {
	f := newFixture(t)
	if w := f.do(http.MethodPost, "/api/messages", "alice", map[string]any{"receiverId": "bob", "content": "later"}); w.Code != http.StatusCreated {
		t.Fatalf("send code = %d", w.Code)
	}

	w := f.do(http.MethodGet, "/api/messages/alice", "bob", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("history code = %d", w.Code)
	}
	var hist []storage.Message
	if err := json.Unmarshal(w.Body.Bytes(), &hist); err != nil {
		t.Fatal(err)
	}
	if len(hist) != 1 || hist[0].Status != storage.StatusSent || hist[0].Content != "later" {
		t.Fatalf("history = %+v", hist)
	}

	w = f.do(http.MethodGet, "/api/unread", "bob", nil)
	var unread map[string]int
	_ = json.Unmarshal(w.Body.Bytes(), &unread)
	if unread["alice"] != 1 {
		t.Fatalf("unread = %v", unread)
	}
}

func TestAckRelaysOnlyOnProgress(t *testing.T) {
	f := newFixture(t)
	a := f.online("alice")
	f.do(http.MethodPost, "/api/messages", "alice", map[string]any{"receiverId": "bob", "content": "x"})
	frames(a)

	w := f.do(http.MethodPost, "/api/messages/delivered", "bob", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delivered code = %d", w.Code)
	}
	got := frames(a)
	if len(got) != 1 || got[0].Type != chat.TypeStatusUpdate {
		t.Fatalf("alice frames = %v", got)
	}

	if w := f.do(http.MethodPost, "/api/messages/seen/alice", "bob", nil); w.Code != http.StatusOK {
		t.Fatalf("seen code = %d", w.Code)
	}
	var up chat.StatusUpdatePayload
	got = frames(a)
	if len(got) != 1 {
		t.Fatalf("alice frames = %v", got)
	}
	_ = json.Unmarshal(got[0].Payload, &up)
	if up.From != "bob" || up.Status != chat.AckSeen {
		t.Fatalf("status update = %+v", up)
	}

	// 已经 seen，再标 delivered 不会回退也不会通知
	w = f.do(http.MethodPost, "/api/messages/delivered/alice", "bob", nil)
	var res map[string]int
	_ = json.Unmarshal(w.Body.Bytes(), &res)
	if res["updated"] != 0 {
		t.Fatalf("regressing ack updated %d", res["updated"])
	}
	if got := frames(a); len(got) != 0 {
		t.Fatalf("no-op ack relayed %v", got)
	}
}

func TestEditDeleteOwnership(t *testing.T) {
	f := newFixture(t)
	b := f.online("bob")
	w := f.do(http.MethodPost, "/api/messages", "alice", map[string]any{"receiverId": "bob", "content": "v1"})
	var m storage.Message
	_ = json.Unmarshal(w.Body.Bytes(), &m)
	frames(b)

	if w := f.do(http.MethodPatch, "/api/messages/"+m.ID, "bob", map[string]string{"content": "x"}); w.Code != http.StatusNotFound {
		t.Fatalf("foreign edit code = %d", w.Code)
	}
	if w := f.do(http.MethodPatch, "/api/messages/"+m.ID, "alice", map[string]string{"content": "v2"}); w.Code != http.StatusOK {
		t.Fatalf("edit code = %d", w.Code)
	}
	if w := f.do(http.MethodDelete, "/api/messages/"+m.ID, "alice", nil); w.Code != http.StatusOK {
		t.Fatalf("delete code = %d", w.Code)
	}
	got := frames(b)
	if len(got) != 2 || got[0].Type != chat.TypeMsgEdited || got[1].Type != chat.TypeMsgDeleted {
		t.Fatalf("bob frames = %v", got)
	}
}

func TestRequiresAuth(t *testing.T) {
	f := newFixture(t)
	if w := f.do(http.MethodGet, "/api/conversations", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("code = %d", w.Code)
	}
	if w := f.do(http.MethodPost, "/api/messages", "alice", map[string]any{"content": "no receiver"}); w.Code != http.StatusBadRequest {
		t.Fatalf("missing receiver code = %d", w.Code)
	}
}

func TestCallToken(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodGet, "/api/call-token?peer=bob", "alice", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d %s", w.Code, w.Body.String())
	}
	var res struct {
		Token     string `json:"token"`
		APIKey    string `json:"apiKey"`
		RoomID    string `json:"roomId"`
		ExpiresAt int64  `json:"expiresAt"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.APIKey != "key-1" || res.RoomID != chat.RoomID("bob", "alice") {
		t.Fatalf("response = %+v", res)
	}
	parsed, err := jwtlib.Parse(res.Token, func(*jwtlib.Token) (any, error) { return []byte("call-secret"), nil })
	if err != nil {
		t.Fatal(err)
	}
	if parsed.Claims.(jwtlib.MapClaims)["user_id"] != "alice" {
		t.Fatalf("claims = %v", parsed.Claims)
	}
	if w := f.do(http.MethodGet, "/api/call-token", "alice", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("missing peer code = %d", w.Code)
	}
}
