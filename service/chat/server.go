package chat

import (
	"context"
	"net/http"
	"strings"
	"time"

	"PPRelay/config"
	"PPRelay/service/metrics"
	"PPRelay/tools/errs"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Options struct {
	NodeID         string
	WS             config.WSConfig
	AllowedOrigins []string

	Sinks           []PresenceSink
	PresenceRefresh time.Duration

	Metrics *metrics.Metrics
	Logger  *zap.Logger
	Clock   func() time.Time
}

// Server wires the relay core: connections, registry, presence, relay,
// status, calls and the dispatcher.
type Server struct {
	opts Options

	conns    *ConnManager
	reg      *Registry
	presence *Presence
	emitter  *Emitter
	relay    *Relay
	status   *Status
	calls    *Calls
	disp     *Dispatcher

	upgrader websocket.Upgrader
	log      *zap.Logger
	m        *metrics.Metrics
}

func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.WS == (config.WSConfig{}) {
		opts.WS = config.Default().WS
	}
	log := opts.Logger

	s := &Server{opts: opts, log: log, m: opts.Metrics}
	s.conns = NewConnManager(ManagerConf{
		UnauthTTL:  opts.WS.JoinTimeout,
		AuthTTL:    2 * opts.WS.PongWait,
		SweepEvery: opts.WS.SweepEvery,
		SendQueue:  opts.WS.SendQueue,
		RatePerSec: opts.WS.RatePerSec,
		RateBurst:  opts.WS.RateBurst,
		Clock:      opts.Clock,
	}, opts.NodeID, opts.Metrics, log.Named("conn"))

	s.presence = NewPresence(opts.Metrics, log.Named("presence"), opts.Sinks...)
	s.presence.RefreshEvery = opts.PresenceRefresh
	s.reg = NewRegistry(s.presence.Enqueue)
	s.emitter = NewEmitter(s.reg, s.conns, opts.Metrics, log.Named("emit"))
	s.presence.bind(s.reg, s.emitter)

	s.relay = NewRelay(s.emitter)
	s.status = NewStatus(s.emitter)
	s.calls = NewCalls(s.emitter, opts.Metrics, log.Named("call"))
	s.calls.online = s.reg.IsOnline
	s.disp = NewDispatcher(log.Named("dispatch"))

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}
	return s
}

func (s *Server) ConnMgr() *ConnManager { return s.conns }
func (s *Server) Registry() *Registry { return s.reg }
func (s *Server) Presence() *Presence { return s.presence }
func (s *Server) Emitter() *Emitter { return s.emitter }
func (s *Server) Relay() *Relay { return s.relay }
func (s *Server) Status() *Status { return s.status }
func (s *Server) Calls() *Calls { return s.calls }
func (s *Server) Disp() *Dispatcher { return s.disp }
func (s *Server) NodeID() string { return s.opts.NodeID }
func (s *Server) Logger() *zap.Logger { return s.log }
func (s *Server) metrics() *metrics.Metrics { return s.m }

// Run drives the presence worker and the connection sweeper until ctx ends.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.presence.Run(ctx) })
	g.Go(func() error { return s.conns.Run(ctx) })
	s.log.Info("relay started", zap.String("node", s.opts.NodeID), zap.Int("handlers", len(s.disp.Types())))
	return g.Wait()
}

// Join binds conn to userID and registers it for routing.
func (s *Server) Join(conn *WsConn, userID string) error {
	if userID == "" {
		return errs.ErrMalformedPayload.WrapMsg("join without user id")
	}
	if conn.Authorized {
		if conn.UserId == userID {
			return nil
		}
		// 同一条连接换身份：先按旧身份下线
		s.Leave(conn)
	}
	if err := s.conns.BindUser(conn.SnowID, userID); err != nil {
		return errs.WrapMsg(err, "bind user", "conn", conn.SnowID)
	}
	if !s.reg.Register(userID, conn.SnowID) {
		// 已在线用户的新设备没有上线迁移，单独补一份快照
		s.presence.Sync(conn.SnowID)
	}
	s.log.Info("joined", zap.String("conn", conn.SnowID), zap.String("user", userID))

	if limit := s.opts.WS.MaxPerUser; limit > 0 {
		s.evictOverflow(userID, conn.SnowID, limit)
	}
	return nil
}

// evictOverflow closes the user's oldest connections beyond limit. The new
// connection is registered first so the user never transitions offline.
func (s *Server) evictOverflow(userID, keep string, limit int) {
	for {
		route := s.reg.Route(userID)
		if len(route) <= limit {
			return
		}
		candidates := route[:0]
		for _, id := range route {
			if id != keep {
				candidates = append(candidates, id)
			}
		}
		old, ok := s.conns.Oldest(candidates)
		if !ok {
			return
		}
		s.log.Info("evict oldest connection", zap.String("user", userID), zap.String("conn", old.SnowID))
		s.reg.Unregister(old.SnowID)
		s.conns.Remove(old.SnowID)
	}
}

// Leave unregisters conn. On the user's last connection it ends their calls
// and clears their typing indicators, unless the user has joined again from
// another connection in between.
func (s *Server) Leave(conn *WsConn) (string, bool) {
	user, off := s.reg.Unregister(conn.SnowID)
	if off {
		if n := s.calls.Disconnect(user); n > 0 {
			s.log.Info("calls ended by disconnect", zap.String("user", user), zap.Int("calls", n))
		}
		if !s.reg.IsOnline(user) {
			s.status.ClearTyping(user)
		}
	}
	return user, off
}

// HandleFrame parses and dispatches one inbound frame.
func (s *Server) HandleFrame(conn *WsConn, raw []byte) error {
	f, err := ParseFrameJSON(raw)
	if err != nil {
		return errs.ErrMalformedPayload.WrapMsg(err.Error())
	}
	if conn.Limiter != nil && !conn.Limiter.Allow() {
		return errs.ErrRateLimited.WrapMsg("", "type", f.Type, "conn", conn.SnowID)
	}
	return s.disp.Dispatch(&ChatContext{S: s}, f, conn)
}

// Identity returns the user the connection joined as. A claimed `from` that
// differs is rejected.
func Identity(conn *WsConn, claimed string) (string, error) {
	if !conn.Authorized || conn.UserId == "" {
		return "", errs.ErrNotJoined.WrapMsg("", "conn", conn.SnowID)
	}
	if claimed != "" && claimed != conn.UserId {
		return "", errs.ErrIdentityMismatch.WrapMsg("", "claimed", claimed, "joined", conn.UserId)
	}
	return conn.UserId, nil
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		if o != "" {
			set[o] = struct{}{}
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(set) == 0 {
			return true
		}
		_, ok := set[strings.TrimRight(origin, "/")]
		return ok
	}
}
