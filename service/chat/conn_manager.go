package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"PPRelay/service/metrics"
	"PPRelay/tools/ids"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ===== 配置 =====

type ManagerConf struct {
	UnauthTTL  time.Duration    // 未 join 连接的 TTL（如 60s）
	AuthTTL    time.Duration    // 已 join 连接无心跳多久算死（如 2*pongWait）
	SweepEvery time.Duration    // 清理周期（如 10s）
	SendQueue  int              // 每连接发送队列长度
	RatePerSec float64          // 每连接入站限速，<=0 不限
	RateBurst  int              //
	Clock      func() time.Time // 可注入时钟（单测用）；nil => time.Now
}

func (c *ManagerConf) norm() {
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = 10 * time.Second
	}
	if c.UnauthTTL <= 0 {
		c.UnauthTTL = 60 * time.Second
	}
	if c.AuthTTL <= 0 {
		c.AuthTTL = 2 * time.Minute
	}
	if c.SendQueue <= 0 {
		c.SendQueue = 256
	}
	if c.RateBurst <= 0 {
		c.RateBurst = int(c.RatePerSec) + 1
	}
}

// ===== 数据结构 =====

type WsConn struct {
	SnowID     string
	UserId     string
	Authorized bool // 已 join

	Conn   *websocket.Conn // nil 表示未挂 socket（单测）
	Remote string

	CreatedAt time.Time
	UpdatedAt time.Time
	SendChan  chan []byte // 每连接独立发送队列，由唯一的写协程消费

	Limiter *rate.Limiter

	TTL       time.Duration // 当前 TTL（随 join 状态切换）
	ExpireAt  time.Time     // 到期时间（过期由 sweeper 清理）
	Heartbeat time.Time     // 最近心跳时间

	done      chan struct{}
	closeOnce sync.Once
}

// Done is closed once the connection has been closed.
func (w *WsConn) Done() <-chan struct{} { return w.done }

// Close is idempotent. The write pump sees Done, sends the close frame and
// closes the socket, which makes the read loop exit and clean up.
func (w *WsConn) Close() {
	w.closeOnce.Do(func() { close(w.done) })
}

type ConnManager struct {
	mu     sync.RWMutex
	bySnow map[string]*WsConn // snowID -> wsConn

	conf ManagerConf
	gwId string // 节点ID
	m    *metrics.Metrics
	log  *zap.Logger
}

func NewConnManager(conf ManagerConf, gwId string, m *metrics.Metrics, log *zap.Logger) *ConnManager {
	conf.norm()
	if log == nil {
		log = zap.NewNop()
	}
	return &ConnManager{
		bySnow: make(map[string]*WsConn),
		conf:   conf,
		gwId:   gwId,
		m:      m,
		log:    log,
	}
}

// Add 新连接（未 join）登记，生成 snowID
func (m *ConnManager) Add(conn *websocket.Conn) *WsConn {
	now := m.conf.Clock()
	w := &WsConn{
		SnowID:    ids.GenerateString(),
		Conn:      conn,
		CreatedAt: now,
		UpdatedAt: now,
		Heartbeat: now,
		SendChan:  make(chan []byte, m.conf.SendQueue),
		TTL:       m.conf.UnauthTTL,
		ExpireAt:  now.Add(m.conf.UnauthTTL),
		done:      make(chan struct{}),
	}
	if conn != nil {
		if ra := conn.RemoteAddr(); ra != nil {
			w.Remote = ra.String()
		}
	}
	if m.conf.RatePerSec > 0 {
		w.Limiter = rate.NewLimiter(rate.Limit(m.conf.RatePerSec), m.conf.RateBurst)
	}

	m.mu.Lock()
	m.bySnow[w.SnowID] = w
	m.mu.Unlock()
	m.m.ConnOpened()
	return w
}

// BindUser 将 snowID 绑定到 user，切到 AuthTTL
func (m *ConnManager) BindUser(snowID, user string) error {
	if snowID == "" || user == "" {
		return errors.New("snowID/user empty")
	}
	now := m.conf.Clock()
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.bySnow[snowID]
	if !ok {
		return errors.New("snowID not found")
	}
	w.UserId = user
	w.Authorized = true
	w.TTL = m.conf.AuthTTL
	w.ExpireAt = now.Add(m.conf.AuthTTL)
	w.UpdatedAt = now
	w.Heartbeat = now
	return nil
}

// Heartbeat 刷新心跳与到期时间
func (m *ConnManager) Heartbeat(snowID string) error {
	now := m.conf.Clock()
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.bySnow[snowID]
	if !ok {
		return errors.New("snowID not found")
	}
	w.Heartbeat = now
	w.ExpireAt = now.Add(w.TTL)
	w.UpdatedAt = now
	return nil
}

// AttachPongHandler 收到 pong 时续期心跳并推后读超时
func (m *ConnManager) AttachPongHandler(conn *websocket.Conn, snowID string, pongWait time.Duration) {
	if conn == nil || snowID == "" {
		return
	}
	conn.SetPongHandler(func(string) error {
		_ = m.Heartbeat(snowID) // 忽略错误：连接可能刚好被清理
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

func (m *ConnManager) Get(snowID string) (*WsConn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.bySnow[snowID]
	return w, ok
}

// Remove 关闭并移除指定 snowID
func (m *ConnManager) Remove(snowID string) {
	m.mu.Lock()
	w, ok := m.bySnow[snowID]
	if ok {
		delete(m.bySnow, snowID)
	}
	m.mu.Unlock()
	if ok {
		w.Close()
		m.m.ConnClosed()
	}
}

// SendOne 按 snowID 非阻塞入队；队列满说明对端太慢，直接丢弃这一帧
func (m *ConnManager) SendOne(snowID string, data []byte) bool {
	m.mu.RLock()
	w, ok := m.bySnow[snowID]
	m.mu.RUnlock()
	if !ok {
		m.m.Drop("gone")
		return false
	}
	select {
	case <-w.done:
		return false
	default:
	}
	select {
	case w.SendChan <- data:
		return true
	default:
		m.m.Drop("slow_consumer")
		m.log.Debug("[conn] send queue full, drop frame", zap.String("conn", snowID))
		return false
	}
}

// Oldest returns the earliest-created connection among snowIDs.
func (m *ConnManager) Oldest(snowIDs []string) (*WsConn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var oldest *WsConn
	for _, id := range snowIDs {
		w, ok := m.bySnow[id]
		if !ok {
			continue
		}
		if oldest == nil || w.CreatedAt.Before(oldest.CreatedAt) {
			oldest = w
		}
	}
	return oldest, oldest != nil
}

func (m *ConnManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.bySnow)
}

// Close 关闭所有连接
func (m *ConnManager) Close() {
	m.mu.Lock()
	all := m.bySnow
	m.bySnow = make(map[string]*WsConn)
	m.mu.Unlock()
	for _, w := range all {
		w.Close()
		m.m.ConnClosed()
	}
}

// ===== 清理协程 =====

// Run sweeps expired connections until ctx is done, then closes everything.
func (m *ConnManager) Run(ctx context.Context) error {
	t := time.NewTicker(m.conf.SweepEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			m.Close()
			return nil
		case <-t.C:
			m.sweepOnce(m.conf.Clock())
		}
	}
}

func (m *ConnManager) sweepOnce(now time.Time) int {
	var expired []*WsConn
	m.mu.Lock()
	for sid, w := range m.bySnow {
		if now.After(w.ExpireAt) {
			// 收集后统一关闭，避免持锁期间关闭 socket
			expired = append(expired, w)
			delete(m.bySnow, sid)
		}
	}
	m.mu.Unlock()

	for _, w := range expired {
		m.log.Info("[conn] expired", zap.String("node", m.gwId), zap.String("conn", w.SnowID), zap.Bool("joined", w.Authorized))
		w.Close()
		m.m.ConnClosed()
	}
	return len(expired)
}
