package chat

import (
	"context"
	"sync"
	"time"

	"PPRelay/service/metrics"
	"PPRelay/tools/safe"

	"go.uber.org/zap"
)

// PresenceSink receives every transition after it has been fanned out to
// clients. Sinks mirror presence to external systems.
type PresenceSink interface {
	Name() string
	OnPresence(ctx context.Context, t Transition) error
}

// PresenceRefresher is implemented by sinks whose records expire and need the
// full online set re-asserted periodically.
type PresenceRefresher interface {
	Refresh(ctx context.Context, online []string) error
}

const (
	sinkTimeout = 2 * time.Second
	sinkQueue   = 1024
)

// presenceItem 是一次上下线迁移，或者一次单连接快照同步（conn 非空）
type presenceItem struct {
	t    Transition
	conn string
}

// sinkWorker 每个 sink 一个有界队列和一个协程，慢 sink 不拖住客户端广播
type sinkWorker struct {
	sink PresenceSink
	ch   chan Transition
}

// Presence 单协程消费 Registry 的上下线事件，按入队顺序广播。
// 队列无界，Registry 持锁入队时不会被阻塞。
type Presence struct {
	reg     *Registry
	emit    *Emitter
	workers []*sinkWorker
	m       *metrics.Metrics
	log     *zap.Logger

	mu    sync.Mutex
	queue []presenceItem
	wake  chan struct{}

	// drainMu keeps Run and Flush from interleaving, which would reorder.
	drainMu sync.Mutex

	RefreshEvery time.Duration
}

func NewPresence(m *metrics.Metrics, log *zap.Logger, sinks ...PresenceSink) *Presence {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Presence{
		m:    m,
		log:  log,
		wake: make(chan struct{}, 1),
	}
	for _, s := range sinks {
		p.workers = append(p.workers, &sinkWorker{sink: s, ch: make(chan Transition, sinkQueue)})
	}
	return p
}

// bind wires the registry and emitter. Registry construction needs Enqueue,
// so the broadcaster is created first.
func (p *Presence) bind(reg *Registry, emit *Emitter) {
	p.reg = reg
	p.emit = emit
}

// Enqueue is the Registry notifier.
func (p *Presence) Enqueue(t Transition) {
	p.push(presenceItem{t: t})
}

// Sync queues a users:online snapshot for one connection of a user who was
// already online, ordered with the deltas around it.
func (p *Presence) Sync(connID string) {
	p.push(presenceItem{conn: connID})
}

func (p *Presence) push(it presenceItem) {
	p.mu.Lock()
	p.queue = append(p.queue, it)
	p.mu.Unlock()
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Presence) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Run drains the queue and drives the sink workers until ctx is done.
func (p *Presence) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	defer wg.Wait()
	for _, w := range p.workers {
		w := w
		wg.Add(1)
		safe.Go("presence-sink-"+w.sink.Name(), func() {
			defer wg.Done()
			p.runSink(ctx, w)
		})
	}
	for {
		select {
		case <-ctx.Done():
			p.Flush()
			return nil
		case <-p.wake:
			p.Flush()
		}
	}
}

// Flush processes everything queued so far on the calling goroutine.
// Sinks are only handed the transitions; their delivery happens in Run.
func (p *Presence) Flush() {
	p.drainMu.Lock()
	defer p.drainMu.Unlock()
	for {
		p.mu.Lock()
		batch := p.queue
		p.queue = nil
		p.mu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, it := range batch {
			p.process(it)
		}
	}
}

func (p *Presence) process(it presenceItem) {
	if it.conn != "" {
		p.emit.ToConns([]string{it.conn}, TypeUsersOnline, UsersOnlinePayload{UserIDs: p.reg.Snapshot()})
		return
	}
	t := it.t
	others := p.reg.ConnsExcept(t.UserID)
	if t.Online {
		p.emit.ToConns(others, TypeUserOnline, UserPayload{UserID: t.UserID})
		// 自己的连接拿到当前在线快照；快照之后的变化由后续增量补齐
		if own := p.reg.Route(t.UserID); len(own) > 0 {
			p.emit.ToConns(own, TypeUsersOnline, UsersOnlinePayload{UserIDs: p.reg.Snapshot()})
		}
	} else {
		p.emit.ToConns(others, TypeUserOffline, UserPayload{UserID: t.UserID})
	}
	p.m.SetOnline(p.reg.OnlineCount())
	p.log.Debug("[presence] transition", zap.String("user", t.UserID), zap.Bool("online", t.Online))

	for _, w := range p.workers {
		select {
		case w.ch <- t:
		default:
			p.m.Drop("sink_full")
			p.log.Warn("[presence] sink queue full, transition dropped",
				zap.String("sink", w.sink.Name()), zap.String("user", t.UserID))
		}
	}
}

func (p *Presence) runSink(ctx context.Context, w *sinkWorker) {
	r, canRefresh := w.sink.(PresenceRefresher)
	var refresh <-chan time.Time
	if canRefresh && p.RefreshEvery > 0 {
		tk := time.NewTicker(p.RefreshEvery)
		defer tk.Stop()
		refresh = tk.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-w.ch:
			sctx, cancel := context.WithTimeout(ctx, sinkTimeout)
			if err := w.sink.OnPresence(sctx, t); err != nil {
				p.log.Warn("[presence] sink failed", zap.String("sink", w.sink.Name()),
					zap.String("user", t.UserID), zap.Error(err))
			}
			cancel()
		case <-refresh:
			rctx, cancel := context.WithTimeout(ctx, sinkTimeout)
			if err := r.Refresh(rctx, p.reg.Snapshot()); err != nil {
				p.log.Warn("[presence] sink refresh failed", zap.String("sink", w.sink.Name()), zap.Error(err))
			}
			cancel()
		}
	}
}
