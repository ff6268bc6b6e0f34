package global

import (
	"context"
	"time"

	"PPRelay/config"
	"PPRelay/service/chat"
	"PPRelay/service/natsx"
	"PPRelay/service/storage"
	rds "PPRelay/service/storage/redis"
	"PPRelay/tools/errs"
	ids "PPRelay/tools/ids"
	"PPRelay/tools/safe"

	"go.uber.org/zap"
)

// PresenceLookup 跨节点查询用户在哪个节点在线
type PresenceLookup interface {
	Lookup(ctx context.Context, user string) (nodeID string, online bool, err error)
}

// Deps 启动时建出来的外部依赖，Close 按相反顺序释放
type Deps struct {
	Store  storage.MessageStore
	Sinks  []chat.PresenceSink
	NATS   *natsx.Client
	Lookup PresenceLookup // 没配 redis 时为 nil，只能查本节点

	// PresenceRefresh 只有配置了 redis 才大于 0
	PresenceRefresh time.Duration

	closers []func()
}

func (d *Deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
	d.closers = nil
}

// ConfigAll 依次初始化 ids / 存储 / redis / nats；任一失败会释放已建好的部分
func ConfigAll(ctx context.Context, cfg config.Config, log *zap.Logger) (*Deps, error) {
	ConfigIds(cfg.NodeID)
	d := &Deps{}
	steps := []func(context.Context, config.Config, *zap.Logger, *Deps) error{
		ConfigStore,
		ConfigRedis,
		ConfigNATS,
	}
	for _, step := range steps {
		if err := step(ctx, cfg, log, d); err != nil {
			d.Close()
			return nil, err
		}
	}
	return d, nil
}

func ConfigIds(nodeID string) {
	ids.SetNodeID(ids.NodeIDFromString(nodeID))
}

// ConfigStore 配了 postgres_dsn 用 pg，否则走内存
func ConfigStore(ctx context.Context, cfg config.Config, log *zap.Logger, d *Deps) error {
	if cfg.Storage.PostgresDSN == "" {
		log.Warn("[storage] postgres_dsn empty, using in-memory message store")
		d.Store = storage.NewMemMessages()
		return nil
	}
	pg, err := storage.NewPGMessages(ctx, cfg.Storage.PostgresDSN)
	if err != nil {
		return err
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		pg.Close()
		return errs.WrapMsg(err, "ensure schema")
	}
	d.Store = pg
	d.closers = append(d.closers, pg.Close)
	log.Info("[storage] postgres ready")
	return nil
}

func ConfigRedis(ctx context.Context, cfg config.Config, log *zap.Logger, d *Deps) error {
	if cfg.Redis.Addr == "" {
		return nil
	}
	rdb, err := rds.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	d.closers = append(d.closers, func() { _ = rdb.Close() })
	rp := storage.NewRedisPresence(rdb, cfg.NodeID, cfg.Redis.PresenceTTL)
	d.Sinks = append(d.Sinks, rp)
	d.Lookup = rp
	// 过期前至少刷新两次
	d.PresenceRefresh = cfg.Redis.PresenceTTL / 3
	log.Info("[redis] presence sink ready", zap.String("addr", cfg.Redis.Addr))
	return nil
}

func ConfigNATS(_ context.Context, cfg config.Config, log *zap.Logger, d *Deps) error {
	if cfg.NATS.URL == "" {
		return nil
	}
	nc, err := natsx.Connect(cfg.NATS, log.Named("nats"))
	if err != nil {
		return err
	}
	d.NATS = nc
	d.closers = append(d.closers, func() { _ = nc.Close() })
	if cfg.NATS.PresenceSubject != "" {
		d.Sinks = append(d.Sinks, natsx.NewPresencePublisher(nc, cfg.NATS.PresenceSubject, cfg.NodeID))
	}
	return nil
}

// ConfigIngress 订阅其它服务投递过来的消息事件；没有 nats 时什么都不做。
// 每个节点只投递本机连接，所以不用队列组，每个节点都要收到。
func ConfigIngress(ctx context.Context, cfg config.Config, d *Deps, s *chat.Server, log *zap.Logger) error {
	if d.NATS == nil || cfg.NATS.IngressSubject == "" {
		return nil
	}
	idem := natsx.NewMemIdem(10 * time.Minute)
	safe.Go("idem-sweeper", func() { _ = idem.Run(ctx) })
	in := natsx.NewIngress(s, log.Named("ingress"))
	return d.NATS.Subscribe(cfg.NATS.IngressSubject, "", in.Handle,
		natsx.Logging(log.Named("ingress")),
		natsx.IdemMiddleware(idem, 0),
	)
}
