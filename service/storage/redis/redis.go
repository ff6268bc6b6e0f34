package redis

import (
	"context"
	"time"

	"PPRelay/config"
	"PPRelay/tools/errs"

	"github.com/redis/go-redis/v9"
)

// New 创建客户端并 Ping 一次，连不上直接返回错误
func New(ctx context.Context, c config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
	})

	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errs.WrapMsg(err, "redis ping", "addr", c.Addr)
	}
	return rdb, nil
}
