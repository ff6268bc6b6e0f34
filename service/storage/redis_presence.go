package storage

import (
	"context"
	"errors"
	"time"

	"PPRelay/service/chat"
	"PPRelay/tools/errs"

	"github.com/redis/go-redis/v9"
)

// presence key: im:presence:<user>
// Value: node id, TTL controls the online validity period
func presenceKey(user string) string { return "im:presence:" + user }

// 只删除本节点写入的记录；用户在别的节点上线时那边的记录不能被清掉
var delIfOwner = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisPresence mirrors presence transitions into Redis so other services can
// look up whether a user is online and on which node. Keys expire unless the
// relay refreshes them, so a crashed node ages out on its own.
type RedisPresence struct {
	rdb    redis.Cmdable
	nodeID string
	ttl    time.Duration
}

func NewRedisPresence(rdb redis.Cmdable, nodeID string, ttl time.Duration) *RedisPresence {
	return &RedisPresence{rdb: rdb, nodeID: nodeID, ttl: ttl}
}

func (p *RedisPresence) Name() string { return "redis" }

func (p *RedisPresence) OnPresence(ctx context.Context, t chat.Transition) error {
	if t.Online {
		return p.rdb.Set(ctx, presenceKey(t.UserID), p.nodeID, p.ttl).Err()
	}
	err := delIfOwner.Run(ctx, p.rdb, []string{presenceKey(t.UserID)}, p.nodeID).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return errs.WrapMsg(err, "presence offline", "user", t.UserID)
	}
	return nil
}

// Refresh renews the TTL of every user currently online on this node.
func (p *RedisPresence) Refresh(ctx context.Context, online []string) error {
	if len(online) == 0 {
		return nil
	}
	pipe := p.rdb.Pipeline()
	for _, u := range online {
		pipe.Set(ctx, presenceKey(u), p.nodeID, p.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Lookup reports the node a user is online on.
func (p *RedisPresence) Lookup(ctx context.Context, user string) (nodeID string, online bool, err error) {
	val, err := p.rdb.Get(ctx, presenceKey(user)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errs.WrapMsg(err, "presence lookup", "user", user)
	}
	return val, true, nil
}
