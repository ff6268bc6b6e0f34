package chat

import (
	"hash/fnv"
	"sort"
	"sync"
	"sync/atomic"
)

const registryShards = 32

// Transition is a presence edge: a user's connection set went from empty to
// non-empty (Online) or back.
type Transition struct {
	UserID string
	Online bool
}

type userShard struct {
	mu     sync.RWMutex
	byUser map[string]map[string]struct{} // user -> conn_id set
}

type connShard struct {
	mu    sync.Mutex
	owner map[string]string // conn_id -> user
}

// Registry 用户 -> 连接集合。按 user 分片加锁，同一用户的变更串行。
//
// Lock order is conn shard, then user shard, then whatever notify takes.
// notify runs while the user shard is held so transitions reach it in
// mutation order; it must not block.
type Registry struct {
	users  [registryShards]userShard
	conns  [registryShards]connShard
	notify func(Transition)

	online atomic.Int64
	total  atomic.Int64
}

func NewRegistry(notify func(Transition)) *Registry {
	r := &Registry{notify: notify}
	for i := range r.users {
		r.users[i].byUser = make(map[string]map[string]struct{})
		r.conns[i].owner = make(map[string]string)
	}
	return r
}

func shardOf(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % registryShards)
}

// Register binds connID to userID. It reports whether the user came online.
// Registering the same pair twice is a no-op; registering a connID under a
// different user moves it, which may take the old user offline.
func (r *Registry) Register(userID, connID string) bool {
	if userID == "" || connID == "" {
		return false
	}
	cs := &r.conns[shardOf(connID)]
	cs.mu.Lock()
	defer cs.mu.Unlock()

	old, ok := cs.owner[connID]
	if ok && old == userID {
		return false
	}
	if ok {
		r.detach(old, connID)
	} else {
		r.total.Add(1)
	}
	cs.owner[connID] = userID
	return r.attach(userID, connID)
}

// Unregister drops connID. Unknown ids are ignored.
func (r *Registry) Unregister(connID string) (userID string, wentOffline bool) {
	cs := &r.conns[shardOf(connID)]
	cs.mu.Lock()
	defer cs.mu.Unlock()

	userID, ok := cs.owner[connID]
	if !ok {
		return "", false
	}
	delete(cs.owner, connID)
	r.total.Add(-1)
	return userID, r.detach(userID, connID)
}

func (r *Registry) attach(userID, connID string) bool {
	us := &r.users[shardOf(userID)]
	us.mu.Lock()
	defer us.mu.Unlock()

	set := us.byUser[userID]
	if set == nil {
		set = make(map[string]struct{}, 1)
		us.byUser[userID] = set
	}
	set[connID] = struct{}{}
	if len(set) != 1 {
		return false
	}
	r.online.Add(1)
	r.emit(Transition{UserID: userID, Online: true})
	return true
}

func (r *Registry) detach(userID, connID string) bool {
	us := &r.users[shardOf(userID)]
	us.mu.Lock()
	defer us.mu.Unlock()

	set := us.byUser[userID]
	if set == nil {
		return false
	}
	delete(set, connID)
	if len(set) > 0 {
		return false
	}
	// 最后一条连接断开，用户条目一起删掉
	delete(us.byUser, userID)
	r.online.Add(-1)
	r.emit(Transition{UserID: userID, Online: false})
	return true
}

func (r *Registry) emit(t Transition) {
	if r.notify != nil {
		r.notify(t)
	}
}

// Route returns the live connection ids of userID, nil when offline.
func (r *Registry) Route(userID string) []string {
	us := &r.users[shardOf(userID)]
	us.mu.RLock()
	defer us.mu.RUnlock()
	set := us.byUser[userID]
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

func (r *Registry) IsOnline(userID string) bool {
	us := &r.users[shardOf(userID)]
	us.mu.RLock()
	defer us.mu.RUnlock()
	return len(us.byUser[userID]) > 0
}

// Owner returns the user a connection is registered under.
func (r *Registry) Owner(connID string) (string, bool) {
	cs := &r.conns[shardOf(connID)]
	cs.mu.Lock()
	defer cs.mu.Unlock()
	u, ok := cs.owner[connID]
	return u, ok
}

// Snapshot returns every online user, sorted. Shards are read one at a time,
// so the result is a consistent view per user, not a global instant.
func (r *Registry) Snapshot() []string {
	out := make([]string, 0, r.online.Load())
	for i := range r.users {
		us := &r.users[i]
		us.mu.RLock()
		for u := range us.byUser {
			out = append(out, u)
		}
		us.mu.RUnlock()
	}
	sort.Strings(out)
	return out
}

// ConnsExcept lists every registered connection not owned by userID.
func (r *Registry) ConnsExcept(userID string) []string {
	out := make([]string, 0, r.total.Load())
	for i := range r.users {
		us := &r.users[i]
		us.mu.RLock()
		for u, set := range us.byUser {
			if u == userID {
				continue
			}
			for id := range set {
				out = append(out, id)
			}
		}
		us.mu.RUnlock()
	}
	return out
}

func (r *Registry) OnlineCount() int { return int(r.online.Load()) }

func (r *Registry) ConnCount() int { return int(r.total.Load()) }
