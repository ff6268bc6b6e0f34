package chat

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"sync"
	"time"

	"PPRelay/service/metrics"
	"PPRelay/tools/errs"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type CallState string

const (
	CallRinging   CallState = "RINGING"
	CallAccepted  CallState = "ACCEPTED"
	CallDeclined  CallState = "DECLINED"
	CallCancelled CallState = "CANCELLED"
	CallEnded     CallState = "ENDED"
)

func (s CallState) Live() bool { return s == CallRinging || s == CallAccepted }

// CallAttempt is one ring-to-end lifecycle between two users.
type CallAttempt struct {
	ID        string
	CallerID  string
	CalleeID  string
	State     CallState
	CreatedAt time.Time
}

func (a *CallAttempt) peerOf(user string) string {
	if user == a.CallerID {
		return a.CalleeID
	}
	return a.CallerID
}

type pairKey struct{ lo, hi string }

func keyOf(a, b string) pairKey {
	if a < b {
		return pairKey{a, b}
	}
	return pairKey{b, a}
}

type callShard struct {
	mu   sync.Mutex
	live map[pairKey]*CallAttempt
}

// Calls 服务端维护呼叫状态机。每对用户最多一个存活的 attempt；
// 同一对用户的所有迁移都在其分片锁内完成，竞争失败的一方什么都不发。
//
// Terminal attempts are removed immediately. Events are emitted while the
// shard lock is held so both parties observe transitions in order.
type Calls struct {
	shards [registryShards]callShard
	emit   *Emitter
	m      *metrics.Metrics
	log    *zap.Logger
	now    func() time.Time

	// online 由 Server 注入；Disconnect 在分片锁内复查，用户已重新上线则不拆
	online func(user string) bool
}

func NewCalls(emit *Emitter, m *metrics.Metrics, log *zap.Logger) *Calls {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Calls{emit: emit, m: m, log: log, now: time.Now}
	for i := range c.shards {
		c.shards[i].live = make(map[pairKey]*CallAttempt)
	}
	return c
}

func (c *Calls) shard(k pairKey) *callShard {
	return &c.shards[shardOf(k.lo+"\x1f"+k.hi)]
}

// Call starts ringing `to`. A pair that already has a live attempt is busy and
// the request is dropped without notifying anyone.
func (c *Calls) Call(from, to, name, avatar string) (*CallAttempt, error) {
	if from == "" || to == "" || from == to {
		return nil, errs.ErrMalformedPayload.WrapMsg("invalid call target", "from", from, "to", to)
	}
	k := keyOf(from, to)
	sh := c.shard(k)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if cur := sh.live[k]; cur != nil {
		return nil, errs.ErrCallBusy.WrapMsg("", "call", cur.ID, "state", cur.State)
	}
	a := &CallAttempt{
		ID:        uuid.NewString(),
		CallerID:  from,
		CalleeID:  to,
		State:     CallRinging,
		CreatedAt: c.now(),
	}
	sh.live[k] = a
	c.m.Call(string(CallRinging))
	c.emit.ToUser(to, TypeIncomingCall, IncomingCallPayload{From: from, Name: name, Avatar: avatar, CallID: a.ID})
	c.log.Debug("[call] ringing", zap.String("call", a.ID), zap.String("from", from), zap.String("to", to))
	cp := *a
	return &cp, nil
}

// Cancel: caller withdraws a ringing call.
func (c *Calls) Cancel(from, to string) error {
	return c.transition(from, to, CallCancelled, func(a *CallAttempt) bool {
		return a.State == CallRinging && a.CallerID == from
	}, TypeCallCancelled)
}

// Accept: callee answers a ringing call. The attempt stays live until ended.
func (c *Calls) Accept(from, to string) error {
	return c.transition(from, to, CallAccepted, func(a *CallAttempt) bool {
		return a.State == CallRinging && a.CalleeID == from
	}, TypeCallAccepted)
}

// Decline: callee rejects a ringing call.
func (c *Calls) Decline(from, to string) error {
	return c.transition(from, to, CallDeclined, func(a *CallAttempt) bool {
		return a.State == CallRinging && a.CalleeID == from
	}, TypeCallDeclined)
}

// End: either party hangs up a ringing or accepted call.
func (c *Calls) End(from, to string) error {
	return c.transition(from, to, CallEnded, func(a *CallAttempt) bool {
		return a.State.Live()
	}, TypeCallEnded)
}

func (c *Calls) transition(from, to string, next CallState, allowed func(*CallAttempt) bool, notify Type) error {
	if from == "" || to == "" || from == to {
		return errs.ErrMalformedPayload.WrapMsg("invalid call peer", "from", from, "to", to)
	}
	k := keyOf(from, to)
	sh := c.shard(k)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	a := sh.live[k]
	if a == nil {
		return errs.ErrStaleSignal.WrapMsg("no live call", "from", from, "to", to, "want", next)
	}
	if !allowed(a) {
		return errs.ErrStaleSignal.WrapMsg("transition not allowed", "call", a.ID, "state", a.State, "from", from, "want", next)
	}
	a.State = next
	if !next.Live() {
		delete(sh.live, k)
	}
	c.m.Call(string(next))
	c.emit.ToUser(a.peerOf(from), notify, FromPayload{From: from})
	c.log.Debug("[call] transition", zap.String("call", a.ID), zap.String("state", string(next)), zap.String("by", from))
	return nil
}

// Signal relays an opaque SDP/ICE payload while the pair has a live attempt.
func (c *Calls) Signal(from, to string, signal any) error {
	if from == "" || to == "" || from == to {
		return errs.ErrMalformedPayload.WrapMsg("invalid signal peer", "from", from, "to", to)
	}
	k := keyOf(from, to)
	sh := c.shard(k)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	a := sh.live[k]
	if a == nil || !a.State.Live() {
		return errs.ErrStaleSignal.WrapMsg("signal without live call", "from", from, "to", to)
	}
	c.emit.ToUser(to, TypeSignal, SignalOutPayload{From: from, Signal: signal})
	return nil
}

// Disconnect ends every live attempt involving user, whose last connection is
// gone. The peer is told as if user had cancelled, declined or hung up.
// Attempts are kept if user is online again when its shard is examined, so a
// call placed from a new connection survives the old one's late unwind.
func (c *Calls) Disconnect(user string) int {
	n := 0
	for i := range c.shards {
		sh := &c.shards[i]
		sh.mu.Lock()
		if c.online != nil && c.online(user) {
			sh.mu.Unlock()
			continue
		}
		for k, a := range sh.live {
			if a.CallerID != user && a.CalleeID != user {
				continue
			}
			notify := TypeCallEnded
			if a.State == CallRinging {
				if a.CallerID == user {
					notify = TypeCallCancelled
				} else {
					notify = TypeCallDeclined
				}
			}
			a.State = CallEnded
			delete(sh.live, k)
			c.m.Call(string(CallEnded))
			c.emit.ToUser(a.peerOf(user), notify, FromPayload{From: user})
			c.log.Debug("[call] ended by disconnect", zap.String("call", a.ID), zap.String("user", user))
			n++
		}
		sh.mu.Unlock()
	}
	return n
}

// Get returns a copy of the live attempt between a and b.
func (c *Calls) Get(a, b string) (CallAttempt, bool) {
	k := keyOf(a, b)
	sh := c.shard(k)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if cur := sh.live[k]; cur != nil {
		return *cur, true
	}
	return CallAttempt{}, false
}

func (c *Calls) Live() int {
	n := 0
	for i := range c.shards {
		sh := &c.shards[i]
		sh.mu.Lock()
		n += len(sh.live)
		sh.mu.Unlock()
	}
	return n
}

// RoomID is the managed-call room for a pair: identical for (a,b) and (b,a).
func RoomID(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	sum := sha256.Sum256([]byte(ids[0] + "\x1f" + ids[1]))
	return hex.EncodeToString(sum[:16])
}
