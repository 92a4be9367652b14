// Package ratelimit gates inbound interaction events with a per-user
// sliding window.
package ratelimit

import (
	"sync"
	"sync/atomic"
	"time"
)

const shardCount = 16

// Limiter admits at most limit events per user within the trailing
// period. Bookkeeping is a capped timestamp ring per user, so each
// check is O(1) amortized regardless of traffic.
type Limiter struct {
	limit  int
	period time.Duration
	denied atomic.Uint64
	now    func() time.Time

	shards [shardCount]shard
}

type shard struct {
	mu      sync.Mutex
	records map[string]*record
}

// record is a fixed-capacity ring of admit timestamps.
type record struct {
	stamps []time.Time
	head   int
	count  int
}

func New(limit int, period time.Duration) *Limiter {
	l := &Limiter{limit: limit, period: period, now: time.Now}
	for i := range l.shards {
		l.shards[i].records = make(map[string]*record)
	}
	return l
}

// Admit decides admission for one inbound event. A denial mutates
// nothing beyond the denied counter.
func (l *Limiter) Admit(userID string) bool {
	sh := l.shard(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	r := sh.records[userID]
	if r == nil {
		r = &record{stamps: make([]time.Time, l.limit)}
		sh.records[userID] = r
	}

	now := l.now()
	cutoff := now.Add(-l.period)
	for r.count > 0 && !r.stamps[r.head].After(cutoff) {
		r.head = (r.head + 1) % l.limit
		r.count--
	}

	if r.count >= l.limit {
		l.denied.Add(1)
		return false
	}
	r.stamps[(r.head+r.count)%l.limit] = now
	r.count++
	return true
}

// Forget drops a user's rate record. Used on account deletion; windows
// otherwise reset themselves by expiry.
func (l *Limiter) Forget(userID string) {
	sh := l.shard(userID)
	sh.mu.Lock()
	delete(sh.records, userID)
	sh.mu.Unlock()
}

// Denied reports how many events were rejected since startup.
func (l *Limiter) Denied() uint64 {
	return l.denied.Load()
}

func (l *Limiter) shard(userID string) *shard {
	return &l.shards[fnv32(userID)%shardCount]
}

func fnv32(s string) uint32 {
	h := uint32(2166136261)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}
