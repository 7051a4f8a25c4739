package resilience

import (
	"sync"
	"time"

	"github.com/samber/lo"
)

// RateLimiter 滑动窗口限流，按 key（graph id）统计窗口内的调用时间戳。
// 超限的调用由调用方记入死信队列，不做原地重试。
type RateLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	hits   map[string][]time.Time

	now func() time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:  limit,
		window: window,
		hits:   make(map[string][]time.Time),
		now:    time.Now,
	}
}

// Allow 尝试占用一次配额。窗口内已达上限时返回 false 且不记账。
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	cutoff := now.Add(-r.window)
	kept := lo.Filter(r.hits[key], func(t time.Time, _ int) bool {
		return t.After(cutoff)
	})

	if len(kept) >= r.limit {
		r.hits[key] = kept
		return false
	}
	r.hits[key] = append(kept, now)
	return true
}

// Count 当前窗口内已占用的配额
func (r *RateLimiter) Count(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.window)
	return lo.CountBy(r.hits[key], func(t time.Time) bool {
		return t.After(cutoff)
	})
}

func (r *RateLimiter) Reset(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.hits, key)
}
