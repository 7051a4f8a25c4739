package resilience

import (
	"sync"

	"github.com/samber/lo"
)

// CircuitBreaker 按 key（graph id）统计连续失败次数。达到阈值即熔断：
// 实例被调度器停掉、后续 start 被拒绝，直到操作员显式 Reset。
// 阈值之前的任意一次成功把计数清零。
type CircuitBreaker struct {
	mu        sync.Mutex
	threshold int
	failures  map[string]int
	open      map[string]bool
}

func NewCircuitBreaker(threshold int) *CircuitBreaker {
	return &CircuitBreaker{
		threshold: threshold,
		failures:  make(map[string]int),
		open:      make(map[string]bool),
	}
}

// RecordFailure 记一次失败，恰好达到阈值时熔断并返回 true
func (cb *CircuitBreaker) RecordFailure(key string) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.open[key] {
		return false
	}
	cb.failures[key]++
	if cb.failures[key] >= cb.threshold {
		cb.open[key] = true
		return true
	}
	return false
}

func (cb *CircuitBreaker) RecordSuccess(key string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.open[key] {
		// 已熔断的 key 只认手动 Reset
		return
	}
	cb.failures[key] = 0
}

func (cb *CircuitBreaker) IsOpen(key string) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.open[key]
}

func (cb *CircuitBreaker) Failures(key string) int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures[key]
}

// Reset 操作员手动复位
func (cb *CircuitBreaker) Reset(key string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	delete(cb.open, key)
	cb.failures[key] = 0
}

// OpenKeys 当前处于熔断状态的所有 key
func (cb *CircuitBreaker) OpenKeys() []string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return lo.Keys(lo.PickBy(cb.open, func(_ string, v bool) bool {
		return v
	}))
}
