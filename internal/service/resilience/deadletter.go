package resilience

import (
	"sync"
	"time"

	"github.com/solweave/strategy-engine/internal/service/provider"
)

// DeadLetter 被拒绝或失败的一次触发，纯审计用途，绝不驱动重试
type DeadLetter struct {
	GraphID    string
	InstanceID string
	Event      *provider.TradeEvent
	Err        string
	Timestamp  time.Time
}

// DeadLetterQueue 有界 FIFO，写满后淘汰最旧的条目
type DeadLetterQueue struct {
	mu       sync.Mutex
	capacity int
	entries  []DeadLetter
}

func NewDeadLetterQueue(capacity int) *DeadLetterQueue {
	return &DeadLetterQueue{
		capacity: capacity,
	}
}

func (q *DeadLetterQueue) Push(entry DeadLetter) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	q.entries = append(q.entries, entry)
	if len(q.entries) > q.capacity {
		q.entries = q.entries[len(q.entries)-q.capacity:]
	}
}

// Entries 最新的 limit 条（limit<=0 返回全部），新到旧
func (q *DeadLetterQueue) Entries(limit int) []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.entries)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]DeadLetter, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, q.entries[i])
	}
	return out
}

func (q *DeadLetterQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

func (q *DeadLetterQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = nil
}
