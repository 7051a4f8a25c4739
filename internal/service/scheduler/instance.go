package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jpillora/backoff"
	"github.com/solweave/strategy-engine/internal/service/engine"
	"github.com/solweave/strategy-engine/internal/service/provider"
)

// runningInstance 一次活跃的策略执行。归属唯一的驱动 goroutine，
// 解释器调用绝不与自身并发（executing 守卫是双保险，单 goroutine
// 归属才是真正的保证）。
type runningInstance struct {
	id        string
	graphID   string
	owner     string
	symbol    string
	exclusive bool

	execCtx *engine.ExecutionContext
	cancel  context.CancelFunc
	events  chan provider.TradeEvent
	backoff *backoff.Backoff

	executing atomic.Bool

	mu         sync.Mutex
	status     InstanceStatus
	reactive   bool
	subscribed bool
	retryCount int
	lastError  error
	startedAt  time.Time
}

func (inst *runningInstance) Status() InstanceStatus {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.status
}

// transition 状态迁移，返回 (旧状态, 是否发生变化)
func (inst *runningInstance) transition(to InstanceStatus) (InstanceStatus, bool) {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	from := inst.status
	if from == to {
		return from, false
	}
	inst.status = to
	return from, true
}

func (inst *runningInstance) active() bool {
	s := inst.Status()
	return s == StatusRunning || s == StatusPaused
}

func (inst *runningInstance) setReactive(v bool) {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	inst.reactive = v
}

func (inst *runningInstance) isReactive() bool {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.reactive
}

func (inst *runningInstance) setSubscribed(v bool) {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	inst.subscribed = v
}

func (inst *runningInstance) isSubscribed() bool {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.subscribed
}

func (inst *runningInstance) recordError(err error) int {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	inst.retryCount++
	inst.lastError = err
	return inst.retryCount
}

func (inst *runningInstance) clearError() {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	inst.lastError = nil
}

func (inst *runningInstance) info() InstanceInfo {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	info := InstanceInfo{
		ID:         inst.id,
		GraphID:    inst.graphID,
		Owner:      inst.owner,
		Status:     inst.status,
		Reactive:   inst.reactive,
		RetryCount: inst.retryCount,
		StartedAt:  inst.startedAt,
	}
	if inst.lastError != nil {
		info.LastError = inst.lastError.Error()
	}
	info.Variables = inst.execCtx.VarsSnapshot()
	return info
}
