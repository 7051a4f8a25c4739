package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/solweave/strategy-engine/internal/service/graph"
)

// StepResult 单个步骤的执行结果
type StepResult struct {
	StepID     string
	Success    bool
	Value      any
	Err        string
	FinishedAt time.Time
}

type LogEntry struct {
	Time    time.Time
	StepID  string
	Message string
}

// ExecutionContext 一次运行的可恢复状态。同一时刻只归属一个运行实例，
// 解释器按引用接收并就地修改；绝不能在并发的解释器调用间共享。
type ExecutionContext struct {
	GraphID string
	// InstanceID 归属实例，由创建实例的一方回填
	InstanceID    string
	CurrentStepID string
	StartTime     time.Time

	// StepResults 只由解释器触碰（单一归属），无需加锁
	StepResults map[string]StepResult

	mu        sync.Mutex
	variables graph.Variables
	logs      []LogEntry

	cancelled atomic.Bool
}

func NewExecutionContext(graphID, startStepID string) *ExecutionContext {
	return &ExecutionContext{
		GraphID:       graphID,
		CurrentStepID: startStepID,
		StartTime:     time.Now(),
		StepResults:   make(map[string]StepResult),
		variables:     make(graph.Variables),
	}
}

func (c *ExecutionContext) SetVar(key string, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.variables[key] = v
}

func (c *ExecutionContext) Var(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.variables[key]
	return v, ok
}

func (c *ExecutionContext) DeleteVar(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.variables, key)
}

// WithVars 在持锁状态下访问变量袋。条件判定、动态数量解析都走这里，
// fn 里不要做任何阻塞调用。
func (c *ExecutionContext) WithVars(fn func(vars graph.Variables)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c.variables)
}

// VarsSnapshot 变量袋的浅拷贝，供状态查询与诊断
func (c *ExecutionContext) VarsSnapshot() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]any, len(c.variables))
	for k, v := range c.variables {
		out[k] = v
	}
	return out
}

// Cancel 置协作取消标志。解释器在走图前、每个步骤前、
// 以及可中断等待的每个 tick 检查它。
func (c *ExecutionContext) Cancel() {
	c.cancelled.Store(true)
}

func (c *ExecutionContext) Cancelled() bool {
	return c.cancelled.Load()
}

// RequestStop 停止实例时的双保险：置取消标志之外再写 _shouldStop，
// 让在途的条件步骤下一次检查就能看到。
func (c *ExecutionContext) RequestStop() {
	c.Cancel()
	c.SetVar(graph.VarShouldStop, true)
}

func (c *ExecutionContext) appendLog(stepID, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logs = append(c.logs, LogEntry{
		Time:    time.Now(),
		StepID:  stepID,
		Message: message,
	})
}

// Logs 追加日志的副本
func (c *ExecutionContext) Logs() []LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]LogEntry, len(c.logs))
	copy(out, c.logs)
	return out
}
