package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/solweave/strategy-engine/internal/service/resilience"
)

var (
	ErrAlreadyRunning     = errors.New("an exclusive instance of this graph is already running")
	ErrConcurrencyLimit   = errors.New("max running instances exceeded")
	ErrCircuitOpen        = errors.New("circuit breaker is open for this graph")
	ErrGraphDisabled      = errors.New("graph is disabled")
	ErrGraphInvalid       = errors.New("graph failed validation")
	ErrOwnerInstanceLimit = errors.New("owner concurrent instance limit exceeded")
	ErrOwnerDailyLimit    = errors.New("owner daily invocation limit exceeded")
)

// InstanceStatus 运行实例状态
type InstanceStatus string

const (
	StatusRunning InstanceStatus = "running"
	StatusStopped InstanceStatus = "stopped"
	StatusPaused  InstanceStatus = "paused"
	StatusError   InstanceStatus = "error"
)

// StartOptions 一次 Start 的参数
type StartOptions struct {
	// Owner 多租户场景的归属方，空值视为单租户，不做配额限制
	Owner string
	// Exclusive 同一张图是否只允许一个活跃实例
	Exclusive bool
	// Symbol 反应模式下订阅的交易对
	Symbol string
}

// InstanceInfo 实例状态快照
type InstanceInfo struct {
	ID         string
	GraphID    string
	Owner      string
	Status     InstanceStatus
	Reactive   bool
	RetryCount int
	LastError  string
	StartedAt  time.Time
	Variables  map[string]any
}

// Health 聚合健康信息
type Health struct {
	Total       int
	Running     int
	Paused      int
	Stopped     int
	Errored     int
	CircuitOpen []string
	DeadLetters int
	Instances   []InstanceInfo
}

// Scheduler 实例注册表 / 调度器对外契约
type Scheduler interface {
	Start(ctx context.Context, graphID string, opts StartOptions) (string, error)
	Stop(instanceID string) bool
	StopAll()
	Pause(instanceID string) bool
	Resume(instanceID string) bool
	Status(instanceID string) (InstanceInfo, bool)
	List() []InstanceInfo
	Health() Health
	ResetCircuitBreaker(graphID string)
	DeadLetters(limit int) []resilience.DeadLetter
	ClearDeadLetters()
}

// Config 调度器配置
type Config struct {
	// MaxInstances 全局最大活跃实例数
	MaxInstances int
	// MaxRetries 运行级错误的最大重试次数，超过后实例进入 error 状态
	MaxRetries int
	// PollInterval 轮询模式的固定间隔
	PollInterval time.Duration
	// HeartbeatInterval 反应模式下的心跳间隔（只做存活检查，不是轮询）
	HeartbeatInterval time.Duration
	// RestartDelayMin / Max 重试退避的区间
	RestartDelayMin time.Duration
	RestartDelayMax time.Duration
	// EventQueueSize 每实例事件队列容量
	EventQueueSize int

	RateLimit  int
	RateWindow time.Duration

	CircuitThreshold   int
	DeadLetterCapacity int

	// OwnerMaxConcurrent / OwnerDailyStarts 租户配额，0 表示不限制
	OwnerMaxConcurrent int
	OwnerDailyStarts   int
}

func (c Config) withDefaults() Config {
	if c.MaxInstances <= 0 {
		c.MaxInstances = 50
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = time.Minute
	}
	if c.RestartDelayMin <= 0 {
		c.RestartDelayMin = time.Second
	}
	if c.RestartDelayMax <= 0 {
		c.RestartDelayMax = 30 * time.Second
	}
	if c.EventQueueSize <= 0 {
		c.EventQueueSize = 256
	}
	if c.RateLimit <= 0 {
		c.RateLimit = 60
	}
	if c.RateWindow <= 0 {
		c.RateWindow = time.Minute
	}
	if c.CircuitThreshold <= 0 {
		c.CircuitThreshold = 5
	}
	if c.DeadLetterCapacity <= 0 {
		c.DeadLetterCapacity = 1000
	}
	return c
}
