package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"
	"github.com/samber/lo"
	"github.com/solweave/strategy-engine/internal/service/analytics"
	"github.com/solweave/strategy-engine/internal/service/engine"
	"github.com/solweave/strategy-engine/internal/service/graph"
	"github.com/solweave/strategy-engine/internal/service/notification"
	"github.com/solweave/strategy-engine/internal/service/provider"
	"github.com/solweave/strategy-engine/internal/service/resilience"
)

type scheduler struct {
	graphs *graph.Builder
	interp engine.Executor
	feed   provider.EventFeed

	limiter   *resilience.RateLimiter
	breaker   *resilience.CircuitBreaker
	dlq       *resilience.DeadLetterQueue
	limits    *ownerLimits
	collector *analytics.Collector
	listeners []notification.StatusListener

	cfg Config

	mu        sync.RWMutex
	instances map[string]*runningInstance
	wg        sync.WaitGroup
}

type Option func(*scheduler)

func WithListeners(listeners ...notification.StatusListener) Option {
	return func(s *scheduler) {
		s.listeners = append(s.listeners, listeners...)
	}
}

func WithCollector(c *analytics.Collector) Option {
	return func(s *scheduler) {
		s.collector = c
	}
}

func NewScheduler(graphs *graph.Builder, interp engine.Executor, feed provider.EventFeed, cfg Config, opts ...Option) Scheduler {
	cfg = cfg.withDefaults()
	s := &scheduler{
		graphs:    graphs,
		interp:    interp,
		feed:      feed,
		limiter:   resilience.NewRateLimiter(cfg.RateLimit, cfg.RateWindow),
		breaker:   resilience.NewCircuitBreaker(cfg.CircuitThreshold),
		dlq:       resilience.NewDeadLetterQueue(cfg.DeadLetterCapacity),
		limits:    newOwnerLimits(cfg.OwnerMaxConcurrent, cfg.OwnerDailyStarts),
		cfg:       cfg,
		instances: make(map[string]*runningInstance),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start 创建并驱动一个新实例。容量 / 校验 / 互斥问题同步返回类型化错误；
// 实例跑起来之后的失败只能通过 Status/Health 和死信队列观察。
func (s *scheduler) Start(ctx context.Context, graphID string, opts StartOptions) (string, error) {
	g, ok := s.graphs.Graph(graphID)
	if !ok {
		return "", fmt.Errorf("%w: %s", graph.ErrGraphNotFound, graphID)
	}
	if g.Status() != graph.StatusActive {
		return "", fmt.Errorf("%w: %s", ErrGraphDisabled, graphID)
	}
	if s.breaker.IsOpen(graphID) {
		return "", fmt.Errorf("%w: %s", ErrCircuitOpen, graphID)
	}

	issues, err := s.graphs.Validate(graphID)
	if err != nil {
		return "", err
	}
	if graph.HasErrors(issues) {
		return "", fmt.Errorf("%w: %s: %v", ErrGraphInvalid, graphID, issues)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	activeTotal := 0
	activeForOwner := 0
	for _, inst := range s.instances {
		if !inst.active() {
			continue
		}
		activeTotal++
		if inst.owner == opts.Owner {
			activeForOwner++
		}
		if inst.graphID == graphID && (opts.Exclusive || inst.exclusive) {
			return "", fmt.Errorf("%w: %s", ErrAlreadyRunning, graphID)
		}
	}
	if activeTotal >= s.cfg.MaxInstances {
		return "", fmt.Errorf("%w: limit %d", ErrConcurrencyLimit, s.cfg.MaxInstances)
	}
	if err := s.limits.allowStart(opts.Owner, activeForOwner); err != nil {
		return "", err
	}

	driveCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	inst := &runningInstance{
		id:        uuid.NewString(),
		graphID:   graphID,
		owner:     opts.Owner,
		symbol:    opts.Symbol,
		exclusive: opts.Exclusive,
		execCtx:   engine.NewExecutionContext(graphID, g.StartStepID()),
		cancel:    cancel,
		events:    make(chan provider.TradeEvent, s.cfg.EventQueueSize),
		backoff: &backoff.Backoff{
			Min:    s.cfg.RestartDelayMin,
			Max:    s.cfg.RestartDelayMax,
			Factor: 2,
			Jitter: true,
		},
		status:    StatusRunning,
		startedAt: time.Now(),
	}
	inst.execCtx.InstanceID = inst.id
	s.instances[inst.id] = inst

	if s.collector != nil {
		s.collector.RunStarted(graphID, inst.id)
	}
	s.notify(inst, "", StatusRunning, "started")

	s.wg.Add(1)
	go s.drive(driveCtx, inst, g)

	slog.Info("instance started", "instance", inst.id, "graph", graphID, "owner", opts.Owner)
	return inst.id, nil
}

// drive 实例的唯一驱动 goroutine。定时器触发和事件队列排空是仅有的
// 两个推进点，两者都先观察取消信号再干活。事件严格按到达顺序串行处理。
func (s *scheduler) drive(ctx context.Context, inst *runningInstance, g *graph.StrategyGraph) {
	defer s.wg.Done()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-inst.events:
			if !s.handleEvent(ctx, inst, g, ev) {
				return
			}
			// 队列里还有事件就继续排空，同一实例绝不并发处理
		drain:
			for {
				select {
				case <-ctx.Done():
					return
				case ev := <-inst.events:
					if !s.handleEvent(ctx, inst, g, ev) {
						return
					}
				default:
					break drain
				}
			}
		case <-timer.C:
			cont, delay := s.invoke(ctx, inst, g, nil)
			if !cont {
				return
			}
			timer.Reset(delay)
		}
	}
}

func (s *scheduler) handleEvent(ctx context.Context, inst *runningInstance, g *graph.StrategyGraph, ev provider.TradeEvent) bool {
	switch inst.Status() {
	case StatusPaused:
		// 暂停期间不推进，事件进死信留痕
		s.dlq.Push(resilience.DeadLetter{
			GraphID:    g.ID,
			InstanceID: inst.id,
			Event:      &ev,
			Err:        "instance paused",
		})
		return true
	case StatusRunning:
	default:
		return false
	}

	// 先把事件字段写进变量袋，再走图
	inst.execCtx.WithVars(func(vars graph.Variables) {
		vars[graph.VarLastTradeType] = string(ev.Type)
		vars[graph.VarLastTradeSymbol] = ev.Symbol
		vars[graph.VarLastTradeSolAmount] = ev.SolAmount
		vars[graph.VarLastTradeTokenAmt] = ev.TokenAmount
		vars[graph.VarLastTradePrice] = ev.Price
		vars[graph.VarLastTradeSignature] = ev.Signature
		vars[graph.VarLastTradeTimestamp] = ev.Timestamp
	})

	cont, _ := s.invoke(ctx, inst, g, &ev)
	return cont
}

// invoke 发起一次解释器调用，返回 (是否继续驱动, 下一次延迟)
func (s *scheduler) invoke(ctx context.Context, inst *runningInstance, g *graph.StrategyGraph, ev *provider.TradeEvent) (bool, time.Duration) {
	switch inst.Status() {
	case StatusRunning:
	case StatusPaused:
		return true, s.cfg.PollInterval
	default:
		return false, 0
	}

	if !s.limiter.Allow(g.ID) {
		s.dlq.Push(resilience.DeadLetter{
			GraphID:    g.ID,
			InstanceID: inst.id,
			Event:      ev,
			Err:        "rate limited",
		})
		slog.Warn("invocation rate limited", "instance", inst.id, "graph", g.ID)
		return true, s.cfg.HeartbeatInterval
	}

	if s.breaker.IsOpen(g.ID) {
		s.dlq.Push(resilience.DeadLetter{
			GraphID:    g.ID,
			InstanceID: inst.id,
			Event:      ev,
			Err:        "circuit open",
		})
		s.stopInstance(inst, StatusStopped, "circuit breaker open")
		return false, 0
	}

	// isExecuting 守卫：进入前置位，所有返回路径上清除
	if !inst.executing.CompareAndSwap(false, true) {
		slog.Error("refusing concurrent invocation for instance", "instance", inst.id)
		return true, s.cfg.PollInterval
	}
	g.RecordInvocation(time.Now())
	outcome := s.interp.Execute(ctx, g, inst.execCtx)
	inst.executing.Store(false)

	// 解释器返回后立即复查状态：迟到的 stop 不能复活一个实例。
	// Paused 不是终态，在途结果照常结算，驱动循环留着等 Resume。
	switch inst.Status() {
	case StatusStopped, StatusError:
		return false, 0
	}

	if outcome.Err != nil {
		return s.handleRunError(inst, g, ev, outcome.Err)
	}

	s.breaker.RecordSuccess(g.ID)
	inst.backoff.Reset()
	inst.clearError()

	if outcome.SuspendedForSideEffect {
		action := s.performSideEffect(inst)
		if action == "await" && inst.isSubscribed() {
			// 反应模式下的空转：等事件或心跳
			return true, s.cfg.HeartbeatInterval
		}
		// 订阅/退订做完后尽快发起下一次调用
		return true, s.cfg.PollInterval
	}

	if outcome.Completed {
		g.RecordRunFinished(outcome.Success)
		s.stopInstance(inst, StatusStopped, "run completed")
		return false, 0
	}

	if inst.isSubscribed() {
		return true, s.cfg.HeartbeatInterval
	}
	return true, s.cfg.PollInterval
}

// handleRunError 运行级失败：重试退避，超过 maxRetries 后进入 error 状态
// 并停止调度，实例保留在注册表里供诊断。
func (s *scheduler) handleRunError(inst *runningInstance, g *graph.StrategyGraph, ev *provider.TradeEvent, err error) (bool, time.Duration) {
	retries := inst.recordError(err)
	slog.Error("interpreter run failed", "instance", inst.id, "graph", g.ID, "retry", retries, "error", err)

	if ev != nil {
		s.dlq.Push(resilience.DeadLetter{
			GraphID:    g.ID,
			InstanceID: inst.id,
			Event:      ev,
			Err:        err.Error(),
		})
	}

	if s.breaker.RecordFailure(g.ID) {
		slog.Error("circuit breaker tripped", "graph", g.ID)
		g.RecordRunFinished(false)
		s.stopInstance(inst, StatusError, "circuit breaker tripped")
		return false, 0
	}

	if retries >= s.cfg.MaxRetries {
		g.RecordRunFinished(false)
		s.stopInstance(inst, StatusError, "max retries exceeded")
		return false, 0
	}
	return true, inst.backoff.Duration()
}

// performSideEffect 执行条件步骤挂起时请求的副作用，返回动作名。
// 支持 "subscribe[:symbol]"、"unsubscribe[:symbol]" 和 "await"
// （只暂停走图，等下一个事件或心跳），symbol 缺省取 Start 参数。
func (s *scheduler) performSideEffect(inst *runningInstance) string {
	raw, ok := inst.execCtx.Var(graph.VarRequestSideEffect)
	if !ok {
		return ""
	}
	inst.execCtx.DeleteVar(graph.VarRequestSideEffect)

	request, _ := raw.(string)
	action, symbol, _ := strings.Cut(request, ":")
	if symbol == "" {
		symbol = inst.symbol
	}

	switch action {
	case "await":
	case "subscribe":
		if symbol == "" {
			slog.Warn("subscribe side effect without symbol", "instance", inst.id)
			return action
		}
		if s.feed.Subscribe(symbol, inst.id, inst.events) {
			inst.mu.Lock()
			inst.symbol = symbol
			inst.subscribed = true
			inst.reactive = true
			inst.mu.Unlock()
			slog.Info("instance switched to reactive mode", "instance", inst.id, "symbol", symbol)
		}
	case "unsubscribe":
		if symbol != "" {
			s.feed.Unsubscribe(symbol, inst.id)
		}
		inst.setSubscribed(false)
		inst.setReactive(false)
	default:
		slog.Warn("unknown side effect request", "instance", inst.id, "request", request)
	}
	return action
}

// stopInstance 停止的全部动作：取消信号、状态翻转、_shouldStop 双保险、
// 取消定时器（经由 ctx）、退订事件源、通知观察者。可与在途调用并发。
func (s *scheduler) stopInstance(inst *runningInstance, to InstanceStatus, reason string) {
	from, changed := inst.transition(to)

	inst.execCtx.RequestStop()
	inst.cancel()

	inst.mu.Lock()
	symbol, subscribed := inst.symbol, inst.subscribed
	inst.subscribed = false
	inst.mu.Unlock()
	if subscribed {
		s.feed.Unsubscribe(symbol, inst.id)
	}

	if changed {
		if s.collector != nil {
			s.collector.RunFinished(inst.id, to == StatusStopped)
		}
		s.notify(inst, from, to, reason)
		slog.Info("instance stopped", "instance", inst.id, "graph", inst.graphID, "status", to, "reason", reason)
	}
}

func (s *scheduler) notify(inst *runningInstance, from, to InstanceStatus, reason string) {
	change := notification.StatusChange{
		InstanceID: inst.id,
		GraphID:    inst.graphID,
		From:       string(from),
		To:         string(to),
		Reason:     reason,
		At:         time.Now(),
	}
	for _, l := range s.listeners {
		l.OnStatusChange(context.Background(), change)
	}
}

// Stop 幂等停止。未知实例返回 false。
func (s *scheduler) Stop(instanceID string) bool {
	s.mu.RLock()
	inst, ok := s.instances[instanceID]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	s.stopInstance(inst, StatusStopped, "stopped by operator")
	return true
}

// StopAll 停止全部实例并等待驱动 goroutine 退出
func (s *scheduler) StopAll() {
	s.mu.RLock()
	instances := lo.Values(s.instances)
	s.mu.RUnlock()

	for _, inst := range instances {
		if inst.active() {
			s.stopInstance(inst, StatusStopped, "scheduler shutdown")
		}
	}
	s.wg.Wait()
}

func (s *scheduler) Pause(instanceID string) bool {
	s.mu.RLock()
	inst, ok := s.instances[instanceID]
	s.mu.RUnlock()
	if !ok || inst.Status() != StatusRunning {
		return false
	}
	from, changed := inst.transition(StatusPaused)
	if changed {
		s.notify(inst, from, StatusPaused, "paused by operator")
	}
	return changed
}

func (s *scheduler) Resume(instanceID string) bool {
	s.mu.RLock()
	inst, ok := s.instances[instanceID]
	s.mu.RUnlock()
	if !ok || inst.Status() != StatusPaused {
		return false
	}
	from, changed := inst.transition(StatusRunning)
	if changed {
		s.notify(inst, from, StatusRunning, "resumed by operator")
	}
	return changed
}

func (s *scheduler) Status(instanceID string) (InstanceInfo, bool) {
	s.mu.RLock()
	inst, ok := s.instances[instanceID]
	s.mu.RUnlock()
	if !ok {
		return InstanceInfo{}, false
	}
	return inst.info(), true
}

func (s *scheduler) List() []InstanceInfo {
	s.mu.RLock()
	instances := lo.Values(s.instances)
	s.mu.RUnlock()

	infos := lo.Map(instances, func(inst *runningInstance, _ int) InstanceInfo {
		return inst.info()
	})
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].StartedAt.Before(infos[j].StartedAt)
	})
	return infos
}

func (s *scheduler) Health() Health {
	infos := s.List()
	h := Health{
		Total:       len(infos),
		CircuitOpen: s.breaker.OpenKeys(),
		DeadLetters: s.dlq.Len(),
		Instances:   infos,
	}
	for _, info := range infos {
		switch info.Status {
		case StatusRunning:
			h.Running++
		case StatusPaused:
			h.Paused++
		case StatusStopped:
			h.Stopped++
		case StatusError:
			h.Errored++
		}
	}
	return h
}

func (s *scheduler) ResetCircuitBreaker(graphID string) {
	s.breaker.Reset(graphID)
	slog.Info("circuit breaker reset", "graph", graphID)
}

func (s *scheduler) DeadLetters(limit int) []resilience.DeadLetter {
	return s.dlq.Entries(limit)
}

func (s *scheduler) ClearDeadLetters() {
	s.dlq.Clear()
}
