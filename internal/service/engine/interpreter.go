package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/solweave/strategy-engine/internal/service/graph"
	"github.com/solweave/strategy-engine/internal/service/provider"
)

const (
	// DefaultLoopBudget 单次解释器调用允许的最大步骤转移数
	DefaultLoopBudget = 1000
	// DefaultWaitTick wait 步骤的切片长度，每个切片检查一次取消标志
	DefaultWaitTick = time.Second
)

// Interpreter 步骤图解释器。沿 OnSuccess/OnFailure 边执行步骤，
// 直到图自然终止、超出循环预算、观察到取消、或某个步骤请求挂起。
// 不做任何订阅类 I/O，副作用请求通过 Outcome 交还给调度器。
type Interpreter struct {
	provider   provider.TradingProvider
	loopBudget int
	waitTick   time.Duration
	recorder   Recorder
}

type Option func(*Interpreter)

func WithLoopBudget(n int) Option {
	return func(it *Interpreter) {
		it.loopBudget = n
	}
}

func WithWaitTick(d time.Duration) Option {
	return func(it *Interpreter) {
		it.waitTick = d
	}
}

func WithRecorder(r Recorder) Option {
	return func(it *Interpreter) {
		it.recorder = r
	}
}

func NewInterpreter(p provider.TradingProvider, opts ...Option) *Interpreter {
	it := &Interpreter{
		provider:   p,
		loopBudget: DefaultLoopBudget,
		waitTick:   DefaultWaitTick,
	}
	for _, opt := range opts {
		opt(it)
	}
	return it
}

// stepOutcome 单步执行的内部结果
type stepOutcome struct {
	success     bool
	suspended   bool
	interrupted bool
	value       any
	errMsg      string
}

// Execute 从 ec.CurrentStepID 开始走图。取消时立即返回
// Completed=true / Success=true 并保留上下文供检查。
func (it *Interpreter) Execute(ctx context.Context, g *graph.StrategyGraph, ec *ExecutionContext) Outcome {
	// 第一个执行步骤落地即冻结结构
	g.Freeze()

	if it.cancelled(ctx, ec) {
		return Outcome{Success: true, Completed: true, Context: ec}
	}

	lastSuccess := true
	for transitions := 0; transitions < it.loopBudget; transitions++ {
		if ec.CurrentStepID == "" {
			// 图自然终止
			return Outcome{Success: lastSuccess, Completed: true, Context: ec}
		}
		if it.cancelled(ctx, ec) {
			return Outcome{Success: true, Completed: true, Context: ec}
		}

		step, ok := g.Step(ec.CurrentStepID)
		if !ok {
			return Outcome{
				Err:     fmt.Errorf("%w: %s (graph %s)", graph.ErrStepNotFound, ec.CurrentStepID, g.ID),
				Context: ec,
			}
		}

		res := it.runStep(ctx, g, ec, step)

		ec.StepResults[step.ID] = StepResult{
			StepID:     step.ID,
			Success:    res.success,
			Value:      res.value,
			Err:        res.errMsg,
			FinishedAt: time.Now(),
		}
		if res.errMsg != "" {
			ec.appendLog(step.ID, res.errMsg)
		}
		if it.recorder != nil {
			it.recorder.RecordStep(g.ID, ec.InstanceID, step.ID, res.success)
		}

		if res.interrupted {
			// 可中断等待观察到了取消
			return Outcome{Success: true, Completed: true, Context: ec}
		}

		next := step.OnFailure
		if res.success {
			next = step.OnSuccess
		}
		ec.CurrentStepID = next
		lastSuccess = res.success

		if res.suspended {
			// 调度器先执行副作用（比如订阅事件源），再发起下一次调用
			return Outcome{
				Success:                res.success,
				Completed:              next == "",
				SuspendedForSideEffect: next != "",
				Context:                ec,
			}
		}
		if next == "" {
			return Outcome{Success: res.success, Completed: true, Context: ec}
		}
	}

	return Outcome{
		Err:     fmt.Errorf("%w: graph %s, ceiling %d", ErrLoopBudgetExceeded, g.ID, it.loopBudget),
		Context: ec,
	}
}

func (it *Interpreter) cancelled(ctx context.Context, ec *ExecutionContext) bool {
	if ec.Cancelled() || ctx.Err() != nil {
		return true
	}
	if v, ok := ec.Var(graph.VarShouldStop); ok {
		stop, _ := v.(bool)
		return stop
	}
	return false
}

func (it *Interpreter) runStep(ctx context.Context, g *graph.StrategyGraph, ec *ExecutionContext, step graph.Step) stepOutcome {
	switch step.Kind {
	case graph.KindBuy:
		return it.runTrade(ctx, g, ec, step, provider.TradeSideBuy)
	case graph.KindSell:
		return it.runTrade(ctx, g, ec, step, provider.TradeSideSell)
	case graph.KindWaitPriceAbove, graph.KindWaitPriceBelow:
		return it.runWaitPrice(ctx, ec, step)
	case graph.KindGetPrice:
		return it.runGetPrice(ctx, ec, step)
	case graph.KindWait:
		return it.runWait(ctx, ec, step)
	case graph.KindCondition:
		return it.runCondition(ec, step)
	default:
		return stepOutcome{errMsg: fmt.Sprintf("unknown step kind %q", step.Kind)}
	}
}

func (it *Interpreter) runTrade(ctx context.Context, g *graph.StrategyGraph, ec *ExecutionContext, step graph.Step, side provider.TradeSide) stepOutcome {
	var (
		amount decimal.Decimal
		err    error
	)
	ec.WithVars(func(vars graph.Variables) {
		amount, err = step.Amount.Resolve(vars)
	})
	if err != nil {
		// 该步骤失败，不是整次运行失败，走 OnFailure
		return stepOutcome{errMsg: err.Error()}
	}

	if limit := g.RiskLimits().MaxAmountPerTrade; !limit.IsZero() && amount.GreaterThan(limit) {
		return stepOutcome{errMsg: fmt.Sprintf("amount %s exceeds risk limit %s", amount, limit)}
	}

	var signature string
	if side == provider.TradeSideBuy {
		signature, err = it.provider.Buy(ctx, amount)
	} else {
		signature, err = it.provider.Sell(ctx, amount)
	}
	if err != nil {
		return stepOutcome{errMsg: fmt.Sprintf("%s failed: %v", side, err)}
	}

	if it.recorder != nil {
		it.recorder.RecordTrade(g.ID, ec.InstanceID, string(side), amount)
	}
	return stepOutcome{success: true, value: signature}
}

func (it *Interpreter) runWaitPrice(ctx context.Context, ec *ExecutionContext, step graph.Step) stepOutcome {
	var (
		res provider.WaitResult
		err error
	)
	if step.Kind == graph.KindWaitPriceAbove {
		res, err = it.provider.WaitForPriceAbove(ctx, step.TargetPrice, step.Timeout)
	} else {
		res, err = it.provider.WaitForPriceBelow(ctx, step.TargetPrice, step.Timeout)
	}
	if err != nil {
		return stepOutcome{errMsg: fmt.Sprintf("price wait failed: %v", err)}
	}
	if !res.Success {
		// 超时是失败结果，不是异常
		return stepOutcome{errMsg: fmt.Sprintf("price did not reach %s within %s", step.TargetPrice, step.Timeout)}
	}
	ec.SetVar(graph.VarCurrentPrice, res.Price)
	return stepOutcome{success: true, value: res.Price}
}

// runGetPrice 价格源不可用不会让运行失败，使用该值的后续步骤自行校验
func (it *Interpreter) runGetPrice(ctx context.Context, ec *ExecutionContext, step graph.Step) stepOutcome {
	quote, err := it.provider.GetPrice(ctx)
	if err != nil {
		slog.Warn("price source unavailable", "graph", ec.GraphID, "step", step.ID, "error", err)
		return stepOutcome{success: true}
	}
	ec.SetVar(graph.VarCurrentPrice, quote.Price)
	return stepOutcome{success: true, value: quote}
}

// runWait 切片睡眠，每个 tick 观察一次取消标志，
// 取消时给出显式的 interrupted 结果而不是阻塞到睡满。
func (it *Interpreter) runWait(ctx context.Context, ec *ExecutionContext, step graph.Step) stepOutcome {
	deadline := time.Now().Add(step.Duration)
	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return stepOutcome{success: true}
		}
		if ec.Cancelled() {
			return stepOutcome{success: true, interrupted: true, errMsg: "wait interrupted by cancellation"}
		}

		tick := it.waitTick
		if remaining < tick {
			tick = remaining
		}
		timer.Reset(tick)
		select {
		case <-ctx.Done():
			return stepOutcome{success: true, interrupted: true, errMsg: "wait interrupted by cancellation"}
		case <-timer.C:
		}
	}
}

func (it *Interpreter) runCondition(ec *ExecutionContext, step graph.Step) stepOutcome {
	if step.Condition == nil {
		return stepOutcome{errMsg: "condition evaluator not bound"}
	}

	var ok bool
	ec.WithVars(func(vars graph.Variables) {
		ok = step.Condition(vars)
	})

	// 条件步骤可以通过 _requestSideEffect 请求调度器执行副作用
	_, suspended := ec.Var(graph.VarRequestSideEffect)
	return stepOutcome{success: ok, suspended: suspended}
}
