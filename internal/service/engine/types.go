package engine

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"github.com/solweave/strategy-engine/internal/service/graph"
)

var (
	// ErrLoopBudgetExceeded 一次解释器调用内步骤转移次数超限，
	// 把图编排层面的死循环变成可检测的失败而不是挂死。
	ErrLoopBudgetExceeded = errors.New("loop budget exceeded")
)

// Outcome 一次解释器走图的结果。Completed=true 为终态，不再调度。
type Outcome struct {
	Success                bool
	Completed              bool
	SuspendedForSideEffect bool
	Err                    error
	Context                *ExecutionContext
}

// Executor 解释器契约：给定图和上下文，推进到部分或全部完成
type Executor interface {
	Execute(ctx context.Context, g *graph.StrategyGraph, ec *ExecutionContext) Outcome
}

// Recorder 注入的分析采集器，解释器对它只做 fire-and-forget 调用。
// 同一张图可以有多个并发实例，按 instanceID 精确归账。
type Recorder interface {
	RecordStep(graphID, instanceID, stepID string, success bool)
	RecordTrade(graphID, instanceID, side string, amount decimal.Decimal)
}
