package graph

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrGraphNotFound    = errors.New("graph not found")
	ErrDuplicateGraphID = errors.New("duplicate graph id")
	ErrDuplicateStepID  = errors.New("duplicate step id")
	ErrStepNotFound     = errors.New("step not found")
	ErrGraphFrozen      = errors.New("graph is frozen, structural mutation rejected")
)

// StepKind 步骤类型
type StepKind string

const (
	KindBuy            StepKind = "buy"
	KindSell           StepKind = "sell"
	KindWaitPriceAbove StepKind = "wait_price_above"
	KindWaitPriceBelow StepKind = "wait_price_below"
	KindGetPrice       StepKind = "get_price"
	KindWait           StepKind = "wait"
	KindCondition      StepKind = "condition"
)

// Variables 执行上下文变量袋，key 约定见下方 Var* 常量
type Variables map[string]any

// 上下文变量 key 约定
const (
	VarCurrentPrice      = "currentPrice"
	VarSolAmountToBuy    = "solAmountToBuy"
	VarTokenAmountToSell = "tokenAmountToSell"
	VarShouldStop        = "_shouldStop"
	VarRequestSideEffect = "_requestSideEffect"

	// 外部事件写入的字段
	VarLastTradeType      = "lastTradeType"
	VarLastTradeSymbol    = "lastTradeSymbol"
	VarLastTradeSolAmount = "lastTradeSolAmount"
	VarLastTradeTokenAmt  = "lastTradeTokenAmount"
	VarLastTradePrice     = "lastTradePrice"
	VarLastTradeSignature = "lastTradeSignature"
	VarLastTradeTimestamp = "lastTradeTimestamp"
)

// Evaluator 条件步骤的判定函数，返回 true 走 OnSuccess，false 走 OnFailure。
// 唯一允许携带调用方逻辑的步骤类型（循环、计数、动态分支都靠它实现）。
type Evaluator func(vars Variables) bool

// Amount 交易数量。要么是字面值，要么在执行时从上下文变量解析。
// 取代原设计的 -1 魔数约定。
type Amount struct {
	literal decimal.Decimal
	key     string
	dynamic bool
}

func LiteralAmount(v decimal.Decimal) Amount {
	return Amount{literal: v}
}

func AmountFromContext(key string) Amount {
	return Amount{key: key, dynamic: true}
}

func (a Amount) IsDynamic() bool {
	return a.dynamic
}

func (a Amount) IsZero() bool {
	return !a.dynamic && a.literal.IsZero()
}

func (a Amount) Literal() decimal.Decimal {
	return a.literal
}

func (a Amount) ContextKey() string {
	return a.key
}

// Resolve 在执行时解析数量。动态数量缺失或非正数时返回错误，
// 调用方必须把它当作该步骤的失败处理（走 OnFailure），绝不能带着
// 非正数量去调交易接口。
func (a Amount) Resolve(vars Variables) (decimal.Decimal, error) {
	if !a.dynamic {
		if a.literal.LessThanOrEqual(decimal.Zero) {
			return decimal.Zero, fmt.Errorf("literal amount must be positive, got %s", a.literal)
		}
		return a.literal, nil
	}

	raw, ok := vars[a.key]
	if !ok {
		return decimal.Zero, fmt.Errorf("dynamic amount: variable %q not set", a.key)
	}

	var v decimal.Decimal
	switch x := raw.(type) {
	case decimal.Decimal:
		v = x
	case float64:
		v = decimal.NewFromFloat(x)
	case int:
		v = decimal.NewFromInt(int64(x))
	case int64:
		v = decimal.NewFromInt(x)
	case string:
		parsed, err := decimal.NewFromString(x)
		if err != nil {
			return decimal.Zero, fmt.Errorf("dynamic amount: variable %q not numeric: %w", a.key, err)
		}
		v = parsed
	default:
		return decimal.Zero, fmt.Errorf("dynamic amount: variable %q has unsupported type %T", a.key, raw)
	}

	if v.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("dynamic amount: variable %q must be positive, got %s", a.key, v)
	}
	return v, nil
}

// Step 策略图中的一个节点。payload 字段按 Kind 取用，其余留零值。
type Step struct {
	ID   string
	Kind StepKind

	Amount      Amount          // buy / sell
	TargetPrice decimal.Decimal // wait_price_above / wait_price_below
	Timeout     time.Duration   // wait_price_above / wait_price_below
	Duration    time.Duration   // wait
	Condition   Evaluator       // condition

	OnSuccess string
	OnFailure string
}

// Status 图状态，冻结后仍可由操作员修改
type Status string

const (
	StatusActive   Status = "active"
	StatusDisabled Status = "disabled"
)

// RiskLimits 风控参数，冻结后仍可由操作员修改
type RiskLimits struct {
	MaxAmountPerTrade decimal.Decimal
	MaxRetries        int
}

// Metrics 图级别运行统计，由调度器更新
type Metrics struct {
	Invocations   int64
	CompletedRuns int64
	FailedRuns    int64
	LastRunAt     time.Time
}

// StrategyGraph 一张策略图。结构（步骤与边）在第一次执行后冻结，
// 之后的结构性修改一律拒绝；RiskLimits / Status / Metrics 除外。
type StrategyGraph struct {
	ID   string
	Name string

	startStepID string
	startSet    bool
	steps       []Step
	index       map[string]int

	mu         sync.RWMutex
	frozen     bool
	status     Status
	riskLimits RiskLimits
	metrics    Metrics
}

func (g *StrategyGraph) StartStepID() string {
	return g.startStepID
}

// Step 按 id 查找步骤
func (g *StrategyGraph) Step(id string) (Step, bool) {
	i, ok := g.index[id]
	if !ok {
		return Step{}, false
	}
	return g.steps[i], true
}

// Steps 按加入顺序返回所有步骤的副本
func (g *StrategyGraph) Steps() []Step {
	out := make([]Step, len(g.steps))
	copy(out, g.steps)
	return out
}

func (g *StrategyGraph) Len() int {
	return len(g.steps)
}

// 结构性修改与冻结检查必须在同一临界区内完成：解释器在 Freeze 之后
// 不加锁地读步骤，靠的是“冻结后结构绝不再变”这一不变量。

func (g *StrategyGraph) addStep(step Step) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.frozen {
		return fmt.Errorf("%w: %s", ErrGraphFrozen, g.ID)
	}
	if _, exists := g.index[step.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateStepID, step.ID)
	}
	g.index[step.ID] = len(g.steps)
	g.steps = append(g.steps, step)
	if !g.startSet && len(g.steps) == 1 {
		g.startStepID = step.ID
	}
	return nil
}

func (g *StrategyGraph) setStartStep(stepID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.frozen {
		return fmt.Errorf("%w: %s", ErrGraphFrozen, g.ID)
	}
	if _, exists := g.index[stepID]; !exists {
		return fmt.Errorf("%w: %s", ErrStepNotFound, stepID)
	}
	g.startStepID = stepID
	g.startSet = true
	return nil
}

func (g *StrategyGraph) bindCondition(stepID string, eval Evaluator) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.frozen {
		return fmt.Errorf("%w: %s", ErrGraphFrozen, g.ID)
	}
	i, exists := g.index[stepID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrStepNotFound, stepID)
	}
	if g.steps[i].Kind != KindCondition {
		return fmt.Errorf("step %s is not a condition step", stepID)
	}
	g.steps[i].Condition = eval
	return nil
}

// Freeze 标记结构冻结。第一次执行前由解释器调用，幂等。
func (g *StrategyGraph) Freeze() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.frozen = true
}

func (g *StrategyGraph) Frozen() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.frozen
}

func (g *StrategyGraph) Status() Status {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.status
}

func (g *StrategyGraph) SetStatus(s Status) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.status = s
}

func (g *StrategyGraph) RiskLimits() RiskLimits {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.riskLimits
}

func (g *StrategyGraph) SetRiskLimits(r RiskLimits) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.riskLimits = r
}

func (g *StrategyGraph) Metrics() Metrics {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.metrics
}

// RecordInvocation 调度器每次调用解释器后记账
func (g *StrategyGraph) RecordInvocation(at time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.metrics.Invocations++
	g.metrics.LastRunAt = at
}

func (g *StrategyGraph) RecordRunFinished(completed bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if completed {
		g.metrics.CompletedRuns++
	} else {
		g.metrics.FailedRuns++
	}
}

// restoreMetrics 从持久化记录恢复统计，仅加载时使用
func (g *StrategyGraph) restoreMetrics(m Metrics) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.metrics = m
}
