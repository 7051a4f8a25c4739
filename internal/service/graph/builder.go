package graph

import (
	"fmt"
	"sync"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// IssueSeverity 校验问题级别。error 拒绝执行，warning 仅提示。
type IssueSeverity string

const (
	SeverityError   IssueSeverity = "error"
	SeverityWarning IssueSeverity = "warning"
)

type ValidationIssue struct {
	Severity IssueSeverity
	StepID   string
	Message  string
}

func (i ValidationIssue) String() string {
	if i.StepID == "" {
		return fmt.Sprintf("[%s] %s", i.Severity, i.Message)
	}
	return fmt.Sprintf("[%s] step %s: %s", i.Severity, i.StepID, i.Message)
}

// HasErrors 是否包含 error 级别的问题
func HasErrors(issues []ValidationIssue) bool {
	return lo.SomeBy(issues, func(i ValidationIssue) bool {
		return i.Severity == SeverityError
	})
}

// Builder 图注册表 + 构建 API。create -> add steps -> (可选) validate，
// 之后按 id 查找，第一次执行后结构冻结。
type Builder struct {
	mu     sync.RWMutex
	graphs map[string]*StrategyGraph
}

func NewBuilder() *Builder {
	return &Builder{
		graphs: make(map[string]*StrategyGraph),
	}
}

func (b *Builder) CreateGraph(id, name string) (*StrategyGraph, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.graphs[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateGraphID, id)
	}
	g := &StrategyGraph{
		ID:     id,
		Name:   name,
		index:  make(map[string]int),
		status: StatusActive,
	}
	b.graphs[id] = g
	return g, nil
}

// normalizeLegacyAmount 兼容旧式 -1 哨兵：交易步骤的负数字面量
// 视为“执行时从上下文按约定 key 解析”。
func normalizeLegacyAmount(step Step) Step {
	if step.Kind != KindBuy && step.Kind != KindSell {
		return step
	}
	if step.Amount.IsDynamic() || !step.Amount.Literal().IsNegative() {
		return step
	}
	key := VarSolAmountToBuy
	if step.Kind == KindSell {
		key = VarTokenAmountToSell
	}
	step.Amount = AmountFromContext(key)
	return step
}

// AddStep 向图中追加步骤。第一个加入的步骤自动成为起始步骤，
// 除非之后用 SetStartStep 显式覆盖。
func (b *Builder) AddStep(graphID string, step Step) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	g, ok := b.graphs[graphID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrGraphNotFound, graphID)
	}
	return g.addStep(normalizeLegacyAmount(step))
}

func (b *Builder) SetStartStep(graphID, stepID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	g, ok := b.graphs[graphID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrGraphNotFound, graphID)
	}
	return g.setStartStep(stepID)
}

// BindCondition 给条件步骤绑定判定函数。从持久化记录加载的图
// 无法携带闭包，加载后、首次执行前必须逐个重新绑定。
func (b *Builder) BindCondition(graphID, stepID string, eval Evaluator) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	g, ok := b.graphs[graphID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrGraphNotFound, graphID)
	}
	return g.bindCondition(stepID, eval)
}

func (b *Builder) Graph(id string) (*StrategyGraph, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	g, ok := b.graphs[id]
	return g, ok
}

func (b *Builder) Graphs() []*StrategyGraph {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return lo.Values(b.graphs)
}

// Validate 校验一张图：步骤非空、边目标可解析、交易数量为正数或动态来源、
// 从起始步骤出发的可达性（不可达仅为 warning）。
func (b *Builder) Validate(graphID string) ([]ValidationIssue, error) {
	b.mu.RLock()
	g, ok := b.graphs[graphID]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGraphNotFound, graphID)
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	var issues []ValidationIssue

	if len(g.steps) == 0 {
		issues = append(issues, ValidationIssue{
			Severity: SeverityError,
			Message:  "graph has no steps",
		})
		return issues, nil
	}

	for _, step := range g.steps {
		for _, target := range []string{step.OnSuccess, step.OnFailure} {
			if target == "" {
				continue
			}
			if _, exists := g.index[target]; !exists {
				issues = append(issues, ValidationIssue{
					Severity: SeverityError,
					StepID:   step.ID,
					Message:  fmt.Sprintf("edge target %q does not exist", target),
				})
			}
		}

		switch step.Kind {
		case KindBuy, KindSell:
			if !step.Amount.IsDynamic() && step.Amount.Literal().LessThanOrEqual(decimal.Zero) {
				issues = append(issues, ValidationIssue{
					Severity: SeverityError,
					StepID:   step.ID,
					Message:  "trade amount must be a positive number or dynamic-from-context",
				})
			}
		case KindWaitPriceAbove, KindWaitPriceBelow:
			if step.TargetPrice.LessThanOrEqual(decimal.Zero) {
				issues = append(issues, ValidationIssue{
					Severity: SeverityError,
					StepID:   step.ID,
					Message:  "target price must be positive",
				})
			}
		case KindCondition:
			if step.Condition == nil {
				issues = append(issues, ValidationIssue{
					Severity: SeverityWarning,
					StepID:   step.ID,
					Message:  "condition evaluator not bound",
				})
			}
		}
	}

	// 可达性检查：从起始步骤沿 OnSuccess/OnFailure 正向遍历
	reached := make(map[string]bool, len(g.steps))
	queue := []string{g.startStepID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if reached[id] {
			continue
		}
		i, exists := g.index[id]
		if !exists {
			continue
		}
		reached[id] = true
		step := g.steps[i]
		if step.OnSuccess != "" {
			queue = append(queue, step.OnSuccess)
		}
		if step.OnFailure != "" {
			queue = append(queue, step.OnFailure)
		}
	}

	unreached := lo.Filter(g.steps, func(s Step, _ int) bool {
		return !reached[s.ID]
	})
	for _, s := range unreached {
		issues = append(issues, ValidationIssue{
			Severity: SeverityWarning,
			StepID:   s.ID,
			Message:  "step is unreachable from start step",
		})
	}

	return issues, nil
}

// Remove 从注册表移除一张图。运行中实例持有的指针不受影响。
func (b *Builder) Remove(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.graphs[id]; !ok {
		return false
	}
	delete(b.graphs, id)
	return true
}
