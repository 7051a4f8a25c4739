package graph

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/solweave/strategy-engine/pkg/decimalx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilder_CreateGraph(t *testing.T) {
	b := NewBuilder()

	g, err := b.CreateGraph("g1", "test graph")
	require.NoError(t, err)
	assert.Equal(t, "g1", g.ID)

	_, err = b.CreateGraph("g1", "again")
	assert.ErrorIs(t, err, ErrDuplicateGraphID)

	_, ok := b.Graph("g1")
	assert.True(t, ok)
	_, ok = b.Graph("missing")
	assert.False(t, ok)
}

func TestBuilder_AddStep(t *testing.T) {
	b := NewBuilder()
	_, err := b.CreateGraph("g1", "test")
	require.NoError(t, err)

	err = b.AddStep("missing", Step{ID: "a", Kind: KindGetPrice})
	assert.ErrorIs(t, err, ErrGraphNotFound)

	require.NoError(t, b.AddStep("g1", Step{ID: "a", Kind: KindGetPrice}))
	err = b.AddStep("g1", Step{ID: "a", Kind: KindWait})
	assert.ErrorIs(t, err, ErrDuplicateStepID)

	// 第一个步骤自动成为起始步骤
	g, _ := b.Graph("g1")
	assert.Equal(t, "a", g.StartStepID())

	require.NoError(t, b.AddStep("g1", Step{ID: "b", Kind: KindWait}))
	assert.Equal(t, "a", g.StartStepID())

	require.NoError(t, b.SetStartStep("g1", "b"))
	assert.Equal(t, "b", g.StartStepID())

	err = b.SetStartStep("g1", "missing")
	assert.ErrorIs(t, err, ErrStepNotFound)
}

func TestBuilder_FrozenGraphRejectsMutation(t *testing.T) {
	b := NewBuilder()
	_, err := b.CreateGraph("g1", "test")
	require.NoError(t, err)
	require.NoError(t, b.AddStep("g1", Step{ID: "a", Kind: KindGetPrice}))
	require.NoError(t, b.AddStep("g1", Step{ID: "check", Kind: KindCondition}))

	g, _ := b.Graph("g1")
	g.Freeze()

	err = b.AddStep("g1", Step{ID: "b", Kind: KindWait})
	assert.ErrorIs(t, err, ErrGraphFrozen)
	err = b.SetStartStep("g1", "a")
	assert.ErrorIs(t, err, ErrGraphFrozen)
	err = b.BindCondition("g1", "check", func(vars Variables) bool { return true })
	assert.ErrorIs(t, err, ErrGraphFrozen)

	// 冻结后运行时字段仍可修改
	g.SetStatus(StatusDisabled)
	assert.Equal(t, StatusDisabled, g.Status())
	g.SetRiskLimits(RiskLimits{MaxAmountPerTrade: decimalx.MustFromString("5")})
	assert.Equal(t, "5", g.RiskLimits().MaxAmountPerTrade.String())
}

func TestBuilder_ValidateEmptyGraph(t *testing.T) {
	b := NewBuilder()
	_, err := b.CreateGraph("g1", "empty")
	require.NoError(t, err)

	issues, err := b.Validate("g1")
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, SeverityError, issues[0].Severity)

	_, err = b.Validate("missing")
	assert.ErrorIs(t, err, ErrGraphNotFound)
}

func TestBuilder_ValidateEdgeTargets(t *testing.T) {
	b := NewBuilder()
	_, err := b.CreateGraph("g1", "test")
	require.NoError(t, err)
	require.NoError(t, b.AddStep("g1", Step{
		ID:        "a",
		Kind:      KindGetPrice,
		OnSuccess: "nowhere",
	}))

	issues, err := b.Validate("g1")
	require.NoError(t, err)
	assert.True(t, HasErrors(issues))
	assert.Contains(t, issues[0].Message, "nowhere")
}

func TestBuilder_ValidateAmounts(t *testing.T) {
	b := NewBuilder()
	_, err := b.CreateGraph("g1", "test")
	require.NoError(t, err)

	require.NoError(t, b.AddStep("g1", Step{
		ID:     "bad-buy",
		Kind:   KindBuy,
		Amount: LiteralAmount(decimal.Zero),
	}))
	require.NoError(t, b.AddStep("g1", Step{
		ID:     "ok-sell",
		Kind:   KindSell,
		Amount: AmountFromContext(VarTokenAmountToSell),
	}))

	issues, err := b.Validate("g1")
	require.NoError(t, err)

	var errored []string
	for _, issue := range issues {
		if issue.Severity == SeverityError {
			errored = append(errored, issue.StepID)
		}
	}
	assert.Equal(t, []string{"bad-buy"}, errored)
}

func TestBuilder_ValidateReachabilityIsWarningOnly(t *testing.T) {
	b := NewBuilder()
	_, err := b.CreateGraph("g1", "test")
	require.NoError(t, err)
	require.NoError(t, b.AddStep("g1", Step{ID: "a", Kind: KindGetPrice}))
	require.NoError(t, b.AddStep("g1", Step{ID: "orphan", Kind: KindWait}))

	issues, err := b.Validate("g1")
	require.NoError(t, err)
	assert.False(t, HasErrors(issues))

	require.Len(t, issues, 1)
	assert.Equal(t, SeverityWarning, issues[0].Severity)
	assert.Equal(t, "orphan", issues[0].StepID)
}

func TestAmount_Resolve(t *testing.T) {
	vars := Variables{}

	// 字面值
	v, err := LiteralAmount(decimal.NewFromFloat(1.5)).Resolve(vars)
	require.NoError(t, err)
	assert.Equal(t, "1.5", v.String())

	// 动态值缺失
	_, err = AmountFromContext(VarTokenAmountToSell).Resolve(vars)
	assert.Error(t, err)

	// 动态值非正数
	vars[VarTokenAmountToSell] = decimal.Zero
	_, err = AmountFromContext(VarTokenAmountToSell).Resolve(vars)
	assert.Error(t, err)

	// 动态值支持的几种表示
	vars[VarTokenAmountToSell] = 2.5
	v, err = AmountFromContext(VarTokenAmountToSell).Resolve(vars)
	require.NoError(t, err)
	assert.Equal(t, "2.5", v.String())

	vars[VarTokenAmountToSell] = "3.25"
	v, err = AmountFromContext(VarTokenAmountToSell).Resolve(vars)
	require.NoError(t, err)
	assert.Equal(t, "3.25", v.String())
}

func TestBuilder_LegacySentinelAmountNormalized(t *testing.T) {
	b := NewBuilder()
	_, err := b.CreateGraph("g1", "test")
	require.NoError(t, err)

	require.NoError(t, b.AddStep("g1", Step{
		ID:     "sell-all",
		Kind:   KindSell,
		Amount: LiteralAmount(decimal.NewFromInt(-1)),
	}))
	require.NoError(t, b.AddStep("g1", Step{
		ID:     "buy-all",
		Kind:   KindBuy,
		Amount: LiteralAmount(decimal.NewFromInt(-1)),
	}))

	g, _ := b.Graph("g1")
	sell, _ := g.Step("sell-all")
	assert.True(t, sell.Amount.IsDynamic())
	assert.Equal(t, VarTokenAmountToSell, sell.Amount.ContextKey())
	buy, _ := g.Step("buy-all")
	assert.True(t, buy.Amount.IsDynamic())
	assert.Equal(t, VarSolAmountToBuy, buy.Amount.ContextKey())

	// 归一化后不再触发“数量必须为正”的校验错误
	issues, err := b.Validate("g1")
	require.NoError(t, err)
	assert.False(t, HasErrors(issues))
}

func TestBuilder_BindCondition(t *testing.T) {
	b := NewBuilder()
	_, err := b.CreateGraph("g1", "test")
	require.NoError(t, err)
	require.NoError(t, b.AddStep("g1", Step{ID: "check", Kind: KindCondition}))
	require.NoError(t, b.AddStep("g1", Step{ID: "wait", Kind: KindWait}))

	err = b.BindCondition("g1", "wait", func(vars Variables) bool { return true })
	assert.Error(t, err)

	require.NoError(t, b.BindCondition("g1", "check", func(vars Variables) bool { return true }))
	g, _ := b.Graph("g1")
	step, ok := g.Step("check")
	require.True(t, ok)
	assert.NotNil(t, step.Condition)
}
