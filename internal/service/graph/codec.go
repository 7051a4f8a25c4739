package graph

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// 持久化布局：每张图一条 JSON 记录，按 graph id 作 key。
// 条件步骤的闭包无法序列化，加载后需用 Builder.BindCondition 重新绑定。

type amountDTO struct {
	Literal decimal.Decimal `json:"literal,omitempty"`
	Key     string          `json:"key,omitempty"`
	Dynamic bool            `json:"dynamic"`
}

type stepDTO struct {
	ID          string          `json:"id"`
	Kind        StepKind        `json:"kind"`
	Amount      *amountDTO      `json:"amount,omitempty"`
	TargetPrice decimal.Decimal `json:"target_price,omitempty"`
	TimeoutMs   int64           `json:"timeout_ms,omitempty"`
	DurationMs  int64           `json:"duration_ms,omitempty"`
	OnSuccess   string          `json:"on_success,omitempty"`
	OnFailure   string          `json:"on_failure,omitempty"`
}

type graphDTO struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	StartStepID string     `json:"start_step_id"`
	Status      Status     `json:"status"`
	RiskLimits  RiskLimits `json:"risk_limits"`
	Steps       []stepDTO  `json:"steps"`
}

// Encode 把一张图序列化为 JSON 记录
func Encode(g *StrategyGraph) ([]byte, error) {
	dto := graphDTO{
		ID:          g.ID,
		Name:        g.Name,
		StartStepID: g.StartStepID(),
		Status:      g.Status(),
		RiskLimits:  g.RiskLimits(),
		Steps: lo.Map(g.Steps(), func(s Step, _ int) stepDTO {
			d := stepDTO{
				ID:          s.ID,
				Kind:        s.Kind,
				TargetPrice: s.TargetPrice,
				TimeoutMs:   s.Timeout.Milliseconds(),
				DurationMs:  s.Duration.Milliseconds(),
				OnSuccess:   s.OnSuccess,
				OnFailure:   s.OnFailure,
			}
			if s.Kind == KindBuy || s.Kind == KindSell {
				d.Amount = &amountDTO{
					Literal: s.Amount.Literal(),
					Key:     s.Amount.ContextKey(),
					Dynamic: s.Amount.IsDynamic(),
				}
			}
			return d
		}),
	}
	return json.Marshal(dto)
}

// Decode 从 JSON 记录还原一张图并注册到 builder。
// 调用方必须在之后对条件步骤重新绑定判定函数，并重新校验。
func Decode(b *Builder, data []byte) (*StrategyGraph, error) {
	var dto graphDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return nil, fmt.Errorf("decode graph: %w", err)
	}

	g, err := b.CreateGraph(dto.ID, dto.Name)
	if err != nil {
		return nil, err
	}

	for _, d := range dto.Steps {
		step := Step{
			ID:          d.ID,
			Kind:        d.Kind,
			TargetPrice: d.TargetPrice,
			Timeout:     time.Duration(d.TimeoutMs) * time.Millisecond,
			Duration:    time.Duration(d.DurationMs) * time.Millisecond,
			OnSuccess:   d.OnSuccess,
			OnFailure:   d.OnFailure,
		}
		if d.Amount != nil {
			if d.Amount.Dynamic {
				step.Amount = AmountFromContext(d.Amount.Key)
			} else {
				step.Amount = LiteralAmount(d.Amount.Literal)
			}
		}
		if err := b.AddStep(dto.ID, step); err != nil {
			b.Remove(dto.ID)
			return nil, err
		}
	}

	if dto.StartStepID != "" {
		if err := b.SetStartStep(dto.ID, dto.StartStepID); err != nil {
			b.Remove(dto.ID)
			return nil, err
		}
	}

	if dto.Status == "" {
		dto.Status = StatusActive
	}
	g.SetStatus(dto.Status)
	g.SetRiskLimits(dto.RiskLimits)
	return g, nil
}
