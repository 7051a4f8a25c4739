package graph

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/solweave/strategy-engine/internal/entity"
	"github.com/solweave/strategy-engine/internal/repo"
)

// Store 把注册表里的图落库，以及从库里恢复注册表。
// 加载出来的图会先走一遍 Validate，带 error 级别问题的记录直接拒绝。
type Store struct {
	repo    repo.GraphRepo
	builder *Builder
}

func NewStore(repo repo.GraphRepo, builder *Builder) *Store {
	return &Store{
		repo:    repo,
		builder: builder,
	}
}

// SaveAll 快照当前注册表中的所有图
func (s *Store) SaveAll(ctx context.Context) error {
	for _, g := range s.builder.Graphs() {
		if err := s.Save(ctx, g.ID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Save(ctx context.Context, graphID string) error {
	g, ok := s.builder.Graph(graphID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrGraphNotFound, graphID)
	}

	data, err := Encode(g)
	if err != nil {
		return fmt.Errorf("encode graph %s: %w", graphID, err)
	}

	m := g.Metrics()
	return s.repo.Save(ctx, entity.StrategyGraph{
		GraphId:       g.ID,
		Name:          g.Name,
		Definition:    string(data),
		Status:        string(g.Status()),
		Invocations:   m.Invocations,
		CompletedRuns: m.CompletedRuns,
		FailedRuns:    m.FailedRuns,
		LastRunAt:     m.LastRunAt,
	})
}

// LoadAll 恢复所有持久化的图。校验失败的记录跳过并告警，不中断整体加载。
// 条件步骤加载后处于未绑定状态，调用方需逐个 BindCondition。
func (s *Store) LoadAll(ctx context.Context) ([]*StrategyGraph, error) {
	records, err := s.repo.FindAll(ctx)
	if err != nil {
		return nil, err
	}

	var loaded []*StrategyGraph
	for _, rec := range records {
		g, err := Decode(s.builder, []byte(rec.Definition))
		if err != nil {
			slog.Error("failed to decode persisted graph", "graph", rec.GraphId, "error", err)
			continue
		}

		issues, err := s.builder.Validate(g.ID)
		if err != nil {
			return nil, err
		}
		if HasErrors(issues) {
			slog.Error("persisted graph failed validation, rejected", "graph", g.ID, "issues", issues)
			s.builder.Remove(g.ID)
			continue
		}
		for _, issue := range issues {
			slog.Warn("persisted graph validation warning", "graph", g.ID, "issue", issue.String())
		}

		g.restoreMetrics(Metrics{
			Invocations:   rec.Invocations,
			CompletedRuns: rec.CompletedRuns,
			FailedRuns:    rec.FailedRuns,
			LastRunAt:     rec.LastRunAt,
		})
		loaded = append(loaded, g)
	}
	return loaded, nil
}
