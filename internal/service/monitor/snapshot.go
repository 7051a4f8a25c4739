package monitor

import (
	"context"

	"github.com/solweave/strategy-engine/internal/schedule"
	"github.com/solweave/strategy-engine/internal/service/graph"
)

// GraphSnapshotTask 周期性把注册表中的图（含运行统计）落库
type GraphSnapshotTask struct {
	store *graph.Store
}

func NewGraphSnapshotTask(store *graph.Store) schedule.Task {
	return &GraphSnapshotTask{
		store: store,
	}
}

func (t *GraphSnapshotTask) Run(ctx context.Context) error {
	return t.store.SaveAll(ctx)
}

func (t *GraphSnapshotTask) Name() string {
	return "graph snapshot task"
}
