package monitor

import (
	"context"
	"log/slog"

	"github.com/samber/lo"
	"github.com/solweave/strategy-engine/internal/schedule"
	"github.com/solweave/strategy-engine/internal/service/scheduler"
)

// HealthReportTask 周期性输出调度器健康状况，发现 error 状态的实例
// 或熔断的图时提级告警。
type HealthReportTask struct {
	sched scheduler.Scheduler
}

func NewHealthReportTask(sched scheduler.Scheduler) schedule.Task {
	return &HealthReportTask{
		sched: sched,
	}
}

func (t *HealthReportTask) Run(ctx context.Context) error {
	h := t.sched.Health()

	slog.Info("scheduler health",
		"total", h.Total,
		"running", h.Running,
		"paused", h.Paused,
		"stopped", h.Stopped,
		"errored", h.Errored,
		"dead_letters", h.DeadLetters,
		"circuit_open", h.CircuitOpen,
	)

	errored := lo.Filter(h.Instances, func(info scheduler.InstanceInfo, _ int) bool {
		return info.Status == scheduler.StatusError
	})
	for _, info := range errored {
		slog.Error("instance in error state",
			"instance", info.ID,
			"graph", info.GraphID,
			"retries", info.RetryCount,
			"last_error", info.LastError,
		)
	}
	return nil
}

func (t *HealthReportTask) Name() string {
	return "scheduler health report task"
}
