package schedule

import (
	"context"
	"log/slog"
	"time"
)

// Runner 按固定间隔驱动一组任务，任务失败只记日志不中断
type Runner struct {
	interval time.Duration
	tasks    []Task
}

func NewRunner(interval time.Duration, tasks ...Task) *Runner {
	return &Runner{
		interval: interval,
		tasks:    tasks,
	}
}

func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, task := range r.tasks {
				if err := task.Run(ctx); err != nil {
					slog.Error("scheduled task failed", "task", task.Name(), "error", err)
				}
			}
		}
	}
}
