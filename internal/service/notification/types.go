package notification

import (
	"context"
	"time"
)

type WebhookService interface {
	Send(ctx context.Context, url string, data map[string]any) error
}

// StatusChange 实例状态变更通知
type StatusChange struct {
	InstanceID string
	GraphID    string
	From       string
	To         string
	Reason     string
	At         time.Time
}

// StatusListener 状态变更观察者。调度器对它 fire-and-forget，
// 实现方不能阻塞调度循环。
type StatusListener interface {
	OnStatusChange(ctx context.Context, change StatusChange)
}
