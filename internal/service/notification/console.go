package notification

import (
	"context"
	"log/slog"
)

type consoleListener struct {
}

func NewConsoleListener() StatusListener {
	return consoleListener{}
}

func (c consoleListener) OnStatusChange(ctx context.Context, change StatusChange) {
	slog.Info("instance status changed",
		"instance", change.InstanceID,
		"graph", change.GraphID,
		"from", change.From,
		"to", change.To,
		"reason", change.Reason,
	)
}
