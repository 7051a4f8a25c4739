package entity

import (
	"time"
)

// StrategyGraph 持久化的策略图，Definition 为完整的 JSON 记录，
// 加载时必须重新校验后才能接受。
type StrategyGraph struct {
	Id            int64  `gorm:"primaryKey;autoIncrement"`
	GraphId       string `gorm:"uniqueIndex"`
	Name          string
	Definition    string // 图结构的 JSON 快照
	Status        string `gorm:"index"`
	Invocations   int64
	CompletedRuns int64
	FailedRuns    int64
	LastRunAt     time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
