package analytics

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// Collector 运行分析采集器。调度器和解释器对它只做 fire-and-forget 调用，
// 引擎的正确性不依赖它。
type Collector struct {
	mu    sync.Mutex
	runs  map[string]*RunStats // instance id -> stats
	since time.Time
}

// RunStats 单个实例的累计统计
type RunStats struct {
	InstanceID string
	GraphID    string

	StepsExecuted int64
	StepsFailed   int64
	Buys          int64
	Sells         int64
	BuyVolume     decimal.Decimal
	SellVolume    decimal.Decimal

	StartedAt  time.Time
	FinishedAt time.Time
	Completed  bool
}

func NewCollector() *Collector {
	return &Collector{
		runs:  make(map[string]*RunStats),
		since: time.Now(),
	}
}

func (c *Collector) RunStarted(graphID, instanceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runs[instanceID] = &RunStats{
		InstanceID: instanceID,
		GraphID:    graphID,
		StartedAt:  time.Now(),
	}
}

func (c *Collector) RunFinished(instanceID string, completed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats, ok := c.runs[instanceID]
	if !ok {
		return
	}
	stats.FinishedAt = time.Now()
	stats.Completed = completed
}

// RecordStep engine.Recorder 实现，按实例归账，同图并发实例互不串账
func (c *Collector) RecordStep(graphID, instanceID, stepID string, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats, ok := c.runs[instanceID]
	if !ok || stats.GraphID != graphID || !stats.FinishedAt.IsZero() {
		return
	}
	stats.StepsExecuted++
	if !success {
		stats.StepsFailed++
	}
}

// RecordTrade engine.Recorder 实现
func (c *Collector) RecordTrade(graphID, instanceID, side string, amount decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats, ok := c.runs[instanceID]
	if !ok || stats.GraphID != graphID || !stats.FinishedAt.IsZero() {
		return
	}
	if side == "buy" {
		stats.Buys++
		stats.BuyVolume = stats.BuyVolume.Add(amount)
	} else {
		stats.Sells++
		stats.SellVolume = stats.SellVolume.Add(amount)
	}
}

// Report 聚合报告
type Report struct {
	Since         time.Time
	GeneratedAt   time.Time
	TotalRuns     int
	CompletedRuns int
	StepsExecuted int64
	StepsFailed   int64
	BuyVolume     decimal.Decimal
	SellVolume    decimal.Decimal
	Runs          []RunStats
}

func (r Report) String() string {
	data, err := json.Marshal(r)
	if err != nil {
		return ""
	}
	return string(data)
}

func (c *Collector) Report() Report {
	c.mu.Lock()
	defer c.mu.Unlock()

	runs := lo.Map(lo.Values(c.runs), func(s *RunStats, _ int) RunStats {
		return *s
	})

	report := Report{
		Since:       c.since,
		GeneratedAt: time.Now(),
		TotalRuns:   len(runs),
		BuyVolume:   decimal.Zero,
		SellVolume:  decimal.Zero,
	}
	for _, s := range runs {
		if s.Completed {
			report.CompletedRuns++
		}
		report.StepsExecuted += s.StepsExecuted
		report.StepsFailed += s.StepsFailed
		report.BuyVolume = report.BuyVolume.Add(s.BuyVolume)
		report.SellVolume = report.SellVolume.Add(s.SellVolume)
	}
	report.Runs = runs
	return report
}
