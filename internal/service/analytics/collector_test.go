package analytics

import (
	"testing"

	"github.com/solweave/strategy-engine/pkg/decimalx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_AggregatesPerInstance(t *testing.T) {
	c := NewCollector()

	c.RunStarted("g1", "inst-1")
	c.RecordStep("g1", "inst-1", "buy", true)
	c.RecordStep("g1", "inst-1", "sell", false)
	c.RecordTrade("g1", "inst-1", "buy", decimalx.MustFromString("1.5"))
	c.RecordTrade("g1", "inst-1", "sell", decimalx.MustFromString("0.5"))
	c.RunFinished("inst-1", true)

	// 已结束的实例不再累计
	c.RecordStep("g1", "inst-1", "buy", true)
	c.RecordTrade("g1", "inst-1", "buy", decimalx.MustFromString("99"))

	report := c.Report()
	assert.Equal(t, 1, report.TotalRuns)
	assert.Equal(t, 1, report.CompletedRuns)
	assert.Equal(t, int64(2), report.StepsExecuted)
	assert.Equal(t, int64(1), report.StepsFailed)
	assert.Equal(t, "1.5", report.BuyVolume.String())
	assert.Equal(t, "0.5", report.SellVolume.String())

	require.Len(t, report.Runs, 1)
	stats := report.Runs[0]
	assert.Equal(t, "inst-1", stats.InstanceID)
	assert.Equal(t, int64(1), stats.Buys)
	assert.Equal(t, int64(1), stats.Sells)
	assert.True(t, stats.Completed)
}

func TestCollector_AttributesByInstance(t *testing.T) {
	c := NewCollector()

	// 同一张图的两个并发实例互不串账
	c.RunStarted("g1", "inst-1")
	c.RunStarted("g1", "inst-2")

	c.RecordStep("g1", "inst-1", "quote", true)
	c.RecordTrade("g1", "inst-1", "buy", decimalx.MustFromString("2"))

	report := c.Report()
	assert.Equal(t, int64(1), report.StepsExecuted)
	assert.Equal(t, "2", report.BuyVolume.String())
	for _, stats := range report.Runs {
		switch stats.InstanceID {
		case "inst-1":
			assert.Equal(t, int64(1), stats.StepsExecuted)
			assert.Equal(t, int64(1), stats.Buys)
		case "inst-2":
			assert.Equal(t, int64(0), stats.StepsExecuted)
			assert.Equal(t, int64(0), stats.Buys)
		}
	}

	// 图 id 对不上的记录丢弃
	c.RecordStep("g2", "inst-1", "quote", true)
	assert.Equal(t, int64(1), c.Report().StepsExecuted)
}

func TestCollector_FinishUnknownInstanceIsNoop(t *testing.T) {
	c := NewCollector()
	c.RunFinished("ghost", true)
	assert.Equal(t, 0, c.Report().TotalRuns)
}

func TestReport_String(t *testing.T) {
	c := NewCollector()
	c.RunStarted("g1", "inst-1")

	s := c.Report().String()
	assert.Contains(t, s, `"TotalRuns":1`)
	assert.Contains(t, s, "inst-1")
}
