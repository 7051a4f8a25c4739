package resilience

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCircuitBreaker_TripsAtThreshold(t *testing.T) {
	cb := NewCircuitBreaker(3)

	assert.False(t, cb.RecordFailure("g1"))
	assert.False(t, cb.RecordFailure("g1"))
	assert.False(t, cb.IsOpen("g1"))

	// 恰好第 threshold 次熔断，且只有这一次返回 true
	assert.True(t, cb.RecordFailure("g1"))
	assert.True(t, cb.IsOpen("g1"))
	assert.False(t, cb.RecordFailure("g1"))
}

func TestCircuitBreaker_SuccessResetsCount(t *testing.T) {
	cb := NewCircuitBreaker(3)

	cb.RecordFailure("g1")
	cb.RecordFailure("g1")
	cb.RecordSuccess("g1")
	assert.Equal(t, 0, cb.Failures("g1"))

	cb.RecordFailure("g1")
	cb.RecordFailure("g1")
	assert.True(t, cb.RecordFailure("g1"))
	assert.True(t, cb.IsOpen("g1"))
}

func TestCircuitBreaker_OpenIgnoresSuccess(t *testing.T) {
	cb := NewCircuitBreaker(1)

	assert.True(t, cb.RecordFailure("g1"))
	cb.RecordSuccess("g1")

	// 熔断后只认手动 Reset
	assert.True(t, cb.IsOpen("g1"))
	cb.Reset("g1")
	assert.False(t, cb.IsOpen("g1"))
	assert.Equal(t, 0, cb.Failures("g1"))
}

func TestCircuitBreaker_KeysAreIndependent(t *testing.T) {
	cb := NewCircuitBreaker(1)

	assert.True(t, cb.RecordFailure("g1"))
	assert.False(t, cb.IsOpen("g2"))

	assert.Equal(t, []string{"g1"}, cb.OpenKeys())
}
