package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_LimitWithinWindow(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)

	assert.True(t, rl.Allow("g1"))
	assert.True(t, rl.Allow("g1"))
	assert.True(t, rl.Allow("g1"))
	assert.False(t, rl.Allow("g1"))
	assert.Equal(t, 3, rl.Count("g1"))

	// 其他 key 不受影响
	assert.True(t, rl.Allow("g2"))
}

func TestRateLimiter_WindowSlides(t *testing.T) {
	now := time.Now()
	rl := NewRateLimiter(2, time.Minute)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("g1"))
	assert.True(t, rl.Allow("g1"))
	assert.False(t, rl.Allow("g1"))

	// 窗口滑过第一次占用后配额释放
	now = now.Add(61 * time.Second)
	assert.True(t, rl.Allow("g1"))
	assert.Equal(t, 1, rl.Count("g1"))
}

func TestRateLimiter_RejectedCallDoesNotConsumeQuota(t *testing.T) {
	now := time.Now()
	rl := NewRateLimiter(1, time.Minute)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("g1"))
	for i := 0; i < 10; i++ {
		assert.False(t, rl.Allow("g1"))
	}
	assert.Equal(t, 1, rl.Count("g1"))
}

func TestRateLimiter_Reset(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)

	assert.True(t, rl.Allow("g1"))
	assert.False(t, rl.Allow("g1"))

	rl.Reset("g1")
	assert.True(t, rl.Allow("g1"))
}
