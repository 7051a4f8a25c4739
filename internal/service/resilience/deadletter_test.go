package resilience

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeadLetterQueue_EvictsOldestAtCapacity(t *testing.T) {
	q := NewDeadLetterQueue(3)

	for i := 0; i < 4; i++ {
		q.Push(DeadLetter{
			GraphID: fmt.Sprintf("g%d", i),
			Err:     "rate limited",
		})
	}

	assert.Equal(t, 3, q.Len())

	entries := q.Entries(0)
	require.Len(t, entries, 3)
	// 新到旧，最旧的 g0 已被淘汰
	assert.Equal(t, "g3", entries[0].GraphID)
	assert.Equal(t, "g1", entries[2].GraphID)
}

func TestDeadLetterQueue_EntriesLimit(t *testing.T) {
	q := NewDeadLetterQueue(10)
	for i := 0; i < 5; i++ {
		q.Push(DeadLetter{GraphID: fmt.Sprintf("g%d", i)})
	}

	entries := q.Entries(2)
	require.Len(t, entries, 2)
	assert.Equal(t, "g4", entries[0].GraphID)
	assert.Equal(t, "g3", entries[1].GraphID)

	// limit 超过长度时返回全部
	assert.Len(t, q.Entries(100), 5)
}

func TestDeadLetterQueue_DefaultsTimestamp(t *testing.T) {
	q := NewDeadLetterQueue(1)
	q.Push(DeadLetter{GraphID: "g1"})

	entries := q.Entries(1)
	require.Len(t, entries, 1)
	assert.WithinDuration(t, time.Now(), entries[0].Timestamp, time.Second)
}

func TestDeadLetterQueue_Clear(t *testing.T) {
	q := NewDeadLetterQueue(5)
	q.Push(DeadLetter{GraphID: "g1"})
	q.Push(DeadLetter{GraphID: "g2"})

	q.Clear()
	assert.Equal(t, 0, q.Len())
	assert.Empty(t, q.Entries(0))
}
