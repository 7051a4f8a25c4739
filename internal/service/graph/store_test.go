package graph

import (
	"context"
	"testing"
	"time"

	"github.com/solweave/strategy-engine/internal/repo"
	"github.com/solweave/strategy-engine/pkg/decimalx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) (*Store, *Builder) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, repo.InitTables(db))

	b := NewBuilder()
	return NewStore(repo.NewGraphRepo(db), b), b
}

func TestStore_SaveAndLoad(t *testing.T) {
	store, b := newTestStore(t)
	ctx := context.Background()

	g := buildRoundTripGraph(t, b)
	g.RecordInvocation(time.Now())
	g.RecordRunFinished(true)

	require.NoError(t, store.SaveAll(ctx))

	// 另起一个空注册表做恢复
	freshBuilder := NewBuilder()
	fresh := NewStore(store.repo, freshBuilder)

	loaded, err := fresh.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)

	got := loaded[0]
	assert.Equal(t, g.ID, got.ID)
	assert.Equal(t, "wait-dip", got.StartStepID())
	assert.Equal(t, StatusDisabled, got.Status())
	assert.Equal(t, int64(1), got.Metrics().Invocations)
	assert.Equal(t, int64(1), got.Metrics().CompletedRuns)
	assert.False(t, got.Frozen())
}

func TestStore_SaveIsUpsert(t *testing.T) {
	store, b := newTestStore(t)
	ctx := context.Background()

	_, err := b.CreateGraph("g1", "v1")
	require.NoError(t, err)
	require.NoError(t, b.AddStep("g1", Step{ID: "a", Kind: KindGetPrice}))
	require.NoError(t, store.Save(ctx, "g1"))

	g, _ := b.Graph("g1")
	g.SetStatus(StatusDisabled)
	require.NoError(t, store.Save(ctx, "g1"))

	freshBuilder := NewBuilder()
	fresh := NewStore(store.repo, freshBuilder)
	loaded, err := fresh.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, StatusDisabled, loaded[0].Status())
}

func TestStore_SaveUnknownGraph(t *testing.T) {
	store, _ := newTestStore(t)
	err := store.Save(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrGraphNotFound)
}

func TestStore_LoadSkipsInvalidRecords(t *testing.T) {
	store, b := newTestStore(t)
	ctx := context.Background()

	// 一张合法的图
	_, err := b.CreateGraph("good", "good")
	require.NoError(t, err)
	require.NoError(t, b.AddStep("good", Step{ID: "a", Kind: KindGetPrice}))

	// 一张带悬空边的图，落库后应被加载流程拒绝
	_, err = b.CreateGraph("bad", "bad")
	require.NoError(t, err)
	require.NoError(t, b.AddStep("bad", Step{
		ID:        "a",
		Kind:      KindBuy,
		Amount:    LiteralAmount(decimalx.MustFromString("1")),
		OnSuccess: "nowhere",
	}))

	require.NoError(t, store.SaveAll(ctx))

	freshBuilder := NewBuilder()
	fresh := NewStore(store.repo, freshBuilder)
	loaded, err := fresh.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "good", loaded[0].ID)

	// 被拒绝的图不能残留在注册表里
	_, ok := freshBuilder.Graph("bad")
	assert.False(t, ok)
}

func TestStore_LoadedConditionNeedsRebinding(t *testing.T) {
	store, b := newTestStore(t)
	ctx := context.Background()

	_, err := b.CreateGraph("cond", "cond")
	require.NoError(t, err)
	require.NoError(t, b.AddStep("cond", Step{
		ID:        "check",
		Kind:      KindCondition,
		Condition: func(vars Variables) bool { return true },
	}))
	require.NoError(t, store.SaveAll(ctx))

	freshBuilder := NewBuilder()
	fresh := NewStore(store.repo, freshBuilder)
	loaded, err := fresh.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)

	step, ok := loaded[0].Step("check")
	require.True(t, ok)
	assert.Nil(t, step.Condition)

	require.NoError(t, freshBuilder.BindCondition("cond", "check", func(vars Variables) bool { return false }))
	step, _ = loaded[0].Step("check")
	assert.NotNil(t, step.Condition)
}
