package pattern

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sophiaerrors "sophia/internal/errors"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	embedder, err := NewEmbedder(EmbedderConfig{Provider: "local"})
	require.NoError(t, err)
	store, err := NewStore(StoreConfig{
		PersistDir: t.TempDir(),
		MinQuality: 0.75,
	}, embedder, sophiaerrors.NewBreakerSet(nil))
	require.NoError(t, err)
	return store
}

func TestSaveRejectsBelowQualityGate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.Save(ctx, Pattern{
		TaskType:     "refactor",
		Goal:         "extract interface",
		Approach:     "introduce port, move callers",
		QualityScore: 0.75, // at the gate, not above it
	})
	var gateErr *ErrBelowQualityGate
	require.ErrorAs(t, err, &gateErr)
	assert.Equal(t, 0, store.Count())

	err = store.Save(ctx, Pattern{
		TaskType:     "refactor",
		Goal:         "extract interface",
		Approach:     "introduce port, move callers",
		QualityScore: 0.76,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, store.Count())
}

func TestRetrieveByTaskType(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, Pattern{
		TaskType:     "bugfix",
		Goal:         "fix nil map write in scheduler",
		Approach:     "guard initialization behind sync.Once",
		Roles:        []string{"planner", "generator", "critic"},
		Rounds:       1,
		QualityScore: 0.9,
	}))
	require.NoError(t, store.Save(ctx, Pattern{
		TaskType:     "feature",
		Goal:         "add pagination to list endpoint",
		Approach:     "cursor tokens over offset",
		QualityScore: 0.85,
	}))

	matches, err := store.Retrieve(ctx, "scheduler crashes on concurrent start", "bugfix", 5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	got := matches[0].Pattern
	assert.Equal(t, "bugfix", got.TaskType)
	assert.Equal(t, "guard initialization behind sync.Once", got.Approach)
	assert.Equal(t, []string{"planner", "generator", "critic"}, got.Roles)
	assert.Equal(t, 1, got.Rounds)
	assert.InDelta(t, 0.9, got.QualityScore, 0.001)
	assert.NotEmpty(t, got.ID)
}

func TestRetrieveEmptyStore(t *testing.T) {
	store := newTestStore(t)

	matches, err := store.Retrieve(context.Background(), "anything", "", 3)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestRetrieveCapsTopKToCount(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, Pattern{
		TaskType:     "feature",
		Goal:         "streaming export",
		Approach:     "chunked transfer with backpressure",
		QualityScore: 0.8,
	}))

	matches, err := store.Retrieve(ctx, "export large datasets", "", 10)
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestSaveRejectedWhenBreakerOpen(t *testing.T) {
	embedder, err := NewEmbedder(EmbedderConfig{Provider: "local"})
	require.NoError(t, err)
	breakers := sophiaerrors.NewBreakerSet(nil)
	store, err := NewStore(StoreConfig{PersistDir: t.TempDir()}, embedder, breakers)
	require.NoError(t, err)

	cb := breakers.For(sophiaerrors.ClassVector)
	for i := 0; i < 5; i++ {
		cb.Mark(sophiaerrors.NewTransientError(nil, "vector store unavailable"))
	}
	require.Equal(t, sophiaerrors.StateOpen, cb.State())

	err = store.Save(context.Background(), Pattern{
		TaskType:     "feature",
		Goal:         "x",
		Approach:     "y",
		QualityScore: 0.9,
	})
	require.Error(t, err)
	assert.True(t, sophiaerrors.IsDegraded(err))
}
