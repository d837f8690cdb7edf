package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestIndexer(store Store, embedder Embedder) *Indexer {
	return NewIndexer(store, embedder, zap.NewNop(), NewMetrics(zap.NewNop()))
}

func TestIndexManyEmptyInput(t *testing.T) {
	ix := newTestIndexer(newFakeStore(), newFakeEmbedder(4))

	indexed, err := ix.IndexMany(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, indexed)
}

func TestIndexManyPartitionsByScope(t *testing.T) {
	store := newFakeStore()
	embedder := newFakeEmbedder(4)
	ix := newTestIndexer(store, embedder)

	docs := []Document{
		{ID: "g1", Content: "use conventional commits", Scope: ScopeGlobal},
		{ID: "w1", Content: "workspace prefers pnpm", Scope: ScopeWorkspace, ScopeID: "ws-7"},
		{ID: "g2", Content: "deploys happen on fridays", Scope: ScopeGlobal},
	}

	indexed, err := ix.IndexMany(context.Background(), docs)
	require.NoError(t, err)
	assert.Equal(t, 3, indexed)

	// one embedding batch per scope partition
	assert.Equal(t, 2, embedder.batchCalls)

	require.Len(t, store.records[ScopeGlobal], 2)
	assert.Equal(t, "g1", store.records[ScopeGlobal][0].ID)
	assert.Equal(t, "g2", store.records[ScopeGlobal][1].ID)
	require.Len(t, store.records[ScopeWorkspace], 1)
	assert.Equal(t, "w1", store.records[ScopeWorkspace][0].ID)
}

func TestIndexManyIsolatesPartitionFailure(t *testing.T) {
	store := newFakeStore()
	store.upsertErr[ScopeProject] = errors.New("backend down")
	ix := newTestIndexer(store, newFakeEmbedder(4))

	docs := []Document{
		{ID: "p1", Content: "project uses go 1.24", Scope: ScopeProject, ScopeID: "api"},
		{ID: "c1", Content: "retry flaky fetches", Scope: ScopeCross},
	}

	indexed, err := ix.IndexMany(context.Background(), docs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "project")
	assert.Equal(t, 1, indexed)
	assert.Len(t, store.records[ScopeCross], 1)
	assert.Empty(t, store.records[ScopeProject])
}

func TestIndexManyCollectsInvalidDocuments(t *testing.T) {
	store := newFakeStore()
	ix := newTestIndexer(store, newFakeEmbedder(4))

	docs := []Document{
		{ID: "", Content: "no id", Scope: ScopeGlobal},
		{ID: "ok", Content: "valid", Scope: ScopeGlobal},
	}

	indexed, err := ix.IndexMany(context.Background(), docs)
	require.ErrorIs(t, err, ErrInvalidDocument)
	assert.Equal(t, 1, indexed)
	require.Len(t, store.records[ScopeGlobal], 1)
	assert.Equal(t, "ok", store.records[ScopeGlobal][0].ID)
}

func TestIndexManyEmbedFailureCountsNothing(t *testing.T) {
	store := newFakeStore()
	embedder := newFakeEmbedder(4)
	embedder.err = errors.New("upstream 503")
	ix := newTestIndexer(store, embedder)

	indexed, err := ix.IndexMany(context.Background(), []Document{
		{ID: "g1", Content: "x", Scope: ScopeGlobal},
	})
	require.Error(t, err)
	assert.Zero(t, indexed)
}

func TestIndexOne(t *testing.T) {
	store := newFakeStore()
	ix := newTestIndexer(store, newFakeEmbedder(4))

	doc := Document{ID: "w1", Content: "workspace memory", Scope: ScopeWorkspace, ScopeID: "ws-1"}
	require.NoError(t, ix.IndexOne(context.Background(), doc))
	require.Len(t, store.records[ScopeWorkspace], 1)

	err := ix.IndexOne(context.Background(), Document{Content: "no id", Scope: ScopeGlobal})
	require.ErrorIs(t, err, ErrInvalidDocument)
}
