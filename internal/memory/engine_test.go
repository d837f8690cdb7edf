package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestEngine(store Store, embedder Embedder) *Engine {
	return NewEngine(store, embedder, time.Second, zap.NewNop(), NewMetrics(zap.NewNop()))
}

func match(id string, scope Scope, score float32) Match {
	return Match{
		Document: Document{ID: id, Content: "content of " + id, Scope: scope},
		Score:    score,
	}
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	e := newTestEngine(newFakeStore(), newFakeEmbedder(4))

	_, err := e.Search(context.Background(), "", Options{})
	require.Error(t, err)
}

func TestSearchEmbedsQueryOnce(t *testing.T) {
	store := newFakeStore()
	store.matches[ScopeGlobal] = []Match{match("g1", ScopeGlobal, 0.9)}
	store.matches[ScopeProject] = []Match{match("p1", ScopeProject, 0.8)}
	embedder := newFakeEmbedder(4)
	e := newTestEngine(store, embedder)

	resp, err := e.Search(context.Background(), "how do we deploy", Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, embedder.queryCalls)
	assert.Zero(t, embedder.batchCalls)
	assert.Len(t, resp.Results, 2)
}

func TestSearchMergesSortedByScore(t *testing.T) {
	store := newFakeStore()
	store.matches[ScopeGlobal] = []Match{match("g1", ScopeGlobal, 0.7)}
	store.matches[ScopeWorkspace] = []Match{match("w1", ScopeWorkspace, 0.95)}
	store.matches[ScopeCross] = []Match{match("c1", ScopeCross, 0.81)}
	e := newTestEngine(store, newFakeEmbedder(4))

	resp, err := e.Search(context.Background(), "deploy", Options{})
	require.NoError(t, err)
	require.Len(t, resp.Results, 3)
	assert.Equal(t, "w1", resp.Results[0].Document.ID)
	assert.Equal(t, "c1", resp.Results[1].Document.ID)
	assert.Equal(t, "g1", resp.Results[2].Document.ID)
	assert.Empty(t, resp.Failures)
}

func TestSearchTieBreaksByID(t *testing.T) {
	store := newFakeStore()
	store.matches[ScopeGlobal] = []Match{match("zz", ScopeGlobal, 0.8)}
	store.matches[ScopeCross] = []Match{match("aa", ScopeCross, 0.8)}
	e := newTestEngine(store, newFakeEmbedder(4))

	resp, err := e.Search(context.Background(), "deploy", Options{})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "aa", resp.Results[0].Document.ID)
	assert.Equal(t, "zz", resp.Results[1].Document.ID)
}

func TestSearchAppliesMinScore(t *testing.T) {
	store := newFakeStore()
	store.matches[ScopeGlobal] = []Match{
		match("keep", ScopeGlobal, 0.6),
		match("drop", ScopeGlobal, 0.4),
	}
	e := newTestEngine(store, newFakeEmbedder(4))

	// default floor of 0.5
	resp, err := e.Search(context.Background(), "deploy", Options{})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "keep", resp.Results[0].Document.ID)

	// negative disables the floor
	resp, err = e.Search(context.Background(), "deploy", Options{MinScore: -1})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 2)
}

func TestSearchTruncatesToLimit(t *testing.T) {
	store := newFakeStore()
	for _, m := range []Match{
		match("a", ScopeGlobal, 0.9),
		match("b", ScopeGlobal, 0.8),
		match("c", ScopeGlobal, 0.7),
	} {
		store.matches[ScopeGlobal] = append(store.matches[ScopeGlobal], m)
	}
	e := newTestEngine(store, newFakeEmbedder(4))

	resp, err := e.Search(context.Background(), "deploy", Options{Limit: 2})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "a", resp.Results[0].Document.ID)
	assert.Equal(t, "b", resp.Results[1].Document.ID)
}

func TestSearchIsolatesScopeFailures(t *testing.T) {
	store := newFakeStore()
	store.matches[ScopeGlobal] = []Match{match("g1", ScopeGlobal, 0.9)}
	store.queryErr[ScopeProject] = errors.New("connection refused")
	e := newTestEngine(store, newFakeEmbedder(4))

	resp, err := e.Search(context.Background(), "deploy", Options{})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	require.Len(t, resp.Failures, 1)
	assert.Equal(t, ScopeProject, resp.Failures[0].Scope)
	assert.Contains(t, resp.Failures[0].Err, "connection refused")
}

func TestSearchCancelledReturnsNoPartialResults(t *testing.T) {
	store := newFakeStore()
	store.matches[ScopeGlobal] = []Match{match("g1", ScopeGlobal, 0.9)}
	store.matches[ScopeWorkspace] = []Match{match("w1", ScopeWorkspace, 0.9)}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store.queryHook = func(scope Scope) {
		if scope == ScopeWorkspace {
			cancel()
		}
	}
	e := newTestEngine(store, newFakeEmbedder(4))

	resp, err := e.Search(ctx, "deploy", Options{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, resp)
}

func TestSearchSingleScope(t *testing.T) {
	store := newFakeStore()
	store.matches[ScopeGlobal] = []Match{match("g1", ScopeGlobal, 0.9)}
	store.matches[ScopeWorkspace] = []Match{match("w1", ScopeWorkspace, 0.95)}
	store.queryErr[ScopeProject] = errors.New("down")
	e := newTestEngine(store, newFakeEmbedder(4))

	scope := ScopeGlobal
	resp, err := e.Search(context.Background(), "deploy", Options{Scope: &scope})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "g1", resp.Results[0].Document.ID)
	assert.Empty(t, resp.Failures)
}

func TestSearchRejectsInvalidScope(t *testing.T) {
	e := newTestEngine(newFakeStore(), newFakeEmbedder(4))

	scope := Scope("tenant")
	_, err := e.Search(context.Background(), "deploy", Options{Scope: &scope})
	require.ErrorIs(t, err, ErrInvalidScope)
}

func TestSearchFailsWhenEmbeddingFails(t *testing.T) {
	embedder := newFakeEmbedder(4)
	embedder.err = errors.New("upstream 503")
	e := newTestEngine(newFakeStore(), embedder)

	_, err := e.Search(context.Background(), "deploy", Options{})
	require.Error(t, err)
}

func TestSearchPopulatesSnippets(t *testing.T) {
	store := newFakeStore()
	store.matches[ScopeGlobal] = []Match{match("g1", ScopeGlobal, 0.9)}
	e := newTestEngine(store, newFakeEmbedder(4))

	resp, err := e.Search(context.Background(), "deploy", Options{})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "content of g1", resp.Results[0].Snippet)
}
