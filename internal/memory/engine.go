package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var engineTracer = otel.Tracer("crewd.memory.engine")

const (
	// DefaultLimit is the result cap applied when Options.Limit is zero.
	DefaultLimit = 10
	// DefaultMinScore is the relevance floor applied when Options.MinScore
	// is zero. A negative MinScore disables filtering.
	DefaultMinScore = 0.5
)

// Options controls a search.
type Options struct {
	// Scope restricts the search to one scope. Nil searches all four.
	Scope *Scope
	// ScopeID restricts matches to one project or workspace.
	ScopeID string
	// Limit caps the merged result count. Zero means DefaultLimit.
	Limit int
	// MinScore drops matches scoring below it. Zero means DefaultMinScore;
	// negative disables the floor.
	MinScore float64
}

// Response holds ranked results plus the scopes that could not be searched.
type Response struct {
	Results  []SearchResult
	Failures []ScopeFailure
}

// Engine runs scoped semantic search: the query is embedded once, scopes are
// queried concurrently with a per-scope timeout, and matches are merged into
// a single ranking. A failing scope is reported in the response instead of
// failing the query.
type Engine struct {
	store        Store
	embedder     Embedder
	scopeTimeout time.Duration
	logger       *zap.Logger
	metrics      *Metrics
}

// NewEngine creates an Engine. scopeTimeout bounds each per-scope lookup.
func NewEngine(store Store, embedder Embedder, scopeTimeout time.Duration, logger *zap.Logger, metrics *Metrics) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewMetrics(logger)
	}
	return &Engine{
		store:        store,
		embedder:     embedder,
		scopeTimeout: scopeTimeout,
		logger:       logger,
		metrics:      metrics,
	}
}

// scopeOutcome is the result of querying one scope.
type scopeOutcome struct {
	scope   Scope
	matches []Match
	err     error
}

// Search embeds the query and fans out across the requested scopes.
func (e *Engine) Search(ctx context.Context, query string, opts Options) (*Response, error) {
	ctx, span := engineTracer.Start(ctx, "Engine.Search")
	defer span.End()

	start := time.Now()

	if query == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	minScore := opts.MinScore
	if minScore == 0 {
		minScore = DefaultMinScore
	}

	vector, err := e.embedder.EmbedQuery(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	// An explicit scope is searched directly; otherwise fan out over the
	// scopes that currently have a store.
	var scopes []Scope
	if opts.Scope != nil {
		if !opts.Scope.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidScope, *opts.Scope)
		}
		scopes = []Scope{*opts.Scope}
	} else {
		scopes, err = e.store.ListScopes(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("listing scopes: %w", err)
		}
	}

	span.SetAttributes(
		attribute.Int("scope_count", len(scopes)),
		attribute.Int("limit", limit),
		attribute.Float64("min_score", minScore),
	)

	outcomes := make([]scopeOutcome, len(scopes))
	var wg sync.WaitGroup
	for i, scope := range scopes {
		wg.Add(1)
		go func(i int, scope Scope) {
			defer wg.Done()
			scopeCtx, cancel := context.WithTimeout(ctx, e.scopeTimeout)
			defer cancel()

			matches, err := e.store.Query(scopeCtx, scope, vector, limit, opts.ScopeID)
			outcomes[i] = scopeOutcome{scope: scope, matches: matches, err: err}
		}(i, scope)
	}
	wg.Wait()

	// A cancelled caller gets the error, never a partial ranking.
	if err := ctx.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	response := &Response{}
	var merged []SearchResult
	for _, outcome := range outcomes {
		if outcome.err != nil {
			response.Failures = append(response.Failures, ScopeFailure{
				Scope: outcome.scope,
				Err:   outcome.err.Error(),
			})
			e.logger.Warn("scope query failed",
				zap.String("scope", string(outcome.scope)),
				zap.Error(outcome.err),
			)
			continue
		}
		for _, m := range outcome.matches {
			if float64(m.Score) < minScore {
				continue
			}
			merged = append(merged, SearchResult{
				Document: m.Document,
				Score:    m.Score,
				Snippet:  Snippet(m.Document.Content),
			})
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		return merged[i].Document.ID < merged[j].Document.ID
	})
	if len(merged) > limit {
		merged = merged[:limit]
	}
	response.Results = merged

	e.metrics.RecordSearch(ctx, time.Since(start), len(response.Results), len(response.Failures))

	span.SetAttributes(
		attribute.Int("result_count", len(response.Results)),
		attribute.Int("failure_count", len(response.Failures)),
	)
	span.SetStatus(codes.Ok, "success")
	return response, nil
}
