package memory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/crewlabs/crewd/internal/config"
)

var chromemTracer = otel.Tracer("crewd.memory.chromem")

// payload keys reserved for document fields
const (
	metaScope      = "scope"
	metaScopeID    = "scope_id"
	metaSourcePath = "source_path"
	metaSourceType = "source_type"
	metaTimestamp  = "timestamp"
)

// ChromemStore implements Store on the embedded chromem-go database.
//
// chromem-go is pure Go with gob persistence, so the default deployment needs
// no external service. Collections are keyed by document ID, which gives
// upsert semantics for free. Similarity is cosine.
type ChromemStore struct {
	db        *chromem.DB
	dimension int
	logger    *zap.Logger

	// collections caches created collections per scope
	collections sync.Map
}

// NewChromemStore opens or creates the persistent database at cfg.Path.
func NewChromemStore(cfg config.ChromemConfig, dimension int, logger *zap.Logger) (*ChromemStore, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("dimension must be positive, got %d", dimension)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	path, err := expandHome(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", path, err)
	}

	db, err := chromem.NewPersistentDB(path, cfg.Compress)
	if err != nil {
		return nil, fmt.Errorf("%w: opening chromem db: %v", ErrStoreUnavailable, err)
	}

	logger.Info("chromem store opened",
		zap.String("path", path),
		zap.Bool("compress", cfg.Compress),
		zap.Int("dimension", dimension),
	)

	return &ChromemStore{db: db, dimension: dimension, logger: logger}, nil
}

func expandHome(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// noEmbedding is passed wherever chromem requires an embedding function.
// Vectors are always precomputed here, so it must never run. Passing nil
// would make chromem fall back to its OpenAI default.
func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("embedding must be precomputed")
}

// collection returns the scope's collection, creating it on first use with
// the dimension and metric recorded as collection metadata.
func (s *ChromemStore) collection(scope Scope) (*chromem.Collection, error) {
	name := scope.CollectionName()
	if cached, ok := s.collections.Load(name); ok {
		return cached.(*chromem.Collection), nil
	}

	if err := ValidateCollectionName(name); err != nil {
		return nil, err
	}

	schema := map[string]string{
		"dimension": strconv.Itoa(s.dimension),
		"metric":    "cosine",
	}
	collection, err := s.db.GetOrCreateCollection(name, schema, noEmbedding)
	if err != nil {
		return nil, fmt.Errorf("creating collection %s: %w", name, err)
	}

	s.collections.Store(name, collection)
	return collection, nil
}

// existing returns the scope's collection without creating it, or nil.
func (s *ChromemStore) existing(scope Scope) *chromem.Collection {
	name := scope.CollectionName()
	if cached, ok := s.collections.Load(name); ok {
		return cached.(*chromem.Collection)
	}
	collection := s.db.GetCollection(name, noEmbedding)
	if collection != nil {
		s.collections.Store(name, collection)
	}
	return collection
}

// Upsert writes records into the scope's collection.
func (s *ChromemStore) Upsert(ctx context.Context, scope Scope, records []Record) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Upsert")
	defer span.End()

	span.SetAttributes(
		attribute.String("scope", string(scope)),
		attribute.Int("record_count", len(records)),
	)

	if len(records) == 0 {
		return ErrEmptyRecords
	}
	if !scope.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidScope, scope)
	}

	docs := make([]chromem.Document, len(records))
	for i, rec := range records {
		if len(rec.Vector) != s.dimension {
			err := fmt.Errorf("%w: document %s has dimension %d, collection expects %d",
				ErrDimensionMismatch, rec.ID, len(rec.Vector), s.dimension)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		docs[i] = chromem.Document{
			ID:        rec.ID,
			Content:   rec.Content,
			Embedding: rec.Vector,
			Metadata:  flattenDocument(rec.Document),
		}
	}

	collection, err := s.collection(scope)
	if err != nil {
		span.RecordError(err)
		return err
	}

	// Concurrency 1: embeddings already exist, nothing to parallelize.
	if err := collection.AddDocuments(ctx, docs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upserting into %s: %w", scope.CollectionName(), err)
	}

	span.SetStatus(codes.Ok, "success")
	s.logger.Debug("upserted records",
		zap.String("scope", string(scope)),
		zap.Int("count", len(records)),
	)
	return nil
}

// Query searches the scope's collection by vector.
func (s *ChromemStore) Query(ctx context.Context, scope Scope, vector []float32, k int, scopeID string) ([]Match, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Query")
	defer span.End()

	span.SetAttributes(
		attribute.String("scope", string(scope)),
		attribute.Int("k", k),
	)

	if !scope.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidScope, scope)
	}
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("%w: query vector has dimension %d, collection expects %d",
			ErrDimensionMismatch, len(vector), s.dimension)
	}

	collection := s.existing(scope)
	if collection == nil {
		return []Match{}, nil
	}

	// chromem requires nResults <= document count
	count := collection.Count()
	if count == 0 {
		return []Match{}, nil
	}
	if k > count {
		k = count
	}

	var where map[string]string
	if scopeID != "" {
		where = map[string]string{metaScopeID: scopeID}
	}

	results, err := collection.QueryEmbedding(ctx, vector, k, where, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying %s: %w", scope.CollectionName(), err)
	}

	matches := make([]Match, len(results))
	for i, r := range results {
		matches[i] = Match{
			Document: unflattenDocument(r.ID, r.Content, r.Metadata),
			Score:    clampScore(r.Similarity),
		}
	}

	span.SetAttributes(attribute.Int("match_count", len(matches)))
	span.SetStatus(codes.Ok, "success")
	return matches, nil
}

// ListScopes returns the scopes with an existing collection.
func (s *ChromemStore) ListScopes(ctx context.Context) ([]Scope, error) {
	_, span := chromemTracer.Start(ctx, "ChromemStore.ListScopes")
	defer span.End()

	var scopes []Scope
	for name := range s.db.ListCollections() {
		if scope, ok := ScopeFromCollection(name); ok {
			scopes = append(scopes, scope)
		}
	}

	span.SetAttributes(attribute.Int("scope_count", len(scopes)))
	return scopes, nil
}

// Count returns the number of documents in the scope.
func (s *ChromemStore) Count(ctx context.Context, scope Scope) (int, error) {
	_, span := chromemTracer.Start(ctx, "ChromemStore.Count")
	defer span.End()

	if !scope.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidScope, scope)
	}

	collection := s.existing(scope)
	if collection == nil {
		return 0, nil
	}
	return collection.Count(), nil
}

// Drop removes the scope's collection.
func (s *ChromemStore) Drop(ctx context.Context, scope Scope) error {
	_, span := chromemTracer.Start(ctx, "ChromemStore.Drop")
	defer span.End()

	span.SetAttributes(attribute.String("scope", string(scope)))

	if !scope.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidScope, scope)
	}

	name := scope.CollectionName()
	if err := s.db.DeleteCollection(name); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("dropping %s: %w", name, err)
	}
	s.collections.Delete(name)

	span.SetStatus(codes.Ok, "success")
	s.logger.Info("dropped scope collection", zap.String("scope", string(scope)))
	return nil
}

// Close flushes nothing: chromem persists on every write.
func (s *ChromemStore) Close() error {
	s.logger.Info("chromem store closed")
	return nil
}

// flattenDocument packs document fields and caller metadata into one map.
// Caller metadata may not shadow reserved keys.
func flattenDocument(doc Document) map[string]string {
	meta := map[string]string{
		metaScope:      string(doc.Scope),
		metaScopeID:    doc.ScopeID,
		metaSourcePath: doc.SourcePath,
		metaSourceType: doc.SourceType,
	}
	if !doc.Timestamp.IsZero() {
		meta[metaTimestamp] = doc.Timestamp.UTC().Format(time.RFC3339)
	}
	for k, v := range doc.Metadata {
		if _, reserved := meta[k]; reserved || k == metaTimestamp {
			continue
		}
		meta[k] = v
	}
	return meta
}

// unflattenDocument rebuilds a Document from stored metadata.
func unflattenDocument(id, content string, meta map[string]string) Document {
	doc := Document{
		ID:         id,
		Content:    content,
		Scope:      Scope(meta[metaScope]),
		ScopeID:    meta[metaScopeID],
		SourcePath: meta[metaSourcePath],
		SourceType: meta[metaSourceType],
	}
	if ts := meta[metaTimestamp]; ts != "" {
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			doc.Timestamp = parsed
		}
	}
	for k, v := range meta {
		switch k {
		case metaScope, metaScopeID, metaSourcePath, metaSourceType, metaTimestamp:
		default:
			if doc.Metadata == nil {
				doc.Metadata = make(map[string]string)
			}
			doc.Metadata[k] = v
		}
	}
	return doc
}

var _ Store = (*ChromemStore)(nil)
