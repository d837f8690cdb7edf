package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/crewlabs/crewd/internal/config"
)

var qdrantTracer = otel.Tracer("crewd.memory.qdrant")

// pointNamespace derives deterministic point UUIDs from document IDs, so
// re-indexing the same document overwrites its point instead of duplicating.
var pointNamespace = uuid.MustParse("6f1c9e4a-2d3b-4c58-9a07-d51e8b2f4c16")

// QdrantStore implements Store on an external Qdrant server over gRPC.
//
// Qdrant point IDs must be UUIDs or integers, so document IDs are mapped to
// UUIDv5 values and the original ID is kept in the payload.
type QdrantStore struct {
	client    *qdrant.Client
	dimension int
	logger    *zap.Logger

	// created tracks collections known to exist, guarded for the
	// check-then-create on first upsert
	mu      sync.Mutex
	created map[string]bool
}

// NewQdrantStore connects to Qdrant and verifies the connection.
func NewQdrantStore(cfg config.QdrantConfig, dimension int, logger *zap.Logger) (*QdrantStore, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("dimension must be positive, got %d", dimension)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: health check: %v", ErrStoreUnavailable, err)
	}

	logger.Info("qdrant store connected",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.Bool("tls", cfg.UseTLS),
		zap.Int("dimension", dimension),
	)

	return &QdrantStore{
		client:    client,
		dimension: dimension,
		logger:    logger,
		created:   make(map[string]bool),
	}, nil
}

// ensureCollection creates the scope's collection on first use, declaring
// the vector size and cosine distance.
func (s *QdrantStore) ensureCollection(ctx context.Context, scope Scope) error {
	name := scope.CollectionName()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.created[name] {
		return nil
	}

	if err := ValidateCollectionName(name); err != nil {
		return err
	}

	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", name, err)
	}
	if !exists {
		err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(s.dimension),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil && status.Code(err) != grpccodes.AlreadyExists {
			return fmt.Errorf("creating collection %s: %w", name, err)
		}
		s.logger.Info("created qdrant collection",
			zap.String("collection", name),
			zap.Int("dimension", s.dimension),
		)
	}

	s.created[name] = true
	return nil
}

// Upsert writes records into the scope's collection.
func (s *QdrantStore) Upsert(ctx context.Context, scope Scope, records []Record) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Upsert")
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

	points := make([]*qdrant.PointStruct, len(records))
	for i, rec := range records {
		if len(rec.Vector) != s.dimension {
			err := fmt.Errorf("%w: document %s has dimension %d, collection expects %d",
				ErrDimensionMismatch, rec.ID, len(rec.Vector), s.dimension)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}

		payload := map[string]*qdrant.Value{
			"id":      stringValue(rec.ID),
			"content": stringValue(rec.Content),
		}
		for k, v := range flattenDocument(rec.Document) {
			if k == "id" || k == "content" {
				continue
			}
			payload[k] = stringValue(v)
		}

		pointID := uuid.NewSHA1(pointNamespace, []byte(rec.ID)).String()
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointID),
			Vectors: qdrant.NewVectors(rec.Vector...),
			Payload: payload,
		}
	}

	if err := s.ensureCollection(ctx, scope); err != nil {
		span.RecordError(err)
		return err
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: scope.CollectionName(),
		Points:         points,
	})
	if err != nil {
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
func (s *QdrantStore) Query(ctx context.Context, scope Scope, vector []float32, k int, scopeID string) ([]Match, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Query")
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

	var filter *qdrant.Filter
	if scopeID != "" {
		filter = &qdrant.Filter{
			Must: []*qdrant.Condition{
				{
					ConditionOneOf: &qdrant.Condition_Field{
						Field: &qdrant.FieldCondition{
							Key: metaScopeID,
							Match: &qdrant.Match{
								MatchValue: &qdrant.Match_Keyword{Keyword: scopeID},
							},
						},
					},
				},
			},
		}
	}

	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: scope.CollectionName(),
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
		Filter:         filter,
	})
	if err != nil {
		// A scope that has never been written has no collection yet.
		if status.Code(err) == grpccodes.NotFound {
			return []Match{}, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying %s: %w", scope.CollectionName(), err)
	}

	matches := make([]Match, len(results))
	for i, point := range results {
		matches[i] = Match{
			Document: documentFromPayload(point.Payload),
			Score:    clampScore(point.Score),
		}
	}

	span.SetAttributes(attribute.Int("match_count", len(matches)))
	span.SetStatus(codes.Ok, "success")
	return matches, nil
}

// ListScopes returns the scopes with an existing collection.
func (s *QdrantStore) ListScopes(ctx context.Context) ([]Scope, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.ListScopes")
	defer span.End()

	names, err := s.client.ListCollections(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("listing collections: %w", err)
	}

	var scopes []Scope
	for _, name := range names {
		if scope, ok := ScopeFromCollection(name); ok {
			scopes = append(scopes, scope)
		}
	}

	span.SetAttributes(attribute.Int("scope_count", len(scopes)))
	return scopes, nil
}

// Count returns the number of documents in the scope.
func (s *QdrantStore) Count(ctx context.Context, scope Scope) (int, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Count")
	defer span.End()

	if !scope.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidScope, scope)
	}

	count, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: scope.CollectionName(),
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		if status.Code(err) == grpccodes.NotFound {
			return 0, nil
		}
		span.RecordError(err)
		return 0, fmt.Errorf("counting %s: %w", scope.CollectionName(), err)
	}

	return int(count), nil
}

// Drop removes the scope's collection.
func (s *QdrantStore) Drop(ctx context.Context, scope Scope) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Drop")
	defer span.End()

	span.SetAttributes(attribute.String("scope", string(scope)))

	if !scope.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidScope, scope)
	}

	name := scope.CollectionName()
	err := s.client.DeleteCollection(ctx, name)
	if err != nil && status.Code(err) != grpccodes.NotFound {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("dropping %s: %w", name, err)
	}

	s.mu.Lock()
	delete(s.created, name)
	s.mu.Unlock()

	span.SetStatus(codes.Ok, "success")
	s.logger.Info("dropped scope collection", zap.String("scope", string(scope)))
	return nil
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func stringValue(s string) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: s}}
}

// documentFromPayload rebuilds a Document from a Qdrant point payload.
func documentFromPayload(payload map[string]*qdrant.Value) Document {
	meta := make(map[string]string, len(payload))
	for k, v := range payload {
		if sv, ok := v.Kind.(*qdrant.Value_StringValue); ok {
			meta[k] = sv.StringValue
		}
	}
	id := meta["id"]
	content := meta["content"]
	delete(meta, "id")
	delete(meta, "content")
	return unflattenDocument(id, content, meta)
}

var _ Store = (*QdrantStore)(nil)
