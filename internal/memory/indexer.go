package memory

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var indexerTracer = otel.Tracer("crewd.memory.indexer")

// Embedder converts text into vectors. Implemented by embeddings.Service.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Indexer writes documents into the scoped store, one embedding batch per
// scope partition.
type Indexer struct {
	store    Store
	embedder Embedder
	logger   *zap.Logger
	metrics  *Metrics
}

// NewIndexer creates an Indexer.
func NewIndexer(store Store, embedder Embedder, logger *zap.Logger, metrics *Metrics) *Indexer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewMetrics(logger)
	}
	return &Indexer{store: store, embedder: embedder, logger: logger, metrics: metrics}
}

// IndexOne embeds and stores a single document.
func (ix *Indexer) IndexOne(ctx context.Context, doc Document) error {
	ctx, span := indexerTracer.Start(ctx, "Indexer.IndexOne")
	defer span.End()

	span.SetAttributes(
		attribute.String("scope", string(doc.Scope)),
		attribute.String("document_id", doc.ID),
	)

	if err := doc.Validate(); err != nil {
		span.RecordError(err)
		return err
	}

	indexed, err := ix.indexPartition(ctx, doc.Scope, []Document{doc})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if indexed != 1 {
		return fmt.Errorf("expected 1 document indexed, got %d", indexed)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// IndexMany embeds and stores a batch of documents.
//
// Documents are partitioned by scope and each partition is embedded in one
// batch call. A failing partition does not block the others: IndexMany
// returns the number of documents actually indexed together with the joined
// partition errors.
func (ix *Indexer) IndexMany(ctx context.Context, docs []Document) (int, error) {
	ctx, span := indexerTracer.Start(ctx, "Indexer.IndexMany")
	defer span.End()

	span.SetAttributes(attribute.Int("document_count", len(docs)))

	if len(docs) == 0 {
		return 0, nil
	}

	var errs []error

	// Partition by scope, preserving input order within each partition.
	partitions := make(map[Scope][]Document)
	for _, doc := range docs {
		if err := doc.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		partitions[doc.Scope] = append(partitions[doc.Scope], doc)
	}

	indexed := 0
	for _, scope := range AllScopes() {
		partition, ok := partitions[scope]
		if !ok {
			continue
		}
		n, err := ix.indexPartition(ctx, scope, partition)
		indexed += n
		if err != nil {
			errs = append(errs, fmt.Errorf("scope %s: %w", scope, err))
			ix.logger.Warn("partition indexing failed",
				zap.String("scope", string(scope)),
				zap.Int("documents", len(partition)),
				zap.Error(err),
			)
		}
	}

	span.SetAttributes(attribute.Int("documents_indexed", indexed))
	if len(errs) > 0 {
		span.SetStatus(codes.Error, "partial failure")
		return indexed, errors.Join(errs...)
	}

	span.SetStatus(codes.Ok, "success")
	return indexed, nil
}

// indexPartition embeds one scope partition in a single batch and upserts it.
func (ix *Indexer) indexPartition(ctx context.Context, scope Scope, docs []Document) (n int, err error) {
	defer func() { ix.metrics.RecordIndexed(ctx, scope, n, err) }()

	texts := make([]string, len(docs))
	for i, doc := range docs {
		texts[i] = doc.Content
	}

	vectors, err := ix.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embedding batch: %w", err)
	}
	if len(vectors) != len(docs) {
		return 0, fmt.Errorf("embedding batch returned %d vectors for %d documents", len(vectors), len(docs))
	}

	records := make([]Record, len(docs))
	for i, doc := range docs {
		rec, err := NewRecord(doc, vectors[i])
		if err != nil {
			return 0, err
		}
		records[i] = rec
	}

	if err := ix.store.Upsert(ctx, scope, records); err != nil {
		return 0, err
	}

	ix.logger.Debug("indexed partition",
		zap.String("scope", string(scope)),
		zap.Int("count", len(records)),
	)
	return len(records), nil
}
