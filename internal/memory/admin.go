package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var adminTracer = otel.Tracer("crewd.memory.admin")

// Stats summarizes the index contents.
type Stats struct {
	TotalDocuments int           `json:"total_documents"`
	ByScope        map[Scope]int `json:"by_scope"`
	ComputedAt     time.Time     `json:"computed_at"`
}

// Admin provides stats and clearing over the scoped store.
type Admin struct {
	store  Store
	logger *zap.Logger
}

// NewAdmin creates an Admin.
func NewAdmin(store Store, logger *zap.Logger) *Admin {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Admin{store: store, logger: logger}
}

// Stats counts documents per existing scope.
func (a *Admin) Stats(ctx context.Context) (*Stats, error) {
	ctx, span := adminTracer.Start(ctx, "Admin.Stats")
	defer span.End()

	scopes, err := a.store.ListScopes(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("listing scopes: %w", err)
	}

	stats := &Stats{
		ByScope:    make(map[Scope]int, len(scopes)),
		ComputedAt: time.Now().UTC(),
	}
	for _, scope := range scopes {
		count, err := a.store.Count(ctx, scope)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("counting scope %s: %w", scope, err)
		}
		stats.ByScope[scope] = count
		stats.TotalDocuments += count
	}

	span.SetAttributes(attribute.Int("total_documents", stats.TotalDocuments))
	span.SetStatus(codes.Ok, "success")
	return stats, nil
}

// Clear drops one scope, or every existing scope when scope is nil.
//
// Each scope is dropped atomically; when clearing all, a failing scope does
// not prevent the others from being dropped.
func (a *Admin) Clear(ctx context.Context, scope *Scope) error {
	ctx, span := adminTracer.Start(ctx, "Admin.Clear")
	defer span.End()

	if scope != nil {
		span.SetAttributes(attribute.String("scope", string(*scope)))
		if !scope.Valid() {
			return fmt.Errorf("%w: %q", ErrInvalidScope, *scope)
		}
		if err := a.store.Drop(ctx, *scope); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		a.logger.Info("cleared scope", zap.String("scope", string(*scope)))
		span.SetStatus(codes.Ok, "success")
		return nil
	}

	scopes, err := a.store.ListScopes(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("listing scopes: %w", err)
	}

	var errs []error
	for _, s := range scopes {
		if err := a.store.Drop(ctx, s); err != nil {
			errs = append(errs, fmt.Errorf("scope %s: %w", s, err))
		}
	}
	if len(errs) > 0 {
		joined := errors.Join(errs...)
		span.RecordError(joined)
		span.SetStatus(codes.Error, "partial clear failure")
		return joined
	}

	a.logger.Info("cleared all scopes", zap.Int("count", len(scopes)))
	span.SetStatus(codes.Ok, "success")
	return nil
}
