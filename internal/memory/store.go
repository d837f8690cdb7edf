package memory

import (
	"context"
	"errors"
)

var (
	// ErrEmptyRecords indicates an upsert with no records
	ErrEmptyRecords = errors.New("no records to upsert")

	// ErrInvalidDocument indicates a document missing required fields
	ErrInvalidDocument = errors.New("invalid document")

	// ErrInvalidScope indicates an unknown scope name
	ErrInvalidScope = errors.New("invalid scope")

	// ErrDimensionMismatch indicates a vector whose size does not match the
	// collection schema
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrStoreUnavailable indicates the backing store could not be reached
	ErrStoreUnavailable = errors.New("memory store unavailable")
)

// Store is the scoped vector storage backend.
//
// Collections are created lazily on first upsert into a scope, with the
// vector dimension and cosine metric declared at creation. Querying a scope
// that has never been written returns no matches, not an error.
type Store interface {
	// Upsert writes records into the scope's collection, replacing entries
	// with the same document ID.
	Upsert(ctx context.Context, scope Scope, records []Record) error

	// Query returns up to k matches for the vector, most similar first.
	// A non-empty scopeID restricts matches to that project or workspace.
	Query(ctx context.Context, scope Scope, vector []float32, k int, scopeID string) ([]Match, error)

	// ListScopes returns the scopes that currently have a collection.
	ListScopes(ctx context.Context) ([]Scope, error)

	// Count returns the number of documents stored in the scope.
	Count(ctx context.Context, scope Scope) (int, error)

	// Drop removes the scope's collection and all its documents. Dropping a
	// scope with no collection is a no-op.
	Drop(ctx context.Context, scope Scope) error

	// Close releases the backing connection or flushes persistence.
	Close() error
}
