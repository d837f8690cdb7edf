package memory

import (
	"fmt"
	"time"
)

// Document is one memory entry before embedding.
type Document struct {
	// ID is the caller-assigned stable identifier. Re-indexing the same ID
	// replaces the stored entry.
	ID string

	// Content is the memory text.
	Content string

	// Scope selects the partition this document belongs to.
	Scope Scope

	// ScopeID narrows the scope to one project or workspace. Empty for
	// global and cross entries.
	ScopeID string

	// SourcePath is the file the document was read from, if any.
	SourcePath string

	// SourceType labels the origin, e.g. "memory_file" or "api".
	SourceType string

	// Timestamp is when the document was last written at the source.
	Timestamp time.Time

	// Metadata carries additional caller-defined key/value pairs.
	Metadata map[string]string
}

// Validate checks the fields required for indexing.
func (d Document) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidDocument)
	}
	if d.Content == "" {
		return fmt.Errorf("%w: document %s has empty content", ErrInvalidDocument, d.ID)
	}
	if !d.Scope.Valid() {
		return fmt.Errorf("%w: document %s has invalid scope %q", ErrInvalidDocument, d.ID, d.Scope)
	}
	return nil
}

// Record pairs a document with its embedding vector, ready for storage.
type Record struct {
	Document
	Vector []float32
}

// NewRecord builds a Record, rejecting empty vectors.
func NewRecord(doc Document, vector []float32) (Record, error) {
	if err := doc.Validate(); err != nil {
		return Record{}, err
	}
	if len(vector) == 0 {
		return Record{}, fmt.Errorf("%w: document %s has empty vector", ErrDimensionMismatch, doc.ID)
	}
	return Record{Document: doc, Vector: vector}, nil
}

// Match is a raw store hit before merging and snippet extraction.
type Match struct {
	Document Document
	// Score is cosine similarity clamped to [0,1]; higher is more relevant.
	Score float32
}

// SearchResult is a merged, ranked hit returned to callers.
type SearchResult struct {
	Document Document
	Score    float32
	// Snippet is a bounded prefix of the document content.
	Snippet string
}

// ScopeFailure records a scope that could not be searched. Failures are
// surfaced alongside results instead of failing the whole query.
type ScopeFailure struct {
	Scope Scope
	Err   string
}

// SnippetMaxChars bounds the snippet length in runes.
const SnippetMaxChars = 240

// Snippet returns a bounded prefix of content, never splitting a rune.
func Snippet(content string) string {
	runes := []rune(content)
	if len(runes) <= SnippetMaxChars {
		return content
	}
	return string(runes[:SnippetMaxChars])
}

// clampScore bounds a similarity score to [0,1].
func clampScore(s float32) float32 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
