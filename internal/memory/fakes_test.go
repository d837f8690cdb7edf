package memory

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
)

// fakeStore is an in-memory Store with per-scope failure injection.
type fakeStore struct {
	mu        sync.Mutex
	records   map[Scope][]Record
	matches   map[Scope][]Match
	upsertErr map[Scope]error
	queryErr  map[Scope]error
	dropErr   map[Scope]error
	queryHook func(scope Scope)
	dropped   []Scope
	closed    bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		records:   make(map[Scope][]Record),
		matches:   make(map[Scope][]Match),
		upsertErr: make(map[Scope]error),
		queryErr:  make(map[Scope]error),
		dropErr:   make(map[Scope]error),
	}
}

func (f *fakeStore) Upsert(_ context.Context, scope Scope, records []Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.upsertErr[scope]; err != nil {
		return err
	}
	if len(records) == 0 {
		return ErrEmptyRecords
	}
	f.records[scope] = append(f.records[scope], records...)
	return nil
}

func (f *fakeStore) Query(_ context.Context, scope Scope, _ []float32, k int, scopeID string) ([]Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queryHook != nil {
		f.queryHook(scope)
	}
	if err := f.queryErr[scope]; err != nil {
		return nil, err
	}
	var out []Match
	for _, m := range f.matches[scope] {
		if scopeID != "" && m.Document.ScopeID != scopeID {
			continue
		}
		out = append(out, m)
		if len(out) == k {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) ListScopes(context.Context) ([]Scope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var scopes []Scope
	for _, scope := range AllScopes() {
		_, hasMatches := f.matches[scope]
		if len(f.records[scope]) > 0 || hasMatches || f.queryErr[scope] != nil {
			scopes = append(scopes, scope)
		}
	}
	return scopes, nil
}

func (f *fakeStore) Count(_ context.Context, scope Scope) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n := len(f.records[scope]); n > 0 {
		return n, nil
	}
	return len(f.matches[scope]), nil
}

func (f *fakeStore) Drop(_ context.Context, scope Scope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.dropErr[scope]; err != nil {
		return err
	}
	delete(f.records, scope)
	delete(f.matches, scope)
	f.dropped = append(f.dropped, scope)
	return nil
}

func (f *fakeStore) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// fakeEmbedder produces deterministic normalized vectors from a text hash.
type fakeEmbedder struct {
	mu         sync.Mutex
	dim        int
	batchCalls int
	queryCalls int
	err        error
}

func newFakeEmbedder(dim int) *fakeEmbedder {
	return &fakeEmbedder{dim: dim}
}

func (e *fakeEmbedder) vector(text string) []float32 {
	sum := sha256.Sum256([]byte(text))
	vec := make([]float32, e.dim)
	var norm float64
	for i := range vec {
		bits := binary.BigEndian.Uint32(sum[(i*4)%28:])
		vec[i] = float32(bits%1000) + 1
		norm += float64(vec[i]) * float64(vec[i])
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

func (e *fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.batchCalls++
	if e.err != nil {
		return nil, e.err
	}
	if len(texts) == 0 {
		return nil, fmt.Errorf("empty batch")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e *fakeEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queryCalls++
	if e.err != nil {
		return nil, e.err
	}
	return e.vector(text), nil
}
