package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/crewlabs/crewd/internal/config"
)

func testConfig(baseURL string) config.EmbeddingsConfig {
	return config.EmbeddingsConfig{
		BaseURL:   baseURL,
		Model:     "test-model",
		Dimension: 3,
		MaxChars:  100,
		Timeout:   config.Duration(5 * time.Second),
	}
}

// newEmbedServer returns a server speaking the /v1/embeddings wire format,
// producing a distinct vector per input position.
func newEmbedServer(t *testing.T, capture *embedRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/embeddings", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)

		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if capture != nil {
			*capture = req
		}

		type entry struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		data := make([]entry, len(req.Input))
		for i := range req.Input {
			data[i] = entry{Embedding: []float32{float32(i), 1, 0}, Index: i}
		}
		// Reverse order on the wire; index ordering is what counts.
		for i, j := 0, len(data)-1; i < j; i, j = i+1, j-1 {
			data[i], data[j] = data[j], data[i]
		}
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{"data": data}))
	}))
}

func TestNewServiceRejectsIncompleteConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.EmbeddingsConfig
	}{
		{name: "missing base url", cfg: config.EmbeddingsConfig{Model: "m", Dimension: 3, MaxChars: 10}},
		{name: "missing model", cfg: config.EmbeddingsConfig{BaseURL: "http://x", Dimension: 3, MaxChars: 10}},
		{name: "zero dimension", cfg: config.EmbeddingsConfig{BaseURL: "http://x", Model: "m", MaxChars: 10}},
		{name: "zero max chars", cfg: config.EmbeddingsConfig{BaseURL: "http://x", Model: "m", Dimension: 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewService(tt.cfg, zap.NewNop())
			require.ErrorIs(t, err, ErrNotConfigured)
		})
	}
}

func TestEmbedDocumentsPreservesOrder(t *testing.T) {
	var captured embedRequest
	srv := newEmbedServer(t, &captured)
	defer srv.Close()

	svc, err := NewService(testConfig(srv.URL), zap.NewNop())
	require.NoError(t, err)

	vectors, err := svc.EmbedDocuments(context.Background(), []string{"alpha", "beta", "gamma"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)

	assert.Equal(t, "test-model", captured.Model)
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, captured.Input)
	for i, v := range vectors {
		assert.Equal(t, []float32{float32(i), 1, 0}, v, "vector %d", i)
	}
}

func TestEmbedDocumentsTruncatesLongInput(t *testing.T) {
	var captured embedRequest
	srv := newEmbedServer(t, &captured)
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.MaxChars = 5
	svc, err := NewService(cfg, zap.NewNop())
	require.NoError(t, err)

	_, err = svc.EmbedDocuments(context.Background(), []string{strings.Repeat("x", 50)})
	require.NoError(t, err)
	assert.Equal(t, []string{"xxxxx"}, captured.Input)
}

func TestEmbedQuerySendsBearerToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": []float32{1, 0, 0}, "index": 0}},
		})
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.APIKey = config.Secret("sk-test")
	svc, err := NewService(cfg, zap.NewNop())
	require.NoError(t, err)

	vec, err := svc.EmbedQuery(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0, 0}, vec)
	assert.Equal(t, "Bearer sk-test", gotAuth)
}

func TestEmbedDocumentsUpstreamStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	svc, err := NewService(testConfig(srv.URL), zap.NewNop())
	require.NoError(t, err)

	_, err = svc.EmbedDocuments(context.Background(), []string{"a"})
	require.ErrorIs(t, err, ErrUpstream)
	assert.Contains(t, err.Error(), "503")
}

func TestEmbedDocumentsRejectsMissizedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": []float32{1, 0, 0}, "index": 0}},
		})
	}))
	defer srv.Close()

	svc, err := NewService(testConfig(srv.URL), zap.NewNop())
	require.NoError(t, err)

	_, err = svc.EmbedDocuments(context.Background(), []string{"a", "b"})
	require.ErrorIs(t, err, ErrUpstream)
}

func TestEmbedDocumentsRejectsWrongDimension(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": []float32{1, 0}, "index": 0}},
		})
	}))
	defer srv.Close()

	svc, err := NewService(testConfig(srv.URL), zap.NewNop())
	require.NoError(t, err)

	_, err = svc.EmbedDocuments(context.Background(), []string{"a"})
	require.ErrorIs(t, err, ErrUpstream)
	assert.Contains(t, err.Error(), "dimension")
}

func TestEmbedDocumentsEmptyInput(t *testing.T) {
	svc, err := NewService(testConfig("http://localhost:1"), zap.NewNop())
	require.NoError(t, err)

	_, err = svc.EmbedDocuments(context.Background(), nil)
	require.ErrorIs(t, err, ErrEmptyInput)
}

func TestEmbedQueryEmptyText(t *testing.T) {
	svc, err := NewService(testConfig("http://localhost:1"), zap.NewNop())
	require.NoError(t, err)

	_, err = svc.EmbedQuery(context.Background(), "")
	require.ErrorIs(t, err, ErrEmptyInput)
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		maxChars int
		want     string
	}{
		{name: "short untouched", input: "hello", maxChars: 10, want: "hello"},
		{name: "exact untouched", input: "hello", maxChars: 5, want: "hello"},
		{name: "long cut", input: "hello world", maxChars: 5, want: "hello"},
		{name: "multibyte safe", input: "héllo wörld", maxChars: 6, want: "héllo "},
		{name: "zero budget", input: "hello", maxChars: 0, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Truncate(tt.input, tt.maxChars))
		})
	}
}
