// Package embeddings generates text embeddings via an OpenAI-compatible API.
package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/crewlabs/crewd/internal/config"
)

var (
	// ErrEmptyInput indicates empty or nil input texts
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrNotConfigured indicates the provider configuration is incomplete.
	// Returned before any network call is attempted.
	ErrNotConfigured = errors.New("embedding provider not configured")

	// ErrUpstream indicates a failure reported by or reaching the embedding API
	ErrUpstream = errors.New("embedding upstream failed")
)

// Service generates embeddings through the configured HTTP endpoint.
//
// Inputs longer than the configured character budget are truncated to a
// prefix before being sent, so repeated calls with the same oversized text
// produce the same vector.
type Service struct {
	cfg     config.EmbeddingsConfig
	client  *http.Client
	limiter *rate.Limiter
	metrics *Metrics
}

// NewService creates an embedding service from config.
//
// Configuration problems (missing base URL or model, non-positive dimension)
// are reported here as ErrNotConfigured so callers fail fast instead of
// discovering them on the first request.
func NewService(cfg config.EmbeddingsConfig, logger *zap.Logger) (*Service, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: base URL required", ErrNotConfigured)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: model required", ErrNotConfigured)
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive, got %d", ErrNotConfigured, cfg.Dimension)
	}
	if cfg.MaxChars <= 0 {
		return nil, fmt.Errorf("%w: max_chars must be positive, got %d", ErrNotConfigured, cfg.MaxChars)
	}

	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}

	return &Service{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout.Duration()},
		limiter: limiter,
		metrics: NewMetrics(logger),
	}, nil
}

// Dimension returns the vector dimension this service produces.
func (s *Service) Dimension() int {
	return s.cfg.Dimension
}

// Model returns the configured model identifier.
func (s *Service) Model() string {
	return s.cfg.Model
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// EmbedDocuments generates embeddings for multiple texts in one API call.
//
// The returned slice is position-aligned with texts. A transport failure,
// non-2xx status, or a response whose vector count or dimension does not
// match the request is reported as ErrUpstream; no retry is attempted.
func (s *Service) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	var genErr error
	defer func() {
		s.metrics.RecordGeneration(ctx, s.cfg.Model, "embed_documents", time.Since(start), len(texts), genErr)
	}()

	if len(texts) == 0 {
		genErr = fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
		return nil, genErr
	}

	input := make([]string, len(texts))
	for i, t := range texts {
		input[i] = Truncate(t, s.cfg.MaxChars)
	}

	vectors, err := s.call(ctx, input)
	if err != nil {
		genErr = err
		return nil, genErr
	}

	if len(vectors) != len(texts) {
		genErr = fmt.Errorf("%w: expected %d vectors, got %d", ErrUpstream, len(texts), len(vectors))
		return nil, genErr
	}
	for i, v := range vectors {
		if len(v) != s.cfg.Dimension {
			genErr = fmt.Errorf("%w: vector %d has dimension %d, expected %d", ErrUpstream, i, len(v), s.cfg.Dimension)
			return nil, genErr
		}
	}

	return vectors, nil
}

// EmbedQuery generates an embedding for a single query text.
func (s *Service) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	var genErr error
	defer func() {
		s.metrics.RecordGeneration(ctx, s.cfg.Model, "embed_query", time.Since(start), 1, genErr)
	}()

	if text == "" {
		genErr = fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
		return nil, genErr
	}

	vectors, err := s.call(ctx, []string{Truncate(text, s.cfg.MaxChars)})
	if err != nil {
		genErr = err
		return nil, genErr
	}
	if len(vectors) != 1 {
		genErr = fmt.Errorf("%w: expected 1 vector, got %d", ErrUpstream, len(vectors))
		return nil, genErr
	}
	if len(vectors[0]) != s.cfg.Dimension {
		genErr = fmt.Errorf("%w: vector has dimension %d, expected %d", ErrUpstream, len(vectors[0]), s.cfg.Dimension)
		return nil, genErr
	}

	return vectors[0], nil
}

func (s *Service) call(ctx context.Context, input []string) ([][]float32, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
		}
	}

	body, err := json.Marshal(embedRequest{Model: s.cfg.Model, Input: input})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey.IsSet() {
		httpReq.Header.Set("Authorization", "Bearer "+s.cfg.APIKey.Value())
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: status %d: %s", ErrUpstream, resp.StatusCode, string(respBody))
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrUpstream, err)
	}

	// The API may return entries out of order; the index field is
	// authoritative for position.
	sort.Slice(parsed.Data, func(i, j int) bool {
		return parsed.Data[i].Index < parsed.Data[j].Index
	})

	vectors := make([][]float32, len(parsed.Data))
	for i, d := range parsed.Data {
		vectors[i] = d.Embedding
	}

	return vectors, nil
}
