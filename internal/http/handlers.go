package http

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/crewlabs/crewd/internal/memory"
)

// SearchRequest is the request body for POST /api/v1/memory/search.
type SearchRequest struct {
	Query string `json:"query"`
	// Scope restricts the search to one scope; empty searches all.
	Scope   string `json:"scope,omitempty"`
	ScopeID string `json:"scope_id,omitempty"`
	Limit   int    `json:"limit,omitempty"`
	// MinScore drops results below the floor. Zero uses the default;
	// negative disables filtering.
	MinScore float64 `json:"min_score,omitempty"`
}

// SearchResultDTO is one ranked hit.
type SearchResultDTO struct {
	ID         string            `json:"id"`
	Snippet    string            `json:"snippet"`
	Score      float32           `json:"score"`
	Scope      string            `json:"scope"`
	ScopeID    string            `json:"scope_id,omitempty"`
	SourcePath string            `json:"source_path,omitempty"`
	Timestamp  *time.Time        `json:"timestamp,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// ScopeFailureDTO reports a scope that could not be searched.
type ScopeFailureDTO struct {
	Scope string `json:"scope"`
	Error string `json:"error"`
}

// SearchResponse is the response body for POST /api/v1/memory/search.
type SearchResponse struct {
	Results  []SearchResultDTO `json:"results"`
	Failures []ScopeFailureDTO `json:"failures,omitempty"`
}

func (s *Server) handleSearch(c echo.Context) error {
	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query field is required")
	}

	opts := memory.Options{
		ScopeID:  req.ScopeID,
		Limit:    req.Limit,
		MinScore: req.MinScore,
	}
	if req.Scope != "" {
		scope, err := memory.ParseScope(req.Scope)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		opts.Scope = &scope
	}

	resp, err := s.engine.Search(c.Request().Context(), req.Query, opts)
	if err != nil {
		s.logger.Error("search failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}

	out := SearchResponse{Results: make([]SearchResultDTO, len(resp.Results))}
	for i, r := range resp.Results {
		dto := SearchResultDTO{
			ID:         r.Document.ID,
			Snippet:    r.Snippet,
			Score:      r.Score,
			Scope:      string(r.Document.Scope),
			ScopeID:    r.Document.ScopeID,
			SourcePath: r.Document.SourcePath,
			Metadata:   r.Document.Metadata,
		}
		if !r.Document.Timestamp.IsZero() {
			ts := r.Document.Timestamp
			dto.Timestamp = &ts
		}
		out.Results[i] = dto
	}
	for _, f := range resp.Failures {
		out.Failures = append(out.Failures, ScopeFailureDTO{
			Scope: string(f.Scope),
			Error: f.Err,
		})
	}

	return c.JSON(http.StatusOK, out)
}

// DocumentDTO is one document to index.
type DocumentDTO struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Scope    string            `json:"scope"`
	ScopeID  string            `json:"scope_id,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// IndexRequest is the request body for POST /api/v1/memory/documents.
type IndexRequest struct {
	Documents []DocumentDTO `json:"documents"`
}

// IndexResponse reports how many documents were indexed and any partition
// errors.
type IndexResponse struct {
	Indexed int    `json:"indexed"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleIndex(c echo.Context) error {
	var req IndexRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	docs := make([]memory.Document, len(req.Documents))
	now := time.Now().UTC()
	for i, d := range req.Documents {
		docs[i] = memory.Document{
			ID:         d.ID,
			Content:    d.Content,
			Scope:      memory.Scope(d.Scope),
			ScopeID:    d.ScopeID,
			SourceType: "api",
			Timestamp:  now,
			Metadata:   d.Metadata,
		}
	}

	indexed, err := s.indexer.IndexMany(c.Request().Context(), docs)
	resp := IndexResponse{Indexed: indexed}
	if err != nil {
		resp.Error = err.Error()
		if indexed == 0 {
			return c.JSON(http.StatusBadGateway, resp)
		}
		// partial success
		return c.JSON(http.StatusMultiStatus, resp)
	}

	return c.JSON(http.StatusOK, resp)
}

// ReindexResponse is the response body for POST /api/v1/memory/reindex.
type ReindexResponse struct {
	Indexed int    `json:"indexed"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleReindex(c echo.Context) error {
	if s.reindex == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "no source root configured")
	}

	indexed, err := s.reindex(c.Request().Context())
	resp := ReindexResponse{Indexed: indexed}
	if err != nil {
		resp.Error = err.Error()
		if indexed == 0 {
			return c.JSON(http.StatusBadGateway, resp)
		}
		return c.JSON(http.StatusMultiStatus, resp)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleStats(c echo.Context) error {
	stats, err := s.admin.Stats(c.Request().Context())
	if err != nil {
		s.logger.Error("stats failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, stats)
}

func (s *Server) handleClearScope(c echo.Context) error {
	scope, err := memory.ParseScope(c.Param("scope"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := s.admin.Clear(c.Request().Context(), &scope); err != nil {
		s.logger.Error("clear scope failed", zap.String("scope", string(scope)), zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleClearAll(c echo.Context) error {
	if err := s.admin.Clear(c.Request().Context(), nil); err != nil {
		s.logger.Error("clear all failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
