// Package http provides the crewd HTTP API.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/crewlabs/crewd/internal/memory"
)

// ReindexFunc rescans the fleet root and reindexes it. Nil when no source
// root is configured.
type ReindexFunc func(ctx context.Context) (int, error)

// Server exposes the memory index over HTTP.
type Server struct {
	echo    *echo.Echo
	engine  *memory.Engine
	indexer *memory.Indexer
	admin   *memory.Admin
	reindex ReindexFunc
	logger  *zap.Logger
	config  *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates the HTTP server and registers all routes.
func NewServer(engine *memory.Engine, indexer *memory.Indexer, admin *memory.Admin, reindex ReindexFunc, logger *zap.Logger, cfg *Config) (*Server, error) {
	if engine == nil || indexer == nil || admin == nil {
		return nil, fmt.Errorf("engine, indexer and admin are required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "localhost", Port: 9280}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:    e,
		engine:  engine,
		indexer: indexer,
		admin:   admin,
		reindex: reindex,
		logger:  logger,
		config:  cfg,
	}

	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1/memory")
	v1.POST("/search", s.handleSearch)
	v1.POST("/documents", s.handleIndex)
	v1.POST("/reindex", s.handleReindex)
	v1.GET("/stats", s.handleStats)
	v1.DELETE("/scopes/:scope", s.handleClearScope)
	v1.DELETE("", s.handleClearAll)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
