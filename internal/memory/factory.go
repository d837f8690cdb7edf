package memory

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/crewlabs/crewd/internal/config"
)

// NewStore builds the configured store backend.
func NewStore(cfg config.MemoryConfig, dimension int, logger *zap.Logger) (Store, error) {
	switch cfg.Backend {
	case "chromem":
		return NewChromemStore(cfg.Chromem, dimension, logger)
	case "qdrant":
		return NewQdrantStore(cfg.Qdrant, dimension, logger)
	default:
		return nil, fmt.Errorf("unknown memory backend %q", cfg.Backend)
	}
}
