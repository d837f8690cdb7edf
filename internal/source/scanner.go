// Package source discovers memory files in the fleet directory and feeds
// them into the memory index.
//
// The fleet layout maps directly to scopes:
//
//	<root>/*.md                           global
//	<root>/shared/*.md                    cross
//	<root>/projects/<name>/*.md           project, scoped to <name>
//	<root>/workspaces/<name>/MEMORY.md    workspace, scoped to <name>
//	<root>/workspaces/<name>/memory/*.md  workspace, scoped to <name>
package source

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/crewlabs/crewd/internal/config"
	"github.com/crewlabs/crewd/internal/memory"
)

// SourceTypeMemoryFile labels documents read from disk.
const SourceTypeMemoryFile = "memory_file"

// Scanner walks the fleet root and converts memory files into documents.
type Scanner struct {
	root        string
	maxFileSize int64
	logger      *zap.Logger
}

// NewScanner creates a Scanner for cfg.Root.
func NewScanner(cfg config.SourceConfig, logger *zap.Logger) (*Scanner, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("source root not configured")
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolving source root: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("source root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source root %s is not a directory", root)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{root: root, maxFileSize: cfg.MaxFileSize, logger: logger}, nil
}

// Root returns the absolute fleet root.
func (s *Scanner) Root() string {
	return s.root
}

// Scan walks the fleet root and returns every readable memory file as a
// document. Oversized and binary files are skipped with a warning.
func (s *Scanner) Scan(ctx context.Context) ([]memory.Document, error) {
	var docs []memory.Document

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != s.root {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}

		scope, scopeID, ok := Classify(rel)
		if !ok {
			return nil
		}

		doc, ok := s.load(path, rel, scope, scopeID)
		if ok {
			docs = append(docs, doc)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", s.root, err)
	}

	s.logger.Info("scanned fleet root",
		zap.String("root", s.root),
		zap.Int("documents", len(docs)),
	)
	return docs, nil
}

// load reads one memory file, skipping it when oversized, binary, or empty.
func (s *Scanner) load(path, rel string, scope memory.Scope, scopeID string) (memory.Document, bool) {
	info, err := os.Stat(path)
	if err != nil {
		s.logger.Warn("skipping unreadable file", zap.String("path", rel), zap.Error(err))
		return memory.Document{}, false
	}
	if info.Size() > s.maxFileSize {
		s.logger.Warn("skipping oversized file",
			zap.String("path", rel),
			zap.Int64("size", info.Size()),
			zap.Int64("max", s.maxFileSize),
		)
		return memory.Document{}, false
	}

	data, err := os.ReadFile(path)
	if err != nil {
		s.logger.Warn("skipping unreadable file", zap.String("path", rel), zap.Error(err))
		return memory.Document{}, false
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return memory.Document{}, false
	}
	if bytes.IndexByte(data, 0) != -1 {
		s.logger.Warn("skipping binary file", zap.String("path", rel))
		return memory.Document{}, false
	}

	return memory.Document{
		ID:         DocumentID(scope, scopeID, rel),
		Content:    string(data),
		Scope:      scope,
		ScopeID:    scopeID,
		SourcePath: rel,
		SourceType: SourceTypeMemoryFile,
		Timestamp:  info.ModTime().UTC(),
	}, true
}

// Reindex scans the fleet root and indexes everything found.
func (s *Scanner) Reindex(ctx context.Context, indexer *memory.Indexer) (int, error) {
	docs, err := s.Scan(ctx)
	if err != nil {
		return 0, err
	}
	return indexer.IndexMany(ctx, docs)
}

// Classify maps a slash-agnostic path relative to the fleet root onto a
// scope. Paths outside the conventions return ok=false.
func Classify(rel string) (scope memory.Scope, scopeID string, ok bool) {
	rel = filepath.ToSlash(rel)
	if !strings.HasSuffix(rel, ".md") {
		return "", "", false
	}
	parts := strings.Split(rel, "/")

	switch {
	case len(parts) == 1:
		return memory.ScopeGlobal, "", true
	case parts[0] == "shared" && len(parts) == 2:
		return memory.ScopeCross, "", true
	case parts[0] == "projects" && len(parts) == 3:
		return memory.ScopeProject, parts[1], true
	case parts[0] == "workspaces" && len(parts) == 3 && parts[2] == "MEMORY.md":
		return memory.ScopeWorkspace, parts[1], true
	case parts[0] == "workspaces" && len(parts) == 4 && parts[2] == "memory":
		return memory.ScopeWorkspace, parts[1], true
	default:
		return "", "", false
	}
}

// DocumentID builds the stable document ID for a memory file. Scoped files
// are prefixed with their scope ID so the same relative name in two
// workspaces stays distinct.
func DocumentID(scope memory.Scope, scopeID, rel string) string {
	rel = filepath.ToSlash(rel)
	if scopeID != "" {
		return scopeID + ":" + rel
	}
	return string(scope) + ":" + rel
}
