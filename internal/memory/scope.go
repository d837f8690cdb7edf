// Package memory implements the semantic memory index: scoped vector
// collections, batch indexing, concurrent search, and admin operations.
package memory

import (
	"fmt"
	"regexp"
	"strings"
)

// Scope identifies one of the four memory partitions.
type Scope string

const (
	// ScopeGlobal holds fleet-wide operator knowledge.
	ScopeGlobal Scope = "global"
	// ScopeProject holds per-project conventions and decisions.
	ScopeProject Scope = "project"
	// ScopeWorkspace holds memory produced inside a single agent workspace.
	ScopeWorkspace Scope = "workspace"
	// ScopeCross holds learnings shared across workspaces.
	ScopeCross Scope = "cross"
)

// AllScopes returns the four scopes in their canonical order.
func AllScopes() []Scope {
	return []Scope{ScopeGlobal, ScopeProject, ScopeWorkspace, ScopeCross}
}

// ParseScope converts a string into a Scope.
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case ScopeGlobal, ScopeProject, ScopeWorkspace, ScopeCross:
		return Scope(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidScope, s)
	}
}

// Valid reports whether s is one of the four known scopes.
func (s Scope) Valid() bool {
	_, err := ParseScope(string(s))
	return err == nil
}

// CollectionName returns the backing collection name for this scope.
func (s Scope) CollectionName() string {
	return collectionPrefix + string(s)
}

const collectionPrefix = "memory_"

// ScopeFromCollection maps a collection name back to its scope.
func ScopeFromCollection(name string) (Scope, bool) {
	if !strings.HasPrefix(name, collectionPrefix) {
		return "", false
	}
	scope, err := ParseScope(strings.TrimPrefix(name, collectionPrefix))
	if err != nil {
		return "", false
	}
	return scope, true
}

// collectionNamePattern rejects uppercase, special chars, and path traversal.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidateCollectionName validates a collection name against naming rules.
func ValidateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("collection name cannot be empty")
	}
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("collection name must match ^[a-z0-9_]{1,64}$, got %q", name)
	}
	return nil
}
