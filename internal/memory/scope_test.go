package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScope(t *testing.T) {
	for _, scope := range AllScopes() {
		parsed, err := ParseScope(string(scope))
		require.NoError(t, err)
		assert.Equal(t, scope, parsed)
	}

	_, err := ParseScope("tenant")
	require.ErrorIs(t, err, ErrInvalidScope)

	_, err = ParseScope("")
	require.ErrorIs(t, err, ErrInvalidScope)
}

func TestCollectionNameRoundTrip(t *testing.T) {
	for _, scope := range AllScopes() {
		name := scope.CollectionName()
		require.NoError(t, ValidateCollectionName(name))

		back, ok := ScopeFromCollection(name)
		require.True(t, ok)
		assert.Equal(t, scope, back)
	}

	_, ok := ScopeFromCollection("memory_tenant")
	assert.False(t, ok)
	_, ok = ScopeFromCollection("global")
	assert.False(t, ok)
}

func TestValidateCollectionName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "valid", input: "memory_global"},
		{name: "empty", input: "", wantErr: true},
		{name: "uppercase", input: "Memory_Global", wantErr: true},
		{name: "path traversal", input: "../etc", wantErr: true},
		{name: "spaces", input: "memory global", wantErr: true},
		{name: "too long", input: string(make([]byte, 65)), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCollectionName(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
