package mcp

import (
	"testing"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
)

func TestInferProjectFromRoots(t *testing.T) {
	tests := []struct {
		name  string
		roots []mcplib.Root
		want  string
	}{
		{
			name:  "empty roots",
			roots: nil,
			want:  "",
		},
		{
			name:  "single file URI",
			roots: []mcplib.Root{{URI: "file:///home/dev/src/checkout-service"}},
			want:  "checkout-service",
		},
		{
			name:  "multiple roots uses first",
			roots: []mcplib.Root{{URI: "file:///home/user/project-a"}, {URI: "file:///home/user/project-b"}},
			want:  "project-a",
		},
		{
			name:  "non-file URI skipped",
			roots: []mcplib.Root{{URI: "https://example.com/repo"}, {URI: "file:///home/user/my-project"}},
			want:  "my-project",
		},
		{
			name:  "root path returns empty",
			roots: []mcplib.Root{{URI: "file:///"}},
			want:  "",
		},
		{
			name:  "trailing slash stripped",
			roots: []mcplib.Root{{URI: "file:///home/user/project/"}},
			want:  "project",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, inferProjectFromRoots(tt.roots))
		})
	}
}

func TestRootsCache(t *testing.T) {
	cache := newRootsCache()

	_, ok := cache.Get("session-1")
	assert.False(t, ok)

	roots := []mcplib.Root{{URI: "file:///test"}}
	cache.Set("session-1", roots)
	got, ok := cache.Get("session-1")
	assert.True(t, ok)
	assert.Equal(t, roots, got)

	_, ok = cache.Get("session-2")
	assert.False(t, ok)

	// An empty slice marks "asked, no roots".
	cache.Set("session-2", []mcplib.Root{})
	got, ok = cache.Get("session-2")
	assert.True(t, ok)
	assert.Empty(t, got)
}
