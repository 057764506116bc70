package mcp

import (
	"context"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

// rootsRequestTimeout bounds the synchronous round-trip to the client.
const rootsRequestTimeout = 3 * time.Second

// rootsCache caches MCP roots per session ID. Roots don't change
// mid-session, so one request per session is enough.
type rootsCache struct {
	mu    sync.RWMutex
	cache map[string][]mcplib.Root
}

func newRootsCache() *rootsCache {
	return &rootsCache{
		cache: make(map[string][]mcplib.Root),
	}
}

// Get returns cached roots for a session.
func (rc *rootsCache) Get(sessionID string) ([]mcplib.Root, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	roots, ok := rc.cache[sessionID]
	return roots, ok
}

// Set caches roots for a session.
func (rc *rootsCache) Set(sessionID string, roots []mcplib.Root) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.cache[sessionID] = roots
}

func sessionID(ctx context.Context) string {
	session := mcpserver.ClientSessionFromContext(ctx)
	if session == nil {
		return ""
	}
	return session.SessionID()
}

// requestRoots asks the client for its workspace roots, once per session.
// Any failure yields nil; roots only narrow listings.
func (s *Server) requestRoots(ctx context.Context) []mcplib.Root {
	id := sessionID(ctx)
	if id == "" {
		return nil
	}
	if roots, ok := s.rootsCache.Get(id); ok {
		return roots
	}

	reqCtx, cancel := context.WithTimeout(ctx, rootsRequestTimeout)
	defer cancel()
	result, err := s.mcpServer.RequestRoots(reqCtx, mcplib.ListRootsRequest{})
	if err != nil {
		s.logger.Debug("mcp: roots request failed", "error", err, "session_id", id)
		s.rootsCache.Set(id, []mcplib.Root{})
		return nil
	}

	s.rootsCache.Set(id, result.Roots)
	return result.Roots
}

// inferProjectFromRoots returns the directory name of the first file://
// root, which is the project name profiles are usually imported under.
//
//	file:///home/user/checkout-service → "checkout-service"
func inferProjectFromRoots(roots []mcplib.Root) string {
	for _, root := range roots {
		if !strings.HasPrefix(root.URI, "file://") {
			continue
		}
		parsed, err := url.Parse(root.URI)
		if err != nil {
			continue
		}
		path := filepath.Clean(parsed.Path)
		if path == "" || path == "/" || path == "." {
			continue
		}
		return filepath.Base(path)
	}
	return ""
}
