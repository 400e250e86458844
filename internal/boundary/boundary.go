package boundary

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
)

// NotAuthorizedError indicates a resource URI falls outside every root
// configured for the session.
type NotAuthorizedError struct {
	SessionID string
	URI       string
}

func (e *NotAuthorizedError) Error() string {
	return fmt.Sprintf("session %s is not authorized to access %s", e.SessionID, e.URI)
}

// Boundary maintains the per-session allow-list of addressable resource
// namespaces ("roots"). A session with no configured roots is unrestricted;
// once any root is set, every resource access must fall under one of them.
type Boundary struct {
	mu    sync.RWMutex
	roots map[string][]string // session id -> normalized root prefixes
}

// New creates an empty boundary.
func New() *Boundary {
	return &Boundary{
		roots: make(map[string][]string),
	}
}

// SetRoots replaces the roots for a session. Each root must be an absolute
// URI (scheme required); trailing slashes are normalized away so that
// "file:///data" and "file:///data/" describe the same namespace.
func (b *Boundary) SetRoots(sessionID string, roots []string) error {
	normalized := make([]string, 0, len(roots))
	for _, root := range roots {
		u, err := url.Parse(root)
		if err != nil {
			return fmt.Errorf("invalid root %q for session %s: %w", root, sessionID, err)
		}
		if u.Scheme == "" {
			return fmt.Errorf("root %q for session %s must be an absolute URI", root, sessionID)
		}
		normalized = append(normalized, strings.TrimSuffix(root, "/"))
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.roots[sessionID] = normalized
	return nil
}

// Roots returns a copy of the roots configured for a session.
func (b *Boundary) Roots(sessionID string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]string(nil), b.roots[sessionID]...)
}

// Authorize validates that a resource URI is covered by one of the session's
// roots. It is called before any resource fetch is forwarded.
func (b *Boundary) Authorize(sessionID, uri string) error {
	b.mu.RLock()
	roots, configured := b.roots[sessionID]
	b.mu.RUnlock()

	if !configured || len(roots) == 0 {
		return nil
	}

	if _, err := url.Parse(uri); err != nil {
		return &NotAuthorizedError{SessionID: sessionID, URI: uri}
	}

	for _, root := range roots {
		if uri == root || strings.HasPrefix(uri, root+"/") {
			return nil
		}
	}

	return &NotAuthorizedError{SessionID: sessionID, URI: uri}
}

// RemoveSession drops the roots for a session at teardown.
func (b *Boundary) RemoveSession(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.roots, sessionID)
}
