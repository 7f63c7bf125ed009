package gateway

import (
	"context"
	"sync"

	"github.com/lexiqai/companion-gateway/internal/session"
)

// Handle is what the registry knows about a live connection.
type Handle struct {
	// View returns the session's configuration and current state. ok is false until the
	// browser has configured the session.
	View func() (cfg session.SessionConfig, state session.State, ok bool)
	// Cancel tears the connection down.
	Cancel func()
}

// Registry tracks live sessions by ID. The zero value is not usable; use NewRegistry.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*registryEntry
	wg       sync.WaitGroup
}

type registryEntry struct {
	handle Handle
	once   sync.Once
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*registryEntry)}
}

// Register adds a session and returns the function that removes it. The returned function
// is safe to call more than once. Registering an ID that is already present replaces it.
func (r *Registry) Register(sessionID string, h Handle) (unregister func()) {
	entry := &registryEntry{handle: h}

	r.mu.Lock()
	old := r.sessions[sessionID]
	r.sessions[sessionID] = entry
	r.wg.Add(1)
	r.mu.Unlock()

	if old != nil {
		r.unregister(sessionID, old)
	}
	return func() { r.unregister(sessionID, entry) }
}

func (r *Registry) unregister(sessionID string, entry *registryEntry) {
	entry.once.Do(func() {
		r.mu.Lock()
		if r.sessions[sessionID] == entry {
			delete(r.sessions, sessionID)
		}
		r.mu.Unlock()
		r.wg.Done()
	})
}

// Lookup returns the handle registered for sessionID.
func (r *Registry) Lookup(sessionID string) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.sessions[sessionID]
	if !ok {
		return Handle{}, false
	}
	return entry.handle, true
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CancelAll cancels every live session and returns how many were cancelled.
func (r *Registry) CancelAll() (cancelled int) {
	var cancels []func()
	r.mu.Lock()
	for _, entry := range r.sessions {
		if entry.handle.Cancel != nil {
			cancels = append(cancels, entry.handle.Cancel)
		}
	}
	r.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
		cancelled++
	}
	return cancelled
}

// Wait blocks until every registered session has unregistered or ctx is done. It reports
// whether all sessions finished.
func (r *Registry) Wait(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
