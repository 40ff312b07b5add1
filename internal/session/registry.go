package session

import "sync"

// Registry is the process-wide table of live calls. Transports register a
// controller when a call connects and remove it on teardown; handlers look
// calls up by id instead of holding ambient globals.
type Registry struct {
	mu    sync.RWMutex
	calls map[string]*Controller
}

func NewRegistry() *Registry {
	return &Registry{calls: make(map[string]*Controller)}
}

func (r *Registry) Add(callID string, c *Controller) {
	r.mu.Lock()
	r.calls[callID] = c
	r.mu.Unlock()
}

func (r *Registry) Get(callID string) (*Controller, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.calls[callID]
	return c, ok
}

func (r *Registry) Remove(callID string) {
	r.mu.Lock()
	delete(r.calls, callID)
	r.mu.Unlock()
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.calls)
}
