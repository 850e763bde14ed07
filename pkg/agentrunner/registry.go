package agentrunner

import "sync"

// Registry tracks the one Agent instance spawned per session on this
// worker process, per spec §4.7.3: ProcessMessage looks up the
// instance by session id before invoking it, and re-spawns (rather
// than failing the job) when none is found for a session whose
// sandbox is still running — this is purely in-process bookkeeping,
// never persisted, since an agent instance doesn't survive a worker
// restart regardless.
type Registry struct {
	mu      sync.Mutex
	factory func() Agent
	agents  map[string]Agent
}

// NewRegistry constructs a Registry that spawns new Agent instances
// via factory.
func NewRegistry(factory func() Agent) *Registry {
	return &Registry{factory: factory, agents: make(map[string]Agent)}
}

// Get returns the existing Agent instance for sessionID, or nil if
// none has been spawned on this worker.
func (r *Registry) Get(sessionID string) Agent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.agents[sessionID]
}

// Spawn creates (or returns the existing) Agent instance for sessionID.
func (r *Registry) Spawn(sessionID string) Agent {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.agents[sessionID]; ok {
		return a
	}
	a := r.factory()
	r.agents[sessionID] = a
	return a
}

// Remove drops the tracked instance for sessionID, e.g. after terminate.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, sessionID)
}

// All returns every session id with a live agent instance, used when
// a worker is shutting down and must terminate each one.
func (r *Registry) All() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	return ids
}
