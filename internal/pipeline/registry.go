package pipeline

import "sync"

// Registry tracks the orchestrator behind each in-flight job so cancel
// requests can reach the right run.
type Registry struct {
	mu   sync.Mutex
	runs map[string]*Orchestrator
}

func NewRegistry() *Registry {
	return &Registry{runs: make(map[string]*Orchestrator)}
}

func (r *Registry) Add(jobID string, o *Orchestrator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[jobID] = o
}

func (r *Registry) Remove(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.runs, jobID)
}

// Get returns the live orchestrator for a job, nil when the job is not
// currently running.
func (r *Registry) Get(jobID string) *Orchestrator {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs[jobID]
}
