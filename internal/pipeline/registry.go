package pipeline

import (
	"context"
	"sort"
	"sync"
)

type runningJob struct {
	cancel  context.CancelFunc
	tracker *RunTracker
}

// Registry tracks the jobs running in this process so they can be
// inspected and cancelled.
type Registry struct {
	mu   sync.Mutex
	jobs map[string]runningJob
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{jobs: map[string]runningJob{}}
}

// Register adds a running job. A job registered twice keeps the latest entry.
func (r *Registry) Register(jobID string, cancel context.CancelFunc, tracker *RunTracker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[jobID] = runningJob{cancel: cancel, tracker: tracker}
}

// Remove forgets a job.
func (r *Registry) Remove(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, jobID)
}

// Cancel cancels a running job. It reports whether the job was running.
func (r *Registry) Cancel(jobID string) bool {
	r.mu.Lock()
	job, ok := r.jobs[jobID]
	r.mu.Unlock()
	if ok {
		job.cancel()
	}
	return ok
}

// Tracker returns the tracker of a running job.
func (r *Registry) Tracker(jobID string) (*RunTracker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	return job.tracker, ok
}

// Running lists the running job ids, sorted.
func (r *Registry) Running() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.jobs))
	for id := range r.jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CancelAll cancels every running job.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, job := range r.jobs {
		job.cancel()
	}
}
