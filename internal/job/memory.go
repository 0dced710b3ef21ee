package job

import (
	"context"
	"sort"
	"sync"
)

// Compile-time check that MemoryRepository implements Repository.
var _ Repository = (*MemoryRepository)(nil)

// MemoryRepository is an in-memory implementation of Repository.
// It uses maps with an RWMutex for thread-safe access.
// Suitable for development and testing; the sqlite package provides the persistent store.
type MemoryRepository struct {
	mu       sync.RWMutex
	projects map[string]*Project
	jobs     map[string]*Job
	reports  map[string]Report
}

// NewMemoryRepository creates a new in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		projects: make(map[string]*Project),
		jobs:     make(map[string]*Job),
		reports:  make(map[string]Report),
	}
}

// SaveProject stores a clone to avoid external mutations.
func (r *MemoryRepository) SaveProject(_ context.Context, p *Project) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.projects[p.ID] = p.Clone()
	return nil
}

// FindProject returns a clone to prevent external mutations.
func (r *MemoryRepository) FindProject(_ context.Context, id string) (*Project, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.projects[id]
	if !ok {
		return nil, ErrProjectNotFound
	}
	return p.Clone(), nil
}

// ListProjectsByAccount returns clones, newest first.
func (r *MemoryRepository) ListProjectsByAccount(_ context.Context, accountID string) ([]*Project, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*Project, 0)
	for _, p := range r.projects {
		if p.AccountID == accountID {
			result = append(result, p.Clone())
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// ListProjectsByStatus returns clones, oldest first.
func (r *MemoryRepository) ListProjectsByStatus(_ context.Context, statuses ...ProjectStatus) ([]*Project, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	want := make(map[ProjectStatus]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	result := make([]*Project, 0)
	for _, p := range r.projects {
		if want[p.Status] {
			result = append(result, p.Clone())
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// DeleteProject removes a project and everything attached to it.
func (r *MemoryRepository) DeleteProject(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.projects[id]; !ok {
		return ErrProjectNotFound
	}
	delete(r.projects, id)
	delete(r.reports, id)
	for jobID, j := range r.jobs {
		if j.ProjectID == id {
			delete(r.jobs, jobID)
		}
	}
	return nil
}

// SaveJob stores a clone of the job.
func (r *MemoryRepository) SaveJob(_ context.Context, j *Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[j.ID] = j.Clone()
	return nil
}

// FindJob retrieves a job by its ID.
func (r *MemoryRepository) FindJob(_ context.Context, id string) (*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return j.Clone(), nil
}

// ListJobsByProject returns clones, oldest first.
func (r *MemoryRepository) ListJobsByProject(_ context.Context, projectID string) ([]*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*Job, 0)
	for _, j := range r.jobs {
		if j.ProjectID == projectID {
			result = append(result, j.Clone())
		}
	}
	sort.SliceStable(result, func(a, b int) bool {
		return result[a].CreatedAt.Before(result[b].CreatedAt)
	})
	return result, nil
}

// LatestCompletedJob returns the most recently completed job.
func (r *MemoryRepository) LatestCompletedJob(_ context.Context, projectID string) (*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var latest *Job
	for _, j := range r.jobs {
		if j.ProjectID != projectID || j.Status != StatusCompleted {
			continue
		}
		if latest == nil || j.CompletedAt.After(latest.CompletedAt) {
			latest = j
		}
	}
	if latest == nil {
		return nil, ErrJobNotFound
	}
	return latest.Clone(), nil
}

// SaveReport stores a copy of the report.
func (r *MemoryRepository) SaveReport(_ context.Context, rep *Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports[rep.ProjectID] = *rep
	return nil
}

// FindReport returns a copy of the project's report.
func (r *MemoryRepository) FindReport(_ context.Context, projectID string) (*Report, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rep, ok := r.reports[projectID]
	if !ok {
		return nil, ErrReportNotFound
	}
	return &rep, nil
}
