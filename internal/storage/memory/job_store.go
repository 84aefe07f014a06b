package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/supacrawl/internal/crawler"
)

// JobStore tracks crawl jobs and their per-URL results.
type JobStore struct {
	mu    sync.RWMutex
	jobs  map[string]crawler.Job
	pages map[string][]crawler.PageResult
	now   func() time.Time
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs:  make(map[string]crawler.Job),
		pages: make(map[string][]crawler.PageResult),
		now:   time.Now,
	}
}

// CreateJob stores a new job.
func (s *JobStore) CreateJob(_ context.Context, job crawler.Job) error {
	if job.ID == "" {
		return errors.New("job id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	s.jobs[job.ID] = job
	return nil
}

// UpdateJobStatus sets status, error text and counters, stamping start and
// finish times on the relevant transitions. Terminal jobs are not reopened.
func (s *JobStore) UpdateJobStatus(
	_ context.Context,
	jobID string,
	status crawler.JobStatus,
	errText string,
	counters crawler.JobCounters,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.ErrNotFound
	}
	if job.Status.Terminal() && !status.Terminal() {
		return fmt.Errorf("job %s is already %s", jobID, job.Status)
	}
	job.Status = status
	job.ErrorText = errText
	job.Counters = counters
	now := s.now().UTC()
	if status == crawler.JobStatusRunning && job.Started == nil {
		job.Started = &now
	}
	if status.Terminal() && job.Finished == nil {
		job.Finished = &now
	}
	s.jobs[jobID] = job
	return nil
}

// RecordPage appends a page result for a job.
func (s *JobStore) RecordPage(_ context.Context, page crawler.PageResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[page.JobID]; !ok {
		return crawler.ErrNotFound
	}
	s.pages[page.JobID] = append(s.pages[page.JobID], page)
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (crawler.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.Job{}, crawler.ErrNotFound
	}
	return job, nil
}

// ListPages returns a copy of the recorded pages for a job.
func (s *JobStore) ListPages(_ context.Context, jobID string) ([]crawler.PageResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.jobs[jobID]; !ok {
		return nil, crawler.ErrNotFound
	}
	pages := s.pages[jobID]
	out := make([]crawler.PageResult, len(pages))
	copy(out, pages)
	return out, nil
}
