// Package dispatcher manages worker fan-out over the job queue.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/supacrawl/internal/crawler"
	"github.com/JakeFAU/supacrawl/internal/worker"
)

const enqueueTimeout = 5 * time.Second

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   crawler.Queue
	jobs    crawler.JobStore
	ids     crawler.IDGenerator
	clock   crawler.Clock
	workers []*worker.Worker
}

// New creates a Dispatcher. jobs, ids and clock are only needed by Submit.
func New(
	queue crawler.Queue,
	jobs crawler.JobStore,
	ids crawler.IDGenerator,
	clock crawler.Clock,
	workers []*worker.Worker,
) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		jobs:    jobs,
		ids:     ids,
		clock:   clock,
		workers: workers,
	}
}

// Run starts all workers and blocks until every worker has returned, which
// happens on context cancellation or once a closed queue is drained.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	wg.Wait()
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// Submit records a queued job for params and enqueues it.
func (d *Dispatcher) Submit(ctx context.Context, params crawler.JobParameters) (string, error) {
	if len(params.URLs) == 0 {
		return "", errors.New("at least one URL required")
	}
	if d.jobs == nil || d.ids == nil || d.clock == nil {
		return "", errors.New("dispatcher is not configured for job submission")
	}
	jobID, err := d.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	now := d.clock.Now()
	job := crawler.Job{
		ID:         jobID,
		Status:     crawler.JobStatusQueued,
		Submitted:  now,
		Parameters: params,
	}
	if err := d.jobs.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}

	queueCtx, cancel := context.WithTimeout(ctx, enqueueTimeout)
	defer cancel()
	item := crawler.QueueItem{
		JobID:     jobID,
		Params:    params,
		Attempt:   1,
		Submitted: now.Unix(),
	}
	if err := d.Enqueue(queueCtx, item); err != nil {
		_ = d.jobs.UpdateJobStatus(context.WithoutCancel(ctx), jobID, crawler.JobStatusFailed, err.Error(), crawler.JobCounters{})
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return jobID, nil
}
