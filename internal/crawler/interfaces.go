package crawler

import (
	"context"
	"io"
	"time"
)

// PageReader is the read side of the page table used by the chat router.
type PageReader interface {
	Latest(ctx context.Context, limit int) ([]Page, error)
	FindByURL(ctx context.Context, url string) (Page, error)
	Search(ctx context.Context, column SearchColumn, query string, limit int) ([]Page, error)
	Count(ctx context.Context) (int64, error)
	GetByID(ctx context.Context, id int64) (Page, error)
	WithSummaries(ctx context.Context, limit int) ([]Page, error)
	Ping(ctx context.Context) error
}

// PageStore persists pages keyed on URL.
type PageStore interface {
	PageReader
	// UpsertPage inserts or overwrites the row for page.URL and returns the stored row.
	UpsertPage(ctx context.Context, page Page) (Page, error)
	// RecentSince returns pages updated at or after since, newest first.
	RecentSince(ctx context.Context, since time.Time, limit int) ([]Page, error)
	Close()
}

// ReportStore appends report rows.
type ReportStore interface {
	InsertReport(ctx context.Context, report Report) (Report, error)
}

// JobStore tracks crawl job lifecycle and per-job results.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errText string, counters JobCounters) error
	RecordPage(ctx context.Context, page PageResult) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	ListPages(ctx context.Context, jobID string) ([]PageResult, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// HeadlessDetector decides whether a headless fetch is warranted.
type HeadlessDetector interface {
	ShouldPromote(probe FetchResponse) bool
}

// Queue provides enqueue/dequeue semantics for crawl jobs.
type Queue interface {
	Enqueue(ctx context.Context, job QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Policy decides whether a URL may be fetched at all.
type Policy interface {
	AllowFetch(jobID string, url string) bool
	AllowHeadless(jobID string, url string) bool
}

// Hasher computes digests for deduplication/integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
