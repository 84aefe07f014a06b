// Package crawler defines core types shared across subsystems.
package crawler

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// ErrNotFound is returned by stores when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrRobotsDisallowed is returned by fetchers when robots.txt forbids a URL.
var ErrRobotsDisallowed = errors.New("disallowed by robots.txt")

// Page is one crawled and analyzed unit of content.
// Empty Title, Summary and Content are stored as NULL.
type Page struct {
	ID          int64     `json:"id"`
	URL         string    `json:"url"`
	Title       string    `json:"title,omitempty"`
	Summary     string    `json:"summary,omitempty"`
	Content     string    `json:"content,omitempty"`
	ContentHash string    `json:"content_hash,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// HasSummary reports whether both LLM fields are populated.
func (p Page) HasSummary() bool {
	return p.Title != "" && p.Summary != ""
}

// ValidatePageURL checks that raw is an absolute http or https URL.
func ValidatePageURL(raw string) error {
	if raw == "" {
		return errors.New("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url %q must use http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("url %q must be absolute", raw)
	}
	return nil
}

// SearchColumn names a page column that may be searched by substring.
type SearchColumn string

// Searchable columns. Anything else is rejected before it reaches SQL.
const (
	ColumnTitle   SearchColumn = "title"
	ColumnSummary SearchColumn = "summary"
)

// Valid reports whether c is in the search allow-list.
func (c SearchColumn) Valid() bool {
	return c == ColumnTitle || c == ColumnSummary
}

// ReportStatus is the outcome recorded for a report run.
type ReportStatus string

// Report statuses.
const (
	ReportStatusCompleted ReportStatus = "completed"
	ReportStatusNoData    ReportStatus = "no_data"
	ReportStatusFailed    ReportStatus = "failed"
)

// Report is one append-only scheduled analysis.
type Report struct {
	ID                int64        `json:"id"`
	ReportDate        time.Time    `json:"report_date"`
	Title             string       `json:"title"`
	Content           string       `json:"content"`
	Summary           string       `json:"summary"`
	DocumentsAnalyzed int          `json:"documents_analyzed"`
	AIInsights        string       `json:"ai_insights"`
	Status            ReportStatus `json:"status"`
}

// JobStatus represents the lifecycle state of a crawl job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// Terminal reports whether no further transitions are expected.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCanceled:
		return true
	default:
		return false
	}
}

// JobParameters captures per-job knobs requested by the client.
type JobParameters struct {
	URLs            []string `json:"urls"`
	HeadlessAllowed bool     `json:"headless_allowed"`
	RespectRobots   bool     `json:"respect_robots"`
}

// Job is the metadata tracked for each submitted crawl request.
type Job struct {
	ID         string        `json:"id"`
	Status     JobStatus     `json:"status"`
	Submitted  time.Time     `json:"submitted_at"`
	Started    *time.Time    `json:"started_at,omitempty"`
	Finished   *time.Time    `json:"finished_at,omitempty"`
	ErrorText  string        `json:"error_text,omitempty"`
	Parameters JobParameters `json:"parameters"`
	Counters   JobCounters   `json:"counters"`
}

// JobCounters tracks success/failure stats per job.
type JobCounters struct {
	PagesSucceeded int `json:"pages_succeeded"`
	PagesFailed    int `json:"pages_failed"`
	PagesUnchanged int `json:"pages_unchanged"`
	Retries        int `json:"retries"`
}

// PageResult is recorded against a job for each URL it stored.
type PageResult struct {
	JobID        string    `json:"job_id"`
	PageID       int64     `json:"page_id"`
	URL          string    `json:"url"`
	Title        string    `json:"title,omitempty"`
	StatusCode   int       `json:"status_code"`
	UsedHeadless bool      `json:"used_headless"`
	Unchanged    bool      `json:"unchanged"`
	FetchedAt    time.Time `json:"fetched_at"`
	DurationMs   int64     `json:"duration_ms"`
	ContentHash  string    `json:"content_hash"`
	BlobURI      string    `json:"blob_uri,omitempty"`
}

// JobResult is returned by the API result endpoint.
type JobResult struct {
	Job   Job          `json:"job"`
	Pages []PageResult `json:"pages"`
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string
	Params    JobParameters
	Attempt   int
	Submitted int64
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	JobID                 string
	URL                   string
	UseHeadless           bool
	Headers               http.Header
	RespectRobots         bool
	RespectRobotsProvided bool
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}
