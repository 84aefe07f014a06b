package crawler

import "time"

// Event types published after writes.
const (
	EventPageStored    = "page.stored"
	EventReportCreated = "report.created"
)

// PageStoredEvent announces a page upsert.
type PageStoredEvent struct {
	JobID       string    `json:"job_id,omitempty"`
	PageID      int64     `json:"page_id"`
	URL         string    `json:"url"`
	Title       string    `json:"title,omitempty"`
	ContentHash string    `json:"content_hash"`
	BlobURI     string    `json:"blob_uri,omitempty"`
	UsedLLM     bool      `json:"used_llm"`
	StoredAt    time.Time `json:"stored_at"`
}

// EventType implements the publisher's attribute hook.
func (PageStoredEvent) EventType() string { return EventPageStored }

// ReportCreatedEvent announces an appended report.
type ReportCreatedEvent struct {
	ReportID          int64        `json:"report_id"`
	Title             string       `json:"title"`
	Status            ReportStatus `json:"status"`
	DocumentsAnalyzed int          `json:"documents_analyzed"`
	BlobURI           string       `json:"blob_uri,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
}

// EventType implements the publisher's attribute hook.
func (ReportCreatedEvent) EventType() string { return EventReportCreated }
