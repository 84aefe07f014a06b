package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/JakeFAU/supacrawl/internal/crawler"
)

// ReportStore appends reports to a slice.
type ReportStore struct {
	mu      sync.Mutex
	reports []crawler.Report
}

// NewReportStore constructs an empty ReportStore.
func NewReportStore() *ReportStore {
	return &ReportStore{}
}

// InsertReport appends report and assigns the next id.
func (s *ReportStore) InsertReport(_ context.Context, report crawler.Report) (crawler.Report, error) {
	if report.Status == "" {
		return crawler.Report{}, errors.New("report status is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	report.ID = int64(len(s.reports) + 1)
	s.reports = append(s.reports, report)
	return report, nil
}

// Reports returns a copy of every stored report in insertion order.
func (s *ReportStore) Reports() []crawler.Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]crawler.Report(nil), s.reports...)
}
