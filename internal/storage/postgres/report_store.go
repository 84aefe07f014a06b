package postgres

import (
	"context"
	"fmt"

	"github.com/JakeFAU/supacrawl/internal/crawler"
)

// InsertReport appends report and returns it with the assigned id.
func (s *Store) InsertReport(ctx context.Context, report crawler.Report) (crawler.Report, error) {
	if report.Status == "" {
		return crawler.Report{}, fmt.Errorf("report status is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (report_date, title, content, summary, documents_analyzed, ai_insights, status)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id`, s.reports)

	err := s.pool.QueryRow(ctx, query,
		report.ReportDate,
		report.Title,
		report.Content,
		nullable(report.Summary),
		report.DocumentsAnalyzed,
		nullable(report.AIInsights),
		string(report.Status),
	).Scan(&report.ID)
	if err != nil {
		return crawler.Report{}, fmt.Errorf("insert report: %w", err)
	}
	return report, nil
}
