// Package report builds the scheduled content report from recently crawled
// pages and delivers it by email, storage or both.
package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/supacrawl/internal/crawler"
	"github.com/JakeFAU/supacrawl/internal/llm"
	"github.com/JakeFAU/supacrawl/internal/metrics"
)

// Message is one outgoing report email.
type Message struct {
	Subject string
	Text    string
	HTML    string
}

// Mailer delivers report emails.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// PageSource lists pages updated since a point in time.
type PageSource interface {
	RecentSince(ctx context.Context, since time.Time, limit int) ([]crawler.Page, error)
}

// Config controls a report run.
type Config struct {
	TitlePrefix   string
	Lookback      time.Duration
	MaxDocuments  int
	MaxInputChars int
	Temperature   float32
	// Store appends the report row; Archive writes the HTML to the blob store.
	Store   bool
	Archive bool
	Topic   string
}

// Deps are the collaborators of a Reporter. Pages and Generator are required.
type Deps struct {
	Pages     PageSource
	Reports   crawler.ReportStore
	Generator llm.Generator
	Mailer    Mailer
	Blobs     crawler.BlobStore
	Publisher crawler.Publisher
	Clock     crawler.Clock
}

// Reporter runs report generation.
type Reporter struct {
	deps     Deps
	cfg      Config
	renderer *renderer
	logger   *zap.Logger
}

// New validates deps and cfg.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Reporter, error) {
	if deps.Pages == nil {
		return nil, errors.New("report requires a page source")
	}
	if deps.Generator == nil {
		return nil, errors.New("report requires a language model")
	}
	if cfg.Store && deps.Reports == nil {
		return nil, errors.New("report.store requires a report store")
	}
	if cfg.Archive && deps.Blobs == nil {
		return nil, errors.New("report.archive requires a blob store")
	}
	if deps.Clock == nil {
		deps.Clock = clockFunc(time.Now)
	}
	if cfg.TitlePrefix == "" {
		cfg.TitlePrefix = "Daily Content Report"
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = 24 * time.Hour
	}
	if cfg.MaxDocuments <= 0 {
		cfg.MaxDocuments = 50
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{deps: deps, cfg: cfg, renderer: newRenderer(), logger: logger.Named("report")}, nil
}

// Run produces one report. The returned report is what was stored; its
// status is no_data, completed or failed. An LLM failure appends a failed
// row and is also returned as an error.
func (r *Reporter) Run(ctx context.Context) (crawler.Report, error) {
	now := r.deps.Clock.Now().UTC()
	since := now.Add(-r.cfg.Lookback)
	title := fmt.Sprintf("%s - %s", r.cfg.TitlePrefix, now.Format("2006-01-02"))

	pages, err := r.deps.Pages.RecentSince(ctx, since, r.cfg.MaxDocuments)
	if err != nil {
		metrics.ObserveReportRun("error")
		return crawler.Report{}, fmt.Errorf("load recent pages: %w", err)
	}
	if len(pages) == 0 {
		rep := crawler.Report{
			ReportDate: now,
			Title:      title,
			Summary:    fmt.Sprintf("No pages were crawled since %s.", since.Format(time.RFC3339)),
			Status:     crawler.ReportStatusNoData,
		}
		r.logger.Info("no recent pages, skipping analysis", zap.Time("since", since))
		return r.finish(ctx, rep, nil)
	}

	analysis, err := r.analyze(ctx, pages)
	if err != nil {
		r.logger.Error("report analysis failed", zap.Int("documents", len(pages)), zap.Error(err))
		rep := crawler.Report{
			ReportDate:        now,
			Title:             title,
			Summary:           "Analysis failed: " + err.Error(),
			DocumentsAnalyzed: len(pages),
			Status:            crawler.ReportStatusFailed,
		}
		stored, finishErr := r.finish(ctx, rep, nil)
		return stored, errors.Join(err, finishErr)
	}

	if analysis.Title != "" {
		title = fmt.Sprintf("%s - %s", title, analysis.Title)
	}
	html, err := r.renderer.render(title, now, analysis, pages)
	if err != nil {
		metrics.ObserveReportRun("error")
		return crawler.Report{}, err
	}
	rep := crawler.Report{
		ReportDate:        now,
		Title:             title,
		Content:           html,
		Summary:           analysis.Summary,
		DocumentsAnalyzed: len(pages),
		AIInsights:        joinInsights(analysis.Insights),
		Status:            crawler.ReportStatusCompleted,
	}
	return r.finish(ctx, rep, &Message{Subject: title, Text: plainText(title, analysis), HTML: html})
}

// finish archives, stores, mails and announces rep. Delivery errors are
// collected so one failing channel does not hide the others.
func (r *Reporter) finish(ctx context.Context, rep crawler.Report, mail *Message) (crawler.Report, error) {
	var errs []error
	blobURI := ""
	if r.cfg.Archive && rep.Content != "" {
		path := fmt.Sprintf("reports/%s.html", rep.ReportDate.Format("20060102T150405Z"))
		uri, err := r.deps.Blobs.PutObject(ctx, path, "text/html; charset=utf-8", bytes.NewReader([]byte(rep.Content)))
		if err != nil {
			errs = append(errs, fmt.Errorf("archive report: %w", err))
		}
		blobURI = uri
	}

	if r.cfg.Store {
		stored, err := r.deps.Reports.InsertReport(ctx, rep)
		if err != nil {
			errs = append(errs, fmt.Errorf("store report: %w", err))
		} else {
			rep = stored
		}
	}

	if mail != nil && r.deps.Mailer != nil {
		if err := r.deps.Mailer.Send(ctx, *mail); err != nil {
			errs = append(errs, fmt.Errorf("email report: %w", err))
		}
	}

	r.publish(ctx, rep, blobURI)

	err := errors.Join(errs...)
	status := string(rep.Status)
	if err != nil {
		status = "error"
	}
	metrics.ObserveReportRun(status)
	r.logger.Info("report finished",
		zap.Int64("report_id", rep.ID),
		zap.String("status", string(rep.Status)),
		zap.Int("documents", rep.DocumentsAnalyzed),
		zap.String("blob_uri", blobURI),
	)
	return rep, err
}

func (r *Reporter) publish(ctx context.Context, rep crawler.Report, blobURI string) {
	if r.cfg.Topic == "" || r.deps.Publisher == nil {
		return
	}
	event := crawler.ReportCreatedEvent{
		ReportID:          rep.ID,
		Title:             rep.Title,
		Status:            rep.Status,
		DocumentsAnalyzed: rep.DocumentsAnalyzed,
		BlobURI:           blobURI,
		CreatedAt:         rep.ReportDate,
	}
	if _, err := r.deps.Publisher.Publish(ctx, r.cfg.Topic, event); err != nil {
		r.logger.Warn("publish report event failed", zap.Error(err))
	}
}

// Schedule runs a report immediately and then every interval until ctx is
// done. Run errors are logged and do not stop the schedule.
func (r *Reporter) Schedule(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errors.New("report interval must be positive")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := r.Run(ctx); err != nil {
			r.logger.Error("scheduled report failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func joinInsights(insights []string) string {
	var b bytes.Buffer
	for i, s := range insights {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		b.WriteString(s)
	}
	return b.String()
}

type clockFunc func() time.Time

func (f clockFunc) Now() time.Time { return f() }
