// Package worker implements the crawl pipeline execution loop.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/supacrawl/internal/clock/system"
	"github.com/JakeFAU/supacrawl/internal/crawler"
	"github.com/JakeFAU/supacrawl/internal/extract"
	"github.com/JakeFAU/supacrawl/internal/hash/sha256"
	"github.com/JakeFAU/supacrawl/internal/metrics"
	"github.com/JakeFAU/supacrawl/internal/policy/ratelimit"
	"github.com/JakeFAU/supacrawl/internal/queue/memory"
)

// Limiter spaces requests per domain and tracks throttling penalties.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
	Penalize(rawURL string) time.Duration
	Reset(rawURL string)
	RetryableStatus(code int) bool
	MaxRetries() int
}

// Gate admits a fetch once resources allow it.
type Gate interface {
	Wait(ctx context.Context) error
}

// Extractor turns HTML into markdown.
type Extractor interface {
	Extract(pageURL string, body []byte) (extract.Document, error)
}

// Summarizer asks the language model for a title and summary.
type Summarizer interface {
	Summarize(ctx context.Context, pageURL, markdown string) (extract.PageSummary, error)
}

// Config controls Worker behavior.
type Config struct {
	ContentType   string
	BlobPrefix    string
	Topic         string
	ContentBudget int
}

// Deps are the collaborators of a Worker. Queue, Jobs, Pages and Probe are
// required; the rest are optional.
type Deps struct {
	Queue      crawler.Queue
	Jobs       crawler.JobStore
	Pages      crawler.PageStore
	Blobs      crawler.BlobStore
	Publisher  crawler.Publisher
	Hasher     crawler.Hasher
	Clock      crawler.Clock
	Probe      crawler.Fetcher
	Headless   crawler.Fetcher
	Detector   crawler.HeadlessDetector
	Policy     crawler.Policy
	Limiter    Limiter
	Gate       Gate
	Extractor  Extractor
	Summarizer Summarizer
}

// Worker consumes queue items and executes the fetch pipeline.
type Worker struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New constructs a Worker.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Worker, error) {
	switch {
	case deps.Queue == nil:
		return nil, errors.New("worker requires a queue")
	case deps.Jobs == nil:
		return nil, errors.New("worker requires a job store")
	case deps.Pages == nil:
		return nil, errors.New("worker requires a page store")
	case deps.Probe == nil:
		return nil, errors.New("worker requires a probe fetcher")
	}
	if deps.Hasher == nil {
		deps.Hasher = sha256.New()
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if deps.Extractor == nil {
		deps.Extractor = extract.NewExtractor()
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	if cfg.ContentBudget <= 0 {
		cfg.ContentBudget = extract.DefaultContentBudget
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{deps: deps, cfg: cfg, logger: logger.Named("worker")}, nil
}

// Run blocks, consuming queue items until the context finishes or the
// queue is closed and drained.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.deps.Queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, memory.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID))
		w.processJob(ctx, item)
	}
}

func (w *Worker) processJob(ctx context.Context, item crawler.QueueItem) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	counters := crawler.JobCounters{}
	if err := w.deps.Jobs.UpdateJobStatus(ctx, item.JobID, crawler.JobStatusRunning, "", counters); err != nil {
		w.logger.Error("update job status failed", zap.String("job_id", item.JobID), zap.Error(err))
		return
	}

	errText := ""
	for _, url := range item.Params.URLs {
		if ctx.Err() != nil || w.canceled(ctx, item.JobID) {
			break
		}
		if err := w.handleURL(ctx, item, url, &counters); err != nil {
			errText = err.Error()
		}
	}

	status, errText := w.deriveFinalStatus(ctx, item.JobID, counters, errText)
	metrics.ObserveJob(string(status))

	// The job context may already be done; the final write must still land.
	if err := w.deps.Jobs.UpdateJobStatus(context.WithoutCancel(ctx), item.JobID, status, errText, counters); err != nil {
		w.logger.Error("final job status update failed", zap.String("job_id", item.JobID), zap.Error(err))
	}
	w.logger.Info("job finished",
		zap.String("job_id", item.JobID),
		zap.String("status", string(status)),
		zap.Int("succeeded", counters.PagesSucceeded),
		zap.Int("unchanged", counters.PagesUnchanged),
		zap.Int("failed", counters.PagesFailed),
		zap.Int("retries", counters.Retries),
	)
}

func (w *Worker) canceled(ctx context.Context, jobID string) bool {
	job, err := w.deps.Jobs.GetJob(ctx, jobID)
	return err == nil && job.Status == crawler.JobStatusCanceled
}

func (w *Worker) allowFetch(jobID, url string) bool {
	if w.deps.Policy == nil {
		return crawler.ValidatePageURL(url) == nil
	}
	return w.deps.Policy.AllowFetch(jobID, url)
}

func (w *Worker) allowHeadless(jobID, url string) bool {
	if w.deps.Policy == nil {
		return true
	}
	return w.deps.Policy.AllowHeadless(jobID, url)
}

func (w *Worker) buildBlobPath(jobID, hash string) string {
	prefix := strings.Trim(w.cfg.BlobPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.html", jobID, hash)
	}
	return fmt.Sprintf("%s/%s/%s.html", prefix, jobID, hash)
}

func (w *Worker) handleURL(
	ctx context.Context,
	item crawler.QueueItem,
	url string,
	counters *crawler.JobCounters,
) error {
	logger := w.logger.With(zap.String("job_id", item.JobID), zap.String("url", url))
	if !w.allowFetch(item.JobID, url) {
		counters.PagesFailed++
		logger.Warn("fetch blocked by policy")
		return fmt.Errorf("url %s not allowed", url)
	}

	resp, err := w.fetchWithRetry(ctx, item, url, counters)
	if err != nil {
		counters.PagesFailed++
		metrics.ObserveCrawl(url, "fetch_error", 0)
		logger.Error("probe fetch failed", zap.Error(err))
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		counters.PagesFailed++
		metrics.ObserveCrawl(url, "http_error", len(resp.Body))
		logger.Warn("probe returned non-success status", zap.Int("status", resp.StatusCode))
		return fmt.Errorf("fetch %s: unexpected status %d", url, resp.StatusCode)
	}
	logger.Debug("probe fetch succeeded", zap.Int("status", resp.StatusCode))

	if promoted, ok := w.maybePromote(ctx, item, url, resp); ok {
		resp = promoted
		logger.Info("headless promotion applied")
	}
	metrics.ObserveCrawl(url, "ok", len(resp.Body))

	unchanged, err := w.persistAndPublish(ctx, item.JobID, url, resp)
	if err != nil {
		counters.PagesFailed++
		metrics.ObservePageStored("error")
		logger.Error("persist page failed", zap.Error(err))
		return err
	}
	if unchanged {
		counters.PagesUnchanged++
		metrics.ObservePageStored("unchanged")
		logger.Debug("content unchanged, extraction skipped")
		return nil
	}
	counters.PagesSucceeded++
	metrics.ObservePageStored("stored")
	logger.Debug("page processed")
	return nil
}

func (w *Worker) fetchWithRetry(
	ctx context.Context,
	item crawler.QueueItem,
	url string,
	counters *crawler.JobCounters,
) (crawler.FetchResponse, error) {
	maxRetries := 0
	if w.deps.Limiter != nil {
		maxRetries = w.deps.Limiter.MaxRetries()
	}
	request := crawler.FetchRequest{
		JobID:                 item.JobID,
		URL:                   url,
		RespectRobots:         item.Params.RespectRobots,
		RespectRobotsProvided: true,
	}

	for attempt := 0; ; attempt++ {
		if err := w.admit(ctx, url); err != nil {
			return crawler.FetchResponse{}, err
		}
		resp, err := w.deps.Probe.Fetch(ctx, request)

		var retry bool
		switch {
		case err != nil:
			retry = ctx.Err() == nil && ratelimit.RetryableError(err)
		case w.deps.Limiter != nil && w.deps.Limiter.RetryableStatus(resp.StatusCode):
			retry = true
		default:
			if w.deps.Limiter != nil {
				w.deps.Limiter.Reset(url)
			}
			return resp, nil
		}

		if !retry || attempt >= maxRetries {
			if err != nil {
				return crawler.FetchResponse{}, fmt.Errorf("probe fetch: %w", err)
			}
			return resp, nil
		}
		penalty := w.deps.Limiter.Penalize(url)
		counters.Retries++
		metrics.ObserveRetry(url)
		w.logger.Info("retrying fetch",
			zap.String("job_id", item.JobID),
			zap.String("url", url),
			zap.Int("attempt", attempt+1),
			zap.Int("status", resp.StatusCode),
			zap.Duration("penalty", penalty),
			zap.Error(err),
		)
	}
}

func (w *Worker) admit(ctx context.Context, url string) error {
	if w.deps.Gate != nil {
		if err := w.deps.Gate.Wait(ctx); err != nil {
			return fmt.Errorf("admission: %w", err)
		}
	}
	if w.deps.Limiter != nil {
		if err := w.deps.Limiter.Wait(ctx, url); err != nil {
			return fmt.Errorf("admission: %w", err)
		}
	}
	return nil
}

func (w *Worker) maybePromote(
	ctx context.Context,
	item crawler.QueueItem,
	url string,
	resp crawler.FetchResponse,
) (crawler.FetchResponse, bool) {
	if !item.Params.HeadlessAllowed || w.deps.Detector == nil || w.deps.Headless == nil {
		return resp, false
	}
	if !w.allowHeadless(item.JobID, url) || !w.deps.Detector.ShouldPromote(resp) {
		return resp, false
	}
	metrics.ObserveHeadlessPromotion()

	headlessResp, err := w.deps.Headless.Fetch(ctx, crawler.FetchRequest{
		JobID:                 item.JobID,
		URL:                   url,
		UseHeadless:           true,
		RespectRobots:         item.Params.RespectRobots,
		RespectRobotsProvided: true,
	})
	if err != nil {
		w.logger.Warn("headless promotion failed",
			zap.String("job_id", item.JobID), zap.String("url", url), zap.Error(err))
		return resp, false
	}
	if headlessResp.StatusCode < 200 || headlessResp.StatusCode > 299 {
		return resp, false
	}
	headlessResp.UsedHeadless = true
	return headlessResp, true
}

// persistAndPublish stores the page. It reports unchanged when the body hash
// matches the stored row, in which case the language model is not consulted.
func (w *Worker) persistAndPublish(
	ctx context.Context,
	jobID, url string,
	resp crawler.FetchResponse,
) (bool, error) {
	hash, err := w.deps.Hasher.Hash(resp.Body)
	if err != nil {
		return false, fmt.Errorf("hash body: %w", err)
	}

	existing, err := w.deps.Pages.FindByURL(ctx, url)
	switch {
	case err == nil && existing.ContentHash == hash && existing.HasSummary():
		return true, w.recordResult(ctx, jobID, existing, resp, "", true)
	case err != nil && !errors.Is(err, crawler.ErrNotFound):
		return false, fmt.Errorf("lookup page: %w", err)
	}

	doc, err := w.deps.Extractor.Extract(url, resp.Body)
	if err != nil {
		return false, fmt.Errorf("extract content: %w", err)
	}
	page := crawler.Page{
		URL:         url,
		Title:       doc.Title,
		Content:     extract.FirstParagraph(doc.Markdown, w.cfg.ContentBudget),
		ContentHash: hash,
	}
	usedLLM := w.summarize(ctx, url, doc, &page)

	blobURI := ""
	if w.deps.Blobs != nil {
		blobURI, err = w.deps.Blobs.PutObject(ctx, w.buildBlobPath(jobID, hash), w.cfg.ContentType, bytes.NewReader(resp.Body))
		if err != nil {
			return false, fmt.Errorf("put object: %w", err)
		}
	}

	stored, err := w.deps.Pages.UpsertPage(ctx, page)
	if err != nil {
		return false, fmt.Errorf("upsert page: %w", err)
	}
	if err := w.recordResult(ctx, jobID, stored, resp, blobURI, false); err != nil {
		return false, err
	}
	w.publishStored(ctx, jobID, stored, blobURI, usedLLM)
	return false, nil
}

func (w *Worker) summarize(ctx context.Context, url string, doc extract.Document, page *crawler.Page) bool {
	if w.deps.Summarizer == nil || strings.TrimSpace(doc.Markdown) == "" {
		return false
	}
	summary, err := w.deps.Summarizer.Summarize(ctx, url, doc.Markdown)
	if err != nil {
		w.logger.Warn("llm extraction failed, storing without summary",
			zap.String("url", url), zap.Error(err))
		return false
	}
	if summary.Title != "" {
		page.Title = summary.Title
	}
	page.Summary = summary.Summary
	return true
}

func (w *Worker) recordResult(
	ctx context.Context,
	jobID string,
	page crawler.Page,
	resp crawler.FetchResponse,
	blobURI string,
	unchanged bool,
) error {
	result := crawler.PageResult{
		JobID:        jobID,
		PageID:       page.ID,
		URL:          page.URL,
		Title:        page.Title,
		StatusCode:   resp.StatusCode,
		UsedHeadless: resp.UsedHeadless,
		Unchanged:    unchanged,
		FetchedAt:    w.deps.Clock.Now(),
		DurationMs:   resp.Duration.Milliseconds(),
		ContentHash:  page.ContentHash,
		BlobURI:      blobURI,
	}
	if err := w.deps.Jobs.RecordPage(ctx, result); err != nil {
		return fmt.Errorf("record page: %w", err)
	}
	return nil
}

func (w *Worker) publishStored(ctx context.Context, jobID string, page crawler.Page, blobURI string, usedLLM bool) {
	if w.cfg.Topic == "" || w.deps.Publisher == nil {
		return
	}
	event := crawler.PageStoredEvent{
		JobID:       jobID,
		PageID:      page.ID,
		URL:         page.URL,
		Title:       page.Title,
		ContentHash: page.ContentHash,
		BlobURI:     blobURI,
		UsedLLM:     usedLLM,
		StoredAt:    w.deps.Clock.Now(),
	}
	id, err := w.deps.Publisher.Publish(ctx, w.cfg.Topic, event)
	if err != nil {
		w.logger.Warn("publish page event failed",
			zap.String("job_id", jobID), zap.String("url", page.URL), zap.Error(err))
		return
	}
	w.logger.Debug("page event published",
		zap.String("job_id", jobID), zap.String("url", page.URL), zap.String("message_id", id))
}

func (w *Worker) deriveFinalStatus(
	ctx context.Context,
	jobID string,
	counters crawler.JobCounters,
	errText string,
) (crawler.JobStatus, string) {
	ok := counters.PagesSucceeded + counters.PagesUnchanged
	if ok == 0 && errText == "" {
		errText = "no pages were fetched"
	}

	switch {
	case ctx.Err() != nil || w.canceled(context.WithoutCancel(ctx), jobID):
		return crawler.JobStatusCanceled, errText
	case ok == 0:
		return crawler.JobStatusFailed, errText
	default:
		return crawler.JobStatusSucceeded, errText
	}
}
