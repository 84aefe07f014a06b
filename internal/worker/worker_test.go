package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/supacrawl/internal/crawler"
	"github.com/JakeFAU/supacrawl/internal/extract"
	pubmemory "github.com/JakeFAU/supacrawl/internal/publisher/memory"
	queuememory "github.com/JakeFAU/supacrawl/internal/queue/memory"
	"github.com/JakeFAU/supacrawl/internal/storage/memory"
)

const articleHTML = `<html><head><title>Example Article</title></head><body>
<h1>Example Article</h1>
<p>This paragraph is long enough to be chosen as the stored content for the page.</p>
</body></html>`

type harness struct {
	jobs      *memory.JobStore
	pages     *memory.PageStore
	blobs     *memory.BlobStore
	publisher *pubmemory.Publisher
	probe     *fakeFetcher
	headless  *fakeFetcher
	limiter   *fakeLimiter
	summary   *fakeSummarizer
	deps      Deps
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		jobs:      memory.NewJobStore(),
		pages:     memory.NewPageStore(),
		blobs:     memory.NewBlobStore(),
		publisher: pubmemory.New(),
		probe:     &fakeFetcher{},
		headless:  &fakeFetcher{},
		limiter:   &fakeLimiter{maxRetries: 3, statuses: map[int]bool{429: true, 503: true}},
		summary:   &fakeSummarizer{result: extract.PageSummary{Title: "LLM Title", Summary: "LLM summary."}},
	}
	h.deps = Deps{
		Queue:      queuememory.NewQueue(4),
		Jobs:       h.jobs,
		Pages:      h.pages,
		Blobs:      h.blobs,
		Publisher:  h.publisher,
		Hasher:     &fakeHasher{},
		Clock:      &fakeClock{now: time.Unix(100, 0).UTC()},
		Probe:      h.probe,
		Headless:   h.headless,
		Limiter:    h.limiter,
		Summarizer: h.summary,
	}
	return h
}

func (h *harness) worker(t *testing.T) *Worker {
	t.Helper()
	w, err := New(h.deps, Config{BlobPrefix: "pages", Topic: "page-events"}, zap.NewNop())
	require.NoError(t, err)
	return w
}

func (h *harness) run(t *testing.T, w *Worker, params crawler.JobParameters) crawler.Job {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.jobs.CreateJob(ctx, crawler.Job{ID: "job-1", Status: crawler.JobStatusQueued, Parameters: params}))
	w.processJob(ctx, crawler.QueueItem{JobID: "job-1", Params: params})
	job, err := h.jobs.GetJob(ctx, "job-1")
	require.NoError(t, err)
	return job
}

func ok(url, body string) crawler.FetchResponse {
	return crawler.FetchResponse{URL: url, StatusCode: http.StatusOK, Body: []byte(body), Duration: 10 * time.Millisecond}
}

func TestWorker_ProcessJob_SuccessFlow(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.probe.script("https://example.com/a", result{resp: ok("https://example.com/a", articleHTML)})
	job := h.run(t, h.worker(t), crawler.JobParameters{URLs: []string{"https://example.com/a"}})

	require.Equal(t, crawler.JobStatusSucceeded, job.Status)
	require.Equal(t, crawler.JobCounters{PagesSucceeded: 1}, job.Counters)
	require.NotNil(t, job.Finished)

	page, err := h.pages.FindByURL(context.Background(), "https://example.com/a")
	require.NoError(t, err)
	require.Equal(t, "LLM Title", page.Title)
	require.Equal(t, "LLM summary.", page.Summary)
	require.Contains(t, page.Content, "This paragraph is long enough")
	require.NotEmpty(t, page.ContentHash)

	results, err := h.jobs.ListPages(context.Background(), "job-1")
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, page.ID, results[0].PageID)
	blobPath := fmt.Sprintf("pages/job-1/%s.html", page.ContentHash)
	require.Equal(t, "memory://"+blobPath, results[0].BlobURI)
	stored, found := h.blobs.Object(blobPath)
	require.True(t, found)
	require.Equal(t, articleHTML, string(stored))

	msgs := h.publisher.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "page-events", msgs[0].Topic)
	require.Equal(t, crawler.EventPageStored, msgs[0].Type)
	require.Contains(t, string(msgs[0].Data), `"used_llm":true`)
	require.Equal(t, 1, h.summary.callCount())
}

func TestWorker_RetriesThrottledResponses(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	url := "https://example.com/busy"
	h.probe.script(url,
		result{resp: crawler.FetchResponse{URL: url, StatusCode: http.StatusTooManyRequests}},
		result{resp: crawler.FetchResponse{URL: url, StatusCode: http.StatusServiceUnavailable}},
		result{resp: ok(url, articleHTML)},
	)
	job := h.run(t, h.worker(t), crawler.JobParameters{URLs: []string{url}})

	require.Equal(t, crawler.JobStatusSucceeded, job.Status)
	require.Equal(t, 2, job.Counters.Retries)
	require.Equal(t, 3, h.probe.attempts(url))
	require.Equal(t, 2, h.limiter.penalties)
	require.Equal(t, 1, h.limiter.resets)
	require.Equal(t, 3, h.limiter.waits)
}

func TestWorker_RetriesExhausted(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.limiter.maxRetries = 2
	url := "https://example.com/down"
	h.probe.script(url, result{resp: crawler.FetchResponse{URL: url, StatusCode: http.StatusServiceUnavailable}})
	job := h.run(t, h.worker(t), crawler.JobParameters{URLs: []string{url}})

	require.Equal(t, crawler.JobStatusFailed, job.Status)
	require.Equal(t, crawler.JobCounters{PagesFailed: 1, Retries: 2}, job.Counters)
	require.Equal(t, 3, h.probe.attempts(url))
	require.Contains(t, job.ErrorText, "unexpected status 503")
}

func TestWorker_TransientErrorRetriedRobotsNot(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	flaky := "https://example.com/flaky"
	blocked := "https://example.com/private"
	h.probe.script(flaky,
		result{err: context.DeadlineExceeded},
		result{resp: ok(flaky, articleHTML)},
	)
	h.probe.script(blocked, result{err: crawler.ErrRobotsDisallowed})
	job := h.run(t, h.worker(t), crawler.JobParameters{URLs: []string{flaky, blocked}})

	require.Equal(t, crawler.JobStatusSucceeded, job.Status)
	require.Equal(t, crawler.JobCounters{PagesSucceeded: 1, PagesFailed: 1, Retries: 1}, job.Counters)
	require.Equal(t, 2, h.probe.attempts(flaky))
	require.Equal(t, 1, h.probe.attempts(blocked))
}

func TestWorker_HeadlessPromotion(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	url := "https://spa.example.com/"
	h.probe.script(url, result{resp: ok(url, `<div id="__next"></div>`)})
	h.headless.script(url, result{resp: ok(url, articleHTML)})
	h.deps.Detector = &fakeDetector{promotions: map[string]bool{url: true}}

	job := h.run(t, h.worker(t), crawler.JobParameters{URLs: []string{url}, HeadlessAllowed: true})
	require.Equal(t, crawler.JobStatusSucceeded, job.Status)
	require.Equal(t, 1, h.headless.attempts(url))

	results, err := h.jobs.ListPages(context.Background(), "job-1")
	require.NoError(t, err)
	require.True(t, results[0].UsedHeadless)
	page, err := h.pages.FindByURL(context.Background(), url)
	require.NoError(t, err)
	require.Contains(t, page.Content, "long enough")
}

func TestWorker_HeadlessNotAllowedKeepsProbe(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	url := "https://spa.example.com/"
	h.probe.script(url, result{resp: ok(url, articleHTML)})
	h.deps.Detector = &fakeDetector{promotions: map[string]bool{url: true}}

	job := h.run(t, h.worker(t), crawler.JobParameters{URLs: []string{url}, HeadlessAllowed: false})
	require.Equal(t, crawler.JobStatusSucceeded, job.Status)
	require.Zero(t, h.headless.attempts(url))
}

func TestWorker_UnchangedContentSkipsLLM(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	url := "https://example.com/same"
	h.deps.Hasher = &fakeHasher{hash: "fixed"}
	_, err := h.pages.UpsertPage(context.Background(), crawler.Page{
		URL: url, Title: "Old", Summary: "Old summary", ContentHash: "fixed",
	})
	require.NoError(t, err)
	h.probe.script(url, result{resp: ok(url, articleHTML)})

	job := h.run(t, h.worker(t), crawler.JobParameters{URLs: []string{url}})
	require.Equal(t, crawler.JobStatusSucceeded, job.Status)
	require.Equal(t, crawler.JobCounters{PagesUnchanged: 1}, job.Counters)
	require.Zero(t, h.summary.callCount())
	require.Empty(t, h.publisher.Messages())

	page, err := h.pages.FindByURL(context.Background(), url)
	require.NoError(t, err)
	require.Equal(t, "Old", page.Title)

	results, err := h.jobs.ListPages(context.Background(), "job-1")
	require.NoError(t, err)
	require.True(t, results[0].Unchanged)
}

func TestWorker_SummarizerFailureStoresPageWithoutSummary(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.summary.err = errors.New("quota exceeded")
	url := "https://example.com/a"
	h.probe.script(url, result{resp: ok(url, articleHTML)})

	job := h.run(t, h.worker(t), crawler.JobParameters{URLs: []string{url}})
	require.Equal(t, crawler.JobStatusSucceeded, job.Status)

	page, err := h.pages.FindByURL(context.Background(), url)
	require.NoError(t, err)
	require.Equal(t, "Example Article", page.Title)
	require.Empty(t, page.Summary)
	require.Contains(t, string(h.publisher.Messages()[0].Data), `"used_llm":false`)
}

func TestWorker_PolicyBlocksFetch(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.deps.Policy = fakePolicy{allowFetch: false}
	job := h.run(t, h.worker(t), crawler.JobParameters{URLs: []string{"https://blocked.example.com"}})

	require.Equal(t, crawler.JobStatusFailed, job.Status)
	require.Equal(t, 1, job.Counters.PagesFailed)
	require.Zero(t, h.probe.attempts("https://blocked.example.com"))
}

func TestWorker_CancelStopsRemainingURLs(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	first := "https://example.com/1"
	second := "https://example.com/2"
	h.probe.script(first, result{resp: ok(first, articleHTML)})
	h.probe.script(second, result{resp: ok(second, articleHTML)})
	h.probe.onFetch = func(url string) {
		if url == first {
			_ = h.jobs.UpdateJobStatus(context.Background(), "job-1", crawler.JobStatusCanceled, "canceled via API", crawler.JobCounters{})
		}
	}

	job := h.run(t, h.worker(t), crawler.JobParameters{URLs: []string{first, second}})
	require.Equal(t, crawler.JobStatusCanceled, job.Status)
	require.Equal(t, 1, h.probe.attempts(first))
	require.Zero(t, h.probe.attempts(second))
}

func TestWorker_RunStopsWhenQueueClosed(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	q := queuememory.NewQueue(1)
	h.deps.Queue = q
	url := "https://example.com/a"
	h.probe.script(url, result{resp: ok(url, articleHTML)})
	w := h.worker(t)

	ctx := context.Background()
	params := crawler.JobParameters{URLs: []string{url}}
	require.NoError(t, h.jobs.CreateJob(ctx, crawler.Job{ID: "job-q", Status: crawler.JobStatusQueued, Parameters: params}))
	require.NoError(t, q.Enqueue(ctx, crawler.QueueItem{JobID: "job-q", Params: params}))
	q.Close()

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after queue drained")
	}
	job, err := h.jobs.GetJob(ctx, "job-q")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusSucceeded, job.Status)
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	for name, mutate := range map[string]func(d *Deps){
		"queue": func(d *Deps) { d.Queue = nil },
		"jobs":  func(d *Deps) { d.Jobs = nil },
		"pages": func(d *Deps) { d.Pages = nil },
		"probe": func(d *Deps) { d.Probe = nil },
	} {
		deps := h.deps
		mutate(&deps)
		_, err := New(deps, Config{}, nil)
		require.Error(t, err, name)
	}

	w, err := New(Deps{Queue: h.deps.Queue, Jobs: h.jobs, Pages: h.pages, Probe: h.probe}, Config{}, nil)
	require.NoError(t, err)
	require.NotNil(t, w.deps.Hasher)
	require.NotNil(t, w.deps.Clock)
	require.NotNil(t, w.deps.Extractor)
	require.Equal(t, extract.DefaultContentBudget, w.cfg.ContentBudget)
}

func TestWorkerBuildBlobPath(t *testing.T) {
	t.Parallel()

	w := &Worker{cfg: Config{BlobPrefix: "/pages/"}}
	require.Equal(t, "pages/job/hash.html", w.buildBlobPath("job", "hash"))
	w.cfg.BlobPrefix = ""
	require.Equal(t, "job/hash.html", w.buildBlobPath("job", "hash"))
}

func TestWorkerAllowHelpers(t *testing.T) {
	t.Parallel()

	w := &Worker{}
	require.True(t, w.allowFetch("job", "https://example.com"))
	require.False(t, w.allowFetch("job", "not a url"))
	require.True(t, w.allowHeadless("job", "https://example.com"))

	w.deps.Policy = fakePolicy{allowFetch: false, allowHeadless: true}
	require.False(t, w.allowFetch("job", "https://example.com"))
	require.True(t, w.allowHeadless("job", "https://example.com"))
}

type fakePolicy struct {
	allowFetch    bool
	allowHeadless bool
}

func (f fakePolicy) AllowHeadless(string, string) bool {
	return f.allowHeadless
}

func (f fakePolicy) AllowFetch(string, string) bool {
	return f.allowFetch
}

type result struct {
	resp crawler.FetchResponse
	err  error
}

// fakeFetcher replays a per-URL script; the last entry repeats.
type fakeFetcher struct {
	mu      sync.Mutex
	scripts map[string][]result
	calls   map[string]int
	onFetch func(url string)
}

func (f *fakeFetcher) script(url string, results ...result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.scripts == nil {
		f.scripts = make(map[string][]result)
	}
	f.scripts[url] = results
}

func (f *fakeFetcher) attempts(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func (f *fakeFetcher) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	idx := f.calls[req.URL]
	f.calls[req.URL]++
	script := f.scripts[req.URL]
	hook := f.onFetch
	f.mu.Unlock()

	if hook != nil {
		hook(req.URL)
	}
	if len(script) == 0 {
		return crawler.FetchResponse{}, errors.New("no script for " + req.URL)
	}
	if idx >= len(script) {
		idx = len(script) - 1
	}
	return script[idx].resp, script[idx].err
}

type fakeLimiter struct {
	mu         sync.Mutex
	maxRetries int
	statuses   map[int]bool
	waits      int
	penalties  int
	resets     int
}

func (l *fakeLimiter) Wait(context.Context, string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.waits++
	return nil
}

func (l *fakeLimiter) Penalize(string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.penalties++
	return time.Duration(l.penalties) * time.Second
}

func (l *fakeLimiter) Reset(string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resets++
}

func (l *fakeLimiter) RetryableStatus(code int) bool { return l.statuses[code] }

func (l *fakeLimiter) MaxRetries() int { return l.maxRetries }

type fakeSummarizer struct {
	mu     sync.Mutex
	result extract.PageSummary
	err    error
	calls  int
}

func (s *fakeSummarizer) Summarize(_ context.Context, _ string, markdown string) (extract.PageSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if strings.TrimSpace(markdown) == "" {
		return extract.PageSummary{}, errors.New("empty markdown")
	}
	return s.result, s.err
}

func (s *fakeSummarizer) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fakeDetector struct {
	promotions map[string]bool
}

func (d *fakeDetector) ShouldPromote(resp crawler.FetchResponse) bool {
	return d.promotions[resp.URL]
}

type fakeHasher struct {
	hash string
}

func (h *fakeHasher) Hash(data []byte) (string, error) {
	if h.hash != "" {
		return h.hash, nil
	}
	return fmt.Sprintf("h%d", len(data)), nil
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}
