package memory

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/supacrawl/internal/crawler"
)

func TestPageStoreUpsertKeepsIdentity(t *testing.T) {
	t.Parallel()

	store := NewPageStore()
	ctx := context.Background()
	t0 := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return t0 }

	first, err := store.UpsertPage(ctx, crawler.Page{URL: "https://example.com", Title: "A"})
	require.NoError(t, err)
	require.Equal(t, int64(1), first.ID)

	store.now = func() time.Time { return t0.Add(time.Minute) }
	second, err := store.UpsertPage(ctx, crawler.Page{URL: "https://example.com", Title: "B", Summary: "s"})
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, t0, second.CreatedAt)
	require.Equal(t, t0.Add(time.Minute), second.UpdatedAt)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	_, err = store.UpsertPage(ctx, crawler.Page{URL: "mailto:a@b.c"})
	require.Error(t, err)
}

func TestPageStoreQueries(t *testing.T) {
	t.Parallel()

	store := NewPageStore()
	ctx := context.Background()
	for _, p := range []crawler.Page{
		{URL: "https://a.example", Title: "Go Tutorial", Summary: "basics"},
		{URL: "https://b.example", Title: "Python"},
		{URL: "https://c.example", Title: "Advanced GO", Summary: "Generics"},
	} {
		_, err := store.UpsertPage(ctx, p)
		require.NoError(t, err)
	}

	latest, err := store.Latest(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, []int64{3, 2}, []int64{latest[0].ID, latest[1].ID})

	hits, err := store.Search(ctx, crawler.ColumnTitle, "go", 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	require.Equal(t, int64(3), hits[0].ID)

	_, err = store.Search(ctx, crawler.SearchColumn("url"), "x", 10)
	require.Error(t, err)

	summaries, err := store.WithSummaries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	page, err := store.GetByID(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, "https://b.example", page.URL)

	_, err = store.GetByID(ctx, 42)
	require.ErrorIs(t, err, crawler.ErrNotFound)
	_, err = store.FindByURL(ctx, "https://z.example")
	require.ErrorIs(t, err, crawler.ErrNotFound)

	recent, err := store.RecentSince(ctx, time.Now().Add(-time.Hour), 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
}

func TestReportStoreAppends(t *testing.T) {
	t.Parallel()

	store := NewReportStore()
	r1, err := store.InsertReport(context.Background(), crawler.Report{Status: crawler.ReportStatusNoData})
	require.NoError(t, err)
	r2, err := store.InsertReport(context.Background(), crawler.Report{Status: crawler.ReportStatusCompleted})
	require.NoError(t, err)
	require.Equal(t, int64(1), r1.ID)
	require.Equal(t, int64(2), r2.ID)
	require.Len(t, store.Reports(), 2)

	_, err = store.InsertReport(context.Background(), crawler.Report{})
	require.Error(t, err)
}

func TestJobStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	job := crawler.Job{ID: "job-1", Status: crawler.JobStatusQueued}

	require.NoError(t, store.CreateJob(ctx, job))
	require.Error(t, store.CreateJob(ctx, job), "duplicate job")
	require.NoError(t, store.UpdateJobStatus(ctx, job.ID, crawler.JobStatusRunning, "", crawler.JobCounters{}))

	require.NoError(t, store.RecordPage(ctx, crawler.PageResult{JobID: job.ID, URL: "https://example.com"}))
	require.ErrorIs(t, store.RecordPage(ctx, crawler.PageResult{JobID: "nope"}), crawler.ErrNotFound)

	pages, err := store.ListPages(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, pages, 1)
	pages[0].URL = "modified"
	require.Equal(t, "https://example.com", store.pages[job.ID][0].URL, "ListPages returns a copy")

	require.NoError(t, store.UpdateJobStatus(ctx, job.ID, crawler.JobStatusSucceeded, "", crawler.JobCounters{PagesSucceeded: 1}))
	final, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusSucceeded, final.Status)
	require.NotNil(t, final.Started)
	require.NotNil(t, final.Finished)
	require.Equal(t, 1, final.Counters.PagesSucceeded)

	require.Error(t, store.UpdateJobStatus(ctx, job.ID, crawler.JobStatusRunning, "", crawler.JobCounters{}),
		"terminal jobs are not reopened")

	_, err = store.GetJob(ctx, "missing")
	require.ErrorIs(t, err, crawler.ErrNotFound)
}

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "path/page.html", "text/html", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "memory://path/page.html", uri)

	payload[0] = 'C'
	stored, ok := store.Object("path/page.html")
	require.True(t, ok)
	require.Equal(t, "content", string(stored))

	_, err = store.PutObject(context.Background(), "", "text/html", strings.NewReader("x"))
	require.Error(t, err)
}
