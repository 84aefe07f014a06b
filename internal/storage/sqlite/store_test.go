package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/supacrawl/internal/crawler"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), Config{DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestUpsertIsKeyedOnURL(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return t0 }

	first, err := s.UpsertPage(ctx, crawler.Page{URL: "https://example.com/a", Title: "Old", Content: "c1", ContentHash: "h1"})
	require.NoError(t, err)
	require.Positive(t, first.ID)
	require.Empty(t, first.Summary)

	s.now = func() time.Time { return t0.Add(time.Hour) }
	second, err := s.UpsertPage(ctx, crawler.Page{URL: "https://example.com/a", Title: "New", Summary: "S", Content: "c2", ContentHash: "h2"})
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, "New", second.Title)
	require.Equal(t, "S", second.Summary)
	require.Equal(t, t0, second.CreatedAt)
	require.Equal(t, t0.Add(time.Hour), second.UpdatedAt)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	_, err = s.UpsertPage(ctx, crawler.Page{URL: "/relative"})
	require.Error(t, err)
}

func TestReadQueries(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	seed := []crawler.Page{
		{URL: "https://example.com/1", Title: "Go Tutorial", Summary: "Learn Go"},
		{URL: "https://example.com/2", Title: "100% Python_Guide", Summary: ""},
		{URL: "https://example.com/3", Content: "no llm fields"},
		{URL: "https://example.com/4", Title: "Rust Notes", Summary: "Memory safety without GC"},
	}
	for i, p := range seed {
		s.now = func() time.Time { return base.Add(time.Duration(i) * time.Hour) }
		_, err := s.UpsertPage(ctx, p)
		require.NoError(t, err)
	}

	latest, err := s.Latest(ctx, 2)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	require.Equal(t, "https://example.com/4", latest[0].URL)
	require.Equal(t, "https://example.com/3", latest[1].URL)

	found, err := s.FindByURL(ctx, "https://example.com/3")
	require.NoError(t, err)
	require.Equal(t, "no llm fields", found.Content)
	require.Empty(t, found.Title)

	_, err = s.FindByURL(ctx, "https://example.com/missing")
	require.ErrorIs(t, err, crawler.ErrNotFound)

	byID, err := s.GetByID(ctx, found.ID)
	require.NoError(t, err)
	require.Equal(t, found.URL, byID.URL)

	_, err = s.GetByID(ctx, 9999)
	require.ErrorIs(t, err, crawler.ErrNotFound)

	hits, err := s.Search(ctx, crawler.ColumnTitle, "go tutorial", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)

	hits, err = s.Search(ctx, crawler.ColumnTitle, "100%", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1, "percent is matched literally")

	hits, err = s.Search(ctx, crawler.ColumnTitle, "o_t", 10)
	require.NoError(t, err)
	require.Empty(t, hits, "underscore is not a wildcard")

	hits, err = s.Search(ctx, crawler.ColumnSummary, "memory", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)

	_, err = s.Search(ctx, crawler.SearchColumn("content"), "x", 10)
	require.Error(t, err)

	withSummaries, err := s.WithSummaries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, withSummaries, 2)
	require.Equal(t, "https://example.com/4", withSummaries[0].URL)

	recent, err := s.RecentSince(ctx, base.Add(2*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, "https://example.com/4", recent[0].URL)

	require.NoError(t, s.Ping(ctx))
}

func TestSearchFoldsUnicodeCase(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	_, err := s.UpsertPage(ctx, crawler.Page{URL: "https://example.com/fr", Title: "ÉCOLE Überblick", Summary: "Straße"})
	require.NoError(t, err)
	_, err = s.UpsertPage(ctx, crawler.Page{URL: "https://example.com/en", Title: "School overview"})
	require.NoError(t, err)

	tests := []struct {
		column crawler.SearchColumn
		query  string
		want   int
	}{
		{crawler.ColumnTitle, "école", 1},
		{crawler.ColumnTitle, "überblick", 1},
		{crawler.ColumnTitle, "ÉCOLE", 1},
		{crawler.ColumnTitle, "SCHOOL", 1},
		{crawler.ColumnSummary, "straße", 1},
	}
	for _, tt := range tests {
		hits, err := s.Search(ctx, tt.column, tt.query, 10)
		require.NoError(t, err)
		require.Len(t, hits, tt.want, "%s %q", tt.column, tt.query)
	}
}

func TestInsertReport(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	first, err := s.InsertReport(ctx, crawler.Report{
		ReportDate: time.Now(),
		Title:      "Daily",
		Content:    "<p>none</p>",
		Status:     crawler.ReportStatusNoData,
	})
	require.NoError(t, err)
	second, err := s.InsertReport(ctx, crawler.Report{
		ReportDate:        time.Now(),
		Title:             "Daily",
		Content:           "<p>x</p>",
		DocumentsAnalyzed: 4,
		Status:            crawler.ReportStatusCompleted,
	})
	require.NoError(t, err)
	require.Greater(t, second.ID, first.ID)

	_, err = s.InsertReport(ctx, crawler.Report{Title: "x"})
	require.Error(t, err)
}

func TestOpenValidation(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), Config{})
	require.Error(t, err)

	_, err = Open(context.Background(), Config{DSN: ":memory:", PagesTable: "bad name"})
	require.ErrorContains(t, err, "invalid table name")
}
