package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, SanitizeSite(tc.input))
		})
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	first := routerIntentsTotal
	Init()
	require.Same(t, first, routerIntentsTotal)
	require.NotNil(t, pagesStoredTotal)
	require.NotNil(t, llmRequestsTotal)
	require.NotNil(t, reportRunsTotal)
}

func TestObserveHelpers(t *testing.T) {
	Init()
	before := testutil.ToFloat64(routerIntentsTotal.WithLabelValues("count", "llm"))
	ObserveIntent("count", "llm")
	require.InDelta(t, before+1, testutil.ToFloat64(routerIntentsTotal.WithLabelValues("count", "llm")), 0.001)

	before = testutil.ToFloat64(pagesStoredTotal.WithLabelValues("unchanged"))
	ObservePageStored("unchanged")
	require.InDelta(t, before+1, testutil.ToFloat64(pagesStoredTotal.WithLabelValues("unchanged")), 0.001)

	before = testutil.ToFloat64(llmRequestsTotal.WithLabelValues("summary", "error"))
	ObserveLLMRequest("summary", "error")
	require.InDelta(t, before+1, testutil.ToFloat64(llmRequestsTotal.WithLabelValues("summary", "error")), 0.001)

	before = testutil.ToFloat64(reportRunsTotal.WithLabelValues("no_data"))
	ObserveReportRun("no_data")
	require.InDelta(t, before+1, testutil.ToFloat64(reportRunsTotal.WithLabelValues("no_data")), 0.001)

	before = testutil.ToFloat64(crawlerPagesTotal.WithLabelValues("example.org", "success"))
	ObserveCrawl("https://Example.org/a", "success", 10)
	require.InDelta(t, before+1, testutil.ToFloat64(crawlerPagesTotal.WithLabelValues("example.org", "success")), 0.001)

	ObserveRateLimitDelay("example.org", 20*time.Millisecond)
	require.Positive(t, testutil.CollectAndCount(crawlerRateLimitDelaysSeconds))
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
