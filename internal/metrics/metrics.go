// Package metrics exposes Prometheus collectors for the crawler, chat and report paths.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlerPagesTotal             *prometheus.CounterVec
	crawlerBytesTotal             *prometheus.CounterVec
	crawlerRetriesTotal           *prometheus.CounterVec
	crawlerHeadlessPromotions     prometheus.Counter
	crawlerMemoryGateWaits        prometheus.Counter
	crawlerRobotsFallbackTotal    prometheus.Counter
	crawlerJobsTotal              *prometheus.CounterVec
	crawlerActiveWorkers          prometheus.Gauge
	crawlerRateLimitDelaysSeconds *prometheus.HistogramVec
	pagesStoredTotal              *prometheus.CounterVec
	llmRequestsTotal              *prometheus.CounterVec
	routerIntentsTotal            *prometheus.CounterVec
	reportRunsTotal               *prometheus.CounterVec
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec

	once sync.Once
)

// Init registers the Prometheus collectors with the default registry.
// It is safe to call this function multiple times; the Observe helpers call it.
func Init() {
	once.Do(func() {
		crawlerPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_pages_total",
				Help: "Total number of pages crawled, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		crawlerBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		crawlerRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_retries_total",
				Help: "Fetch retries after a retryable status or transport error, labeled by site.",
			},
			[]string{"site"},
		)

		crawlerHeadlessPromotions = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_headless_promotions_total",
				Help: "Probe fetches that were re-fetched with a headless browser.",
			},
		)

		crawlerMemoryGateWaits = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_memory_gate_waits_total",
				Help: "Times a worker waited for memory usage to drop below the threshold.",
			},
		)

		crawlerRobotsFallbackTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_robots_fallback_total",
				Help: "robots.txt probes that timed out repeatedly and were treated as allow-all.",
			},
		)

		crawlerJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_jobs_total",
				Help: "Total number of jobs processed, labeled by status.",
			},
			[]string{"status"},
		)

		crawlerActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_workers",
				Help: "Number of workers currently processing a job.",
			},
		)

		crawlerRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		pagesStoredTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pages_stored_total",
				Help: "Page upserts, labeled by outcome (stored, unchanged, failed).",
			},
			[]string{"outcome"},
		)

		llmRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_requests_total",
				Help: "Language model calls, labeled by purpose and outcome.",
			},
			[]string{"purpose", "outcome"},
		)

		routerIntentsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "router_intents_total",
				Help: "Chat inputs routed, labeled by resolved action and source.",
			},
			[]string{"action", "source"},
		)

		reportRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "report_runs_total",
				Help: "Report generation runs, labeled by status.",
			},
			[]string{"status"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method, route and code.",
			},
			[]string{"method", "route", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveCrawl increments the crawler metrics.
func ObserveCrawl(site string, status string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	crawlerPagesTotal.WithLabelValues(sanitizedSite, status).Inc()
	if bytesFetched > 0 {
		crawlerBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveRetry counts one fetch retry against the URL's host.
func ObserveRetry(rawURL string) {
	Init()
	crawlerRetriesTotal.WithLabelValues(SanitizeSite(rawURL)).Inc()
}

// ObserveHeadlessPromotion counts a probe promoted to a headless fetch.
func ObserveHeadlessPromotion() {
	Init()
	crawlerHeadlessPromotions.Inc()
}

// ObserveMemoryGateWait counts a worker blocked by the memory gate.
func ObserveMemoryGateWait() {
	Init()
	crawlerMemoryGateWaits.Inc()
}

// ObserveRobotsFallback counts a robots.txt probe replaced by allow-all.
func ObserveRobotsFallback() {
	Init()
	crawlerRobotsFallbackTotal.Inc()
}

// ObserveJob increments the job counter for the given status.
func ObserveJob(status string) {
	Init()
	crawlerJobsTotal.WithLabelValues(status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	crawlerActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	crawlerActiveWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	crawlerRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObservePageStored counts a page upsert outcome.
func ObservePageStored(outcome string) {
	Init()
	pagesStoredTotal.WithLabelValues(outcome).Inc()
}

// ObserveLLMRequest counts a language model call.
func ObserveLLMRequest(purpose, outcome string) {
	Init()
	llmRequestsTotal.WithLabelValues(purpose, outcome).Inc()
}

// ObserveIntent counts a routed chat input.
func ObserveIntent(action, source string) {
	Init()
	routerIntentsTotal.WithLabelValues(action, source).Inc()
}

// ObserveReportRun counts a report run by final status.
func ObserveReportRun(status string) {
	Init()
	reportRunsTotal.WithLabelValues(status).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
