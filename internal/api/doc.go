// Package api hosts the HTTP server and REST handlers for operator access.
// Notable routes:
//   - GET /healthz and /readyz for probes; readyz pings the page store.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/jobs plus /v1/jobs/{job_id}/... for crawl job submission,
//     status, results and cancellation.
//   - POST /v1/query runs one chat line through the intent router.
package api
