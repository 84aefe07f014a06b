package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/supacrawl/internal/crawler"
)

func TestFetcherBuildCollector(t *testing.T) {
	t.Parallel()

	f := New(Config{UserAgent: "coverage-agent", RespectRobots: true, Timeout: time.Second})
	req := crawler.FetchRequest{
		URL:                   "https://example.com",
		Headers:               http.Header{"X-Trace": {"yes"}},
		RespectRobotsProvided: true,
		RespectRobots:         false,
	}

	collector := f.buildCollector(req)
	require.Equal(t, "coverage-agent", collector.UserAgent)
	require.True(t, collector.IgnoreRobotsTxt)
	require.True(t, collector.AllowURLRevisit)
	require.True(t, collector.ParseHTTPErrorResponse)

	collector = f.buildCollector(crawler.FetchRequest{URL: "https://example.com"})
	require.False(t, collector.IgnoreRobotsTxt)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	req := crawler.FetchRequest{
		URL:     "https://example.com",
		Headers: http.Header{"X-Trace": {"yes"}},
	}
	var result crawler.FetchResponse
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, req, time.Now(), &result, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	require.Equal(t, "yes", collyReq.Headers.Get("X-Trace"))

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusCreated,
		Body:       []byte("body"),
		Headers:    &http.Header{"X-Resp": {"ok"}},
		Request: &colly.Request{
			URL: mustParseURL(t, "https://example.com"),
		},
	})
	require.Equal(t, http.StatusCreated, result.StatusCode)
	require.Equal(t, "body", string(result.Body))
	require.Equal(t, "ok", result.Headers.Get("X-Resp"))

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
}

func TestCopyHeadersHandlesNil(t *testing.T) {
	t.Parallel()

	collyReq := &colly.Request{Headers: &http.Header{}}
	copyHeaders(crawler.FetchRequest{}, collyReq)
	require.Empty(t, *collyReq.Headers)
}

func TestFetchReturnsBodyAndErrorStatuses(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/robots.txt":
			http.NotFound(w, r)
		case "/busy":
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, "try later")
		default:
			if r.Header.Get("X-Trace") != "yes" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			fmt.Fprint(w, "<html><title>ok</title></html>")
		}
	}))
	t.Cleanup(srv.Close)

	f := New(Config{UserAgent: "test-agent", RespectRobots: true, Timeout: 2 * time.Second})
	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{
		URL:     srv.URL + "/page",
		Headers: http.Header{"X-Trace": {"yes"}},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(resp.Body), "<title>ok</title>")

	// Revisiting the same URL is allowed.
	_, err = f.Fetch(context.Background(), crawler.FetchRequest{
		URL:     srv.URL + "/page",
		Headers: http.Header{"X-Trace": {"yes"}},
	})
	require.NoError(t, err)

	resp, err = f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/busy"})
	require.NoError(t, err)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.Equal(t, "try later", string(resp.Body))
}

func TestFetchRobotsDisallowed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			fmt.Fprint(w, "User-agent: *\nDisallow: /private")
			return
		}
		fmt.Fprint(w, "secret")
	}))
	t.Cleanup(srv.Close)

	f := New(Config{RespectRobots: true, Timeout: 2 * time.Second})
	_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/private/doc"})
	require.ErrorIs(t, err, crawler.ErrRobotsDisallowed)

	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{
		URL:                   srv.URL + "/private/doc",
		RespectRobots:         false,
		RespectRobotsProvided: true,
	})
	require.NoError(t, err)
	require.Equal(t, "secret", string(resp.Body))
}

func TestFetchCanceledContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := New(Config{Timeout: 2 * time.Second})
	_, err := f.Fetch(ctx, crawler.FetchRequest{URL: srv.URL + "/slow"})
	require.ErrorIs(t, err, context.Canceled)
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
