package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareLabelsRequests(t *testing.T) {
	Init()

	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/items/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/gone", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusGone)
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/implicit", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	tests := []struct {
		name  string
		path  string
		route string
		code  string
	}{
		{"route pattern not raw path", "/items/42", "/items/{id}", "200"},
		{"first status wins", "/gone", "/gone", "410"},
		{"implicit ok", "/implicit", "/implicit", "200"},
		{"no route matched", "/missing/7", unmatchedRoute, "404"},
	}

	for _, tt := range tests {
		counter := httpRequestsTotal.WithLabelValues(http.MethodGet, tt.route, tt.code)
		before := testutil.ToFloat64(counter)

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

		require.InDelta(t, before+1, testutil.ToFloat64(counter), 0.0001, tt.name)
	}

	require.Zero(t, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/items/42", "200")),
		"raw paths never become label values")
	require.Positive(t, testutil.CollectAndCount(httpRequestDurationSeconds))
}

func TestRouteLabelWithoutRouter(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/plain", nil)
	require.Equal(t, unmatchedRoute, routeLabel(req))
}
