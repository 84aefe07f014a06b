package router

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/supacrawl/internal/crawler"
)

func TestFallbackParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		answer string
		want   Intent
	}{
		{"count", `{"action":"count","filters":{}}`, Count{}},
		{"latest with limit", `{"action":"latest","filters":{},"limit":3}`, Latest{Limit: 3}},
		{"latest default", `{"action":"latest","filters":{}}`, Latest{Limit: 5}},
		{"find url", `{"action":"find_url","filters":{"url":"https://example.com/a"}}`, FindURL{URL: "https://example.com/a"}},
		{"search title lowercased", `{"action":"search_title","filters":{"query":"Python Tutorial"}}`,
			Search{Column: crawler.ColumnTitle, Query: "python tutorial", Limit: 10}},
		{"search summary limit", `{"action":"search_summary","filters":{"query":"golang"},"limit":2}`,
			Search{Column: crawler.ColumnSummary, Query: "golang", Limit: 2}},
		{"content", `{"action":"content","filters":{"id":"7"}}`, Content{ID: 7}},
		{"summaries", `{"action":"summaries","filters":{}}`, Summaries{Limit: 10}},
		{"help", `{"action":"help","filters":{}}`, Help{}},
		{"fenced", "```json\n{\"action\":\"count\",\"filters\":{}}\n```", Count{}},
		{"not json", `I think you want the count`, Unknown{}},
		{"unknown action", `{"action":"delete","filters":{}}`, Unknown{}},
		{"missing action", `{"filters":{}}`, Unknown{}},
		{"missing filters", `{"action":"count"}`, Unknown{}},
		{"unknown key", `{"action":"count","filters":{},"extra":1}`, Unknown{}},
		{"unknown filter", `{"action":"latest","filters":{"title":"x"}}`, Unknown{}},
		{"zero limit", `{"action":"latest","filters":{},"limit":0}`, Unknown{}},
		{"fractional limit", `{"action":"latest","filters":{},"limit":2.5}`, Unknown{}},
		{"string limit", `{"action":"latest","filters":{},"limit":"5"}`, Unknown{}},
		{"find without url", `{"action":"find_url","filters":{}}`, Unknown{}},
		{"search without query", `{"action":"search_title","filters":{"query":"  "}}`, Unknown{}},
		{"content bad id", `{"action":"content","filters":{"id":"abc"}}`, Unknown{}},
		{"content numeric id", `{"action":"content","filters":{"id":7}}`, Unknown{}},
		{"trailing data", `{"action":"count","filters":{}} {"action":"help","filters":{}}`, Unknown{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			gen := &fakeGenerator{answer: tt.answer}
			f := NewFallback(gen, time.Second, DefaultLimits(), nil)
			got := f.Parse(context.Background(), "anything")
			require.Equal(t, tt.want, got)
			require.Equal(t, 1, gen.callCount())
		})
	}
}

func TestFallbackRequestShape(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{answer: `{"action":"count","filters":{}}`}
	f := NewFallback(gen, time.Second, DefaultLimits(), nil)
	f.Parse(context.Background(), "how many pages are there?")

	req := gen.requests[0]
	require.Equal(t, "intent", req.Purpose)
	require.Contains(t, req.Prompt, "how many pages are there?")
	require.Same(t, intentSchema, req.Schema)
	require.ElementsMatch(t, llmActions, req.Schema.Properties["action"].Enum)
}

func TestFallbackUnavailable(t *testing.T) {
	t.Parallel()

	t.Run("transport error", func(t *testing.T) {
		t.Parallel()
		f := NewFallback(&fakeGenerator{err: errors.New("connection refused")}, time.Second, DefaultLimits(), nil)
		got := f.Parse(context.Background(), "hello")
		require.Equal(t, Unknown{Notice: "language model unavailable: connection refused"}, got)
	})

	t.Run("timeout", func(t *testing.T) {
		t.Parallel()
		f := NewFallback(&fakeGenerator{block: true}, 20*time.Millisecond, DefaultLimits(), nil)
		start := time.Now()
		got := f.Parse(context.Background(), "hello")
		require.Less(t, time.Since(start), 2*time.Second)
		require.Equal(t, Unknown{Notice: "language model unavailable: request timed out"}, got)
	})

	t.Run("wrapped timeout", func(t *testing.T) {
		t.Parallel()
		f := NewFallback(&fakeGenerator{err: fmt.Errorf("gemini generate: %w", context.DeadlineExceeded)}, time.Second, DefaultLimits(), nil)
		got := f.Parse(context.Background(), "hello")
		require.Equal(t, Unknown{Notice: "language model unavailable: request timed out"}, got)
	})

	t.Run("not configured", func(t *testing.T) {
		t.Parallel()
		f := NewFallback(nil, time.Second, DefaultLimits(), nil)
		got := f.Parse(context.Background(), "hello")
		require.Equal(t, Unknown{Notice: "language model unavailable: not configured"}, got)
	})
}
