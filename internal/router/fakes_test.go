package router

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/JakeFAU/supacrawl/internal/crawler"
	"github.com/JakeFAU/supacrawl/internal/llm"
)

type fakePages struct {
	mu      sync.Mutex
	pages   []crawler.Page
	err     error
	block   bool
	calls   []string
	lastLim int
}

func (f *fakePages) record(call string, limit int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	f.lastLim = limit
	return f.err
}

func (f *fakePages) wait(ctx context.Context) error {
	if !f.block {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakePages) newestFirst() []crawler.Page {
	out := append([]crawler.Page(nil), f.pages...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func head(pages []crawler.Page, limit int) []crawler.Page {
	if len(pages) > limit {
		return pages[:limit]
	}
	return pages
}

func (f *fakePages) Latest(ctx context.Context, limit int) ([]crawler.Page, error) {
	if err := f.record("latest", limit); err != nil {
		return nil, err
	}
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	return head(f.newestFirst(), limit), nil
}

func (f *fakePages) FindByURL(_ context.Context, url string) (crawler.Page, error) {
	if err := f.record("find", 0); err != nil {
		return crawler.Page{}, err
	}
	for _, p := range f.pages {
		if p.URL == url {
			return p, nil
		}
	}
	return crawler.Page{}, crawler.ErrNotFound
}

func (f *fakePages) Search(_ context.Context, column crawler.SearchColumn, query string, limit int) ([]crawler.Page, error) {
	if err := f.record("search:"+string(column), limit); err != nil {
		return nil, err
	}
	var out []crawler.Page
	for _, p := range f.newestFirst() {
		field := p.Title
		if column == crawler.ColumnSummary {
			field = p.Summary
		}
		if strings.Contains(strings.ToLower(field), query) {
			out = append(out, p)
		}
	}
	return head(out, limit), nil
}

func (f *fakePages) Count(ctx context.Context) (int64, error) {
	if err := f.record("count", 0); err != nil {
		return 0, err
	}
	if err := f.wait(ctx); err != nil {
		return 0, err
	}
	return int64(len(f.pages)), nil
}

func (f *fakePages) GetByID(_ context.Context, id int64) (crawler.Page, error) {
	if err := f.record("content", 0); err != nil {
		return crawler.Page{}, err
	}
	for _, p := range f.pages {
		if p.ID == id {
			return p, nil
		}
	}
	return crawler.Page{}, crawler.ErrNotFound
}

func (f *fakePages) WithSummaries(_ context.Context, limit int) ([]crawler.Page, error) {
	if err := f.record("summaries", limit); err != nil {
		return nil, err
	}
	var out []crawler.Page
	for _, p := range f.newestFirst() {
		if p.HasSummary() {
			out = append(out, p)
		}
	}
	return head(out, limit), nil
}

func (f *fakePages) Ping(_ context.Context) error {
	return f.record("ping", 0)
}

type fakeGenerator struct {
	mu       sync.Mutex
	answer   string
	err      error
	block    bool
	requests []llm.Request
}

func (f *fakeGenerator) GenerateJSON(ctx context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}

func (f *fakeGenerator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}
