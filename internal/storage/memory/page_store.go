// Package memory holds in-process stores used for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/supacrawl/internal/crawler"
)

// PageStore keeps pages in a map keyed by URL.
type PageStore struct {
	mu     sync.RWMutex
	byURL  map[string]crawler.Page
	nextID int64
	now    func() time.Time
}

// NewPageStore constructs an empty PageStore.
func NewPageStore() *PageStore {
	return &PageStore{byURL: make(map[string]crawler.Page), now: time.Now}
}

// UpsertPage inserts page or overwrites the row with the same URL, keeping
// its id and creation time.
func (s *PageStore) UpsertPage(_ context.Context, page crawler.Page) (crawler.Page, error) {
	if err := crawler.ValidatePageURL(page.URL); err != nil {
		return crawler.Page{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	if existing, ok := s.byURL[page.URL]; ok {
		page.ID = existing.ID
		page.CreatedAt = existing.CreatedAt
	} else {
		s.nextID++
		page.ID = s.nextID
		page.CreatedAt = now
	}
	page.UpdatedAt = now
	s.byURL[page.URL] = page
	return page, nil
}

// Latest returns the newest pages by id.
func (s *PageStore) Latest(_ context.Context, limit int) ([]crawler.Page, error) {
	return s.filter(limit, func(crawler.Page) bool { return true }), nil
}

// FindByURL returns the page stored for url.
func (s *PageStore) FindByURL(_ context.Context, url string) (crawler.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	page, ok := s.byURL[url]
	if !ok {
		return crawler.Page{}, crawler.ErrNotFound
	}
	return page, nil
}

// GetByID returns the page with id.
func (s *PageStore) GetByID(_ context.Context, id int64) (crawler.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, page := range s.byURL {
		if page.ID == id {
			return page, nil
		}
	}
	return crawler.Page{}, crawler.ErrNotFound
}

// Search returns pages whose column contains query, ignoring case.
func (s *PageStore) Search(_ context.Context, column crawler.SearchColumn, query string, limit int) ([]crawler.Page, error) {
	if !column.Valid() {
		return nil, fmt.Errorf("column %q is not searchable", column)
	}
	needle := strings.ToLower(query)
	return s.filter(limit, func(p crawler.Page) bool {
		field := p.Title
		if column == crawler.ColumnSummary {
			field = p.Summary
		}
		return strings.Contains(strings.ToLower(field), needle)
	}), nil
}

// Count returns the number of stored pages.
func (s *PageStore) Count(context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.byURL)), nil
}

// WithSummaries returns pages that have both a title and a summary.
func (s *PageStore) WithSummaries(_ context.Context, limit int) ([]crawler.Page, error) {
	return s.filter(limit, crawler.Page.HasSummary), nil
}

// RecentSince returns pages updated at or after since, newest first.
func (s *PageStore) RecentSince(_ context.Context, since time.Time, limit int) ([]crawler.Page, error) {
	s.mu.RLock()
	var out []crawler.Page
	for _, page := range s.byURL {
		if !page.UpdatedAt.Before(since) {
			out = append(out, page)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Ping always succeeds.
func (s *PageStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *PageStore) Close() {}

// filter returns matching pages ordered by id descending.
func (s *PageStore) filter(limit int, keep func(crawler.Page) bool) []crawler.Page {
	s.mu.RLock()
	var out []crawler.Page
	for _, page := range s.byURL {
		if keep(page) {
			out = append(out, page)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
