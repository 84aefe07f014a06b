package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/supacrawl/internal/crawler"
)

const pageColumns = `id, url, COALESCE(title, ''), COALESCE(summary, ''), COALESCE(content, ''),
	COALESCE(content_hash, ''), created_at, updated_at`

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern builds an ILIKE pattern matching query literally.
func containsPattern(query string) string {
	return "%" + likeEscaper.Replace(query) + "%"
}

// UpsertPage inserts page or overwrites the existing row with the same URL.
func (s *Store) UpsertPage(ctx context.Context, page crawler.Page) (crawler.Page, error) {
	if err := crawler.ValidatePageURL(page.URL); err != nil {
		return crawler.Page{}, err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (url, title, summary, content, content_hash)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (url) DO UPDATE SET
	title = EXCLUDED.title,
	summary = EXCLUDED.summary,
	content = EXCLUDED.content,
	content_hash = EXCLUDED.content_hash,
	updated_at = now()
RETURNING %s`, s.pages, pageColumns)

	row := s.pool.QueryRow(ctx, query,
		page.URL,
		nullable(page.Title),
		nullable(page.Summary),
		nullable(page.Content),
		nullable(page.ContentHash),
	)
	stored, err := scanPage(row)
	if err != nil {
		return crawler.Page{}, fmt.Errorf("upsert page: %w", err)
	}
	return stored, nil
}

// Latest returns the newest pages by id.
func (s *Store) Latest(ctx context.Context, limit int) ([]crawler.Page, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY id DESC LIMIT $1`, pageColumns, s.pages)
	return s.queryPages(ctx, "latest pages", query, limit)
}

// FindByURL returns the page stored for url.
func (s *Store) FindByURL(ctx context.Context, url string) (crawler.Page, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE url = $1 LIMIT 1`, pageColumns, s.pages)
	return s.queryPage(ctx, "find page", query, url)
}

// GetByID returns the page with id.
func (s *Store) GetByID(ctx context.Context, id int64) (crawler.Page, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, pageColumns, s.pages)
	return s.queryPage(ctx, "get page", query, id)
}

// Search returns pages whose column contains query, ignoring case.
func (s *Store) Search(ctx context.Context, column crawler.SearchColumn, query string, limit int) ([]crawler.Page, error) {
	if !column.Valid() {
		return nil, fmt.Errorf("column %q is not searchable", column)
	}
	stmt := fmt.Sprintf(`SELECT %s FROM %s WHERE %s ILIKE $1 ORDER BY id DESC LIMIT $2`,
		pageColumns, s.pages, column)
	return s.queryPages(ctx, "search pages", stmt, containsPattern(query), limit)
}

// Count returns the number of stored pages.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.pages)
	if err := s.pool.QueryRow(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pages: %w", err)
	}
	return n, nil
}

// WithSummaries returns pages that have both a title and a summary.
func (s *Store) WithSummaries(ctx context.Context, limit int) ([]crawler.Page, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s
WHERE COALESCE(title, '') <> '' AND COALESCE(summary, '') <> ''
ORDER BY id DESC LIMIT $1`, pageColumns, s.pages)
	return s.queryPages(ctx, "pages with summaries", query, limit)
}

// RecentSince returns pages updated at or after since, newest first.
func (s *Store) RecentSince(ctx context.Context, since time.Time, limit int) ([]crawler.Page, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE updated_at >= $1 ORDER BY updated_at DESC, id DESC LIMIT $2`,
		pageColumns, s.pages)
	return s.queryPages(ctx, "recent pages", query, since, limit)
}

func (s *Store) queryPage(ctx context.Context, op, query string, args ...any) (crawler.Page, error) {
	page, err := scanPage(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Page{}, crawler.ErrNotFound
	}
	if err != nil {
		return crawler.Page{}, fmt.Errorf("%s: %w", op, err)
	}
	return page, nil
}

func (s *Store) queryPages(ctx context.Context, op, query string, args ...any) ([]crawler.Page, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var pages []crawler.Page
	for rows.Next() {
		page, err := scanPage(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		pages = append(pages, page)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return pages, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPage(row rowScanner) (crawler.Page, error) {
	var p crawler.Page
	err := row.Scan(&p.ID, &p.URL, &p.Title, &p.Summary, &p.Content, &p.ContentHash, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}
