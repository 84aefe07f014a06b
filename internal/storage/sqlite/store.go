// Package sqlite provides page and report stores on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"modernc.org/sqlite"

	"github.com/JakeFAU/supacrawl/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// lowerFunc is a SQL function applying Unicode case folding, which the
// built-in lower() and LIKE only do for ASCII.
const lowerFunc = "golower"

var (
	registerOnce sync.Once
	registerErr  error
)

func registerFunctions() error {
	registerOnce.Do(func() {
		registerErr = sqlite.RegisterDeterministicScalarFunction(lowerFunc, 1, golower)
	})
	return registerErr
}

func golower(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	switch v := args[0].(type) {
	case string:
		return strings.ToLower(v), nil
	case []byte:
		return strings.ToLower(string(v)), nil
	default:
		return v, nil
	}
}

const pageColumns = `id, url, COALESCE(title, ''), COALESCE(summary, ''), COALESCE(content, ''),
	COALESCE(content_hash, ''), created_at, updated_at`

// Config selects the database file and table names.
type Config struct {
	DSN          string
	PagesTable   string
	ReportsTable string
}

// Store implements crawler.PageStore and crawler.ReportStore.
type Store struct {
	db      *sql.DB
	pages   string
	reports string
	now     func() time.Time
}

// Open opens (and creates when needed) the database at cfg.DSN.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	pages, reports := cfg.PagesTable, cfg.ReportsTable
	if pages == "" {
		pages = "pages"
	}
	if reports == "" {
		reports = "reports"
	}
	for _, table := range []string{pages, reports} {
		if !validTableName.MatchString(table) {
			return nil, fmt.Errorf("invalid table name %q", table)
		}
	}

	if err := registerFunctions(); err != nil {
		return nil, fmt.Errorf("register sqlite functions: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps :memory: databases shared and serialises writers.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, pages: pages, reports: reports, now: time.Now}
	if err := s.init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init(ctx context.Context) error {
	statements := []string{
		"PRAGMA busy_timeout=10000",
		"PRAGMA journal_mode=WAL",
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	url TEXT NOT NULL UNIQUE,
	title TEXT,
	summary TEXT,
	content TEXT,
	content_hash TEXT,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
)`, s.pages),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_updated_at_idx ON %s (updated_at)`, s.pages, s.pages),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	report_date INTEGER NOT NULL,
	title TEXT NOT NULL,
	content TEXT NOT NULL,
	summary TEXT,
	documents_analyzed INTEGER NOT NULL DEFAULT 0,
	ai_insights TEXT,
	status TEXT NOT NULL
)`, s.reports),
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init sqlite schema: %w", err)
		}
	}
	return nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() {
	if s == nil || s.db == nil {
		return
	}
	_ = s.db.Close()
}

// UpsertPage inserts page or overwrites the existing row with the same URL.
func (s *Store) UpsertPage(ctx context.Context, page crawler.Page) (crawler.Page, error) {
	if err := crawler.ValidatePageURL(page.URL); err != nil {
		return crawler.Page{}, err
	}
	now := s.now().UTC().UnixNano()
	query := fmt.Sprintf(`
INSERT INTO %s (url, title, summary, content, content_hash, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (url) DO UPDATE SET
	title = excluded.title,
	summary = excluded.summary,
	content = excluded.content,
	content_hash = excluded.content_hash,
	updated_at = excluded.updated_at
RETURNING %s`, s.pages, pageColumns)

	row := s.db.QueryRowContext(ctx, query,
		page.URL,
		nullable(page.Title),
		nullable(page.Summary),
		nullable(page.Content),
		nullable(page.ContentHash),
		now,
		now,
	)
	stored, err := scanPage(row)
	if err != nil {
		return crawler.Page{}, fmt.Errorf("upsert page: %w", err)
	}
	return stored, nil
}

// Latest returns the newest pages by id.
func (s *Store) Latest(ctx context.Context, limit int) ([]crawler.Page, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY id DESC LIMIT ?`, pageColumns, s.pages)
	return s.queryPages(ctx, "latest pages", query, limit)
}

// FindByURL returns the page stored for url.
func (s *Store) FindByURL(ctx context.Context, url string) (crawler.Page, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE url = ?`, pageColumns, s.pages)
	return s.queryPage(ctx, "find page", query, url)
}

// GetByID returns the page with id.
func (s *Store) GetByID(ctx context.Context, id int64) (crawler.Page, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?`, pageColumns, s.pages)
	return s.queryPage(ctx, "get page", query, id)
}

// Search returns pages whose column contains query, ignoring case.
func (s *Store) Search(ctx context.Context, column crawler.SearchColumn, query string, limit int) ([]crawler.Page, error) {
	if !column.Valid() {
		return nil, fmt.Errorf("column %q is not searchable", column)
	}
	stmt := fmt.Sprintf(`SELECT %s FROM %s WHERE %s(%s) LIKE ? ESCAPE '\' ORDER BY id DESC LIMIT ?`,
		pageColumns, s.pages, lowerFunc, column)
	pattern := "%" + likeEscaper.Replace(strings.ToLower(query)) + "%"
	return s.queryPages(ctx, "search pages", stmt, pattern, limit)
}

// Count returns the number of stored pages.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.pages)
	if err := s.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pages: %w", err)
	}
	return n, nil
}

// WithSummaries returns pages that have both a title and a summary.
func (s *Store) WithSummaries(ctx context.Context, limit int) ([]crawler.Page, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s
WHERE COALESCE(title, '') <> '' AND COALESCE(summary, '') <> ''
ORDER BY id DESC LIMIT ?`, pageColumns, s.pages)
	return s.queryPages(ctx, "pages with summaries", query, limit)
}

// RecentSince returns pages updated at or after since, newest first.
func (s *Store) RecentSince(ctx context.Context, since time.Time, limit int) ([]crawler.Page, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE updated_at >= ? ORDER BY updated_at DESC, id DESC LIMIT ?`,
		pageColumns, s.pages)
	return s.queryPages(ctx, "recent pages", query, since.UTC().UnixNano(), limit)
}

// InsertReport appends report and returns it with the assigned id.
func (s *Store) InsertReport(ctx context.Context, report crawler.Report) (crawler.Report, error) {
	if report.Status == "" {
		return crawler.Report{}, fmt.Errorf("report status is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (report_date, title, content, summary, documents_analyzed, ai_insights, status)
VALUES (?, ?, ?, ?, ?, ?, ?)`, s.reports)
	res, err := s.db.ExecContext(ctx, query,
		report.ReportDate.UTC().UnixNano(),
		report.Title,
		report.Content,
		nullable(report.Summary),
		report.DocumentsAnalyzed,
		nullable(report.AIInsights),
		string(report.Status),
	)
	if err != nil {
		return crawler.Report{}, fmt.Errorf("insert report: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return crawler.Report{}, fmt.Errorf("insert report: %w", err)
	}
	report.ID = id
	return report, nil
}

func (s *Store) queryPage(ctx context.Context, op, query string, args ...any) (crawler.Page, error) {
	page, err := scanPage(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return crawler.Page{}, crawler.ErrNotFound
	}
	if err != nil {
		return crawler.Page{}, fmt.Errorf("%s: %w", op, err)
	}
	return page, nil
}

func (s *Store) queryPages(ctx context.Context, op, query string, args ...any) ([]crawler.Page, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = rows.Close() }()

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
	var (
		p                crawler.Page
		created, updated int64
	)
	err := row.Scan(&p.ID, &p.URL, &p.Title, &p.Summary, &p.Content, &p.ContentHash, &created, &updated)
	if err != nil {
		return crawler.Page{}, err
	}
	p.CreatedAt = time.Unix(0, created).UTC()
	p.UpdatedAt = time.Unix(0, updated).UTC()
	return p, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
