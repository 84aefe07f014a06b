package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/supacrawl/internal/crawler"
)

// DefaultQueryTimeout bounds a single store call.
const DefaultQueryTimeout = 15 * time.Second

// Options controls result sizes and time limits.
type Options struct {
	DefaultLimit  int
	MaxLimit      int
	ContentBudget int
	PreviewBudget int
	QueryTimeout  time.Duration
}

// DefaultOptions returns the chat defaults.
func DefaultOptions() Options {
	return Options{
		DefaultLimit:  5,
		MaxLimit:      100,
		ContentBudget: 2000,
		PreviewBudget: 200,
		QueryTimeout:  DefaultQueryTimeout,
	}
}

// Response is the rendered outcome of one input line.
type Response struct {
	Text   string `json:"output"`
	Quit   bool   `json:"quit,omitempty"`
	Action Action `json:"action"`
	Source Source `json:"source,omitempty"`
}

// Dispatcher executes intents against a PageReader.
type Dispatcher struct {
	pages  crawler.PageReader
	opts   Options
	help   string
	logger *zap.Logger
}

// NewDispatcher validates opts and returns a Dispatcher.
func NewDispatcher(pages crawler.PageReader, opts Options, logger *zap.Logger) (*Dispatcher, error) {
	if pages == nil {
		return nil, errors.New("page reader is required")
	}
	d := DefaultOptions()
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = d.DefaultLimit
	}
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = d.MaxLimit
	}
	if opts.ContentBudget <= 0 {
		opts.ContentBudget = d.ContentBudget
	}
	if opts.PreviewBudget <= 0 {
		opts.PreviewBudget = d.PreviewBudget
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = d.QueryTimeout
	}
	if opts.DefaultLimit > opts.MaxLimit {
		return nil, fmt.Errorf("default limit %d exceeds max limit %d", opts.DefaultLimit, opts.MaxLimit)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		pages:  pages,
		opts:   opts,
		help:   helpText(opts.DefaultLimit, opts.MaxLimit),
		logger: logger,
	}, nil
}

// HelpText returns the command reference shown for help and unknown input.
func (d *Dispatcher) HelpText() string {
	return d.help
}

// Dispatch runs intent and renders the result. Store failures are rendered
// as a one-line error; they never abort the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, intent Intent) Response {
	resp := Response{Action: intent.Action()}
	switch in := intent.(type) {
	case Quit:
		resp.Text = "Goodbye!"
		resp.Quit = true
	case Help:
		resp.Text = d.help
	case Unknown:
		resp.Text = d.help
		if in.Notice != "" {
			resp.Text = in.Notice + "\n\n" + d.help
		}
	case Ping:
		resp.Text = d.ping(ctx)
	case Count:
		resp.Text = d.count(ctx)
	case Latest:
		resp.Text = d.latest(ctx, in)
	case Summaries:
		resp.Text = d.summaries(ctx, in)
	case FindURL:
		resp.Text = d.find(ctx, in)
	case Search:
		resp.Text = d.search(ctx, in)
	case Content:
		resp.Text = d.content(ctx, in)
	default:
		resp.Text = d.help
	}
	return resp
}

func (d *Dispatcher) clamp(limit int) int {
	if limit <= 0 {
		return d.opts.DefaultLimit
	}
	if limit > d.opts.MaxLimit {
		return d.opts.MaxLimit
	}
	return limit
}

func (d *Dispatcher) queryCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d.opts.QueryTimeout)
}

func (d *Dispatcher) fail(op string, err error) string {
	d.logger.Warn("page query failed", zap.String("op", op), zap.Error(err))
	return errorLine(op, err)
}

func (d *Dispatcher) ping(ctx context.Context) string {
	qctx, cancel := d.queryCtx(ctx)
	defer cancel()
	if err := d.pages.Ping(qctx); err != nil {
		return d.fail("connection test", err)
	}
	return "Database connection verified"
}

func (d *Dispatcher) count(ctx context.Context) string {
	qctx, cancel := d.queryCtx(ctx)
	defer cancel()
	n, err := d.pages.Count(qctx)
	if err != nil {
		return d.fail("count", err)
	}
	return formatCount(n)
}

func (d *Dispatcher) latest(ctx context.Context, in Latest) string {
	qctx, cancel := d.queryCtx(ctx)
	defer cancel()
	pages, err := d.pages.Latest(qctx, d.clamp(in.Limit))
	if err != nil {
		return d.fail("latest", err)
	}
	return formatPageList(pages)
}

func (d *Dispatcher) summaries(ctx context.Context, in Summaries) string {
	qctx, cancel := d.queryCtx(ctx)
	defer cancel()
	pages, err := d.pages.WithSummaries(qctx, d.clamp(in.Limit))
	if err != nil {
		return d.fail("summaries", err)
	}
	return formatPageList(pages)
}

func (d *Dispatcher) find(ctx context.Context, in FindURL) string {
	qctx, cancel := d.queryCtx(ctx)
	defer cancel()
	page, err := d.pages.FindByURL(qctx, in.URL)
	if errors.Is(err, crawler.ErrNotFound) {
		return "Page not found: " + in.URL
	}
	if err != nil {
		return d.fail("find", err)
	}
	return formatPagePreview(page, d.opts.PreviewBudget)
}

func (d *Dispatcher) search(ctx context.Context, in Search) string {
	if !in.Column.Valid() {
		return errorLine("search", fmt.Errorf("column %q is not searchable", in.Column))
	}
	qctx, cancel := d.queryCtx(ctx)
	defer cancel()
	pages, err := d.pages.Search(qctx, in.Column, in.Query, d.clamp(in.Limit))
	if err != nil {
		return d.fail("search", err)
	}
	return formatPageList(pages)
}

func (d *Dispatcher) content(ctx context.Context, in Content) string {
	qctx, cancel := d.queryCtx(ctx)
	defer cancel()
	page, err := d.pages.GetByID(qctx, in.ID)
	if errors.Is(err, crawler.ErrNotFound) {
		return fmt.Sprintf("Page with ID %d not found", in.ID)
	}
	if err != nil {
		return d.fail("content", err)
	}
	return formatPageContent(page, d.opts.ContentBudget)
}
