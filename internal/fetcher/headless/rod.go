package headless

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/JakeFAU/supacrawl/internal/crawler"
)

// RodFetcher implements crawler.Fetcher on go-rod. The browser is launched
// on first use and reused until Close.
type RodFetcher struct {
	cfg   Config
	slots slots

	mu       sync.Mutex
	browser  *rod.Browser
	launcher *launcher.Launcher
}

// NewRod creates a headless fetcher backed by go-rod.
func NewRod(cfg Config) (*RodFetcher, error) {
	cfg, err := cfg.validate()
	if err != nil {
		return nil, err
	}
	return &RodFetcher{cfg: cfg, slots: newSlots(cfg.MaxParallel)}, nil
}

// Close shuts the browser down if one was launched.
func (f *RodFetcher) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.browser != nil {
		_ = f.browser.Close()
		f.browser = nil
	}
	if f.launcher != nil {
		f.launcher.Kill()
		f.launcher.Cleanup()
		f.launcher = nil
	}
}

// Fetch opens a tab, navigates and returns the rendered document.
func (f *RodFetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	if err := f.slots.acquire(ctx); err != nil {
		return crawler.FetchResponse{}, err
	}
	defer f.slots.release()

	browser, err := f.ensureBrowser()
	if err != nil {
		return crawler.FetchResponse{}, err
	}

	page, err := f.newPage(browser)
	if err != nil {
		return crawler.FetchResponse{}, err
	}
	defer func() { _ = page.Close() }()

	navCtx, cancel := context.WithTimeout(ctx, f.cfg.NavigationTimeout)
	defer cancel()
	page = page.Context(navCtx)

	meta := newResponseMeta()
	wait := page.EachEvent(func(e *proto.NetworkResponseReceived) {
		if e.Type != proto.NetworkResourceTypeDocument || e.Response == nil {
			return
		}
		headers := http.Header{}
		for key, value := range e.Response.Headers {
			headers.Add(key, value.Str())
		}
		meta.record(e.Response.Status, headers, e.Response.URL)
	})
	go wait()

	start := time.Now()
	html, finalURL, err := f.render(page, request)
	if err != nil {
		return crawler.FetchResponse{}, err
	}

	status, headers, responseURL := meta.snapshotWithFallbacks(request.URL, finalURL)
	if headers == nil {
		headers = http.Header{}
	}
	return crawler.FetchResponse{
		URL:          responseURL,
		StatusCode:   status,
		Headers:      headers,
		Body:         []byte(html),
		Duration:     time.Since(start),
		UsedHeadless: true,
	}, nil
}

func (f *RodFetcher) render(page *rod.Page, request crawler.FetchRequest) (string, string, error) {
	if f.cfg.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: f.cfg.UserAgent}); err != nil {
			return "", "", fmt.Errorf("set user-agent: %w", err)
		}
	}
	if dict := headerDict(request.Headers); len(dict) > 0 {
		cleanup, err := page.SetExtraHeaders(dict)
		if err != nil {
			return "", "", fmt.Errorf("set extra headers: %w", err)
		}
		defer cleanup()
	}
	if err := page.Navigate(request.URL); err != nil {
		return "", "", fmt.Errorf("rod navigate %s: %w", request.URL, err)
	}
	if err := page.WaitLoad(); err != nil {
		return "", "", fmt.Errorf("rod wait load: %w", err)
	}
	html, err := page.HTML()
	if err != nil {
		return "", "", fmt.Errorf("rod read html: %w", err)
	}
	var finalURL string
	if info, err := page.Info(); err == nil && info != nil {
		finalURL = info.URL
	}
	return html, finalURL, nil
}

func (f *RodFetcher) newPage(browser *rod.Browser) (*rod.Page, error) {
	var (
		page *rod.Page
		err  error
	)
	if f.cfg.Stealth {
		page, err = stealth.Page(browser)
	} else {
		page, err = browser.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("rod open tab: %w", err)
	}
	return page, nil
}

func (f *RodFetcher) ensureBrowser() (*rod.Browser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.browser != nil {
		return f.browser, nil
	}

	l := launcher.New().
		Headless(true).
		Set("disable-blink-features", "AutomationControlled")
	wsURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("rod launch: %w", err)
	}
	browser := rod.New().ControlURL(wsURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("rod connect: %w", err)
	}
	f.browser = browser
	f.launcher = l
	return browser, nil
}

// headerDict flattens headers into the key, value list rod expects.
func headerDict(h http.Header) []string {
	var dict []string
	for key, values := range h {
		for _, v := range values {
			dict = append(dict, key, v)
		}
	}
	return dict
}
