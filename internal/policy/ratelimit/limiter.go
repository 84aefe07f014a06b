// Package ratelimit spaces requests per domain and decides when a failed
// fetch is worth another attempt.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/url"
	"sync"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/supacrawl/internal/crawler"
	"github.com/JakeFAU/supacrawl/internal/metrics"
)

// Config holds rate limiter configuration.
type Config struct {
	// DelayMin is the minimum spacing between two requests to one domain.
	DelayMin time.Duration
	// DelayMax bounds the uniform jitter added on top of DelayMin.
	DelayMax time.Duration
	// MaxBackoff caps the per-domain penalty after throttling responses.
	MaxBackoff    time.Duration
	MaxRetries    int
	RetryStatuses []int
}

type domainState struct {
	limiter *rate.Limiter
	penalty time.Duration
}

// Limiter manages per-domain rate limits and throttling penalties.
type Limiter struct {
	cfg      Config
	statuses map[int]struct{}

	mu      sync.Mutex
	domains map[string]*domainState

	jitter func(max time.Duration) time.Duration
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	if cfg.DelayMax < cfg.DelayMin {
		cfg.DelayMax = cfg.DelayMin
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	statuses := make(map[int]struct{}, len(cfg.RetryStatuses))
	for _, code := range cfg.RetryStatuses {
		statuses[code] = struct{}{}
	}
	return &Limiter{
		cfg:      cfg,
		statuses: statuses,
		domains:  make(map[string]*domainState),
		jitter:   uniformJitter,
	}
}

// Wait blocks until the domain of rawURL may be fetched again.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	domain := domainOf(rawURL)
	state, penalty := l.state(domain)

	start := time.Now()
	if err := state.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	extra := penalty + l.jitter(l.cfg.DelayMax-l.cfg.DelayMin)
	if err := sleep(ctx, extra); err != nil {
		return err
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(domain, waited)
	}
	return nil
}

// Penalize doubles the domain's penalty, starting at DelayMin and capped at
// MaxBackoff, and returns the new value.
func (l *Limiter) Penalize(rawURL string) time.Duration {
	state, _ := l.state(domainOf(rawURL))
	l.mu.Lock()
	defer l.mu.Unlock()
	switch {
	case state.penalty <= 0:
		state.penalty = l.cfg.DelayMin
		if state.penalty <= 0 {
			state.penalty = time.Second
		}
	default:
		state.penalty *= 2
	}
	if state.penalty > l.cfg.MaxBackoff {
		state.penalty = l.cfg.MaxBackoff
	}
	return state.penalty
}

// Reset clears the penalty after a successful fetch.
func (l *Limiter) Reset(rawURL string) {
	domain := domainOf(rawURL)
	l.mu.Lock()
	defer l.mu.Unlock()
	if state, ok := l.domains[domain]; ok {
		state.penalty = 0
	}
}

// Penalty returns the current penalty for rawURL's domain.
func (l *Limiter) Penalty(rawURL string) time.Duration {
	_, penalty := l.state(domainOf(rawURL))
	return penalty
}

// MaxRetries is the number of extra attempts allowed per URL.
func (l *Limiter) MaxRetries() int {
	return l.cfg.MaxRetries
}

// RetryableStatus reports whether code is one of the throttling statuses.
func (l *Limiter) RetryableStatus(code int) bool {
	_, ok := l.statuses[code]
	return ok
}

func (l *Limiter) state(domain string) (*domainState, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	state, ok := l.domains[domain]
	if !ok {
		limit := rate.Inf
		if l.cfg.DelayMin > 0 {
			limit = rate.Every(l.cfg.DelayMin)
		}
		state = &domainState{limiter: rate.NewLimiter(limit, 1)}
		l.domains[domain] = state
	}
	return state, state.penalty
}

// RetryableError reports whether err is a timeout or a transient network
// failure. Cancellation and robots refusals are final.
func RetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, crawler.ErrRobotsDisallowed) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}

func domainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return u.Hostname()
}

func uniformJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return rand.N(max)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("rate limit wait: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
