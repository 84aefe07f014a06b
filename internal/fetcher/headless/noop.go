package headless

import (
	"context"
	"errors"

	"github.com/JakeFAU/supacrawl/internal/crawler"
)

// ErrNotConfigured is returned by Noop when headless rendering is disabled.
var ErrNotConfigured = errors.New("headless fetcher not configured")

// Noop implements crawler.Fetcher but always fails. The worker uses it when
// headless.enabled is false so promotions degrade to the probe response.
type Noop struct{}

// NewNoop creates a new Noop fetcher.
func NewNoop() *Noop {
	return &Noop{}
}

// Fetch always returns ErrNotConfigured.
func (Noop) Fetch(_ context.Context, _ crawler.FetchRequest) (crawler.FetchResponse, error) {
	return crawler.FetchResponse{}, ErrNotConfigured
}
