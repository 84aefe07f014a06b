package router

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/supacrawl/internal/metrics"
)

// IntentParser resolves input the matcher did not recognise.
type IntentParser interface {
	Parse(ctx context.Context, input string) Intent
}

// Router wires the matcher, the fallback parser and the dispatcher.
type Router struct {
	matcher    *Matcher
	fallback   IntentParser
	dispatcher *Dispatcher
	logger     *zap.Logger
}

// New creates a Router. fallback may be nil, in which case unmatched input
// gets the help text.
func New(matcher *Matcher, fallback IntentParser, dispatcher *Dispatcher, logger *zap.Logger) (*Router, error) {
	if matcher == nil {
		return nil, errors.New("matcher is required")
	}
	if dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{matcher: matcher, fallback: fallback, dispatcher: dispatcher, logger: logger}, nil
}

// Resolve maps input to exactly one intent and reports where it came from.
func (r *Router) Resolve(ctx context.Context, input string) (Intent, Source) {
	input = strings.TrimSpace(input)
	if intent, ok := r.matcher.Match(input); ok {
		return intent, SourcePattern
	}
	if r.fallback == nil || input == "" {
		return Unknown{}, SourcePattern
	}
	return r.fallback.Parse(ctx, input), SourceLLM
}

// Handle resolves and dispatches one line of input.
func (r *Router) Handle(ctx context.Context, input string) Response {
	intent, source := r.Resolve(ctx, input)
	resp := r.dispatcher.Dispatch(ctx, intent)
	resp.Source = source
	metrics.ObserveIntent(string(resp.Action), string(source))
	r.logger.Debug("routed input",
		zap.String("action", string(resp.Action)),
		zap.String("source", string(source)),
	)
	return resp
}
