package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/JakeFAU/supacrawl/internal/crawler"
	"github.com/JakeFAU/supacrawl/internal/llm"
)

// DefaultLLMTimeout bounds a single interpretation call.
const DefaultLLMTimeout = 20 * time.Second

const unavailablePrefix = "language model unavailable: "

// llmActions is the closed set the model may answer with.
var llmActions = []string{
	string(ActionLatest),
	string(ActionFindURL),
	string(ActionSearchTitle),
	string(ActionSearchSummary),
	string(ActionCount),
	string(ActionContent),
	string(ActionSummaries),
	string(ActionHelp),
}

var allowedFilters = map[string]bool{"url": true, "query": true, "id": true}

var intentSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"action": {
			Type:        genai.TypeString,
			Enum:        llmActions,
			Description: "The operation to run against the page database.",
		},
		"filters": {
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"url":   {Type: genai.TypeString, Description: "Exact page URL for find_url."},
				"query": {Type: genai.TypeString, Description: "Search text for search_title or search_summary."},
				"id":    {Type: genai.TypeString, Description: "Numeric page id for content."},
			},
		},
		"limit": {
			Type:        genai.TypeInteger,
			Description: "Optional positive number of rows to return.",
		},
	},
	Required: []string{"action", "filters"},
}

const fallbackSystemPrompt = `You translate questions about a database of crawled web pages into one command.
Answer with a single JSON object: {"action": ..., "filters": {...}, "limit": N}.
Actions:
- latest: newest pages; optional limit.
- find_url: one page by exact URL; filters.url required.
- search_title: pages whose title contains filters.query.
- search_summary: pages whose summary contains filters.query.
- count: number of stored pages.
- content: stored text of one page; filters.id required.
- summaries: pages that have a title and a summary; optional limit.
- help: anything that does not fit the actions above.
Use an empty filters object when no filter applies. Omit limit unless the user asks for a number.`

// llmIntent is the wire shape expected from the model.
type llmIntent struct {
	Action  *string           `json:"action"`
	Filters map[string]string `json:"filters"`
	Limit   *int              `json:"limit"`
}

// Fallback interprets free-form input with a language model.
type Fallback struct {
	gen     llm.Generator
	timeout time.Duration
	limits  Limits
	logger  *zap.Logger
}

// NewFallback creates a Fallback. A nil gen makes every call return an
// Unknown intent explaining that no model is configured.
func NewFallback(gen llm.Generator, timeout time.Duration, limits Limits, logger *zap.Logger) *Fallback {
	if timeout <= 0 {
		timeout = DefaultLLMTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fallback{gen: gen, timeout: timeout, limits: limits.withDefaults(), logger: logger}
}

// Parse asks the model for an intent. It never returns an error: transport
// failures become Unknown with a notice, and malformed answers become a bare Unknown.
func (f *Fallback) Parse(ctx context.Context, input string) Intent {
	if f.gen == nil {
		return Unknown{Notice: unavailablePrefix + "not configured"}
	}

	callCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	raw, err := f.gen.GenerateJSON(callCtx, llm.Request{
		Purpose: "intent",
		System:  fallbackSystemPrompt,
		Prompt:  "User input: " + input,
		Schema:  intentSchema,
	})
	if err != nil {
		reason := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "request timed out"
		}
		f.logger.Warn("language model call failed", zap.Error(err))
		return Unknown{Notice: unavailablePrefix + reason}
	}

	intent, err := f.decode(raw)
	if err != nil {
		f.logger.Info("rejected language model answer", zap.String("answer", raw), zap.Error(err))
		return Unknown{}
	}
	return intent
}

func (f *Fallback) decode(raw string) (Intent, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(llm.StripCodeFence(raw))))
	dec.DisallowUnknownFields()

	var answer llmIntent
	if err := dec.Decode(&answer); err != nil {
		return nil, fmt.Errorf("decode answer: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after answer")
	}
	if answer.Action == nil {
		return nil, errors.New("missing action")
	}
	if answer.Filters == nil {
		return nil, errors.New("missing filters")
	}
	for key := range answer.Filters {
		if !allowedFilters[key] {
			return nil, fmt.Errorf("unknown filter %q", key)
		}
	}
	if answer.Limit != nil && *answer.Limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", *answer.Limit)
	}

	limitOr := func(def int) int {
		if answer.Limit != nil {
			return *answer.Limit
		}
		return def
	}

	switch Action(*answer.Action) {
	case ActionLatest:
		return Latest{Limit: limitOr(f.limits.Latest)}, nil
	case ActionFindURL:
		url := strings.TrimSpace(answer.Filters["url"])
		if url == "" {
			return nil, errors.New("find_url requires filters.url")
		}
		return FindURL{URL: url}, nil
	case ActionSearchTitle, ActionSearchSummary:
		query := normalizeQuery(answer.Filters["query"])
		if query == "" {
			return nil, fmt.Errorf("%s requires filters.query", *answer.Action)
		}
		column := crawler.ColumnTitle
		if Action(*answer.Action) == ActionSearchSummary {
			column = crawler.ColumnSummary
		}
		return Search{Column: column, Query: query, Limit: limitOr(f.limits.Search)}, nil
	case ActionCount:
		return Count{}, nil
	case ActionContent:
		id, ok := parsePositiveID(strings.TrimSpace(answer.Filters["id"]))
		if !ok {
			return nil, errors.New("content requires a positive filters.id")
		}
		return Content{ID: id}, nil
	case ActionSummaries:
		return Summaries{Limit: limitOr(f.limits.Summaries)}, nil
	case ActionHelp:
		return Help{}, nil
	default:
		return nil, fmt.Errorf("unsupported action %q", *answer.Action)
	}
}
