package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"google.golang.org/genai"

	"github.com/JakeFAU/supacrawl/internal/llm"
)

// DefaultMaxInputChars caps the markdown sent to the model.
const DefaultMaxInputChars = 20000

// PageSummary is the structured answer requested for every page.
type PageSummary struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

var pageSummarySchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"title":   {Type: genai.TypeString, Description: "Page title"},
		"summary": {Type: genai.TypeString, Description: "Brief summary of the page content"},
	},
	Required: []string{"title", "summary"},
}

const summarySystemPrompt = `Extract the main title and write a concise summary of a web page given as markdown.
Title: use the main heading, the document title or the most prominent header text.
If no clear title exists, use the page's main topic.
Summary: three to four sentences describing what the page is about and its purpose.
If the content is unclear, describe what you can see.`

// Summarizer asks a language model for a PageSummary.
type Summarizer struct {
	gen           llm.Generator
	temperature   float32
	maxInputChars int
}

// NewSummarizer creates a Summarizer.
func NewSummarizer(gen llm.Generator, temperature float32, maxInputChars int) (*Summarizer, error) {
	if gen == nil {
		return nil, errors.New("generator is required")
	}
	if maxInputChars <= 0 {
		maxInputChars = DefaultMaxInputChars
	}
	return &Summarizer{gen: gen, temperature: temperature, maxInputChars: maxInputChars}, nil
}

// Summarize returns the model's title and summary for markdown.
func (s *Summarizer) Summarize(ctx context.Context, pageURL, markdown string) (PageSummary, error) {
	input := markdown
	if utf8.RuneCountInString(input) > s.maxInputChars {
		input = string([]rune(input)[:s.maxInputChars])
	}
	temperature := s.temperature
	raw, err := s.gen.GenerateJSON(ctx, llm.Request{
		Purpose:     "summary",
		System:      summarySystemPrompt,
		Prompt:      "URL: " + pageURL + "\n\n" + input,
		Schema:      pageSummarySchema,
		Temperature: &temperature,
	})
	if err != nil {
		return PageSummary{}, fmt.Errorf("summarize page: %w", err)
	}

	var out PageSummary
	if err := json.Unmarshal([]byte(llm.StripCodeFence(raw)), &out); err != nil {
		return PageSummary{}, fmt.Errorf("decode page summary: %w", err)
	}
	out.Title = strings.TrimSpace(out.Title)
	out.Summary = strings.TrimSpace(out.Summary)
	if out.Title == "" && out.Summary == "" {
		return PageSummary{}, errors.New("decode page summary: empty title and summary")
	}
	return out, nil
}
