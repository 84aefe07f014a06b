package report

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"google.golang.org/genai"

	"github.com/JakeFAU/supacrawl/internal/crawler"
	"github.com/JakeFAU/supacrawl/internal/llm"
)

// Analysis is the model's answer for one batch of pages.
type Analysis struct {
	Title    string   `json:"title"`
	Summary  string   `json:"summary"`
	Insights []string `json:"insights"`
	BodyHTML string   `json:"body_html"`
}

var analysisSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"title":   {Type: genai.TypeString, Description: "Headline for the report"},
		"summary": {Type: genai.TypeString, Description: "Executive summary in two to four sentences"},
		"insights": {
			Type:        genai.TypeArray,
			Items:       &genai.Schema{Type: genai.TypeString},
			Description: "Key trends or notable findings, one per item",
		},
		"body_html": {Type: genai.TypeString, Description: "Report body as simple HTML fragments"},
	},
	Required: []string{"title", "summary", "insights", "body_html"},
}

const analysisSystemPrompt = `You are an analyst writing a periodic report about recently crawled web pages.
You receive a numbered list of pages with their URL, title, summary and an excerpt.
Group related pages, point out trends and notable changes, and cite page URLs where useful.
body_html must be an HTML fragment using only headings, paragraphs, lists, links and tables.
Do not include scripts, styles or inline event handlers.`

func (r *Reporter) analyze(ctx context.Context, pages []crawler.Page) (Analysis, error) {
	temperature := r.cfg.Temperature
	raw, err := r.deps.Generator.GenerateJSON(ctx, llm.Request{
		Purpose:     "report",
		System:      analysisSystemPrompt,
		Prompt:      buildPrompt(pages, r.cfg.MaxInputChars),
		Schema:      analysisSchema,
		Temperature: &temperature,
	})
	if err != nil {
		return Analysis{}, fmt.Errorf("analyze pages: %w", err)
	}
	var out Analysis
	if err := json.Unmarshal([]byte(llm.StripCodeFence(raw)), &out); err != nil {
		return Analysis{}, fmt.Errorf("decode analysis: %w", err)
	}
	out.Title = strings.TrimSpace(out.Title)
	out.Summary = strings.TrimSpace(out.Summary)
	if out.Summary == "" && strings.TrimSpace(out.BodyHTML) == "" {
		return Analysis{}, fmt.Errorf("decode analysis: empty summary and body")
	}
	insights := out.Insights[:0]
	for _, s := range out.Insights {
		if s = strings.TrimSpace(s); s != "" {
			insights = append(insights, s)
		}
	}
	out.Insights = insights
	return out, nil
}

// buildPrompt lists pages until maxChars runes are used. Pages that do not
// fit are dropped whole.
func buildPrompt(pages []crawler.Page, maxChars int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Pages crawled in this period: %d\n", len(pages))
	used := utf8.RuneCountInString(b.String())
	for i, p := range pages {
		entry := fmt.Sprintf("\n%d. URL: %s\nTitle: %s\nSummary: %s\nExcerpt: %s\n",
			i+1, p.URL, orDash(p.Title), orDash(p.Summary), orDash(p.Content))
		n := utf8.RuneCountInString(entry)
		if maxChars > 0 && used+n > maxChars {
			break
		}
		b.WriteString(entry)
		used += n
	}
	return b.String()
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
