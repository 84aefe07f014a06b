package router

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/JakeFAU/supacrawl/internal/crawler"
)

const noPages = "No pages found."

func helpText(defaultLimit, maxLimit int) string {
	var b strings.Builder
	b.WriteString("Available commands:\n")
	fmt.Fprintf(&b, "  latest [N]             show the newest N pages (default %d, max %d)\n", defaultLimit, maxLimit)
	b.WriteString("  find <url>             show the page stored for an exact URL\n")
	b.WriteString("  search title <text>    search page titles (case-insensitive)\n")
	b.WriteString("  search summary <text>  search page summaries (case-insensitive)\n")
	b.WriteString("  count                  show the number of stored pages\n")
	b.WriteString("  summaries              list pages that have a title and summary\n")
	b.WriteString("  content <id>           show the stored content of a page\n")
	b.WriteString("  test                   check the database connection\n")
	b.WriteString("  help                   show this message\n")
	b.WriteString("  quit | exit            leave the chat\n")
	b.WriteString("\nAnything else is passed to the language model, e.g. \"how many pages are there?\"")
	return b.String()
}

func formatPageList(pages []crawler.Page) string {
	if len(pages) == 0 {
		return noPages
	}
	var b strings.Builder
	for i, p := range pages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "--- Page %d ---\n", i+1)
		writePageFields(&b, p)
	}
	return b.String()
}

func writePageFields(b *strings.Builder, p crawler.Page) {
	fmt.Fprintf(b, "ID: %d\n", p.ID)
	fmt.Fprintf(b, "URL: %s\n", p.URL)
	fmt.Fprintf(b, "Title: %s\n", orNone(p.Title))
	fmt.Fprintf(b, "Summary: %s", orNone(p.Summary))
}

func formatPagePreview(p crawler.Page, budget int) string {
	var b strings.Builder
	writePageFields(&b, p)
	preview, truncated := truncateRunes(p.Content, budget)
	if truncated {
		preview += "..."
	}
	fmt.Fprintf(&b, "\nContent: %s", orNone(preview))
	return b.String()
}

func formatPageContent(p crawler.Page, budget int) string {
	var b strings.Builder
	writePageFields(&b, p)
	if p.Content == "" {
		b.WriteString("\nContent: (none)")
		return b.String()
	}
	body, truncated := truncateRunes(p.Content, budget)
	b.WriteString("\nContent:\n")
	b.WriteString(body)
	if truncated {
		fmt.Fprintf(&b, "\n[content truncated: showing %d of %d characters]",
			budget, utf8.RuneCountInString(p.Content))
	}
	return b.String()
}

// errorLine renders a store failure as a single line.
func errorLine(op string, err error) string {
	cause := err.Error()
	if errors.Is(err, context.DeadlineExceeded) {
		cause = "database request timed out"
	}
	cause = strings.Join(strings.Fields(cause), " ")
	return "Error: " + op + " failed: " + cause
}

// truncateRunes cuts s to at most n runes.
func truncateRunes(s string, n int) (string, bool) {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s, false
	}
	runes := []rune(s)
	return string(runes[:n]), true
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

func formatCount(n int64) string {
	return "Total pages in database: " + strconv.FormatInt(n, 10)
}
