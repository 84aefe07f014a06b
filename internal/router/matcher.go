package router

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/JakeFAU/supacrawl/internal/crawler"
)

type rule struct {
	pattern *regexp.Regexp
	build   func(m *Matcher, groups []string) (Intent, bool)
}

// Order matters: the first matching rule wins.
var rules = []rule{
	{regexp.MustCompile(`(?i)^(?:quit|exit)$`), func(*Matcher, []string) (Intent, bool) { return Quit{}, true }},
	{regexp.MustCompile(`(?i)^help$`), func(*Matcher, []string) (Intent, bool) { return Help{}, true }},
	{regexp.MustCompile(`(?i)^count$`), func(*Matcher, []string) (Intent, bool) { return Count{}, true }},
	{regexp.MustCompile(`(?i)^test$`), func(*Matcher, []string) (Intent, bool) { return Ping{}, true }},
	{regexp.MustCompile(`(?i)^summaries$`), func(m *Matcher, _ []string) (Intent, bool) {
		return Summaries{Limit: m.limits.Summaries}, true
	}},
	{regexp.MustCompile(`(?i)^latest(?:\s+(\S+))?$`), (*Matcher).latest},
	{regexp.MustCompile(`(?i)^find\s+(.+)$`), func(_ *Matcher, g []string) (Intent, bool) {
		return FindURL{URL: strings.TrimSpace(g[1])}, true
	}},
	{regexp.MustCompile(`(?i)^search\s+title\s+(.+)$`), func(m *Matcher, g []string) (Intent, bool) {
		return m.search(crawler.ColumnTitle, g[1])
	}},
	{regexp.MustCompile(`(?i)^search\s+summary\s+(.+)$`), func(m *Matcher, g []string) (Intent, bool) {
		return m.search(crawler.ColumnSummary, g[1])
	}},
	{regexp.MustCompile(`(?i)^content\s+(\S+)$`), func(_ *Matcher, g []string) (Intent, bool) {
		id, ok := parsePositiveID(g[1])
		if !ok {
			return nil, false
		}
		return Content{ID: id}, true
	}},
}

// Matcher recognises the fixed command vocabulary. It performs no I/O.
type Matcher struct {
	limits Limits
}

// NewMatcher creates a Matcher using limits for commands that omit a count.
func NewMatcher(limits Limits) *Matcher {
	return &Matcher{limits: limits.withDefaults()}
}

// Match returns the intent for input and true, or nil and false when no
// rule applies. A recognised command with a malformed argument is a no-match.
func (m *Matcher) Match(input string) (Intent, bool) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, false
	}
	for _, r := range rules {
		groups := r.pattern.FindStringSubmatch(input)
		if groups == nil {
			continue
		}
		return r.build(m, groups)
	}
	return nil, false
}

func (m *Matcher) latest(groups []string) (Intent, bool) {
	if groups[1] == "" {
		return Latest{Limit: m.limits.Latest}, true
	}
	n, err := strconv.Atoi(groups[1])
	if err != nil || n <= 0 {
		return nil, false
	}
	return Latest{Limit: n}, true
}

func (m *Matcher) search(column crawler.SearchColumn, text string) (Intent, bool) {
	query := normalizeQuery(text)
	if query == "" {
		return nil, false
	}
	return Search{Column: column, Query: query, Limit: m.limits.Search}, true
}

// normalizeQuery lower-cases text and drops one pair of surrounding quotes.
func normalizeQuery(text string) string {
	q := strings.TrimSpace(text)
	if len(q) >= 2 {
		first, last := q[0], q[len(q)-1]
		if (first == '"' || first == '\'') && first == last {
			q = strings.TrimSpace(q[1 : len(q)-1])
		}
	}
	return strings.ToLower(q)
}

func parsePositiveID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
