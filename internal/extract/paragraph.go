package extract

import (
	"strings"
	"unicode/utf8"
)

// DefaultContentBudget is the stored content length in characters.
const DefaultContentBudget = 500

// minParagraphRunes is the length a paragraph must exceed to be chosen.
const minParagraphRunes = 50

// FirstParagraph returns the first substantial paragraph of markdown,
// cut to budget characters with "..." appended when longer. When no
// paragraph qualifies the whole input is cut the same way.
func FirstParagraph(markdown string, budget int) string {
	if strings.TrimSpace(markdown) == "" {
		return ""
	}
	if budget <= 0 {
		budget = DefaultContentBudget
	}
	for _, para := range strings.Split(markdown, "\n\n") {
		para = strings.TrimSpace(para)
		para = strings.ReplaceAll(para, "\n", " ")
		para = strings.TrimSpace(strings.TrimLeft(para, "#"))
		if utf8.RuneCountInString(para) > minParagraphRunes {
			return clip(para, budget)
		}
	}
	return clip(markdown, budget)
}

func clip(s string, budget int) string {
	if utf8.RuneCountInString(s) <= budget {
		return s
	}
	return string([]rune(s)[:budget]) + "..."
}
