// Package extract turns fetched HTML into the fields stored for a page.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

// Document is the readable part of a fetched page.
type Document struct {
	Title    string
	Markdown string
	Excerpt  string
}

// Extractor converts HTML into a Document.
type Extractor struct {
	md *converter.Converter
}

// NewExtractor creates an Extractor with the commonmark and table plugins.
func NewExtractor() *Extractor {
	return &Extractor{
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

// Extract isolates the main content of body and renders it as markdown.
// When readability finds no article the whole document is converted.
func (e *Extractor) Extract(pageURL string, body []byte) (Document, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return Document{}, errors.New("empty body")
	}
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return Document{}, fmt.Errorf("parse url: %w", err)
	}

	var doc Document
	contentHTML := string(body)
	article, err := readability.FromReader(bytes.NewReader(body), parsed)
	if err == nil && strings.TrimSpace(article.Content) != "" {
		contentHTML = article.Content
		doc.Title = strings.TrimSpace(article.Title)
		doc.Excerpt = strings.TrimSpace(article.Excerpt)
	}

	markdown, err := e.md.ConvertString(contentHTML, converter.WithDomain(pageURL))
	if err != nil {
		return Document{}, fmt.Errorf("convert to markdown: %w", err)
	}
	doc.Markdown = strings.TrimSpace(markdown)

	if doc.Title == "" {
		doc.Title = HTMLTitle(body)
	}
	return doc, nil
}

// HTMLTitle returns the <title> text, or the first <h1> when there is none.
func HTMLTitle(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	if title := collapse(doc.Find("title").First().Text()); title != "" {
		return title
	}
	return collapse(doc.Find("h1").First().Text())
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
