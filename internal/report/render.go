package report

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/JakeFAU/supacrawl/internal/crawler"
)

var reportTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: system-ui, -apple-system, 'Segoe UI', Roboto, sans-serif; color: #1e293b; max-width: 720px; margin: 0 auto; padding: 24px; }
h1 { color: #2563eb; }
.meta { color: #64748b; font-size: 14px; }
table { border-collapse: collapse; width: 100%; }
td, th { border: 1px solid #e2e8f0; padding: 6px; text-align: left; font-size: 14px; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<p class="meta">{{.Date}} &middot; {{.Count}} documents analyzed</p>
{{if .Summary}}<h2>Summary</h2>
<p>{{.Summary}}</p>{{end}}
{{if .Insights}}<h2>Insights</h2>
<ul>{{range .Insights}}
<li>{{.}}</li>{{end}}
</ul>{{end}}
{{.Body}}
{{if .Pages}}<h2>Sources</h2>
<table>
<tr><th>ID</th><th>Title</th><th>URL</th></tr>{{range .Pages}}
<tr><td>{{.ID}}</td><td>{{if .Title}}{{.Title}}{{else}}(none){{end}}</td><td><a href="{{.URL}}">{{.URL}}</a></td></tr>{{end}}
</table>{{end}}
</body>
</html>
`))

type view struct {
	Title    string
	Date     string
	Count    int
	Summary  string
	Insights []string
	Body     template.HTML
	Pages    []crawler.Page
}

type renderer struct {
	policy *bluemonday.Policy
}

func newRenderer() *renderer {
	return &renderer{policy: bluemonday.UGCPolicy()}
}

// render produces the full report document. Model output is sanitized
// before it is marked safe.
func (r *renderer) render(title string, date time.Time, a Analysis, pages []crawler.Page) (string, error) {
	v := view{
		Title:    title,
		Date:     date.Format("January 2, 2006"),
		Count:    len(pages),
		Summary:  a.Summary,
		Insights: a.Insights,
		Body:     template.HTML(r.policy.Sanitize(a.BodyHTML)), //nolint:gosec // sanitized by bluemonday
		Pages:    pages,
	}
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, v); err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}
	return buf.String(), nil
}

func plainText(title string, a Analysis) string {
	var b strings.Builder
	b.WriteString(title)
	b.WriteString("\n\n")
	if a.Summary != "" {
		b.WriteString(a.Summary)
		b.WriteString("\n")
	}
	if len(a.Insights) > 0 {
		b.WriteString("\nInsights:\n")
		for _, s := range a.Insights {
			b.WriteString("- ")
			b.WriteString(s)
			b.WriteString("\n")
		}
	}
	return b.String()
}
