// Package scope decides which URLs a crawl may touch.
package scope

import (
	"net/url"
	"strings"

	"github.com/JakeFAU/supacrawl/internal/crawler"
)

// Policy admits absolute http(s) URLs whose host is not on the deny list.
type Policy struct {
	deny     []string
	headless bool
}

// New creates a Policy. Deny entries match the host and its subdomains.
func New(denyDomains []string, headlessEnabled bool) *Policy {
	deny := make([]string, 0, len(denyDomains))
	for _, d := range denyDomains {
		d = strings.Trim(strings.ToLower(strings.TrimSpace(d)), ".")
		if d != "" {
			deny = append(deny, d)
		}
	}
	return &Policy{deny: deny, headless: headlessEnabled}
}

// AllowFetch reports whether rawURL may be fetched.
func (p *Policy) AllowFetch(_ string, rawURL string) bool {
	if crawler.ValidatePageURL(rawURL) != nil {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return !p.denied(strings.ToLower(u.Hostname()))
}

// AllowHeadless reports whether rawURL may be rendered in a browser.
func (p *Policy) AllowHeadless(jobID string, rawURL string) bool {
	return p.headless && p.AllowFetch(jobID, rawURL)
}

func (p *Policy) denied(host string) bool {
	for _, d := range p.deny {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}
