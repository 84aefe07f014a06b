package crawler

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizePageURL validates raw and returns the form pages are keyed on:
// lowercase scheme and host, no default port, no fragment, sorted query.
// Two spellings of the same page therefore upsert the same row.
func NormalizePageURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if err := ValidatePageURL(raw); err != nil {
		return "", err
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	u.Fragment = ""
	u.RawFragment = ""
	if u.RawQuery != "" {
		u.RawQuery = u.Query().Encode()
	}
	return u.String(), nil
}
